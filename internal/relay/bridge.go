package relay

import (
	"context"
	"sync"

	"shopnotify/internal/bridge"
	logx "shopnotify/pkg/logx"
)

// RunBridge forwards local publishes to b and delivers foreign bridge
// messages locally. It blocks until ctx is done or the subscription fails;
// callers typically run it under a restarting supervisor.
func (h *Hub) RunBridge(ctx context.Context, b bridge.Bridge) error {
	h.mu.Lock()
	if h.outbound == nil {
		h.outbound = make(chan bridge.Message, DefaultBridgeBuffer)
	}
	out := h.outbound
	h.mu.Unlock()

	log := h.log.With(logx.String("bridge", b.Name()))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-out:
				pctx, pcancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
				err := b.Publish(pctx, m)
				pcancel()
				if err != nil {
					log.Warn("bridge publish failed", logx.String("channel", m.Frame.Channel), logx.Err(err))
				}
			}
		}
	}()

	err := b.Subscribe(ctx, func(m bridge.Message) {
		if m.Origin == h.origin {
			return
		}
		if _, err := h.Publish(m.Frame, SourceBridge); err != nil {
			log.Debug("bridge frame rejected", logx.String("channel", m.Frame.Channel), logx.Err(err))
		}
	})
	cancel()
	wg.Wait()
	return err
}

// bridgeReady reports whether RunBridge has attached an outbound queue.
func (h *Hub) bridgeReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.outbound != nil
}

