package bridge

import (
	"context"
	"fmt"

	natspkg "github.com/nats-io/nats.go"

	logx "shopnotify/pkg/logx"
)

type natsBridge struct {
	nc    *natspkg.Conn
	topic string
	log   logx.Logger
}

func openNATS(url, topic string, log logx.Logger) (*natsBridge, error) {
	if url == "" {
		url = natspkg.DefaultURL
	}
	nc, err := natspkg.Connect(url, natspkg.Name("shopnotify-relay"))
	if err != nil {
		return nil, fmt.Errorf("nats bridge: %w", err)
	}
	return &natsBridge{nc: nc, topic: topic, log: log.With(logx.String("bridge", "nats"))}, nil
}

func (b *natsBridge) Name() string { return "nats" }

func (b *natsBridge) Publish(_ context.Context, m Message) error {
	payload, err := encode(m)
	if err != nil {
		return err
	}
	return b.nc.Publish(b.topic, payload)
}

func (b *natsBridge) Subscribe(ctx context.Context, fn func(Message)) error {
	ch := make(chan *natspkg.Msg, 256)
	sub, err := b.nc.ChanSubscribe(b.topic, ch)
	if err != nil {
		return fmt.Errorf("nats bridge subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			m, err := decode(msg.Data)
			if err != nil {
				b.log.Warn("dropping bridge message", logx.Err(err))
				continue
			}
			fn(m)
		}
	}
}

func (b *natsBridge) Close() error {
	b.nc.Close()
	return nil
}
