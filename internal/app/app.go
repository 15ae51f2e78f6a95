package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"shopnotify/internal/bridge"
	"shopnotify/internal/config"
	"shopnotify/internal/eventbus"
	"shopnotify/internal/maintenance"
	"shopnotify/internal/observability/pprof"
	"shopnotify/internal/relay"
	rtsup "shopnotify/internal/runtime/supervisor"
	"shopnotify/internal/storage"
	logx "shopnotify/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	hub    *relay.Hub
	server *relay.Server
	bridge bridge.Bridge
	maint  *maintenance.Service
	pprof  *pprof.Service

	ln      net.Listener
	stopped atomic.Bool
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateMapping(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	appLog := log.With(logx.Comp("app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorage(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.Comp("storage")))
		if err != nil {
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	hubCfg, _ := mapHub(cfg)
	hub := relay.NewHub(hubCfg, log.With(logx.Comp("relay")), bus, relay.NewMetrics())

	srvCfg, _ := mapServer(cfg)
	server := relay.NewServer(hub, srvCfg, log.With(logx.Comp("http")))

	br, err := bridge.Open(mapBridge(cfg), log.With(logx.Comp("bridge")))
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	mcfg, _ := mapMaintenance(cfg)
	var pruner maintenance.Pruner
	if store != nil {
		pruner = store
	}
	maint := maintenance.New(mcfg, pruner, hub.Stats, log.With(logx.Comp("maintenance")))

	ppc, _ := mapPprof(cfg)
	pprofSvc := pprof.New(ppc, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		hub:     hub,
		server:  server,
		bridge:  br,
		maint:   maint,
		pprof:   pprofSvc,
	}, nil
}

// Hub exposes the relay for in-process publishers.
func (a *App) Hub() *relay.Hub { return a.hub }

// Addr is the bound relay address after Start.
func (a *App) Addr() string {
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	srvCfg, err := mapServer(a.cfgm.Get())
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", srvCfg.Addr)
	if err != nil {
		return fmt.Errorf("relay listen %s: %w", srvCfg.Addr, err)
	}
	a.ln = ln

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateMapping(cfg)
	})

	a.sup.Go("relay.http", func(c context.Context) error {
		return a.server.Serve(c, ln)
	})

	if a.store != nil {
		a.sup.Go("relay.audit", func(c context.Context) error {
			return relay.RecordAudit(c, a.bus, a.store, a.log.With(logx.Comp("audit")))
		})
	}

	if a.bridge != nil {
		// A broken broker must not take the relay down; local fan-out keeps working.
		a.sup.GoRestart("relay.bridge", func(c context.Context) error {
			err := a.hub.RunBridge(c, a.bridge)
			if err == nil && c.Err() == nil {
				err = errors.New("bridge subscription ended")
			}
			return err
		}, bridgeRestartOptions(a.cfgm.Get())...)
	}

	if err := a.maint.Start(a.sup.Context()); err != nil {
		a.log.Warn("maintenance not scheduled", logx.Err(err))
	}
	a.pprof.Start(a.sup.Context())

	// Optional: log events for observability/debug (components can also subscribe themselves).
	events, unsub := a.bus.Subscribe(128, relay.EventConnected, relay.EventDisconnected, relay.EventDropped)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data), logx.Time("time", e.Time))
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) { watchdog(c, a.log) })

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("addr", ln.Addr().String()), logx.String("origin", a.hub.Origin()))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("fields", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLogging(newCfg))

	if sc, err := mapServer(newCfg); err != nil {
		a.log.Warn("invalid relay config; keeping previous", logx.Err(err))
	} else {
		a.server.Apply(sc)
	}

	if mc, err := mapMaintenance(newCfg); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(ctx, mc); err != nil {
		a.log.Warn("maintenance reschedule failed", logx.Err(err))
	}

	if ppc, err := mapPprof(newCfg); err != nil {
		a.log.Warn("invalid pprof config; keeping previous", logx.Err(err))
	} else {
		a.pprof.Reconfigure(ctx, ppc)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil || !a.stopped.CompareAndSwap(false, true) {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// Cancel first so the HTTP server and background loops start unwinding.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	step("pprof", 1*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	step("hub", 3*time.Second, func(c context.Context) error {
		timeout := 3 * time.Second
		if dl, ok := c.Deadline(); ok {
			timeout = time.Until(dl)
		}
		return a.hub.Close(timeout)
	})
	step("bridge", 1*time.Second, func(c context.Context) error {
		if a.bridge != nil {
			return a.bridge.Close()
		}
		return nil
	})

	// Wait for supervised goroutines (http, audit, config watch/reload) before
	// closing the store the audit worker writes to.
	step("supervisor", 6*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
