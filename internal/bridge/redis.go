package bridge

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	logx "shopnotify/pkg/logx"
)

type redisBridge struct {
	rdb   *redis.Client
	topic string
	log   logx.Logger
}

func openRedis(url, topic string, log logx.Logger) (*redisBridge, error) {
	if url == "" {
		url = "redis://127.0.0.1:6379/0"
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis bridge: %w", err)
	}
	return &redisBridge{
		rdb:   redis.NewClient(opt),
		topic: topic,
		log:   log.With(logx.String("bridge", "redis")),
	}, nil
}

func (b *redisBridge) Name() string { return "redis" }

func (b *redisBridge) Publish(ctx context.Context, m Message) error {
	payload, err := encode(m)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.topic, payload).Err()
}

func (b *redisBridge) Subscribe(ctx context.Context, fn func(Message)) error {
	ps := b.rdb.Subscribe(ctx, b.topic)
	defer func() { _ = ps.Close() }()

	// Wait for the subscription confirmation so connection errors surface
	// here instead of as a silently empty channel.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis bridge subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			m, err := decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping bridge message", logx.Err(err))
				continue
			}
			fn(m)
		}
	}
}

func (b *redisBridge) Close() error { return b.rdb.Close() }
