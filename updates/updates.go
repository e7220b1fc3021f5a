package updates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/JonBeak/Nexus-sub005/domain"
)

// Evictor drops cached board projections when the underlying data changed.
type Evictor interface {
	EvictBoard(ctx context.Context)
}

// SubscribeUpdates listens on a Redis channel for order events published by
// the transition worker, evicts any cached board state and hands each event
// to notify. It reconnects with a short backoff when the subscription drops
// and returns once ctx is cancelled.
func SubscribeUpdates(
	ctx context.Context,
	logger *log.Logger,
	rc *redis.Client,
	cache Evictor,
	channel string,
	notify func(domain.Event),
) {
	for {
		sub := rc.Subscribe(ctx, channel)
		consume(ctx, logger, sub.Channel(), cache, notify)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func consume(
	ctx context.Context,
	logger *log.Logger,
	ch <-chan *redis.Message,
	cache Evictor,
	notify func(domain.Event),
) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Errorf("unable to parse update: %v", err)
				continue
			}
			if cache != nil {
				cache.EvictBoard(ctx)
			}
			if notify != nil {
				notify(ev)
			}
		}
	}
}
