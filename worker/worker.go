package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/storage"
)

const (
	idlePoll         = time.Second
	conflictRetries  = 3
	conflictBackoff  = 50 * time.Millisecond
	publishChannelTO = 5 * time.Second
)

// Store is the slice of the storage layer the transition worker consumes.
type Store interface {
	DequeueTransition(ctx context.Context) (domain.CommandEnvelope, func(context.Context) error, bool, error)
	GetOrder(ctx context.Context, orderID string) (*storage.OrderRecord, error)
	UpdateOrderStage(ctx context.Context, orderID string, to domain.Stage, eventTimestamp int64, etag string) error
}

// Worker drains the transition queue, applies stage changes to the order
// table and publishes stage-changed events for live subscribers.
type Worker struct {
	store   Store
	redis   *redis.Client
	channel string
	logger  *log.Logger
}

func New(store Store, rc *redis.Client, channel string, logger *log.Logger) *Worker {
	if store == nil {
		panic("worker: nil store")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Worker{store: store, redis: rc, channel: channel, logger: logger}
}

// Run polls the transition queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		env, ack, ok, err := w.store.DequeueTransition(ctx)
		if err != nil {
			w.logger.Errorf("dequeue transition: %v", err)
			if ack != nil {
				// A message that cannot even be parsed will never
				// succeed; drop it instead of poisoning the queue.
				_ = ack(ctx)
			}
			w.sleep(ctx, idlePoll)
			continue
		}
		if !ok {
			w.sleep(ctx, idlePoll)
			continue
		}
		if err := w.process(ctx, env); err != nil {
			w.logger.Errorf("apply transition %s: %v", env.Command.ID, err)
			// Leave the message for redelivery after visibility timeout.
			continue
		}
		if err := ack(ctx); err != nil {
			w.logger.Errorf("ack transition %s: %v", env.Command.ID, err)
		}
	}
}

func (w *Worker) process(ctx context.Context, env domain.CommandEnvelope) error {
	cmd := env.Command
	for attempt := 0; ; attempt++ {
		rec, err := w.store.GetOrder(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if rec == nil {
			w.logger.Warnf("transition %s targets missing order %s", cmd.ID, cmd.OrderID)
			return nil
		}
		if rec.EventTimestamp >= cmd.Timestamp {
			// A newer command already landed; this one is stale.
			return nil
		}
		from := rec.Order.Stage
		if from == cmd.ToStage {
			return nil
		}

		err = w.store.UpdateOrderStage(ctx, cmd.OrderID, cmd.ToStage, cmd.Timestamp, rec.ETag)
		if err == nil {
			w.publish(ctx, env, from)
			return nil
		}
		if isConflict(err) && attempt < conflictRetries {
			w.sleep(ctx, conflictBackoff)
			continue
		}
		return err
	}
}

func (w *Worker) publish(ctx context.Context, env domain.CommandEnvelope, from domain.Stage) {
	if w.redis == nil || w.channel == "" {
		return
	}
	data, err := json.Marshal(domain.StageChangedEventData{From: from, To: env.Command.ToStage})
	if err != nil {
		w.logger.Errorf("marshal event data: %v", err)
		return
	}
	ev := domain.Event{
		EntityID:   env.Command.OrderID,
		EntityType: "order",
		Type:       domain.StageChanged,
		Data:       data,
		Timestamp:  env.Command.Timestamp,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		w.logger.Errorf("marshal event: %v", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishChannelTO)
	defer cancel()
	if err := w.redis.Publish(pubCtx, w.channel, payload).Err(); err != nil {
		w.logger.Errorf("publish stage change for %s: %v", env.Command.OrderID, err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return false
	}
	return respErr.StatusCode == http.StatusPreconditionFailed || respErr.StatusCode == http.StatusConflict
}
