package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/storage"
)

type stubStore struct {
	mu      sync.Mutex
	updates []update

	dequeueFn func(ctx context.Context) (domain.CommandEnvelope, func(context.Context) error, bool, error)
	getFn     func(ctx context.Context, orderID string) (*storage.OrderRecord, error)
	updateErr func(attempt int) error
}

type update struct {
	orderID string
	to      domain.Stage
	ts      int64
	etag    string
}

func (s *stubStore) DequeueTransition(ctx context.Context) (domain.CommandEnvelope, func(context.Context) error, bool, error) {
	if s.dequeueFn == nil {
		return domain.CommandEnvelope{}, nil, false, nil
	}
	return s.dequeueFn(ctx)
}

func (s *stubStore) GetOrder(ctx context.Context, orderID string) (*storage.OrderRecord, error) {
	if s.getFn == nil {
		return nil, nil
	}
	return s.getFn(ctx, orderID)
}

func (s *stubStore) UpdateOrderStage(ctx context.Context, orderID string, to domain.Stage, ts int64, etag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		if err := s.updateErr(len(s.updates)); err != nil {
			s.updates = append(s.updates, update{})
			return err
		}
	}
	s.updates = append(s.updates, update{orderID: orderID, to: to, ts: ts, etag: etag})
	return nil
}

func (s *stubStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

func newTestWorker(store *stubStore) *Worker {
	logger, _ := test.NewNullLogger()
	return New(store, nil, "", logger)
}

func envelope(orderID string, to domain.Stage, ts int64) domain.CommandEnvelope {
	return domain.CommandEnvelope{
		UserID: "u1",
		Command: domain.Command{
			ID:        "cmd-1",
			OrderID:   orderID,
			ToStage:   to,
			Timestamp: ts,
		},
	}
}

func TestProcessAppliesStageChange(t *testing.T) {
	store := &stubStore{
		getFn: func(ctx context.Context, orderID string) (*storage.OrderRecord, error) {
			return &storage.OrderRecord{
				Order:          domain.Order{ID: orderID, Stage: domain.StageQueued},
				ETag:           "W/\"v1\"",
				EventTimestamp: 10,
			}, nil
		},
	}
	w := newTestWorker(store)

	if err := w.process(context.Background(), envelope("o1", domain.StageInProgress, 20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(store.updates))
	}
	got := store.updates[0]
	if got.orderID != "o1" || got.to != domain.StageInProgress || got.ts != 20 || got.etag != "W/\"v1\"" {
		t.Fatalf("unexpected update: %#v", got)
	}
}

func TestProcessSkipsStaleCommand(t *testing.T) {
	store := &stubStore{
		getFn: func(ctx context.Context, orderID string) (*storage.OrderRecord, error) {
			return &storage.OrderRecord{
				Order:          domain.Order{ID: orderID, Stage: domain.StageQueued},
				EventTimestamp: 50,
			}, nil
		},
	}
	w := newTestWorker(store)

	if err := w.process(context.Background(), envelope("o1", domain.StageInProgress, 20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.updateCount() != 0 {
		t.Fatal("stale command must not update the order")
	}
}

func TestProcessSkipsMissingOrder(t *testing.T) {
	store := &stubStore{}
	w := newTestWorker(store)

	if err := w.process(context.Background(), envelope("gone", domain.StageInProgress, 20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.updateCount() != 0 {
		t.Fatal("missing order must not be updated")
	}
}

func TestProcessNoOpWhenStageUnchanged(t *testing.T) {
	store := &stubStore{
		getFn: func(ctx context.Context, orderID string) (*storage.OrderRecord, error) {
			return &storage.OrderRecord{
				Order: domain.Order{ID: orderID, Stage: domain.StageInProgress},
			}, nil
		},
	}
	w := newTestWorker(store)

	if err := w.process(context.Background(), envelope("o1", domain.StageInProgress, 20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.updateCount() != 0 {
		t.Fatal("same-stage command must not update the order")
	}
}

func TestProcessRetriesEtagConflict(t *testing.T) {
	store := &stubStore{
		getFn: func(ctx context.Context, orderID string) (*storage.OrderRecord, error) {
			return &storage.OrderRecord{
				Order: domain.Order{ID: orderID, Stage: domain.StageQueued},
				ETag:  "W/\"v1\"",
			}, nil
		},
		updateErr: func(attempt int) error {
			if attempt == 0 {
				return &azcore.ResponseError{StatusCode: 412}
			}
			return nil
		},
	}
	w := newTestWorker(store)

	if err := w.process(context.Background(), envelope("o1", domain.StageInProgress, 20)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.updateCount() != 2 {
		t.Fatalf("expected a retry after conflict, got %d attempts", store.updateCount())
	}
}

func TestRunAcksProcessedMessage(t *testing.T) {
	acked := make(chan struct{})
	var delivered bool
	store := &stubStore{
		getFn: func(ctx context.Context, orderID string) (*storage.OrderRecord, error) {
			return &storage.OrderRecord{
				Order: domain.Order{ID: orderID, Stage: domain.StageQueued},
			}, nil
		},
	}
	store.dequeueFn = func(ctx context.Context) (domain.CommandEnvelope, func(context.Context) error, bool, error) {
		if delivered {
			return domain.CommandEnvelope{}, nil, false, nil
		}
		delivered = true
		ack := func(context.Context) error {
			close(acked)
			return nil
		}
		return envelope("o1", domain.StageInProgress, 20), ack, true, nil
	}
	w := newTestWorker(store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	select {
	case <-acked:
	case <-time.After(2 * time.Second):
		t.Fatal("message was never acknowledged")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
	if store.updateCount() != 1 {
		t.Fatalf("expected one update, got %d", store.updateCount())
	}
}

func TestPublishEmitsStageChangedEvent(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	sub := client.Subscribe(context.Background(), "order-updates")
	defer sub.Close()
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	logger, _ := test.NewNullLogger()
	w := New(&stubStore{}, client, "order-updates", logger)
	w.publish(context.Background(), envelope("o1", domain.StageInProgress, 20), domain.StageQueued)

	select {
	case msg := <-sub.Channel():
		var ev domain.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.EntityID != "o1" || ev.Type != domain.StageChanged || ev.Timestamp != 20 {
			t.Fatalf("unexpected event: %#v", ev)
		}
		var data domain.StageChangedEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			t.Fatalf("decode event data: %v", err)
		}
		if data.From != domain.StageQueued || data.To != domain.StageInProgress {
			t.Fatalf("unexpected payload: %#v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event never published")
	}
}
