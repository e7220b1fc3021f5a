package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/workcal"
)

type stubStore struct {
	mu       sync.Mutex
	enqueued chan []domain.Command

	fetchOrdersFn   func(ctx context.Context, includeHidden bool) ([]domain.Order, error)
	fetchHolidaysFn func(ctx context.Context) (workcal.HolidaySet, error)
	enqueueErr      error
}

func newStubStore() *stubStore {
	return &stubStore{enqueued: make(chan []domain.Command, 8)}
}

func (s *stubStore) FetchOrders(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
	if s.fetchOrdersFn == nil {
		return []domain.Order{}, nil
	}
	return s.fetchOrdersFn(ctx, includeHidden)
}

func (s *stubStore) FetchHolidays(ctx context.Context) (workcal.HolidaySet, error) {
	if s.fetchHolidaysFn == nil {
		return workcal.HolidaySet{}, nil
	}
	return s.fetchHolidaysFn(ctx)
}

func (s *stubStore) EnqueueTransitions(ctx context.Context, userID string, cmds []domain.Command) error {
	s.mu.Lock()
	err := s.enqueueErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.enqueued <- cmds
	return nil
}

type stubAuth struct {
	id  string
	err error
}

func (a *stubAuth) UserIDFromAuthHeader(string) (string, error) { return a.id, a.err }

type stubDeduper struct {
	mu      sync.Mutex
	seen    map[string]bool
	removed []string
}

func newStubDeduper() *stubDeduper { return &stubDeduper{seen: map[string]bool{}} }

func (d *stubDeduper) Add(_ context.Context, userID, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := userID + ":" + key
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func (d *stubDeduper) Remove(_ context.Context, userID, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, userID+":"+key)
	d.removed = append(d.removed, key)
	return nil
}

func setupAPI(t *testing.T, store Storage, auth Authenticator, deduper Deduper) *echo.Echo {
	t.Helper()
	e := echo.New()
	logger, _ := test.NewNullLogger()
	Register(e, store, auth, deduper, logger)
	t.Cleanup(shutdownTransitionSender)
	return e
}

func TestGetBoardUnauthorized(t *testing.T) {
	e := setupAPI(t, newStubStore(), &stubAuth{err: errors.New("nope")}, newStubDeduper())

	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetBoardReturnsOrdersAndVisibleStages(t *testing.T) {
	store := newStubStore()
	store.fetchOrdersFn = func(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
		if includeHidden {
			t.Fatal("default view must not request hidden stages")
		}
		return []domain.Order{{ID: "o1", Stage: domain.StageQueued}}, nil
	}
	e := setupAPI(t, store, &stubAuth{id: "u1"}, newStubDeduper())

	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Orders) != 1 || resp.Orders[0].ID != "o1" {
		t.Fatalf("unexpected orders: %#v", resp.Orders)
	}
	if len(resp.Stages) != len(domain.VisibleStages()) {
		t.Fatalf("expected %d stage entries, got %d", len(domain.VisibleStages()), len(resp.Stages))
	}
	for _, s := range resp.Stages {
		if s.Layout.Hidden {
			t.Fatalf("hidden stage %s leaked into default board view", s.Stage)
		}
	}
}

func TestGetBoardShowAllIncludesHiddenStages(t *testing.T) {
	store := newStubStore()
	var sawAll bool
	store.fetchOrdersFn = func(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
		sawAll = includeHidden
		return []domain.Order{}, nil
	}
	e := setupAPI(t, store, &stubAuth{id: "u1"}, newStubDeduper())

	req := httptest.NewRequest(http.MethodGet, "/api/board?all=true", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !sawAll {
		t.Fatal("all=true not forwarded to storage")
	}
	var resp boardResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Stages) != len(domain.Stages()) {
		t.Fatalf("expected every stage in show-all view, got %d", len(resp.Stages))
	}
}

func TestGetCalendarShapesColumns(t *testing.T) {
	store := newStubStore()
	due := time.Now().Add(48 * time.Hour)
	store.fetchOrdersFn = func(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
		return []domain.Order{{ID: "o1", Stage: domain.StageQueued, DueDate: &due}}, nil
	}
	e := setupAPI(t, store, &stubAuth{id: "u1"}, newStubDeduper())

	req := httptest.NewRequest(http.MethodGet, "/api/calendar?days=5", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp calendarResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Columns) != 5 {
		t.Fatalf("expected 5 columns, got %d", len(resp.Columns))
	}
	if resp.Columns[0].Key != resp.Today {
		t.Fatalf("first column %s should be effective today %s", resp.Columns[0].Key, resp.Today)
	}
	for _, col := range resp.Columns {
		wd := col.Date.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("weekend column %s emitted", col.Key)
		}
	}
}

func TestGetCalendarInvalidDays(t *testing.T) {
	e := setupAPI(t, newStubStore(), &stubAuth{id: "u1"}, newStubDeduper())

	req := httptest.NewRequest(http.MethodGet, "/api/calendar?days=zero", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPostTransitionsAccepted(t *testing.T) {
	store := newStubStore()
	e := setupAPI(t, store, &stubAuth{id: "u1"}, newStubDeduper())

	rec := postJSON(e, "/api/transitions", `[{"orderId":"o1","fromStage":"queued","toStage":"in-progress"}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp postTransitionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.IdempotencyKeys) != 1 || resp.IdempotencyKeys[0] == "" {
		t.Fatalf("expected one generated key, got %#v", resp.IdempotencyKeys)
	}

	select {
	case cmds := <-store.enqueued:
		if len(cmds) != 1 || cmds[0].OrderID != "o1" || cmds[0].ToStage != domain.StageInProgress {
			t.Fatalf("unexpected enqueued commands: %#v", cmds)
		}
		if cmds[0].Timestamp == 0 || cmds[0].ID != cmds[0].IdempotencyKey {
			t.Fatalf("command not stamped: %#v", cmds[0])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("commands never reached the queue")
	}
}

func TestPostTransitionsRejectsOverlayTarget(t *testing.T) {
	store := newStubStore()
	e := setupAPI(t, store, &stubAuth{id: "u1"}, newStubDeduper())

	rec := postJSON(e, "/api/transitions", `[{"orderId":"o1","fromStage":"queued","toStage":"rush"}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for overlay target, got %d", rec.Code)
	}
	select {
	case cmds := <-store.enqueued:
		t.Fatalf("rejected transition still enqueued: %#v", cmds)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPostTransitionsRejectsUnknownStage(t *testing.T) {
	e := setupAPI(t, newStubStore(), &stubAuth{id: "u1"}, newStubDeduper())

	rec := postJSON(e, "/api/transitions", `[{"orderId":"o1","toStage":"paint-shop"}]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPostTransitionsInvalidBody(t *testing.T) {
	e := setupAPI(t, newStubStore(), &stubAuth{id: "u1"}, newStubDeduper())

	rec := postJSON(e, "/api/transitions", `{"not":"a list"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPostTransitionsDeduplicatesReplays(t *testing.T) {
	store := newStubStore()
	e := setupAPI(t, store, &stubAuth{id: "u1"}, newStubDeduper())

	body := `[{"idempotencyKey":"key-1","orderId":"o1","toStage":"in-progress"}]`
	if rec := postJSON(e, "/api/transitions", body); rec.Code != http.StatusAccepted {
		t.Fatalf("first submit: expected 202, got %d", rec.Code)
	}
	select {
	case <-store.enqueued:
	case <-time.After(2 * time.Second):
		t.Fatal("first submit never enqueued")
	}

	rec := postJSON(e, "/api/transitions", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("replay: expected 202, got %d", rec.Code)
	}
	var resp postTransitionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.IdempotencyKeys) != 1 || resp.IdempotencyKeys[0] != "key-1" {
		t.Fatalf("replay should still echo its key: %#v", resp.IdempotencyKeys)
	}
	select {
	case cmds := <-store.enqueued:
		t.Fatalf("replayed command enqueued again: %#v", cmds)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHealthz(t *testing.T) {
	e := setupAPI(t, newStubStore(), &stubAuth{id: "u1"}, newStubDeduper())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
