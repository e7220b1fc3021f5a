package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
)

// UpdateBroker fans change notifications out to connected stream clients.
// Notifications carry no payload: every wakeup makes the stream re-fetch
// the authoritative board, so a coalesced signal loses nothing.
type UpdateBroker struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// NewUpdateBroker creates an empty broker.
func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subs: make(map[chan struct{}]struct{})}
}

func (b *UpdateBroker) subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *UpdateBroker) unsubscribe(ch chan struct{}) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Notify wakes every subscribed stream. Slow subscribers that already have
// a pending wakeup are skipped rather than blocked on.
func (b *UpdateBroker) Notify() {
	b.mu.Lock()
	for ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// RegisterStream wires the SSE endpoint on the given Echo instance.
func RegisterStream(e *echo.Echo, store Storage, auth Authenticator, broker *UpdateBroker) {
	e.GET("/api/stream", streamBoard(store, auth, broker))
}

// streamBoard pushes the full order list to the client on connect and
// again after every change notification. EventSource cannot set headers,
// so a token query parameter substitutes for the Authorization header.
func streamBoard(store Storage, auth Authenticator, broker *UpdateBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		includeHidden := parseBoolParam(c.QueryParam("all"))

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		ctx := c.Request().Context()
		ch := broker.subscribe()
		defer broker.unsubscribe(ch)
		for {
			orders, err := store.FetchOrders(ctx, includeHidden)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			data, err := json.Marshal(orders)
			if err != nil {
				c.Logger().Error(err)
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return nil
			}
			if _, err := c.Response().Write(data); err != nil {
				return nil
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
				continue
			}
		}
	}
}
