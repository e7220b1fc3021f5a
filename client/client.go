package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/workcal"
)

// Client wraps the board API with JSON helpers. It satisfies the board
// controller's SnapshotSource and TransitionRequester contracts.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client.
func New(baseURL, bearer string) *Client {
	return &Client{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// StageColumn is one workflow column as served by the board endpoint.
type StageColumn struct {
	Stage  domain.Stage  `json:"stage"`
	Layout domain.Layout `json:"layout"`
}

// Board is the full board payload.
type Board struct {
	Orders []domain.Order `json:"orders"`
	Stages []StageColumn  `json:"stages"`
}

// Calendar is the due-date column payload.
type Calendar struct {
	Today   string           `json:"today"`
	Columns []workcal.Column `json:"columns"`
	Overdue []domain.Order   `json:"overdue"`
}

type transitionBody struct {
	OrderID   string       `json:"orderId"`
	FromStage domain.Stage `json:"fromStage,omitempty"`
	ToStage   domain.Stage `json:"toStage"`
}

// FetchBoard retrieves the current order list.
func (c *Client) FetchBoard(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
	path := "/api/board"
	if includeHidden {
		path += "?all=true"
	}
	var board Board
	if err := c.getJSON(ctx, path, &board); err != nil {
		return nil, err
	}
	return board.Orders, nil
}

// FetchFullBoard retrieves orders together with the stage layout.
func (c *Client) FetchFullBoard(ctx context.Context, includeHidden bool) (Board, error) {
	path := "/api/board"
	if includeHidden {
		path += "?all=true"
	}
	var board Board
	err := c.getJSON(ctx, path, &board)
	return board, err
}

// FetchCalendar retrieves the forward due-date columns. days <= 0 uses the
// server default.
func (c *Client) FetchCalendar(ctx context.Context, days int) (Calendar, error) {
	path := "/api/calendar"
	if days > 0 {
		path += "?days=" + url.QueryEscape(fmt.Sprint(days))
	}
	var cal Calendar
	err := c.getJSON(ctx, path, &cal)
	return cal, err
}

// RequestStageChange submits a single stage transition and waits for the
// service to accept it.
func (c *Client) RequestStageChange(ctx context.Context, orderID string, from, to domain.Stage) error {
	body := []transitionBody{{OrderID: orderID, FromStage: from, ToStage: to}}
	return c.postJSON(ctx, "/api/transitions", body, nil)
}

// Listen attaches to the live update stream and invokes onBoard with every
// pushed order list until ctx is cancelled or the stream drops.
func (c *Client) Listen(ctx context.Context, onBoard func([]domain.Order)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/stream", nil)
	if err != nil {
		return err
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream never ends on its own, so the request must not share the
	// client's fetch timeout.
	streamClient := &http.Client{Transport: c.HTTP.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var orders []domain.Order
		if err := json.Unmarshal([]byte(payload), &orders); err != nil {
			continue
		}
		onBoard(orders)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	buf := new(bytes.Buffer)
	if body != nil {
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return responseError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: status %d: %s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
