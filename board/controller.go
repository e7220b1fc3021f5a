package board

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/JonBeak/Nexus-sub005/domain"
)

var (
	// ErrOverlayTarget rejects drops onto a read-only overlay view. The
	// overlay is a projection, not a destination, so the rejection happens
	// before any optimistic mutation.
	ErrOverlayTarget = errors.New("target is a read-only overlay view")
	ErrUnknownStage  = errors.New("unknown workflow stage")
	ErrUnknownOrder  = errors.New("order not present in board snapshot")
)

// SnapshotSource fetches the authoritative order list for the board. It is
// used for the initial load and for every reconciliation.
type SnapshotSource interface {
	FetchBoard(ctx context.Context, includeHidden bool) ([]domain.Order, error)
}

// TransitionRequester submits a stage change to the order service. Any
// non-nil error, including a timeout, is treated as a failed transition.
type TransitionRequester interface {
	RequestStageChange(ctx context.Context, orderID string, from, to domain.Stage) error
}

// MoveState tracks one in-flight stage change.
type MoveState int

const (
	MoveIdle MoveState = iota
	MoveOptimistic
	MoveReconciling
	MoveRollbackPending
)

// Controller owns the board snapshot for one session. Local gestures,
// transition completions and inbound change events all funnel through it;
// the rendering layer only ever reads via Snapshot and the OnChange
// callback.
type Controller struct {
	source      SnapshotSource
	transitions TransitionRequester
	logger      *log.Logger

	overlay       OverlayFilter
	includeHidden bool
	onChange      func(Snapshot)
	onNotice      func(string)

	mu    sync.Mutex
	snap  Snapshot
	moves map[string]MoveState
	wg    sync.WaitGroup
}

// New creates a controller. Call Load before the first Snapshot read.
func New(source SnapshotSource, transitions TransitionRequester, logger *log.Logger) *Controller {
	if source == nil {
		panic("board.New: snapshot source is nil")
	}
	if transitions == nil {
		panic("board.New: transition requester is nil")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		source:      source,
		transitions: transitions,
		logger:      logger,
		overlay:     rushFilter,
		moves:       make(map[string]MoveState),
	}
}

// SetOverlayFilter replaces the predicate behind the overlay view. It must
// be called before Load.
func (c *Controller) SetOverlayFilter(f OverlayFilter) {
	if f != nil {
		c.overlay = f
	}
}

// OnChange registers a callback invoked with a copy of the snapshot after
// every mutation. Set it before Load.
func (c *Controller) OnChange(f func(Snapshot)) { c.onChange = f }

// OnNotice registers a callback for transient, dismissible notices such as
// a failed transition. Set it before Load.
func (c *Controller) OnNotice(f func(string)) { c.onNotice = f }

// Load performs the initial authoritative fetch.
func (c *Controller) Load(ctx context.Context) error {
	return c.resync(ctx)
}

// ShowAll toggles inclusion of normally-hidden stages and re-fetches.
func (c *Controller) ShowAll(ctx context.Context, include bool) error {
	c.mu.Lock()
	c.includeHidden = include
	c.mu.Unlock()
	return c.resync(ctx)
}

// Snapshot returns a deep copy of the current board state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// MoveState reports the in-flight state of a stage change for an order.
func (c *Controller) MoveState(orderID string) MoveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.moves[orderID]
}

// Drop applies a drag-release onto a target stage. The snapshot mutates
// immediately so the board never waits on the network; confirmation and
// reconciliation run behind the gesture. Validation failures return an
// error before anything changes.
func (c *Controller) Drop(ctx context.Context, orderID string, to domain.Stage) error {
	if domain.IsOverlay(to) {
		return ErrOverlayTarget
	}
	if !domain.IsStage(to) {
		return ErrUnknownStage
	}

	c.mu.Lock()
	from, _, ok := c.snap.Find(orderID)
	if !ok {
		c.mu.Unlock()
		return ErrUnknownOrder
	}
	if from == to {
		c.mu.Unlock()
		return nil
	}
	c.snap.move(orderID, to)
	c.moves[orderID] = MoveOptimistic
	c.mu.Unlock()
	c.notifyChange()

	c.wg.Add(1)
	go c.confirmMove(ctx, orderID, from, to)
	return nil
}

// confirmMove drives one optimistic move through confirmation. Success
// re-fetches because the server may apply tie-break ordering the session
// cannot replicate; failure discards the optimistic state the same way
// rather than attempting a partial undo, which would drift from edits
// made concurrently during the failed attempt.
func (c *Controller) confirmMove(ctx context.Context, orderID string, from, to domain.Stage) {
	defer c.wg.Done()

	err := c.transitions.RequestStageChange(ctx, orderID, from, to)

	c.mu.Lock()
	if err != nil {
		c.moves[orderID] = MoveRollbackPending
	} else {
		c.moves[orderID] = MoveReconciling
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WithFields(log.Fields{"order": orderID, "from": from, "to": to}).Warnf("stage change rejected: %v", err)
		c.notice("Could not move order " + orderID + "; board restored.")
	}

	if rerr := c.resync(ctx); rerr != nil {
		c.logger.WithField("order", orderID).Errorf("reconciliation fetch failed: %v", rerr)
	}

	c.mu.Lock()
	delete(c.moves, orderID)
	c.mu.Unlock()
}

// HandleEvent processes one inbound change notification. Every event type
// triggers a full re-synchronization; the payload is deliberately not
// patched into the snapshot because it carries less than the full order
// shape.
func (c *Controller) HandleEvent(ctx context.Context, ev domain.Event) error {
	c.logger.WithFields(log.Fields{"type": ev.Type, "entity": ev.EntityID}).Debug("board change event")
	return c.resync(ctx)
}

// Wait blocks until all in-flight move confirmations have settled.
func (c *Controller) Wait() { c.wg.Wait() }

// resync replaces the snapshot from the authoritative source. Fetches are
// idempotent and each one replaces the whole board, so when several
// overlap the last to complete wins.
func (c *Controller) resync(ctx context.Context) error {
	c.mu.Lock()
	includeHidden := c.includeHidden
	overlay := c.overlay
	c.mu.Unlock()

	orders, err := c.source.FetchBoard(ctx, includeHidden)
	if err != nil {
		return err
	}
	snap := BuildSnapshot(orders, overlay)

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.notifyChange()
	return nil
}

func (c *Controller) notifyChange() {
	if c.onChange == nil {
		return
	}
	c.onChange(c.Snapshot())
}

func (c *Controller) notice(msg string) {
	if c.onNotice == nil {
		return
	}
	c.onNotice(msg)
}
