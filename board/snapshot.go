// Package board owns the in-memory board state for one client session and
// keeps it consistent with the order service while moves are applied
// optimistically and other sessions push changes.
package board

import (
	"sort"

	"github.com/JonBeak/Nexus-sub005/domain"
)

// Snapshot maps every workflow stage to the ordered orders believed to
// occupy it, plus the read-only rush overlay derived from them. It is
// mutated only through the controller's apply and reconcile operations.
type Snapshot struct {
	Stages  map[domain.Stage][]domain.Order `json:"stages"`
	Overlay []domain.Order                  `json:"overlay"`
}

// OverlayFilter selects the orders mirrored into the overlay view.
type OverlayFilter func(domain.Order) bool

func rushFilter(o domain.Order) bool { return o.Rush }

// BuildSnapshot groups a flat order list into a snapshot, applying the
// authoritative within-stage ordering: ascending due date, orders without
// one last, ties broken by ID so repeated reconciliation of unchanged
// data never reshuffles.
func BuildSnapshot(orders []domain.Order, overlay OverlayFilter) Snapshot {
	if overlay == nil {
		overlay = rushFilter
	}
	snap := Snapshot{Stages: make(map[domain.Stage][]domain.Order, len(domain.Stages()))}
	for _, s := range domain.Stages() {
		snap.Stages[s] = []domain.Order{}
	}
	for _, o := range orders {
		if !domain.IsStage(o.Stage) {
			continue
		}
		snap.Stages[o.Stage] = append(snap.Stages[o.Stage], o)
		if overlay(o) {
			snap.Overlay = append(snap.Overlay, o)
		}
	}
	for s := range snap.Stages {
		sortStageOrders(snap.Stages[s])
	}
	sortStageOrders(snap.Overlay)
	return snap
}

func sortStageOrders(orders []domain.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		switch {
		case a.DueDate == nil && b.DueDate == nil:
			return a.ID < b.ID
		case a.DueDate == nil:
			return false
		case b.DueDate == nil:
			return true
		case !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		default:
			return a.ID < b.ID
		}
	})
}

// Find locates an order, returning its stage and index within the stage
// list. The overlay is a projection and is never searched.
func (s Snapshot) Find(orderID string) (domain.Stage, int, bool) {
	for stage, orders := range s.Stages {
		for i, o := range orders {
			if o.ID == orderID {
				return stage, i, true
			}
		}
	}
	return "", 0, false
}

// Clone deep-copies the snapshot so callers can hold it across later
// reconciliations.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Stages: make(map[domain.Stage][]domain.Order, len(s.Stages))}
	for stage, orders := range s.Stages {
		cp := make([]domain.Order, len(orders))
		copy(cp, orders)
		out.Stages[stage] = cp
	}
	out.Overlay = make([]domain.Order, len(s.Overlay))
	copy(out.Overlay, s.Overlay)
	return out
}

// move removes the order from its current stage list and appends it to the
// target list. It reports whether the order was found.
func (s *Snapshot) move(orderID string, to domain.Stage) bool {
	from, idx, ok := s.Find(orderID)
	if !ok {
		return false
	}
	o := s.Stages[from][idx]
	s.Stages[from] = append(s.Stages[from][:idx], s.Stages[from][idx+1:]...)
	o.Stage = to
	s.Stages[to] = append(s.Stages[to], o)
	return true
}
