package storage

import (
	"testing"
	"time"

	"github.com/JonBeak/Nexus-sub005/domain"
)

func TestOrderEntityConversion(t *testing.T) {
	ent := orderEntity{
		Name:          "Channel letters",
		Customer:      "Acme Signs",
		Stage:         "queued",
		DueDate:       "2026-03-10T16:00:00Z",
		HardDueTime:   true,
		Rush:          true,
		TasksTotal:    4,
		TasksComplete: 1,
	}
	ent.RowKey = "o1"

	o := ent.toOrder()
	if o.ID != "o1" || o.Stage != domain.StageQueued || !o.Rush || !o.HardDueTime {
		t.Fatalf("unexpected order: %#v", o)
	}
	if o.DueDate == nil || !o.DueDate.Equal(time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("due date not parsed: %#v", o.DueDate)
	}
}

func TestOrderEntityConversionNoDueDate(t *testing.T) {
	ent := orderEntity{Stage: "setup"}
	ent.RowKey = "o2"
	if o := ent.toOrder(); o.DueDate != nil {
		t.Fatalf("empty due date should map to nil, got %#v", o.DueDate)
	}
}
