package domain

import "time"

// Order represents a single production order shown on the board.
type Order struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Customer      string     `json:"customer,omitempty"`
	Stage         Stage      `json:"stage"`
	DueDate       *time.Time `json:"dueDate,omitempty"`
	HardDueTime   bool       `json:"hardDueTime,omitempty"`
	Rush          bool       `json:"rush,omitempty"`
	TasksTotal    int        `json:"tasksTotal"`
	TasksComplete int        `json:"tasksComplete"`
}

// HasDueDate reports whether the order carries a due date. Orders without
// one are never overdue and never appear in calendar columns.
func (o Order) HasDueDate() bool {
	return o.DueDate != nil
}
