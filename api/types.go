package api

import (
	"context"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/workcal"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	FetchOrders(ctx context.Context, includeHidden bool) ([]domain.Order, error)
	FetchHolidays(ctx context.Context) (workcal.HolidaySet, error)
	EnqueueTransitions(ctx context.Context, userID string, cmds []domain.Command) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate transition commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
