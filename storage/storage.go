// Package storage persists the order pool and holiday calendar in Azure
// Table Storage and hands stage-change commands to the order service via
// an Azure Storage queue.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"github.com/JonBeak/Nexus-sub005/domain"
	"github.com/JonBeak/Nexus-sub005/workcal"
)

// Orders live under a single board partition; holidays under their own.
const (
	boardPartition   = "board"
	holidayPartition = "holiday"
)

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	orderTable      *aztables.Client
	holidayTable    *aztables.Client
	transitionQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, ordersTable, holidaysTable, transitionQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	ot := svc.NewClient(ordersTable)
	ht := svc.NewClient(holidaysTable)
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	tq, err := azqueue.NewQueueClientFromConnectionString(connStr, transitionQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{orderTable: ot, holidayTable: ht, transitionQueue: tq}, nil
}

type orderEntity struct {
	aztables.Entity
	Name           string `json:"Name"`
	Customer       string `json:"Customer"`
	Stage          string `json:"Stage"`
	DueDate        string `json:"DueDate"`
	HardDueTime    bool   `json:"HardDueTime"`
	Rush           bool   `json:"Rush"`
	TasksTotal     int    `json:"TasksTotal"`
	TasksComplete  int    `json:"TasksComplete"`
	EventTimestamp int64  `json:"EventTimestamp"`
}

func (e orderEntity) toOrder() domain.Order {
	o := domain.Order{
		ID:            e.RowKey,
		Name:          e.Name,
		Customer:      e.Customer,
		Stage:         domain.Stage(e.Stage),
		HardDueTime:   e.HardDueTime,
		Rush:          e.Rush,
		TasksTotal:    e.TasksTotal,
		TasksComplete: e.TasksComplete,
	}
	if e.DueDate != "" {
		if due, err := time.Parse(time.RFC3339, e.DueDate); err == nil {
			o.DueDate = &due
		}
	}
	return o
}

// FetchOrders retrieves the board's orders. Orders in hidden stages are
// skipped unless includeHidden is set (the show-all toggle).
func (s *Storage) FetchOrders(ctx context.Context, includeHidden bool) ([]domain.Order, error) {
	filter := "PartitionKey eq '" + boardPartition + "'"
	pager := s.orderTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	orders := []domain.Order{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent orderEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			o := ent.toOrder()
			if !includeHidden {
				if l, ok := domain.StageLayout(o.Stage); ok && l.Hidden {
					continue
				}
			}
			orders = append(orders, o)
		}
	}
	return orders, nil
}

type holidayEntity struct {
	aztables.Entity
	Label string `json:"Label"`
}

// FetchHolidays loads the holiday calendar. Row keys are ISO dates.
func (s *Storage) FetchHolidays(ctx context.Context) (workcal.HolidaySet, error) {
	filter := "PartitionKey eq '" + holidayPartition + "'"
	pager := s.holidayTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	holidays := workcal.HolidaySet{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent holidayEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			if d, err := time.Parse("2006-01-02", ent.RowKey); err == nil {
				holidays.Add(d)
			}
		}
	}
	return holidays, nil
}

// EnqueueTransitions sends stage-change commands to the transition queue.
func (s *Storage) EnqueueTransitions(ctx context.Context, userID string, cmds []domain.Command) error {
	for _, cmd := range cmds {
		env := domain.CommandEnvelope{UserID: userID, Command: cmd}
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if _, err := s.transitionQueue.EnqueueMessage(ctx, string(data), nil); err != nil {
			return err
		}
	}
	return nil
}

// DequeueTransition receives at most one pending command envelope. The
// second return is false when the queue is empty.
func (s *Storage) DequeueTransition(ctx context.Context) (domain.CommandEnvelope, func(context.Context) error, bool, error) {
	resp, err := s.transitionQueue.DequeueMessage(ctx, nil)
	if err != nil {
		return domain.CommandEnvelope{}, nil, false, err
	}
	if len(resp.Messages) == 0 {
		return domain.CommandEnvelope{}, nil, false, nil
	}
	msg := resp.Messages[0]
	ack := func(ctx context.Context) error {
		_, err := s.transitionQueue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil)
		return err
	}
	var env domain.CommandEnvelope
	if err := json.Unmarshal([]byte(*msg.MessageText), &env); err != nil {
		return domain.CommandEnvelope{}, ack, false, err
	}
	return env, ack, true, nil
}

// OrderRecord pairs an order with the storage metadata needed for
// conditional updates.
type OrderRecord struct {
	Order          domain.Order
	ETag           string
	EventTimestamp int64
}

// GetOrder fetches a single order entity with its ETag for optimistic
// concurrency. A nil record means the order does not exist.
func (s *Storage) GetOrder(ctx context.Context, orderID string) (*OrderRecord, error) {
	resp, err := s.orderTable.GetEntity(ctx, boardPartition, orderID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return nil, nil
		}
		return nil, err
	}
	var ent struct {
		orderEntity
		OdataETag string `json:"odata.etag"`
	}
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	return &OrderRecord{
		Order:          ent.toOrder(),
		ETag:           ent.OdataETag,
		EventTimestamp: ent.EventTimestamp,
	}, nil
}

// UpdateOrderStage merges a stage change into the order entity, guarded by
// the supplied ETag so concurrent updates surface as conflicts.
func (s *Storage) UpdateOrderStage(ctx context.Context, orderID string, to domain.Stage, eventTimestamp int64, etag string) error {
	ent := map[string]any{
		"PartitionKey":   boardPartition,
		"RowKey":         orderID,
		"Stage":          string(to),
		"EventTimestamp": eventTimestamp,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	match := azcore.ETag(etag)
	if etag == "" {
		match = azcore.ETagAny
	}
	_, err = s.orderTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{
		IfMatch:    &match,
		UpdateMode: aztables.UpdateModeMerge,
	})
	return err
}
