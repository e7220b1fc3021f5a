package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

const holidayPartition = "holiday"

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx := context.Background()

	if err := createTables(ctx, connStr, []string{
		os.Getenv("ORDERS_TABLE"),
		os.Getenv("HOLIDAYS_TABLE"),
	}); err != nil {
		log.Fatalf("create tables: %v", err)
	}

	if err := createQueues(ctx, connStr, []string{
		os.Getenv("TRANSITION_QUEUE"),
	}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	// SEED_HOLIDAYS is a comma-separated list of ISO dates, each optionally
	// suffixed with =label, e.g. "2026-12-25=Christmas,2026-12-28".
	if seed := os.Getenv("SEED_HOLIDAYS"); seed != "" {
		table := os.Getenv("HOLIDAYS_TABLE")
		if table == "" {
			log.Fatal("SEED_HOLIDAYS requires HOLIDAYS_TABLE")
		}
		if err := seedHolidays(ctx, connStr, table, seed); err != nil {
			log.Fatalf("seed holidays: %v", err)
		}
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
	}
	return nil
}

func seedHolidays(ctx context.Context, connStr, table, seed string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	c := svc.NewClient(table)
	for _, entry := range strings.Split(seed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		date, label, _ := strings.Cut(entry, "=")
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return err
		}
		ent := map[string]any{
			"PartitionKey": holidayPartition,
			"RowKey":       date,
			"Label":        label,
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		if _, err := c.UpsertEntity(ctx, payload, nil); err != nil {
			return err
		}
		log.Debugf("seeded holiday %s", date)
	}
	return nil
}
