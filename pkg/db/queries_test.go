package db

import (
	"context"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestAccountQueriesRequireAccountID(t *testing.T) {
	q := newTestDB(t).Queries()
	ctx := context.Background()

	t.Run("GetOrdersByAccount requires accountID", func(t *testing.T) {
		_, err := q.GetOrdersByAccount(ctx, "", 100)
		if err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})

	t.Run("GetFillsByAccount requires accountID", func(t *testing.T) {
		_, err := q.GetFillsByAccount(ctx, "", 100)
		if err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})

	t.Run("GetFaultsByAccount requires accountID", func(t *testing.T) {
		_, err := q.GetFaultsByAccount(ctx, "")
		if err != ErrAccountIDRequired {
			t.Errorf("expected ErrAccountIDRequired, got %v", err)
		}
	})
}

func TestUpsertOrderKeepsLatestState(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rec := OrderRecord{
		AccountID:   "acc-1",
		OrderID:     7,
		Symbol:      "ADAUSDT",
		Side:        "BUY",
		Direction:   "LONG",
		Type:        "LIMIT",
		Price:       "1",
		Qty:         "39.956004",
		ExecutedQty: "0",
		AvgPrice:    "0",
		FeesPaid:    "0",
		Status:      "NEW",
		UpdatedAt:   at,
	}
	if err := database.UpsertOrder(ctx, rec); err != nil {
		t.Fatalf("Failed to insert order: %v", err)
	}

	rec.ExecutedQty = rec.Qty
	rec.AvgPrice = "1"
	rec.FeesPaid = "0.039956"
	rec.Status = "FILLED"
	rec.UpdatedAt = at.Add(time.Minute)
	if err := database.UpsertOrder(ctx, rec); err != nil {
		t.Fatalf("Failed to update order: %v", err)
	}

	got, err := q.GetOrder(ctx, "acc-1", 7)
	if err != nil {
		t.Fatalf("Failed to get order: %v", err)
	}
	if got.Status != "FILLED" || got.ExecutedQty != "39.956004" || got.FeesPaid != "0.039956" {
		t.Errorf("unexpected order row: %+v", got)
	}

	if _, err := q.GetOrder(ctx, "acc-1", 8); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAccountDataIsolation(t *testing.T) {
	database := newTestDB(t)
	q := database.Queries()
	ctx := context.Background()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, acc := range []string{"acc-a", "acc-b"} {
		fill := FillRecord{
			ID:        acc + "-fill",
			AccountID: acc,
			OrderID:   int64(i + 1),
			Symbol:    "ADAUSDT",
			Side:      "BUY",
			Direction: "LONG",
			Qty:       "10",
			Price:     "0.5",
			FilledAt:  at,
		}
		if err := database.CreateFill(ctx, fill); err != nil {
			t.Fatalf("Failed to create fill: %v", err)
		}
	}
	if err := database.CreateFault(ctx, FaultRecord{ID: "f1", AccountID: "acc-b", Error: "boom", CreatedAt: at}); err != nil {
		t.Fatalf("Failed to create fault: %v", err)
	}

	t.Run("Account A sees only its fills", func(t *testing.T) {
		fills, err := q.GetFillsByAccount(ctx, "acc-a", 100)
		if err != nil {
			t.Fatalf("Failed to get fills: %v", err)
		}
		if len(fills) != 1 || fills[0].ID != "acc-a-fill" {
			t.Errorf("expected acc-a-fill only, got %+v", fills)
		}
	})

	t.Run("Faults are scoped by account", func(t *testing.T) {
		faults, err := q.GetFaultsByAccount(ctx, "acc-a")
		if err != nil {
			t.Fatalf("Failed to get faults: %v", err)
		}
		if len(faults) != 0 {
			t.Errorf("expected no faults for acc-a, got %d", len(faults))
		}
		faults, err = q.GetFaultsByAccount(ctx, "acc-b")
		if err != nil {
			t.Fatalf("Failed to get faults: %v", err)
		}
		if len(faults) != 1 || faults[0].Error != "boom" {
			t.Errorf("unexpected faults for acc-b: %+v", faults)
		}
	})
}
