package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"flightledger/internal/models"

	"github.com/shopspring/decimal"
)

func TestAccountStoreCreateIfMissing(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "INSERT INTO student_instructor_accounts") || !strings.Contains(query, "ON CONFLICT (student_id, instructor_id) DO NOTHING") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 9 {
				t.Fatalf("expected 9 args, got %d", len(args))
			}
			if args[0] != "acc-1" || args[1] != "stu-1" || args[2] != "ins-1" || args[6] != models.AccountFlexible {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	err := store.CreateIfMissing(ctx, execer, models.Account{
		ID:           "acc-1",
		StudentID:    "stu-1",
		InstructorID: "ins-1",
		AccountType:  models.AccountFlexible,
		Status:       models.AccountActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccountStoreFind(t *testing.T) {
	ctx := context.Background()
	store := NewAccountStore(stubDB{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "WHERE student_id = $1 AND instructor_id = $2") || strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 2 || args[0] != "stu-1" || args[1] != "ins-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*models.Account) = models.Account{ID: "acc-1", AccountBalance: 20000}
			return nil
		},
	})
	row, err := store.Find(ctx, "stu-1", "ins-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID != "acc-1" || row.AccountBalance != 20000 {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestAccountStoreFindMissing(t *testing.T) {
	store := NewAccountStore(stubDB{
		getFn: func(context.Context, any, string, ...any) error {
			return sql.ErrNoRows
		},
	})
	if _, err := store.Find(context.Background(), "stu-1", "ins-1"); err != sql.ErrNoRows {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAccountStoreGetForUpdate(t *testing.T) {
	ctx := context.Background()
	getter := stubGetter{
		getFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "FOR UPDATE") {
				t.Fatalf("expected row lock: %s", query)
			}
			*dest.(*models.Account) = models.Account{ID: "acc-1"}
			return nil
		},
	}
	store := NewAccountStore(stubDB{})
	row, err := store.GetForUpdate(ctx, getter, "stu-1", "ins-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.ID != "acc-1" {
		t.Fatalf("unexpected row: %#v", row)
	}
}

func TestAccountStoreUpdateBalances(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "SET account_balance = $1, prepaid_flight_hours = $2, prepaid_ground_hours = $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if len(args) != 4 || args[0] != int64(15000) || args[3] != "acc-1" {
				t.Fatalf("unexpected args: %#v", args)
			}
			if !args[1].(decimal.Decimal).Equal(decimal.RequireFromString("2.5")) {
				t.Fatalf("unexpected flight hours: %v", args[1])
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	err := store.UpdateBalances(ctx, execer, models.Account{
		ID:                 "acc-1",
		AccountBalance:     15000,
		PrepaidFlightHours: decimal.RequireFromString("2.5"),
		PrepaidGroundHours: decimal.Zero,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccountStoreUpdateSettings(t *testing.T) {
	ctx := context.Background()
	execer := stubExecer{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "SET account_type = $1, low_balance_threshold = $2, status = $3") {
				t.Fatalf("unexpected query: %s", query)
			}
			if args[0] != models.AccountLegacy || args[1] != int64(5000) || args[2] != models.AccountSuspended {
				t.Fatalf("unexpected args: %#v", args)
			}
			return stubResult{rows: 1}, nil
		},
	}
	store := NewAccountStore(stubDB{})
	err := store.UpdateSettings(ctx, execer, models.Account{
		ID:                  "acc-1",
		AccountType:         models.AccountLegacy,
		LowBalanceThreshold: 5000,
		Status:              models.AccountSuspended,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAccountStoreReconcile(t *testing.T) {
	ctx := context.Background()
	ledger := int64(100)
	store := NewAccountStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "LEFT JOIN LATERAL") || !strings.Contains(query, "ORDER BY created_at DESC, seq DESC") {
				t.Fatalf("unexpected query: %s", query)
			}
			*dest.(*[]AccountReconciliation) = []AccountReconciliation{{AccountID: "acc-1", StoredBalance: 100, LedgerBalance: &ledger}}
			return nil
		},
	})
	rows, err := store.Reconcile(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].AccountID != "acc-1" {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}
