package store

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"flightledger/internal/models"
)

func TestNotificationStoreListUnreadOnly(t *testing.T) {
	store := NewNotificationStore(stubDB{
		selectFn: func(_ context.Context, dest any, query string, args ...any) error {
			if !strings.Contains(query, "AND is_read = FALSE") {
				t.Fatalf("expected unread filter: %s", query)
			}
			if len(args) != 3 || args[0] != "stu-1" || args[1] != 10 || args[2] != 0 {
				t.Fatalf("unexpected args: %#v", args)
			}
			*dest.(*[]models.Notification) = []models.Notification{{ID: "n-1"}}
			return nil
		},
	})
	rows, err := store.ListByUser(context.Background(), "stu-1", true, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("unexpected rows: %#v", rows)
	}
}

func TestNotificationStoreMarkReadScopedToUser(t *testing.T) {
	store := NewNotificationStore(stubDB{
		execFn: func(_ context.Context, query string, args ...any) (sql.Result, error) {
			if !strings.Contains(query, "WHERE id = $1 AND user_id = $2") {
				t.Fatalf("unexpected query: %s", query)
			}
			return stubResult{rows: 0}, nil
		},
	})
	affected, err := store.MarkRead(context.Background(), "n-1", "other-user")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected no rows, got %d", affected)
	}
}
