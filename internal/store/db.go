package store

import (
	"context"
	"database/sql"
	"strconv"
)

type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Getter interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

type Selecter interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

type DB interface {
	Execer
	Getter
	Selecter
}

// Tx is the subset of *sqlx.Tx the stores use.
type Tx interface {
	Execer
	Getter
	Selecter
}

func itoa(value int) string {
	return strconv.Itoa(value)
}

// orDB lets read helpers run inside a caller's transaction or, given nil,
// on the store's own handle.
func orDB(q Getter, db DB) Getter {
	if q == nil {
		return db
	}
	return q
}
