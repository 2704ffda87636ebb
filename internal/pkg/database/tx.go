package database

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// Querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx.
// Repositories take a Querier so the same method runs standalone or inside a transaction.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
}

// TxRunner opens units of work.
type TxRunner interface {
	// DB returns a querier for reads outside a unit of work.
	DB() Querier
	// WithTx runs fn in a single transaction. Any error returned by fn rolls everything back.
	WithTx(ctx context.Context, fn func(q Querier) error) error
}

// PostgresTxRunner runs units of work on a *sqlx.DB.
type PostgresTxRunner struct {
	db *sqlx.DB
}

func NewTxRunner(db *sqlx.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: db}
}

func (r *PostgresTxRunner) DB() Querier {
	return r.db
}

func (r *PostgresTxRunner) WithTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return Unavailable("begin tx", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Warn().Err(rbErr).Msg("tx rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return Unavailable("commit tx", MapError(err))
	}
	return nil
}
