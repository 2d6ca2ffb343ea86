package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Queryer
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. Only the caller that began the transaction can end it;
// callers that joined it through the context get no-op Commit and Rollback.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	parent   *Transaction
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// GetTx joins the open transaction carried by ctx or begins a new one and stores it in the returned context.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if current, ok := ctx.Value(txKey).(*Transaction); ok && current != nil && current.IsOpen() {
		return ctx, &Transaction{Tx: current.Tx, logger: logger, parent: current.root()}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

// ContextWithTx returns a copy of ctx carrying tx for Executor and GetTx to join.
func ContextWithTx(ctx context.Context, tx *Transaction) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// TxFromContext returns the open transaction carried by ctx.
func TxFromContext(ctx context.Context) (Tx, bool) {
	current, ok := ctx.Value(txKey).(*Transaction)
	if !ok || current == nil || !current.IsOpen() {
		return nil, false
	}
	return current, true
}

func (t *Transaction) root() *Transaction {
	if t.parent != nil {
		return t.parent
	}
	return t
}

func (t *Transaction) IsOpen() bool {
	return !t.root().isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.parent != nil || t.isClosed {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}

	t.isClosed = true
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.parent != nil || t.isClosed {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}

	t.isClosed = true
	return nil
}
