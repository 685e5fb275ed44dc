package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlstn/go-sensorthings/internal/model"
)

// ErrSQLExecution wraps errors reported by the database driver.
var ErrSQLExecution = errors.New("sql execution failed")

func sqlError(err error) error {
	if err == nil || errors.Is(err, ErrSQLExecution) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSQLExecution, err)
}

// StatementObserver is told about every executed statement.
type StatementObserver interface {
	ObserveStatement(ctx context.Context, statement string, elapsed time.Duration, err error)
}

// Tx runs statements of one unit of work. Statements use ? placeholders,
// which are rebound for the dialect before execution.
type Tx struct {
	tx       *sql.Tx
	dialect  Dialect
	registry *model.Registry
	logger   *slog.Logger
	observer StatementObserver
	events   []*model.EntityChangedMessage
}

// SQLTx returns the underlying transaction.
func (t *Tx) SQLTx() *sql.Tx { return t.tx }

// Dialect returns the SQL dialect of the transaction.
func (t *Tx) Dialect() Dialect { return t.dialect }

func (t *Tx) observe(ctx context.Context, statement string, start time.Time, err error) {
	if t.observer != nil {
		t.observer.ObserveStatement(ctx, statement, time.Since(start), err)
	}
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = t.dialect.Rebind(query)
	t.logger.Debug("Executing statement", "sql", query, "args", args)
	start := time.Now()
	res, err := t.tx.ExecContext(ctx, query, args...)
	t.observe(ctx, query, start, err)
	return res, sqlError(err)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = t.dialect.Rebind(query)
	t.logger.Debug("Executing query", "sql", query, "args", args)
	start := time.Now()
	rows, err := t.tx.QueryContext(ctx, query, args...)
	t.observe(ctx, query, start, err)
	return rows, sqlError(err)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	query = t.dialect.Rebind(query)
	t.logger.Debug("Executing query row", "sql", query, "args", args)
	start := time.Now()
	row := t.tx.QueryRowContext(ctx, query, args...)
	t.observe(ctx, query, start, row.Err())
	return row
}

// addEvent queues a change message, delivered once the outermost
// transaction commits.
func (t *Tx) addEvent(msg *model.EntityChangedMessage) {
	t.events = append(t.events, msg)
}

type contextKey string

const transactionKey contextKey = "sensorthings_transaction"

func withTransaction(ctx context.Context, tx *Tx) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, transactionKey, tx)
}

// TransactionFromContext returns the transaction of a Store operation in
// progress. Validators and listeners called inside a write can use it to
// read their own changes.
func TransactionFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(transactionKey).(*Tx)
	if !ok || tx == nil {
		return nil, false
	}
	return tx, true
}
