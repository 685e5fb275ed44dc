package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/nlstn/go-sensorthings/internal/model"
	"github.com/nlstn/go-sensorthings/internal/query"
	"gorm.io/gorm"
)

// Settings controls paging and response limits of reads.
type Settings struct {
	ServiceRoot  string
	DefaultTop   int
	MaxTop       int
	DefaultCount bool
	// MaxDataSize limits the bytes of string and JSON values per response.
	// Zero disables the limit.
	MaxDataSize int64
}

func (s Settings) top(q *query.Query) int {
	top := q.TopOrDefault(s.DefaultTop)
	if s.MaxTop > 0 && top > s.MaxTop {
		top = s.MaxTop
	}
	return top
}

// CommitHandler receives the change messages of a committed transaction in
// the order they were produced.
type CommitHandler func(ctx context.Context, events []*model.EntityChangedMessage)

// Store reads and writes entities of one schema through a gorm connection.
type Store struct {
	db       *gorm.DB
	schema   *Schema
	settings Settings
	logger   *slog.Logger
	observer StatementObserver
	onCommit CommitHandler
}

// NewStore creates a store over db.
func NewStore(db *gorm.DB, schema *Schema, settings Settings) *Store {
	return &Store{db: db, schema: schema, settings: settings, logger: slog.Default()}
}

// SetLogger sets the logger used for statements and transactions. A nil
// logger restores slog.Default().
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// SetObserver registers the observer told about every statement.
func (s *Store) SetObserver(o StatementObserver) { s.observer = o }

// OnCommit registers the handler receiving change messages after commit.
func (s *Store) OnCommit(fn CommitHandler) { s.onCommit = fn }

// Schema returns the table schema of the store.
func (s *Store) Schema() *Schema { return s.schema }

// Settings returns the read settings of the store.
func (s *Store) Settings() Settings { return s.settings }

// InTransaction runs fn inside a database transaction. When ctx already
// carries a transaction, fn joins it and the outer caller commits. Change
// messages are handed to the commit handler only after a successful commit.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context, session *Session) error) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, &Session{store: s, tx: tx})
	}

	var events []*model.EntityChangedMessage
	err := s.db.WithContext(ctx).Transaction(func(gormTx *gorm.DB) error {
		sqlTx, ok := gormTx.Statement.ConnPool.(*sql.Tx)
		if !ok || sqlTx == nil {
			return errors.New("failed to extract *sql.Tx from GORM transaction")
		}
		tx := &Tx{
			tx:       sqlTx,
			dialect:  s.schema.dialect,
			registry: s.schema.registry,
			logger:   s.logger,
			observer: s.observer,
		}
		if err := fn(withTransaction(ctx, tx), &Session{store: s, tx: tx}); err != nil {
			return err
		}
		events = tx.events
		return nil
	})
	if err != nil {
		return err
	}

	if len(events) > 0 && s.onCommit != nil {
		s.onCommit(ctx, events)
	}
	return nil
}

// GetEntity reads the single entity addressed by path.
func (s *Store) GetEntity(ctx context.Context, path *query.ResourcePath, q *query.Query) (*model.Entity, error) {
	var out *model.Entity
	err := s.InTransaction(ctx, func(ctx context.Context, session *Session) error {
		e, err := session.GetEntity(ctx, path, q)
		out = e
		return err
	})
	return out, err
}

// GetEntitySet reads one page of the collection addressed by path.
func (s *Store) GetEntitySet(ctx context.Context, path *query.ResourcePath, q *query.Query) (*model.EntitySet, error) {
	var out *model.EntitySet
	err := s.InTransaction(ctx, func(ctx context.Context, session *Session) error {
		set, err := session.GetEntitySet(ctx, path, q)
		out = set
		return err
	})
	return out, err
}

// Stream reads one page of the collection addressed by path and hands it to
// fn while the cursor is open. Entities are decoded as fn iterates the set
// with Each. Expanded queries are read eagerly.
func (s *Store) Stream(ctx context.Context, path *query.ResourcePath, q *query.Query, fn func(set *model.EntitySet) error) error {
	return s.InTransaction(ctx, func(ctx context.Context, session *Session) error {
		return session.Stream(ctx, path, q, fn)
	})
}

// Insert creates e and its nested entities.
func (s *Store) Insert(ctx context.Context, e *model.Entity) error {
	return s.InTransaction(ctx, func(ctx context.Context, session *Session) error {
		return session.Insert(ctx, e)
	})
}

// Update applies the set properties of e to the stored entity with key pk.
func (s *Store) Update(ctx context.Context, pk model.PkValue, e *model.Entity) (*model.EntityChangedMessage, error) {
	var msg *model.EntityChangedMessage
	err := s.InTransaction(ctx, func(ctx context.Context, session *Session) error {
		m, err := session.Update(ctx, pk, e)
		msg = m
		return err
	})
	return msg, err
}

// Delete removes the entity of type t with key pk.
func (s *Store) Delete(ctx context.Context, t *model.EntityType, pk model.PkValue) error {
	return s.InTransaction(ctx, func(ctx context.Context, session *Session) error {
		return session.Delete(ctx, t, pk)
	})
}

// Session runs reads and writes inside one transaction.
type Session struct {
	store *Store
	tx    *Tx
}

// Tx returns the transaction of the session.
func (s *Session) Tx() *Tx { return s.tx }

// Schema returns the table schema of the session.
func (s *Session) Schema() *Schema { return s.store.schema }
