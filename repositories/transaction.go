package repositories

import (
	"context"
	"database/sql"
	"fmt"
)

// TransactionScope runs a block of repository writes as one transaction:
// commit when the block returns nil, roll back when it returns an error or
// panics. Use cases receive this instead of a raw *sql.DB so partial writes
// are never observable.
type TransactionScope interface {
	WithinTransaction(ctx context.Context, fn func(exec SQLExecutor) error) error
}

type sqlTransactionScope struct {
	db *sql.DB
}

func NewSQLTransactionScope(db *sql.DB) TransactionScope {
	return &sqlTransactionScope{db: db}
}

func (s *sqlTransactionScope) WithinTransaction(ctx context.Context, fn func(exec SQLExecutor) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction error: %w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()

	err = fn(tx)
	return err
}
