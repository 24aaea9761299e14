package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicate         = errors.New("duplicate record")
	ErrConflict          = errors.New("record changed concurrently")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConstraint        = errors.New("constraint violated")
	// ErrTransient is a deadlock, lock wait timeout or busy database. The
	// transaction was rolled back and may be run again.
	ErrTransient = errors.New("transaction aborted by lock contention")
)

// txAttempts bounds how often RunInTx runs a unit of work that keeps losing
// lock conflicts.
const txAttempts = 3

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repos groups the repositories bound to one connection or transaction.
type Repos struct {
	Products *ProductRepository
	Carts    *CartRepository
	Coupons  *CouponRepository
	Orders   *OrderRepository
}

func newRepos(db DBTX) *Repos {
	return &Repos{
		Products: NewProductRepository(db),
		Carts:    NewCartRepository(db),
		Coupons:  NewCouponRepository(db),
		Orders:   NewOrderRepository(db),
	}
}

// Store owns the database handle and runs units of work against it.
type Store struct {
	db       *sql.DB
	txOpts   *sql.TxOptions
	attempts int
}

func NewStore(db *sql.DB, txOpts *sql.TxOptions) *Store {
	return &Store{db: db, txOpts: txOpts, attempts: txAttempts}
}

// Repos returns repositories that run outside any transaction.
func (s *Store) Repos() *Repos {
	return newRepos(s.db)
}

// RunInTx runs fn inside one transaction. Any error returned by fn rolls the
// whole transaction back and is returned unchanged, except deadlocks and busy
// errors: those rerun fn on a fresh transaction a bounded number of times and
// finally come back wrapped in ErrTransient. fn must not keep state between
// runs.
func (s *Store) RunInTx(ctx context.Context, fn func(r *Repos) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = s.runOnce(ctx, fn)
		if !isTransient(err) || attempt >= s.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
		}
	}
	if isTransient(err) && !errors.Is(err, ErrTransient) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(r *Repos) error) error {
	tx, err := s.db.BeginTx(ctx, s.txOpts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(newRepos(tx)); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", translateError(err))
	}
	return nil
}

// translateError maps driver specific constraint failures to repository errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062:
			return fmt.Errorf("%w: %s", ErrDuplicate, myErr.Message)
		case 3819, 1452:
			return fmt.Errorf("%w: %s", ErrConstraint, myErr.Message)
		}
		if isTransient(err) {
			return fmt.Errorf("%w: %s", ErrTransient, myErr.Message)
		}
		return err
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return fmt.Errorf("%w: %s", ErrDuplicate, liteErr.Error())
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %s", ErrConstraint, liteErr.Error())
		}
		if isTransient(err) {
			return fmt.Errorf("%w: %s", ErrTransient, liteErr.Error())
		}
	}
	return err
}

// isTransient reports lock conflicts that a rerun of the transaction can get
// past: InnoDB deadlocks (1213) and lock wait timeouts (1205), SQLite
// SQLITE_BUSY and SQLITE_LOCKED in any extended form.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1213 || myErr.Number == 1205
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

type scanner interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeList(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
