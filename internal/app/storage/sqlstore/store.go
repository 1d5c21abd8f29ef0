// Package sqlstore implements the storage interfaces on a SQL database through
// sqlx. PostgreSQL is the production dialect; SQLite backs local development
// and the package tests.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
)

// Dialects understood by the store.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite3"
)

// Store implements the storage interfaces backed by a SQL database.
type Store struct {
	db      *sqlx.DB
	dialect string
}

var _ storage.CatalogStore = (*Store)(nil)
var _ storage.PurchaseStore = (*Store)(nil)
var _ storage.OwnershipStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.Transactor = (*Store)(nil)

// New creates a Store using the provided database handle. dialect selects the
// placeholder style and the owner locking strategy.
func New(db *sql.DB, dialect string) *Store {
	return &Store{db: sqlx.NewDb(db, dialect), dialect: dialect}
}

// Open opens a database handle for driver. SQLite handles are opened with
// immediate transactions and a busy timeout so that owner scopes serialize
// instead of failing with SQLITE_BUSY.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DialectPostgres:
	case DialectSQLite:
		dsn = withSQLiteDefaults(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

func withSQLiteDefaults(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "_busy_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// --- CatalogStore -----------------------------------------------------------

func (s *Store) CreateProduct(ctx context.Context, p product.Product) (product.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (:id, :name, :description, :short_description, :price, :icon, :download_url,
			:download_url_ota, :service_url, :secret, :available, :created_at)
	`, toProductRow(p))
	if err != nil {
		if isUniqueViolation(err) {
			return product.Product{}, fmt.Errorf("product %s: %w", p.ID, storage.ErrAlreadyExists)
		}
		return product.Product{}, err
	}
	return p, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (product.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+productColumns+` FROM products WHERE id = ?`), id)
	if err != nil {
		return product.Product{}, notFound(err, "product %s", id)
	}
	return row.domain(), nil
}

func (s *Store) ListProducts(ctx context.Context) ([]product.Product, error) {
	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+productColumns+` FROM products ORDER BY name`); err != nil {
		return nil, err
	}
	result := make([]product.Product, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

// --- PurchaseStore ----------------------------------------------------------

func (s *Store) CreatePendingTransaction(ctx context.Context, tx purchase.Transaction) (purchase.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = purchase.StatusPending
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO pending_transactions (`+transactionColumns+`)
		VALUES (:id, :user_id, :product_id, :created_at, :provider_txn_id, :amount, :pin, :status)
	`, toTransactionRow(tx))
	if err != nil {
		if isUniqueViolation(err) {
			return purchase.Transaction{}, fmt.Errorf("transaction %s: %w", tx.ID, storage.ErrAlreadyExists)
		}
		return purchase.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetPendingTransaction(ctx context.Context, id string) (purchase.Transaction, error) {
	var row transactionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+transactionColumns+` FROM pending_transactions WHERE id = ?`), id)
	if err != nil {
		return purchase.Transaction{}, notFound(err, "transaction %s", id)
	}
	return row.domain(), nil
}

func (s *Store) ListPendingTransactions(ctx context.Context, createdBefore time.Time) ([]purchase.Transaction, error) {
	var rows []transactionRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+transactionColumns+`
		FROM pending_transactions
		WHERE status = ? AND created_at < ?
		ORDER BY created_at
	`), string(purchase.StatusPending), createdBefore.UTC())
	if err != nil {
		return nil, err
	}
	result := make([]purchase.Transaction, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf(format+": %w", append(args, storage.ErrNotFound)...)
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
