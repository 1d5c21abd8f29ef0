package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
)

// RunInOwnerScope runs fn inside one database transaction. On PostgreSQL the
// transaction first takes an advisory lock keyed by the owner, so scopes for
// the same owner queue behind each other while other owners proceed. SQLite
// handles opened through Open begin immediate transactions, which serialize
// all writers.
func (s *Store) RunInOwnerScope(ctx context.Context, ownerID string, fn func(scope storage.OwnerScope) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin owner scope: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.dialect == DialectPostgres {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
			return fmt.Errorf("lock owner %s: %w", ownerID, err)
		}
	}

	if err = fn(&ownerScope{tx: tx, dialect: s.dialect, ownerID: ownerID}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit owner scope: %w", err)
	}
	return nil
}

type ownerScope struct {
	tx      *sqlx.Tx
	dialect string
	ownerID string
}

func (o *ownerScope) GetPendingTransaction(ctx context.Context, id string) (purchase.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM pending_transactions WHERE id = ? AND user_id = ?`
	if o.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	var row transactionRow
	if err := o.tx.GetContext(ctx, &row, o.tx.Rebind(query), id, o.ownerID); err != nil {
		return purchase.Transaction{}, notFound(err, "transaction %s", id)
	}
	return row.domain(), nil
}

func (o *ownerScope) CompletePendingTransaction(ctx context.Context, id, providerTxnID string) (purchase.Transaction, error) {
	result, err := o.tx.ExecContext(ctx, o.tx.Rebind(`
		UPDATE pending_transactions
		SET status = ?, provider_txn_id = ?
		WHERE id = ? AND user_id = ? AND status = ?
	`), string(purchase.StatusComplete), providerTxnID, id, o.ownerID, string(purchase.StatusPending))
	if err != nil {
		return purchase.Transaction{}, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return purchase.Transaction{}, err
	}
	if rows == 0 {
		return purchase.Transaction{}, fmt.Errorf("transaction %s not pending: %w", id, storage.ErrStaleWrite)
	}
	return o.GetPendingTransaction(ctx, id)
}

func (o *ownerScope) CreateUserProduct(ctx context.Context, up ownership.UserProduct) (ownership.UserProduct, error) {
	if up.UserID != o.ownerID {
		return ownership.UserProduct{}, fmt.Errorf("user product owner %s outside scope %s", up.UserID, o.ownerID)
	}
	return insertUserProduct(ctx, o.tx, up)
}

func (o *ownerScope) CreateInstallationKey(ctx context.Context, key ownership.InstallationKey) (ownership.InstallationKey, error) {
	if key.UserID != o.ownerID {
		return ownership.InstallationKey{}, fmt.Errorf("installation owner %s outside scope %s", key.UserID, o.ownerID)
	}
	return insertInstallationKey(ctx, o.tx, key)
}
