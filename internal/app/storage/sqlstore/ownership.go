package sqlstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/user"
)

// --- OwnershipStore ---------------------------------------------------------

func (s *Store) GetUserProduct(ctx context.Context, userID, productID string) (ownership.UserProduct, error) {
	var row userProductRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT `+userProductColumns+`
		FROM user_products
		WHERE user_id = ? AND product_id = ?
		ORDER BY purchase_date
		LIMIT 1
	`), userID, productID)
	if err != nil {
		return ownership.UserProduct{}, notFound(err, "user %s product %s", userID, productID)
	}
	return row.domain(), nil
}

func (s *Store) ListUserProducts(ctx context.Context, userID string) ([]ownership.UserProduct, error) {
	var rows []userProductRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+userProductColumns+`
		FROM user_products
		WHERE user_id = ?
		ORDER BY purchase_date
	`), userID)
	if err != nil {
		return nil, err
	}
	result := make([]ownership.UserProduct, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

func (s *Store) CreateInstallationKey(ctx context.Context, key ownership.InstallationKey) (ownership.InstallationKey, error) {
	return insertInstallationKey(ctx, s.db, key)
}

func (s *Store) ListInstallationKeys(ctx context.Context, userID, productID string) ([]ownership.InstallationKey, error) {
	var rows []installRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT `+installColumns+`
		FROM installation_keys
		WHERE user_id = ? AND product_id = ?
		ORDER BY created_at
	`), userID, productID)
	if err != nil {
		return nil, err
	}
	result := make([]ownership.InstallationKey, 0, len(rows))
	for _, r := range rows {
		result = append(result, r.domain())
	}
	return result, nil
}

func insertUserProduct(ctx context.Context, ext sqlx.ExtContext, up ownership.UserProduct) (ownership.UserProduct, error) {
	if up.ID == "" {
		up.ID = uuid.NewString()
	}
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO user_products (`+userProductColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`), up.ID, up.UserID, up.ProductID, up.PIN, up.PurchaseDate.UTC())
	if err != nil {
		return ownership.UserProduct{}, err
	}
	return up, nil
}

func insertInstallationKey(ctx context.Context, ext sqlx.ExtContext, key ownership.InstallationKey) (ownership.InstallationKey, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := ext.ExecContext(ctx, ext.Rebind(`
		INSERT INTO installation_keys (`+installColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`), key.ID, key.UserID, key.ProductID, key.PIN, key.CreatedAt.UTC())
	if err != nil {
		return ownership.InstallationKey{}, err
	}
	return key, nil
}

// --- UserStore --------------------------------------------------------------

func (s *Store) SaveUser(ctx context.Context, p user.Profile) (user.Profile, error) {
	now := time.Now().UTC()
	existing, err := s.GetUser(ctx, p.ID)
	switch {
	case err == nil:
		p.CreatedAt = existing.CreatedAt
	case isNotFound(err):
		p.CreatedAt = now
	default:
		return user.Profile{}, err
	}
	p.UpdatedAt = now

	emails, err := json.Marshal(p.Emails)
	if err != nil {
		return user.Profile{}, err
	}

	if existing.ID == "" {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO users (`+userColumns+`)
			VALUES (?, ?, ?, ?, ?)
		`), p.ID, p.PreferredEmail, string(emails), p.CreatedAt, p.UpdatedAt)
	} else {
		_, err = s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE users
			SET preferred_email = ?, emails = ?, updated_at = ?
			WHERE id = ?
		`), p.PreferredEmail, string(emails), p.UpdatedAt, p.ID)
	}
	if err != nil {
		return user.Profile{}, err
	}
	return p, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.Profile, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return user.Profile{}, notFound(err, "user %s", id)
	}
	return row.domain(), nil
}
