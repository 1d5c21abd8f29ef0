package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/domain/user"
)

const (
	productColumns     = `id, name, description, short_description, price, icon, download_url, download_url_ota, service_url, secret, available, created_at`
	transactionColumns = `id, user_id, product_id, created_at, provider_txn_id, amount, pin, status`
	userProductColumns = `id, user_id, product_id, pin, purchase_date`
	installColumns     = `id, user_id, product_id, pin, created_at`
	userColumns        = `id, preferred_email, emails, created_at, updated_at`
)

type productRow struct {
	ID               string    `db:"id"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	ShortDescription string    `db:"short_description"`
	Price            float64   `db:"price"`
	Icon             string    `db:"icon"`
	DownloadURL      string    `db:"download_url"`
	DownloadURLOTA   string    `db:"download_url_ota"`
	ServiceURL       string    `db:"service_url"`
	Secret           string    `db:"secret"`
	Available        bool      `db:"available"`
	CreatedAt        time.Time `db:"created_at"`
}

func toProductRow(p product.Product) productRow {
	return productRow{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		ShortDescription: p.ShortDescription,
		Price:            p.Price,
		Icon:             p.Icon,
		DownloadURL:      p.DownloadURL,
		DownloadURLOTA:   p.DownloadURLOTA,
		ServiceURL:       p.ServiceURL,
		Secret:           p.Secret,
		Available:        p.Available,
		CreatedAt:        p.CreatedAt,
	}
}

func (r productRow) domain() product.Product {
	return product.Product{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		ShortDescription: r.ShortDescription,
		Price:            r.Price,
		Icon:             r.Icon,
		DownloadURL:      r.DownloadURL,
		DownloadURLOTA:   r.DownloadURLOTA,
		ServiceURL:       r.ServiceURL,
		Secret:           r.Secret,
		Available:        r.Available,
		CreatedAt:        r.CreatedAt.UTC(),
	}
}

type transactionRow struct {
	ID            string         `db:"id"`
	UserID        string         `db:"user_id"`
	ProductID     string         `db:"product_id"`
	CreatedAt     time.Time      `db:"created_at"`
	ProviderTxnID sql.NullString `db:"provider_txn_id"`
	Amount        float64        `db:"amount"`
	PIN           string         `db:"pin"`
	Status        string         `db:"status"`
}

func toTransactionRow(tx purchase.Transaction) transactionRow {
	return transactionRow{
		ID:            tx.ID,
		UserID:        tx.UserID,
		ProductID:     tx.ProductID,
		CreatedAt:     tx.CreatedAt,
		ProviderTxnID: sql.NullString{String: tx.ProviderTxnID, Valid: tx.ProviderTxnID != ""},
		Amount:        tx.Amount,
		PIN:           tx.PIN,
		Status:        string(tx.Status),
	}
}

func (r transactionRow) domain() purchase.Transaction {
	return purchase.Transaction{
		ID:            r.ID,
		UserID:        r.UserID,
		ProductID:     r.ProductID,
		CreatedAt:     r.CreatedAt.UTC(),
		ProviderTxnID: r.ProviderTxnID.String,
		Amount:        r.Amount,
		PIN:           r.PIN,
		Status:        purchase.Status(r.Status),
	}
}

type userProductRow struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	ProductID    string    `db:"product_id"`
	PIN          string    `db:"pin"`
	PurchaseDate time.Time `db:"purchase_date"`
}

func (r userProductRow) domain() ownership.UserProduct {
	return ownership.UserProduct{
		ID:           r.ID,
		UserID:       r.UserID,
		ProductID:    r.ProductID,
		PIN:          r.PIN,
		PurchaseDate: r.PurchaseDate.UTC(),
	}
}

type installRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	ProductID string    `db:"product_id"`
	PIN       string    `db:"pin"`
	CreatedAt time.Time `db:"created_at"`
}

func (r installRow) domain() ownership.InstallationKey {
	return ownership.InstallationKey{
		ID:        r.ID,
		UserID:    r.UserID,
		ProductID: r.ProductID,
		PIN:       r.PIN,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type userRow struct {
	ID             string    `db:"id"`
	PreferredEmail string    `db:"preferred_email"`
	Emails         string    `db:"emails"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r userRow) domain() user.Profile {
	p := user.Profile{
		ID:             r.ID,
		PreferredEmail: r.PreferredEmail,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}
	if r.Emails != "" {
		_ = json.Unmarshal([]byte(r.Emails), &p.Emails)
	}
	return p
}
