package ownership

import "time"

// UserProduct is the proof that a user owns a product. It is only ever created
// from a completed purchase transaction.
type UserProduct struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ProductID    string    `json:"product_id"`
	PIN          string    `json:"pin"`
	PurchaseDate time.Time `json:"purchase_date"`
}

// InstallationKey records one device installation of an owned product.
type InstallationKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	PIN       string    `json:"pin"`
	CreatedAt time.Time `json:"created_at"`
}
