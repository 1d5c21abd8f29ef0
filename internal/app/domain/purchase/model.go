package purchase

import "time"

// Status tracks a pending transaction through provider confirmation.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusComplete Status = "COMPLETE"
)

// Currency is the only currency the storefront sells in.
const Currency = "USD"

// Transaction is a purchase attempt awaiting confirmation from the payment
// provider. The product is held by key and the amount is captured when the
// transaction is prepared; neither changes afterwards.
type Transaction struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	ProductID     string    `json:"product_id"`
	CreatedAt     time.Time `json:"created_at"`
	ProviderTxnID string    `json:"provider_txn_id,omitempty"`
	Amount        float64   `json:"amount"`
	PIN           string    `json:"pin"`
	Status        Status    `json:"status"`
}

// IsComplete reports whether the transaction already granted ownership.
func (t Transaction) IsComplete() bool {
	return t.Status == StatusComplete
}
