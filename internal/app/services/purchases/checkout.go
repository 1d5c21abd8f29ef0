package purchases

import (
	"net/url"

	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
)

// CheckoutConfig holds the merchant settings rendered into the payment form.
type CheckoutConfig struct {
	// Endpoint is the provider's web checkout URL.
	Endpoint  string
	Business  string
	NotifyURL string
	ReturnURL string
}

// Checkout is the form a buyer's browser posts to the payment provider. The
// provider echoes Fields["custom"] back in its notification.
type Checkout struct {
	Endpoint string            `json:"endpoint"`
	Fields   map[string]string `json:"fields"`
}

// Build renders the web-accept payment fields for tx.
func (c CheckoutConfig) Build(tx purchase.Transaction, prod product.Product) Checkout {
	fields := map[string]string{
		"cmd":           "_xclick",
		"business":      c.Business,
		"item_name":     prod.Name,
		"item_number":   prod.ID,
		"amount":        purchase.FormatAmount(tx.Amount),
		"currency_code": purchase.Currency,
		"no_shipping":   "1",
		"custom":        tx.ID,
	}
	if c.NotifyURL != "" {
		fields["notify_url"] = c.NotifyURL
	}
	if c.ReturnURL != "" {
		fields["return"] = c.ReturnURL
	}
	return Checkout{Endpoint: c.Endpoint, Fields: fields}
}

// Encode returns the fields as a form-encoded query string.
func (c Checkout) Encode() string {
	values := url.Values{}
	for k, v := range c.Fields {
		values.Set(k, v)
	}
	return values.Encode()
}
