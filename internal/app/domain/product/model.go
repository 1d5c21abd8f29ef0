package product

import "time"

// Product is a catalog entry. Products are created by administrators and are
// never modified by the purchase workflow.
type Product struct {
	ID               string    `json:"id" yaml:"id"`
	Name             string    `json:"name" yaml:"name"`
	Description      string    `json:"description,omitempty" yaml:"description"`
	ShortDescription string    `json:"short_description,omitempty" yaml:"short_description"`
	Price            float64   `json:"price" yaml:"price"`
	Icon             string    `json:"icon,omitempty" yaml:"icon"`
	DownloadURL      string    `json:"download_url,omitempty" yaml:"download_url"`
	DownloadURLOTA   string    `json:"download_url_ota,omitempty" yaml:"download_url_ota"`
	ServiceURL       string    `json:"service_url,omitempty" yaml:"service_url"`
	Secret           string    `json:"-" yaml:"secret"`
	Available        bool      `json:"available" yaml:"available"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
}

// IsFreeware reports whether the product can be claimed without payment.
func (p Product) IsFreeware() bool {
	return p.Price == 0
}
