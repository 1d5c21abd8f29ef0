package user

import "time"

// Profile holds the contact details the storefront knows for a user.
type Profile struct {
	ID             string    `json:"id"`
	PreferredEmail string    `json:"preferred_email,omitempty"`
	Emails         []string  `json:"emails,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ContactAddress returns the preferred address, falling back to the first
// known one. It returns "" when the user has no address on file.
func (p Profile) ContactAddress() string {
	if p.PreferredEmail != "" {
		return p.PreferredEmail
	}
	for _, e := range p.Emails {
		if e != "" {
			return e
		}
	}
	return ""
}
