// Package activation derives and checks product activation codes. A code is
// the base64 encoded MD5 digest of "<pin>|<secret>", which is what installed
// clients compute on their side.
package activation

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

var (
	// ErrEmptyPIN is returned when no installation PIN is supplied.
	ErrEmptyPIN = errors.New("activation: pin is required")
	// ErrEmptySecret is returned when the product has no activation secret.
	ErrEmptySecret = errors.New("activation: product secret is required")
)

const delimiter = "|"

// Generate returns the activation code for pin and secret.
func Generate(pin, secret string) (string, error) {
	if pin == "" {
		return "", ErrEmptyPIN
	}
	if secret == "" {
		return "", ErrEmptySecret
	}
	sum := md5.Sum([]byte(pin + delimiter + secret))
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// Validate reports whether candidate is the activation code for pin and
// secret. The comparison runs in constant time.
func Validate(candidate, pin, secret string) bool {
	expected, err := Generate(pin, secret)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) == 1
}
