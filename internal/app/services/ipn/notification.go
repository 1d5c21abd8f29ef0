package ipn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrMalformed is returned by ParseNotification for payloads that cannot be
// correlated with a pending transaction.
var ErrMalformed = errors.New("ipn: malformed notification")

// Fields read from a provider notification.
const (
	fieldPaymentStatus = "payment_status"
	fieldGross         = "mc_gross"
	fieldCurrency      = "mc_currency"
	fieldTxnID         = "txn_id"
	// fieldCustom carries the pending transaction id handed to the provider at
	// checkout.
	fieldCustom = "custom"
)

// PaymentCompleted is the only payment status that grants ownership.
const PaymentCompleted = "Completed"

// Notification is the subset of a provider notification the reconciler uses.
type Notification struct {
	PaymentStatus string
	Gross         string
	Currency      string
	TxnID         string
	TransactionID string
}

// ParseNotification decodes a form-encoded notification body.
func ParseNotification(raw []byte) (Notification, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	n := Notification{
		PaymentStatus: values.Get(fieldPaymentStatus),
		Gross:         values.Get(fieldGross),
		Currency:      values.Get(fieldCurrency),
		TxnID:         values.Get(fieldTxnID),
		TransactionID: strings.TrimSpace(values.Get(fieldCustom)),
	}
	if n.TransactionID == "" {
		return Notification{}, fmt.Errorf("%w: missing %s", ErrMalformed, fieldCustom)
	}
	return n, nil
}

// String lists the received fields the reconciler checks.
func (n Notification) String() string {
	return fmt.Sprintf("payment_status=%q mc_gross=%q mc_currency=%q txn_id=%q",
		n.PaymentStatus, n.Gross, n.Currency, n.TxnID)
}

func (n Notification) fields() logrus.Fields {
	return logrus.Fields{
		fieldPaymentStatus: n.PaymentStatus,
		fieldGross:         n.Gross,
		fieldCurrency:      n.Currency,
		fieldTxnID:         n.TxnID,
	}
}
