// Package ipn reconciles payment provider notifications into ownership. A
// notification is first confirmed with the provider, then checked against the
// pending transaction it names, and only then turned into a UserProduct and
// InstallationKey in one owner-scoped commit.
package ipn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sailfish-mobile/storefront/internal/app/audit"
	"github.com/sailfish-mobile/storefront/internal/app/domain/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/domain/product"
	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/metrics"
	"github.com/sailfish-mobile/storefront/internal/app/services/notify"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// Outcome classifies how a notification was handled.
type Outcome string

const (
	OutcomeGranted          Outcome = "granted"
	OutcomeProviderRejected Outcome = "provider_rejected"
	OutcomeMalformed        Outcome = "malformed"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeAlreadyComplete  Outcome = "already_complete"
	OutcomeMismatch         Outcome = "mismatch"
)

// FreeTxnID is recorded as the provider transaction id of free claims.
const FreeTxnID = "FREE"

// Result describes the reconciliation of one notification. Every outcome
// other than OutcomeGranted leaves storage untouched.
type Result struct {
	Outcome     Outcome
	Transaction purchase.Transaction
	UserProduct *ownership.UserProduct
	Reason      string
}

// Granted reports whether ownership was created.
func (r Result) Granted() bool {
	return r.Outcome == OutcomeGranted
}

// Ledger creates ownership records inside an owner scope.
type Ledger interface {
	CreateFromTransaction(ctx context.Context, scope storage.OwnerScope, tx purchase.Transaction) (ownership.UserProduct, error)
}

// ProductLookup resolves products for confirmation mails.
type ProductLookup interface {
	Get(ctx context.Context, id string) (product.Product, error)
}

// Reconciler turns verified notifications into ownership.
type Reconciler struct {
	verifier   Verifier
	purchases  storage.PurchaseStore
	transactor storage.Transactor
	ledger     Ledger
	log        *logger.Logger

	notifier notify.Notifier
	users    storage.UserStore
	products ProductLookup
	journal  *audit.Journal
}

// NewReconciler constructs a reconciler.
func NewReconciler(verifier Verifier, purchases storage.PurchaseStore, transactor storage.Transactor, ledger Ledger, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("ipn")
	}
	return &Reconciler{
		verifier:   verifier,
		purchases:  purchases,
		transactor: transactor,
		ledger:     ledger,
		log:        log,
	}
}

// AttachNotifier enables purchase confirmation mails. Users supply the
// address and products the mail content.
func (r *Reconciler) AttachNotifier(notifier notify.Notifier, users storage.UserStore, products ProductLookup) {
	r.notifier = notifier
	r.users = users
	r.products = products
}

// AttachJournal records every decision in journal.
func (r *Reconciler) AttachJournal(journal *audit.Journal) {
	r.journal = journal
}

// Process reconciles one raw notification body. Rejections of any kind are
// reported through Result; only storage faults are returned as errors so the
// caller can ask the provider to redeliver.
func (r *Reconciler) Process(ctx context.Context, raw []byte) (Result, error) {
	n, err := ParseNotification(raw)
	if err != nil {
		r.log.WithError(err).Warnf("Invalid IPN data: Post = [%s]", raw)
		result := Result{Outcome: OutcomeMalformed, Reason: err.Error()}
		return r.finish(result, audit.StageReconcile, "", string(raw), result.Reason), nil
	}

	// No storage lock is held across the provider round trip.
	v := r.verifier.Verify(ctx, raw)
	if !v.Verified {
		r.log.Warnf("Invalid IPN data: Post = [%s]; Response = [%s]; %s", raw, v.Response, v.Reason)
		r.journal.Add(audit.Entry{
			Stage:         audit.StageVerify,
			Outcome:       string(OutcomeProviderRejected),
			TransactionID: n.TransactionID,
			ProviderTxnID: n.TxnID,
			Request:       v.Request,
			Response:      v.Response,
			Detail:        v.Reason,
		})
		metrics.RecordNotification(string(OutcomeProviderRejected))
		return Result{Outcome: OutcomeProviderRejected, Reason: v.Reason}, nil
	}
	r.log.Infof("Received paypal notification: %s", n.TxnID)
	r.journal.Add(audit.Entry{
		Stage:         audit.StageVerify,
		Outcome:       "verified",
		TransactionID: n.TransactionID,
		ProviderTxnID: n.TxnID,
		Request:       v.Request,
		Response:      v.Response,
	})

	pending, err := r.purchases.GetPendingTransaction(ctx, n.TransactionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			r.log.WithFields(n.fields()).Warnf("IPN for unknown transaction %s", n.TransactionID)
			result := Result{Outcome: OutcomeNotFound, Reason: "unknown transaction"}
			return r.finish(result, audit.StageReconcile, n.TxnID, "", failureDetail(result, n)), nil
		}
		return Result{}, fmt.Errorf("load pending transaction %s: %w", n.TransactionID, err)
	}

	result, err := r.complete(ctx, pending, n.TxnID, n.fields(), func(current purchase.Transaction) (Outcome, string) {
		return checkNotification(current, n)
	})
	if err != nil {
		return Result{}, err
	}
	detail := ""
	if !result.Granted() {
		detail = failureDetail(result, n)
	}
	r.finish(result, audit.StageReconcile, n.TxnID, "", detail)
	if result.Granted() {
		r.log.Infof("Completed transaction with paypal id %s", n.TxnID)
		r.sendConfirmation(ctx, result)
	}
	return result, nil
}

// GrantFree completes a pending transaction for a free product without a
// provider round trip.
func (r *Reconciler) GrantFree(ctx context.Context, tx purchase.Transaction) (Result, error) {
	if tx.Amount != 0 {
		return Result{}, fmt.Errorf("transaction %s is not free (amount %s)", tx.ID, purchase.FormatAmount(tx.Amount))
	}
	result, err := r.complete(ctx, tx, FreeTxnID, logrus.Fields{"txn_id": FreeTxnID}, func(current purchase.Transaction) (Outcome, string) {
		if current.Status != purchase.StatusPending {
			return OutcomeAlreadyComplete, fmt.Sprintf("status = %s", current.Status)
		}
		return "", ""
	})
	if err != nil {
		return Result{}, err
	}
	r.finish(result, audit.StageFreeClaim, FreeTxnID, "", result.Reason)
	if result.Granted() {
		r.log.Infof("free product %s claimed by user %s", tx.ProductID, tx.UserID)
		r.sendConfirmation(ctx, result)
	}
	return result, nil
}

// complete re-reads the transaction inside the owner scope, applies check and,
// when it passes, completes the transaction and creates ownership together.
// received is logged with every rejection.
func (r *Reconciler) complete(ctx context.Context, pending purchase.Transaction, providerTxnID string, received logrus.Fields, check func(purchase.Transaction) (Outcome, string)) (Result, error) {
	var result Result
	err := r.transactor.RunInOwnerScope(ctx, pending.UserID, func(scope storage.OwnerScope) error {
		current, err := scope.GetPendingTransaction(ctx, pending.ID)
		if err != nil {
			return err
		}
		if outcome, reason := check(current); outcome != "" {
			result = Result{Outcome: outcome, Transaction: current, Reason: reason}
			return nil
		}

		completed, err := scope.CompletePendingTransaction(ctx, current.ID, providerTxnID)
		if err != nil {
			return err
		}
		up, err := r.ledger.CreateFromTransaction(ctx, scope, completed)
		if err != nil {
			return err
		}
		result = Result{Outcome: OutcomeGranted, Transaction: completed, UserProduct: &up}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrStaleWrite):
		// A concurrent delivery completed the transaction first.
		result = Result{Outcome: OutcomeAlreadyComplete, Transaction: pending, Reason: "completed concurrently"}
	case errors.Is(err, storage.ErrNotFound):
		result = Result{Outcome: OutcomeNotFound, Transaction: pending, Reason: "transaction vanished"}
	default:
		return Result{}, fmt.Errorf("reconcile transaction %s: %w", pending.ID, err)
	}

	if !result.Granted() {
		tx := result.Transaction
		fields := logrus.Fields{
			"transaction_id":  tx.ID,
			"status":          tx.Status,
			"expected_amount": purchase.FormatAmount(tx.Amount),
			"outcome":         result.Outcome,
			"reason":          result.Reason,
		}
		for k, v := range received {
			fields[k] = v
		}
		r.log.WithFields(fields).Warn("Invalid transaction")
	}
	return result, nil
}

// failureDetail is the journal text for a rejected notification: the stored
// state next to everything the provider sent.
func failureDetail(result Result, n Notification) string {
	tx := result.Transaction
	if tx.ID == "" {
		return fmt.Sprintf("%s; received %s", result.Reason, n)
	}
	return fmt.Sprintf("%s; status=%s expected_amount=%s; received %s",
		result.Reason, tx.Status, purchase.FormatAmount(tx.Amount), n)
}

// checkNotification applies the content checks in order. It returns an empty
// outcome when the notification may complete tx.
func checkNotification(tx purchase.Transaction, n Notification) (Outcome, string) {
	if tx.Status != purchase.StatusPending {
		return OutcomeAlreadyComplete, fmt.Sprintf("status = %s", tx.Status)
	}
	if n.PaymentStatus != PaymentCompleted {
		return OutcomeMismatch, fmt.Sprintf("payment status = %q", n.PaymentStatus)
	}
	if expected := purchase.FormatAmount(tx.Amount); n.Gross != expected {
		return OutcomeMismatch, fmt.Sprintf("gross = %q, expected %q", n.Gross, expected)
	}
	if n.Currency != purchase.Currency {
		return OutcomeMismatch, fmt.Sprintf("currency = %q", n.Currency)
	}
	return "", ""
}

func (r *Reconciler) finish(result Result, stage, providerTxnID, request, detail string) Result {
	r.journal.Add(audit.Entry{
		Stage:         stage,
		Outcome:       string(result.Outcome),
		TransactionID: result.Transaction.ID,
		ProviderTxnID: providerTxnID,
		Request:       request,
		Detail:        detail,
	})
	metrics.RecordNotification(string(result.Outcome))
	return result
}

// sendConfirmation mails the buyer after the grant has committed. Failures
// are logged only.
func (r *Reconciler) sendConfirmation(ctx context.Context, result Result) {
	if r.notifier == nil || r.users == nil || result.UserProduct == nil {
		return
	}
	tx := result.Transaction
	profile, err := r.users.GetUser(ctx, tx.UserID)
	if err != nil {
		r.log.WithError(err).Warnf("no profile for user %s; skipping purchase confirmation", tx.UserID)
		return
	}
	address := profile.ContactAddress()
	if address == "" {
		r.log.Warnf("user %s has no email address; skipping purchase confirmation", tx.UserID)
		return
	}

	data := map[string]any{
		"ProductName":   tx.ProductID,
		"TransactionID": tx.ID,
		"ProviderTxnID": tx.ProviderTxnID,
		"Amount":        purchase.FormatAmount(tx.Amount),
		"PurchaseDate":  result.UserProduct.PurchaseDate.Format(time.DateOnly),
		"PIN":           result.UserProduct.PIN,
		"DownloadURL":   "",
	}
	if r.products != nil {
		if prod, err := r.products.Get(ctx, tx.ProductID); err == nil {
			data["ProductName"] = prod.Name
			data["DownloadURL"] = prod.DownloadURL
		}
	}
	if err := r.notifier.Notify(ctx, notify.TemplatePurchaseConfirmation, data, address); err != nil {
		r.log.WithError(err).Warnf("purchase confirmation for transaction %s failed", tx.ID)
	}
}
