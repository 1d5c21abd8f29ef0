package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sailfish-mobile/storefront/internal/app/audit"
	"github.com/sailfish-mobile/storefront/internal/app/services/activation"
	"github.com/sailfish-mobile/storefront/internal/app/services/catalog"
	"github.com/sailfish-mobile/storefront/internal/app/services/ipn"
	"github.com/sailfish-mobile/storefront/internal/app/services/jobs"
	"github.com/sailfish-mobile/storefront/internal/app/services/notify"
	"github.com/sailfish-mobile/storefront/internal/app/services/ownership"
	"github.com/sailfish-mobile/storefront/internal/app/services/purchases"
	"github.com/sailfish-mobile/storefront/internal/app/services/users"
	"github.com/sailfish-mobile/storefront/internal/app/storage"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
	"github.com/sailfish-mobile/storefront/internal/app/system"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to one
// shared in-memory store. Purchases, Ownership and Transactor must be backed
// by the same database for owner scopes to be atomic.
type Stores struct {
	Catalog    storage.CatalogStore
	Purchases  storage.PurchaseStore
	Ownership  storage.OwnershipStore
	Users      storage.UserStore
	Transactor storage.Transactor
}

// Options carries the non-storage settings.
type Options struct {
	// VerifyURL is the provider validation endpoint, sandbox or production.
	VerifyURL     string
	VerifyTimeout time.Duration
	// Verifier replaces the PayPal verifier, mostly for tests.
	Verifier ipn.Verifier

	Checkout purchases.CheckoutConfig

	// Notifier replaces the mailer built from MailFrom and MailTransport.
	Notifier      notify.Notifier
	MailFrom      string
	MailTransport notify.Transport

	Journal *audit.Journal

	StalePendingSchedule string
	StalePendingAge      time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Catalog    *catalog.Service
	Purchases  *purchases.Service
	Ownership  *ownership.Service
	Activation *activation.Service
	Users      *users.Service
	Reconciler *ipn.Reconciler
	Journal    *audit.Journal
	Stale      *jobs.StaleReport
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Catalog == nil {
		stores.Catalog = mem
	}
	if stores.Purchases == nil {
		stores.Purchases = mem
	}
	if stores.Ownership == nil {
		stores.Ownership = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Transactor == nil {
		stores.Transactor = mem
	}

	catalogService := catalog.New(stores.Catalog, log)
	ownershipService := ownership.New(stores.Ownership, log)
	purchaseService := purchases.New(stores.Purchases, catalogService, opts.Checkout, log)
	activationService := activation.New(ownershipService, catalogService, log)
	userService := users.New(stores.Users, log)

	verifier := opts.Verifier
	if verifier == nil {
		if opts.VerifyURL == "" {
			return nil, fmt.Errorf("provider verification url is required")
		}
		verifier = ipn.NewPayPalVerifier(opts.VerifyURL, opts.VerifyTimeout, log)
	}
	reconciler := ipn.NewReconciler(verifier, stores.Purchases, stores.Transactor, ownershipService, log)

	notifier := opts.Notifier
	if notifier == nil {
		mailer, err := notify.NewMailer(opts.MailFrom, opts.MailTransport, log)
		if err != nil {
			return nil, fmt.Errorf("configure mailer: %w", err)
		}
		notifier = mailer
	}
	reconciler.AttachNotifier(notifier, stores.Users, catalogService)

	journal := opts.Journal
	if journal == nil {
		journal = audit.NewJournal(0, nil)
	}
	reconciler.AttachJournal(journal)

	stale, err := jobs.NewStaleReport(purchaseService, opts.StalePendingSchedule, opts.StalePendingAge, log)
	if err != nil {
		return nil, err
	}

	manager := system.NewManager()
	for _, name := range []string{"catalog", "purchases", "ownership", "ipn"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(stale); err != nil {
		return nil, fmt.Errorf("register %s: %w", stale.Name(), err)
	}

	return &Application{
		manager:    manager,
		log:        log,
		Catalog:    catalogService,
		Purchases:  purchaseService,
		Ownership:  ownershipService,
		Activation: activationService,
		Users:      userService,
		Reconciler: reconciler,
		Journal:    journal,
		Stale:      stale,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered lifecycle services.
func (a *Application) Services() []string {
	return a.manager.Names()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
