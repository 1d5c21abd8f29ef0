// Package runtime turns a configuration into a running storefront process:
// stores, services, background jobs and the HTTP server.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	app "github.com/sailfish-mobile/storefront/internal/app"
	"github.com/sailfish-mobile/storefront/internal/app/audit"
	"github.com/sailfish-mobile/storefront/internal/app/httpapi"
	"github.com/sailfish-mobile/storefront/internal/app/services/notify"
	"github.com/sailfish-mobile/storefront/internal/app/services/purchases"
	"github.com/sailfish-mobile/storefront/internal/app/storage/memory"
	"github.com/sailfish-mobile/storefront/internal/app/storage/rediscache"
	"github.com/sailfish-mobile/storefront/internal/app/storage/sqlstore"
	"github.com/sailfish-mobile/storefront/internal/config"
	"github.com/sailfish-mobile/storefront/internal/middleware"
	"github.com/sailfish-mobile/storefront/internal/platform/migrations"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

const (
	limiterCleanupInterval = time.Minute
	limiterMaxIdle         = 10 * time.Minute
	shutdownTimeout        = 10 * time.Second
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	handler    http.Handler
	httpServer *http.Server
	limiter    *middleware.RateLimiter

	db        *sql.DB
	redis     *redis.Client
	auditSink *audit.ZapSink
}

// NewApplication constructs the process from cfg.
func NewApplication(cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	a := &Application{cfg: cfg, log: log}

	stores, err := a.buildStores(context.Background())
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	var sink audit.Sink
	if cfg.Audit.Path != "" {
		zs, err := audit.NewZapSink(cfg.Audit.Path)
		if err != nil {
			a.closeResources()
			return nil, err
		}
		a.auditSink = zs
		sink = zs
	}

	var transport notify.Transport = notify.NewLogTransport(log)
	if cfg.Mail.RelayURL != "" {
		transport = notify.NewRelayTransport(cfg.Mail.RelayURL, cfg.Mail.APIKey, cfg.Mail.Timeout, log)
	}

	application, err := app.New(stores, app.Options{
		VerifyURL:     cfg.PayPal.VerifyURL(),
		VerifyTimeout: cfg.PayPal.VerifyTimeout,
		Checkout: purchases.CheckoutConfig{
			Endpoint:  cfg.PayPal.VerifyURL(),
			Business:  cfg.PayPal.Business,
			NotifyURL: cfg.PayPal.NotifyURL,
			ReturnURL: cfg.PayPal.ReturnURL,
		},
		MailFrom:             cfg.Mail.From,
		MailTransport:        transport,
		Journal:              audit.NewJournal(cfg.Audit.Capacity, sink),
		StalePendingSchedule: cfg.Jobs.StalePendingSchedule,
		StalePendingAge:      cfg.Jobs.StalePendingAge,
	}, log)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("build application: %w", err)
	}
	a.app = application

	if path := cfg.Catalog.FixturesPath; path != "" {
		if _, err := application.Catalog.LoadFixtures(context.Background(), path); err != nil {
			a.closeResources()
			return nil, err
		}
	}

	if cfg.RateLimit.RequestsPerSecond > 0 {
		// the provider's notifications are never throttled
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, log, "/ipn")
	}

	a.handler = httpapi.NewHandler(application, httpapi.Options{
		CORSOrigins: cfg.Server.CORSOrigins,
		Limiter:     a.limiter,
		AdminToken:  cfg.Server.AdminToken,
	}, log)

	a.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// App exposes the composed services.
func (a *Application) App() *app.Application { return a.app }

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts background services and the HTTP server, and blocks until ctx is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx, limiterCleanupInterval, limiterMaxIdle)
	}

	ln, err := net.Listen("tcp", a.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.httpServer.Addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *Application) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := a.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the HTTP server, then the services, then releases the
// database, cache and audit file.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.auditSink != nil {
		if err := a.auditSink.Close(); err != nil {
			a.log.WithError(err).Warn("error closing audit log")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func (a *Application) buildStores(ctx context.Context) (app.Stores, error) {
	var stores app.Stores
	if a.cfg.Database.UsesSQL() {
		db, err := openDatabase(ctx, a.cfg.Database)
		if err != nil {
			return stores, err
		}
		a.db = db
		if a.cfg.Database.AutoMigrate {
			if err := migrations.Apply(ctx, db, a.cfg.Database.Driver); err != nil {
				return stores, err
			}
		}
		store := sqlstore.New(db, a.cfg.Database.Driver)
		stores = app.Stores{Catalog: store, Purchases: store, Ownership: store, Users: store, Transactor: store}
	} else {
		store := memory.New()
		stores = app.Stores{Catalog: store, Purchases: store, Ownership: store, Users: store, Transactor: store}
	}

	if a.cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		stores.Catalog = rediscache.New(a.redis, stores.Catalog, a.cfg.Redis.CatalogTTL, a.log)
	}
	return stores, nil
}

// OpenDatabase opens and pings the configured SQL database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	return openDatabase(ctx, cfg)
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sqlstore.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}
