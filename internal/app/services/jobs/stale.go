// Package jobs hosts scheduled maintenance work that runs alongside the HTTP
// front end.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sailfish-mobile/storefront/internal/app/domain/purchase"
	"github.com/sailfish-mobile/storefront/internal/app/metrics"
	"github.com/sailfish-mobile/storefront/internal/app/system"
	"github.com/sailfish-mobile/storefront/pkg/logger"
)

const (
	DefaultStaleSchedule = "@every 15m"
	DefaultStaleAge      = 24 * time.Hour
)

// StaleLister lists pending transactions older than a given age.
type StaleLister interface {
	ListStale(ctx context.Context, olderThan time.Duration) ([]purchase.Transaction, error)
}

// StaleReport periodically counts purchase attempts the provider never
// confirmed. Pending transactions are kept as they are; the report only
// publishes the count.
type StaleReport struct {
	lister   StaleLister
	schedule string
	age      time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	last    int
}

var _ system.Service = (*StaleReport)(nil)

// NewStaleReport creates the report. An empty schedule or non-positive age
// selects the defaults.
func NewStaleReport(lister StaleLister, schedule string, age time.Duration, log *logger.Logger) (*StaleReport, error) {
	if log == nil {
		log = logger.NewDefault("stale-pending")
	}
	if schedule == "" {
		schedule = DefaultStaleSchedule
	}
	if age <= 0 {
		age = DefaultStaleAge
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid stale pending schedule %q: %w", schedule, err)
	}
	return &StaleReport{lister: lister, schedule: schedule, age: age, log: log, last: -1}, nil
}

func (r *StaleReport) Name() string { return "stale-pending-report" }

func (r *StaleReport) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(r.schedule, func() {
		// Scheduled runs outlive the Start context.
		if _, err := r.Run(context.Background()); err != nil {
			r.log.WithError(err).Warn("stale pending report failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule stale pending report: %w", err)
	}
	c.Start()
	r.cron = c
	r.running = true

	r.log.Infof("stale pending report scheduled (%s, age %s)", r.schedule, r.age)
	return nil
}

func (r *StaleReport) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	c := r.cron
	r.cron = nil
	r.running = false
	r.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Run performs one count, publishes it and returns it.
func (r *StaleReport) Run(ctx context.Context) (int, error) {
	stale, err := r.lister.ListStale(ctx, r.age)
	if err != nil {
		return 0, fmt.Errorf("list stale pending transactions: %w", err)
	}
	count := len(stale)
	metrics.SetStalePending(count)

	r.mu.Lock()
	changed := count != r.last
	r.last = count
	r.mu.Unlock()

	if count > 0 && changed {
		r.log.Warnf("%d pending transactions older than %s (oldest %s)", count, r.age, oldest(stale).ID)
	}
	return count, nil
}

func oldest(txs []purchase.Transaction) purchase.Transaction {
	out := txs[0]
	for _, tx := range txs[1:] {
		if tx.CreatedAt.Before(out.CreatedAt) {
			out = tx
		}
	}
	return out
}
