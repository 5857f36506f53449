// Package background runs the control plane's periodic maintenance: the
// queue reaper that reclaims expired leases and the keychain auto-renew
// sweep that refreshes credentials before they expire. Both are
// fixed-interval jobs, grounded the way retention/scheduler.go's ticker
// loop runs its own periodic cleanup, but scheduled here through
// robfig/cron's "@every" spec so the two sweeps share one Start/Stop
// lifecycle and one cron.Cron instance instead of two bespoke goroutines.
package background

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/noetl/noetl-sub007/internal/jobqueue"
	"github.com/noetl/noetl-sub007/internal/keychain"
)

const (
	defaultReapInterval   = 30 * time.Second
	defaultRenewInterval  = 5 * time.Minute
	defaultRenewLookahead = 5 * time.Minute
	defaultSweepTimeout   = 30 * time.Second
)

// Sweeper owns the reap and auto-renew cron entries.
type Sweeper struct {
	queue    *jobqueue.Queue
	keychain *keychain.Store
	renewer  *keychain.Resolver
	logger   *slog.Logger

	reapInterval   time.Duration
	renewInterval  time.Duration
	renewLookahead time.Duration

	cron *cron.Cron
}

// Option configures a Sweeper at construction.
type Option func(*Sweeper)

// WithReapInterval overrides the default 30s lease-reclaim cadence.
func WithReapInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.reapInterval = d }
}

// WithRenewInterval overrides the default 5m auto-renew sweep cadence (how
// often DueForRenewal is polled).
func WithRenewInterval(d time.Duration) Option {
	return func(s *Sweeper) { s.renewInterval = d }
}

// WithRenewLookahead overrides the default 5m auto-renew lookahead window
// (how far before expiry an entry becomes due), sourced from
// KeychainConfig.AutoRenewMargin.
func WithRenewLookahead(d time.Duration) Option {
	return func(s *Sweeper) { s.renewLookahead = d }
}

// NewSweeper wires a Sweeper to the queue it reaps and the keychain store
// and resolver it renews through.
func NewSweeper(queue *jobqueue.Queue, store *keychain.Store, renewer *keychain.Resolver, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		queue:          queue,
		keychain:       store,
		renewer:        renewer,
		logger:         logger,
		reapInterval:   defaultReapInterval,
		renewInterval:  defaultRenewInterval,
		renewLookahead: defaultRenewLookahead,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers both sweeps as cron entries and starts the scheduler.
// Cron itself runs its own goroutine; Start returns once entries are
// registered, not once a sweep has run.
func (s *Sweeper) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(everySpec(s.reapInterval), s.runReap); err != nil {
		return fmt.Errorf("background: register reap sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.renewInterval), s.runRenew); err != nil {
		return fmt.Errorf("background: register renew sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("background sweeper started",
		"reap_interval", s.reapInterval, "renew_interval", s.renewInterval)
	return nil
}

// Stop waits for any in-flight sweep to finish, then returns.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("background sweeper stopped")
}

func (s *Sweeper) runReap() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSweepTimeout)
	defer cancel()

	n, err := s.queue.Reap(ctx)
	if err != nil {
		s.logger.Error("queue reap sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("queue reap sweep reclaimed expired leases", "count", n)
	}
}

func (s *Sweeper) runRenew() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSweepTimeout)
	defer cancel()

	due, err := s.keychain.DueForRenewal(ctx, s.renewLookahead)
	if err != nil {
		s.logger.Error("keychain renewal sweep: list due entries failed", "error", err)
		return
	}

	for _, entry := range due {
		if err := s.renewer.Renew(ctx, entry); err != nil {
			s.logger.Error("keychain renewal failed", "error", err, "name", entry.Name, "catalog_id", entry.CatalogID)
			continue
		}
		s.logger.Info("keychain entry renewed", "name", entry.Name, "catalog_id", entry.CatalogID)
	}
}

// everySpec renders a time.Duration as robfig/cron's "@every" spec, which
// accepts any Go duration string directly.
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
