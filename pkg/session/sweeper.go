package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper runs a dedicated periodic sweep of expired sessions. Lazy expiry
// plus the create-time sweep already keep the store correct; the sweeper
// bounds how long expired records linger under low-traffic conditions.
type Sweeper struct {
	store    *Store
	interval time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper that cleans the store every interval.
func NewSweeper(store *Store, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start begins periodic sweeping.
func (sw *Sweeper) Start() error {
	if sw.cron != nil {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", sw.interval)
	if _, err := c.AddFunc(spec, func() {
		if removed := sw.store.CleanupExpired(); removed > 0 {
			sw.logger.Debug().Int("removed", removed).Msg("Periodic sweep removed sessions")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()
	sw.cron = c

	sw.logger.Info().Dur("interval", sw.interval).Msg("Session sweeper started")
	return nil
}

// Stop halts periodic sweeping and waits for an in-flight sweep to finish.
func (sw *Sweeper) Stop() {
	if sw.cron == nil {
		return
	}
	ctx := sw.cron.Stop()
	<-ctx.Done()
	sw.cron = nil

	sw.logger.Info().Msg("Session sweeper stopped")
}
