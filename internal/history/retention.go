package history

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkcode/darkcode-server/internal/log"
)

// Retention deletes conversations older than the configured age on a
// fixed interval. A retention of zero days disables sweeping entirely,
// matching the "keep forever" setting.
type Retention struct {
	store    *Store
	maxAge   time.Duration
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRetention builds a sweeper for the given store. retentionDays <= 0
// means conversations are kept forever.
func NewRetention(store *Store, retentionDays int) *Retention {
	return &Retention{
		store:    store,
		maxAge:   time.Duration(retentionDays) * 24 * time.Hour,
		interval: time.Hour,
		logger:   log.WithComponent("history"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. It returns immediately; when retention
// is disabled no goroutine is started.
func (r *Retention) Start() {
	if r.maxAge <= 0 {
		close(r.doneCh)
		return
	}
	go r.loop()
}

// Stop halts the sweep loop and waits for it to exit.
func (r *Retention) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Retention) loop() {
	defer close(r.doneCh)

	// Sweep once at startup so a long-stopped server catches up
	// without waiting a full interval.
	r.sweep()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Retention) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-r.maxAge)
	deleted, err := r.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("event", "history.retention_failed").
			Msg("retention sweep failed")
		return
	}
	if deleted > 0 {
		r.logger.Info().
			Str("event", "history.retention_sweep").
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("pruned old conversations")
	}
}
