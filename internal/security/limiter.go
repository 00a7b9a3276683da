// SPDX-License-Identifier: MIT

package security

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/darkcode/darkcode-server/internal/log"
	"github.com/darkcode/darkcode-server/internal/metrics"
	"github.com/darkcode/darkcode-server/internal/persistence/sqlite"
)

// Identifier types used for failure tracking and blocking.
const (
	IdentifierIP     = "ip"
	IdentifierDevice = "device"
)

// LimiterConfig tunes connection rate limiting and auto-blocking.
type LimiterConfig struct {
	// PerIdentifierRPS is the sustained connection-attempt rate allowed
	// per IP or device.
	PerIdentifierRPS float64
	// PerIdentifierBurst is the burst size per identifier.
	PerIdentifierBurst int
	// MaxFailures is the number of auth failures inside FailureWindow
	// after which an identifier is blocked.
	MaxFailures int
	// FailureWindow bounds how far back failures count toward a block.
	FailureWindow time.Duration
	// CleanupInterval controls how often idle rate limiter entries are
	// dropped.
	CleanupInterval time.Duration
}

// DefaultLimiterConfig returns conservative defaults for a single-user
// server.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		PerIdentifierRPS:   2,
		PerIdentifierBurst: 5,
		MaxFailures:        5,
		FailureWindow:      15 * time.Minute,
		CleanupInterval:    10 * time.Minute,
	}
}

// BlockedIdentifier is one entry on the persistent block list.
type BlockedIdentifier struct {
	Identifier     string
	IdentifierType string
	Reason         string
	BlockedAt      time.Time
}

// Limiter rate-limits connection attempts per identifier and persists
// auth failures and blocks in security.db so blocks survive restarts.
type Limiter struct {
	config LimiterConfig
	db     *sql.DB
	logger zerolog.Logger

	mu          sync.RWMutex
	buckets     map[string]*rate.Limiter
	lastCleanup time.Time

	now func() time.Time
}

// NewLimiter opens (and if needed creates) the security database.
func NewLimiter(dbPath string, config LimiterConfig) (*Limiter, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS auth_failures (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identifier TEXT NOT NULL,
			identifier_type TEXT NOT NULL,
			occurred_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_failures_identifier
			ON auth_failures(identifier, occurred_at);
		CREATE TABLE IF NOT EXISTS blocked_identifiers (
			identifier TEXT PRIMARY KEY,
			identifier_type TEXT NOT NULL,
			reason TEXT NOT NULL,
			blocked_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create security tables: %w", err)
	}

	l := &Limiter{
		config:      config,
		db:          db,
		logger:      log.WithComponent("security"),
		buckets:     make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
		now:         time.Now,
	}
	l.refreshBlockedGauge(context.Background())
	return l, nil
}

// Close releases the underlying database.
func (l *Limiter) Close() error {
	return l.db.Close()
}

// Allow reports whether a connection attempt from the identifier may
// proceed under the token bucket. Blocks are checked separately via
// IsBlocked so callers can distinguish "slow down" from "banned".
func (l *Limiter) Allow(identifier, identifierType string) bool {
	if !l.bucket(identifier).Allow() {
		metrics.IncRateLimitExceeded(identifierType)
		l.logger.Warn().
			Str("event", "security.rate_limited").
			Str("identifier", identifier).
			Str("identifier_type", identifierType).
			Msg("connection attempt rate limited")
		return false
	}
	return true
}

func (l *Limiter) bucket(identifier string) *rate.Limiter {
	l.mu.RLock()
	b, ok := l.buckets[identifier]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[identifier]; ok {
		return b
	}
	l.maybeCleanupLocked()
	b = rate.NewLimiter(rate.Limit(l.config.PerIdentifierRPS), l.config.PerIdentifierBurst)
	l.buckets[identifier] = b
	return b
}

// maybeCleanupLocked drops the bucket map once per CleanupInterval so
// one-off identifiers do not accumulate. Callers hold l.mu.
func (l *Limiter) maybeCleanupLocked() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.buckets = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}

// RecordFailure stores one auth failure and blocks the identifier when
// the failure count within the window reaches the threshold. It reports
// whether the identifier is now blocked.
func (l *Limiter) RecordFailure(ctx context.Context, identifier, identifierType string) (bool, error) {
	now := l.now()
	cutoff := now.Add(-l.config.FailureWindow).Unix()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin failure record: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO auth_failures (identifier, identifier_type, occurred_at)
		VALUES (?, ?, ?)
	`, identifier, identifierType, now.Unix()); err != nil {
		return false, fmt.Errorf("insert auth failure: %w", err)
	}

	// Old failures are pruned inline; the table never grows past the
	// window per identifier.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM auth_failures WHERE identifier = ? AND occurred_at < ?
	`, identifier, cutoff); err != nil {
		return false, fmt.Errorf("prune auth failures: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM auth_failures WHERE identifier = ? AND occurred_at >= ?
	`, identifier, cutoff).Scan(&count); err != nil {
		return false, fmt.Errorf("count auth failures: %w", err)
	}

	blocked := count >= l.config.MaxFailures
	if blocked {
		reason := fmt.Sprintf("%d auth failures within %s", count, l.config.FailureWindow)
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO blocked_identifiers (identifier, identifier_type, reason, blocked_at)
			VALUES (?, ?, ?, ?)
		`, identifier, identifierType, reason, now.Unix()); err != nil {
			return false, fmt.Errorf("insert block: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit failure record: %w", err)
	}

	if blocked {
		l.logger.Warn().
			Str("event", "security.identifier_blocked").
			Str("identifier", identifier).
			Str("identifier_type", identifierType).
			Int("failures", count).
			Msg("identifier blocked after repeated auth failures")
		l.refreshBlockedGauge(ctx)
	}
	return blocked, nil
}

// IsBlocked reports whether the identifier is on the block list.
func (l *Limiter) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	var one int
	err := l.db.QueryRowContext(ctx,
		`SELECT 1 FROM blocked_identifiers WHERE identifier = ?`, identifier).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query block list: %w", err)
	}
	return true, nil
}

// Blocked returns the block list, newest first.
func (l *Limiter) Blocked(ctx context.Context) ([]BlockedIdentifier, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT identifier, identifier_type, reason, blocked_at
		FROM blocked_identifiers
		ORDER BY blocked_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list blocked identifiers: %w", err)
	}
	defer rows.Close()

	var out []BlockedIdentifier
	for rows.Next() {
		var (
			b    BlockedIdentifier
			unix int64
		)
		if err := rows.Scan(&b.Identifier, &b.IdentifierType, &b.Reason, &unix); err != nil {
			return nil, err
		}
		b.BlockedAt = time.Unix(unix, 0)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Block adds an identifier to the block list manually.
func (l *Limiter) Block(ctx context.Context, identifier, identifierType, reason string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO blocked_identifiers (identifier, identifier_type, reason, blocked_at)
		VALUES (?, ?, ?, ?)
	`, identifier, identifierType, reason, l.now().Unix())
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	l.refreshBlockedGauge(ctx)
	return nil
}

// Unblock removes an identifier from the block list and clears its
// failure history. Returns false when the identifier was not blocked.
func (l *Limiter) Unblock(ctx context.Context, identifier string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM blocked_identifiers WHERE identifier = ?`, identifier)
	if err != nil {
		return false, fmt.Errorf("delete block: %w", err)
	}
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM auth_failures WHERE identifier = ?`, identifier); err != nil {
		return false, fmt.Errorf("clear failures: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		l.logger.Info().
			Str("event", "security.identifier_unblocked").
			Str("identifier", identifier).
			Msg("identifier removed from block list")
		l.refreshBlockedGauge(ctx)
	}
	return n > 0, nil
}

func (l *Limiter) refreshBlockedGauge(ctx context.Context) {
	counts := map[string]int{IdentifierIP: 0, IdentifierDevice: 0}
	rows, err := l.db.QueryContext(ctx, `
		SELECT identifier_type, COUNT(*) FROM blocked_identifiers GROUP BY identifier_type
	`)
	if err != nil {
		return
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return
		}
		counts[typ] = n
	}
	for typ, n := range counts {
		metrics.SetBlockedIdentifiers(typ, n)
	}
}

// GetClientIP extracts the client IP, preferring forwarding headers set
// by a reverse proxy over the socket peer address.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
