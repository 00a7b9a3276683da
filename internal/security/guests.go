// Package security manages guest access codes, auth-failure tracking, and
// the persistent block list.
package security

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/darkcode/darkcode-server/internal/auth"
	"github.com/darkcode/darkcode-server/internal/config"
	"github.com/darkcode/darkcode-server/internal/persistence/sqlite"
)

// Guest code statuses derived from the stored row.
const (
	StatusActive    = "active"
	StatusRevoked   = "revoked"
	StatusExpired   = "expired"
	StatusExhausted = "exhausted"
)

// codeAlphabet omits ambiguous characters (I, O, 0, 1) since codes are read
// aloud or typed from a screen.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GuestCode is one guest access entry.
type GuestCode struct {
	Code            string
	Name            string
	PermissionLevel string // config.PermissionReadOnly or config.PermissionFull
	CreatedAt       time.Time
	ExpiresAt       time.Time // zero = never expires
	MaxUses         int       // 0 = unlimited
	UseCount        int
	Revoked         bool
}

// Status derives the display status from the row state.
func (g GuestCode) Status() string {
	switch {
	case g.Revoked:
		return StatusRevoked
	case !g.ExpiresAt.IsZero() && time.Now().After(g.ExpiresAt):
		return StatusExpired
	case g.MaxUses > 0 && g.UseCount >= g.MaxUses:
		return StatusExhausted
	default:
		return StatusActive
	}
}

// GuestManager stores guest access codes in guests.db.
type GuestManager struct {
	db  *sql.DB
	now func() time.Time
}

// NewGuestManager opens (and if needed creates) the guest database.
func NewGuestManager(dbPath string) (*GuestManager, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS guest_codes (
			code TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			permission_level TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0,
			max_uses INTEGER NOT NULL DEFAULT 0,
			use_count INTEGER NOT NULL DEFAULT 0,
			revoked INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create guest_codes table: %w", err)
	}

	return &GuestManager{db: db, now: time.Now}, nil
}

// Close releases the underlying database.
func (m *GuestManager) Close() error {
	return m.db.Close()
}

// CreateCode mints a new guest code. expiresHours 0 means no expiry,
// maxUses 0 means unlimited.
func (m *GuestManager) CreateCode(ctx context.Context, name, permissionLevel string, expiresHours, maxUses int) (GuestCode, error) {
	var g GuestCode

	switch permissionLevel {
	case config.PermissionReadOnly, config.PermissionFull:
	default:
		return g, fmt.Errorf("unknown permission level %q", permissionLevel)
	}
	if name == "" {
		return g, fmt.Errorf("guest name must not be empty")
	}

	code, err := generateCode()
	if err != nil {
		return g, err
	}

	now := m.now()
	g = GuestCode{
		Code:            code,
		Name:            name,
		PermissionLevel: permissionLevel,
		CreatedAt:       now,
	}
	if expiresHours > 0 {
		g.ExpiresAt = now.Add(time.Duration(expiresHours) * time.Hour)
	}
	if maxUses > 0 {
		g.MaxUses = maxUses
	}

	var expiresUnix int64
	if !g.ExpiresAt.IsZero() {
		expiresUnix = g.ExpiresAt.Unix()
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO guest_codes (code, name, permission_level, created_at, expires_at, max_uses)
		VALUES (?, ?, ?, ?, ?, ?)
	`, g.Code, g.Name, g.PermissionLevel, g.CreatedAt.Unix(), expiresUnix, g.MaxUses)
	if err != nil {
		return GuestCode{}, fmt.Errorf("insert guest code: %w", err)
	}

	return g, nil
}

// ListCodes returns all codes, newest first.
func (m *GuestManager) ListCodes(ctx context.Context) ([]GuestCode, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT code, name, permission_level, created_at, expires_at, max_uses, use_count, revoked
		FROM guest_codes
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list guest codes: %w", err)
	}
	defer rows.Close()

	var out []GuestCode
	for rows.Next() {
		g, err := scanGuestCode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// RevokeCode marks a code revoked. Returns false when the code does not
// exist.
func (m *GuestManager) RevokeCode(ctx context.Context, code string) (bool, error) {
	res, err := m.db.ExecContext(ctx,
		`UPDATE guest_codes SET revoked = 1 WHERE code = ?`, normalizeCode(code))
	if err != nil {
		return false, fmt.Errorf("revoke guest code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Validate checks a presented code and, when valid, consumes one use.
// The use counter is incremented in the same transaction as the check so
// two concurrent validations cannot both take the last use.
func (m *GuestManager) Validate(ctx context.Context, code string) (GuestCode, error) {
	var g GuestCode
	code = normalizeCode(code)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return g, fmt.Errorf("begin guest validation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT code, name, permission_level, created_at, expires_at, max_uses, use_count, revoked
		FROM guest_codes WHERE code = ?
	`, code)
	g, err = scanGuestCode(row)
	if err == sql.ErrNoRows {
		return GuestCode{}, ErrGuestCodeInvalid
	}
	if err != nil {
		return GuestCode{}, err
	}

	switch g.Status() {
	case StatusRevoked:
		return GuestCode{}, ErrGuestCodeRevoked
	case StatusExpired:
		return GuestCode{}, ErrGuestCodeExpired
	case StatusExhausted:
		return GuestCode{}, ErrGuestCodeExhausted
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE guest_codes SET use_count = use_count + 1 WHERE code = ?`, g.Code); err != nil {
		return GuestCode{}, fmt.Errorf("consume guest use: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return GuestCode{}, fmt.Errorf("commit guest validation: %w", err)
	}

	g.UseCount++
	return g, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuestCode(row rowScanner) (GuestCode, error) {
	var (
		g           GuestCode
		createdUnix int64
		expiresUnix int64
		revoked     int
	)
	err := row.Scan(&g.Code, &g.Name, &g.PermissionLevel, &createdUnix, &expiresUnix, &g.MaxUses, &g.UseCount, &revoked)
	if err != nil {
		return g, err
	}
	g.CreatedAt = time.Unix(createdUnix, 0)
	if expiresUnix > 0 {
		g.ExpiresAt = time.Unix(expiresUnix, 0)
	}
	g.Revoked = revoked != 0
	return g, nil
}

// normalizeCode maps user input to the stored form: uppercase, with the
// GUEST- prefix present.
func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !strings.HasPrefix(code, auth.GuestCodePrefix) {
		code = auth.GuestCodePrefix + code
	}
	return code
}

func generateCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guest code: %w", err)
	}
	var b strings.Builder
	b.WriteString(auth.GuestCodePrefix)
	for _, c := range buf {
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return b.String(), nil
}
