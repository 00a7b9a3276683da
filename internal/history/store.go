// Package history persists per-session conversation transcripts.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/darkcode/darkcode-server/internal/persistence/sqlite"
)

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// Message is one entry in a conversation transcript.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix microseconds
}

// Conversation holds the transcript of one session.
type Conversation struct {
	// SessionID of the session this conversation belongs to.
	SessionID string
	// DeviceName of the client that drove the session.
	DeviceName string
	// Time at which the conversation was created.
	CreationTimestamp int64
	// Time at which the conversation was last written.
	UpdateTimestamp int64
	// The messages of this conversation.
	Messages []*Message
}

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation does not exist")

// Store implements a SQLite store for conversations.
type Store struct {
	db *sql.DB
}

// New opens the history store, creating the schema on first use.
func New(dbPath string) (*Store, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, errors.Wrap(err, "opening history database")
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			device_name TEXT NOT NULL DEFAULT '',
			creation_timestamp INTEGER NOT NULL,
			update_timestamp INTEGER NOT NULL,
			messages TEXT NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating conversations table")
	}

	return &Store{db: db}, nil
}

// Append adds a message to a session's conversation, creating the
// conversation on first write.
func (s *Store) Append(ctx context.Context, sessionID, deviceName string, msg *Message) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMicro()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning append")
	}
	defer func() { _ = tx.Rollback() }()

	conv := &Conversation{SessionID: sessionID, DeviceName: deviceName}
	var messagesJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT device_name, creation_timestamp, messages
		FROM conversations WHERE session_id = ?
	`, sessionID).Scan(&conv.DeviceName, &conv.CreationTimestamp, &messagesJSON)
	switch {
	case err == sql.ErrNoRows:
		conv.CreationTimestamp = time.Now().UnixMicro()
		conv.DeviceName = deviceName
	case err != nil:
		return errors.Wrap(err, "querying conversation")
	default:
		if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
			return errors.Wrap(err, "unmarshaling messages")
		}
		if deviceName != "" {
			conv.DeviceName = deviceName
		}
	}

	conv.Messages = append(conv.Messages, msg)
	conv.UpdateTimestamp = time.Now().UnixMicro()

	raw, err := json.Marshal(conv.Messages)
	if err != nil {
		return errors.Wrap(err, "marshaling messages")
	}

	// REPLACE INTO handles both the first write and every update.
	_, err = tx.ExecContext(ctx, `
		REPLACE INTO conversations (session_id, device_name, creation_timestamp, update_timestamp, messages)
		VALUES (?, ?, ?, ?, ?)
	`, conv.SessionID, conv.DeviceName, conv.CreationTimestamp, conv.UpdateTimestamp, string(raw))
	if err != nil {
		return errors.Wrap(err, "writing conversation")
	}

	return errors.Wrap(tx.Commit(), "committing append")
}

// Get returns one conversation.
func (s *Store) Get(ctx context.Context, sessionID string) (*Conversation, error) {
	conv := &Conversation{}
	var messagesJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, device_name, creation_timestamp, update_timestamp, messages
		FROM conversations WHERE session_id = ?
	`, sessionID).Scan(&conv.SessionID, &conv.DeviceName, &conv.CreationTimestamp, &conv.UpdateTimestamp, &messagesJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "querying conversation")
	}

	if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
		return nil, errors.Wrap(err, "unmarshaling messages")
	}
	return conv, nil
}

// List returns conversations ordered by most recent update.
func (s *Store) List(ctx context.Context, pageSize int) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, device_name, creation_timestamp, update_timestamp, messages
		FROM conversations
		ORDER BY update_timestamp DESC
		LIMIT ?
	`, pageSize)
	if err != nil {
		return nil, errors.Wrap(err, "querying conversations")
	}
	defer rows.Close()

	return scanConversations(rows)
}

// Search returns conversations whose transcript or device name contains
// the term as a literal substring, most recently updated first. An empty
// term matches nothing.
func (s *Store) Search(ctx context.Context, term string, limit int) ([]*Conversation, error) {
	if term == "" {
		return nil, nil
	}

	pattern := "%" + escapeLike(term) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, device_name, creation_timestamp, update_timestamp, messages
		FROM conversations
		WHERE messages LIKE ? ESCAPE '\' OR device_name LIKE ? ESCAPE '\'
		ORDER BY update_timestamp DESC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, errors.Wrap(err, "searching conversations")
	}
	defer rows.Close()

	return scanConversations(rows)
}

func scanConversations(rows *sql.Rows) ([]*Conversation, error) {
	var out []*Conversation
	for rows.Next() {
		conv := &Conversation{}
		var messagesJSON string
		if err := rows.Scan(&conv.SessionID, &conv.DeviceName, &conv.CreationTimestamp, &conv.UpdateTimestamp, &messagesJSON); err != nil {
			return nil, errors.Wrap(err, "scanning conversation row")
		}
		if err := json.Unmarshal([]byte(messagesJSON), &conv.Messages); err != nil {
			return nil, errors.Wrap(err, "unmarshaling messages")
		}
		out = append(out, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating conversation rows")
	}
	return out, nil
}

// escapeLike backslash-escapes LIKE wildcards so the term matches literally.
func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

// Delete removes one conversation. Returns false when it did not exist.
func (s *Store) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, errors.Wrap(err, "deleting conversation")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PruneOlderThan deletes conversations whose last update is before the
// cutoff and returns the number removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE update_timestamp < ?`, cutoff.UnixMicro())
	if err != nil {
		return 0, errors.Wrap(err, "pruning conversations")
	}
	return res.RowsAffected()
}

// Ping verifies the database is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
