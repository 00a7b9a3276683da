package history

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/renameio/v2"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// ExportMarkdown writes a conversation as a Markdown transcript into dir
// and returns the file path. The filename combines the device name slug
// with the session ID so exports from different devices never collide.
func (s *Store) ExportMarkdown(ctx context.Context, sessionID, dir string) (string, error) {
	conv, err := s.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating export directory")
	}

	name := fmt.Sprintf("%s-%s.md", slugify(conv.DeviceName), shortID(conv.SessionID))
	path := filepath.Join(dir, name)

	if err := renameio.WriteFile(path, []byte(renderMarkdown(conv)), 0o644); err != nil {
		return "", errors.Wrap(err, "writing export file")
	}
	return path, nil
}

func renderMarkdown(conv *Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n\n", shortID(conv.SessionID))
	if conv.DeviceName != "" {
		fmt.Fprintf(&b, "- Device: %s\n", conv.DeviceName)
	}
	fmt.Fprintf(&b, "- Started: %s\n", formatMicro(conv.CreationTimestamp))
	fmt.Fprintf(&b, "- Updated: %s\n", formatMicro(conv.UpdateTimestamp))
	fmt.Fprintf(&b, "- Messages: %d\n", len(conv.Messages))

	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "\n## %s — %s\n\n", roleHeading(msg.Role), formatMicro(msg.Timestamp))
		b.WriteString(strings.TrimRight(msg.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

func roleHeading(role string) string {
	switch role {
	case RoleUser:
		return "User"
	case RoleAgent:
		return "Agent"
	case RoleSystem:
		return "System"
	default:
		return role
	}
}

func formatMicro(ts int64) string {
	return time.UnixMicro(ts).UTC().Format("2006-01-02 15:04:05 UTC")
}

func shortID(sessionID string) string {
	if len(sessionID) > 8 {
		return sessionID[:8]
	}
	return sessionID
}

// slugify converts a device name into a filesystem-safe slug. Names
// arrive from phones and may carry arbitrary Unicode, so the string is
// NFC-normalized before filtering.
func slugify(name string) string {
	if name == "" {
		return "session"
	}

	s := strings.ToLower(norm.NFC.String(name))

	var result strings.Builder
	lastWasDash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || unicode.IsDigit(r) {
			result.WriteRune(r)
			lastWasDash = false
		} else if !lastWasDash {
			result.WriteRune('-')
			lastWasDash = true
		}
	}

	slug := strings.Trim(result.String(), "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-")
	}
	if slug == "" {
		return "session"
	}
	return slug
}
