// Package memstore defines the Session Store capability interface and the
// wire types shared by its two backends (filestore: YAML file-tree,
// sqlstore: gorm-backed SQL). Both backends must yield identical
// LoadSession output.
package memstore

import (
	"context"
	"time"

	"github.com/nine5427/memengine/internal/domain/memengine"
)

// SessionID is an opaque session identifier, normally a UUID string.
type SessionID string

// SessionManifest is the persisted session descriptor.
type SessionManifest struct {
	ID        SessionID
	CreatedAt time.Time
	UpdatedAt time.Time
	Metadata  map[string]interface{}
	Config    *memengine.Config
}

// SessionStats summarizes a session's counts.
type SessionStats struct {
	MessageCount       int
	SystemMessageCount int
	SummaryCount       int
	CompressionCount   int
}

// SessionData is the full loaded state of one session.
type SessionData struct {
	Manifest       SessionManifest
	SystemMessages []memengine.Message
	Messages       []memengine.Message
	Summaries      []memengine.Summary
	Stats          SessionStats
}

// SessionSummary is one row of ListSessions.
type SessionSummary struct {
	ID                 SessionID
	CreatedAt          time.Time
	UpdatedAt          time.Time
	MessageCount       int
	SystemMessageCount int
	SummaryCount       int
	CompressionCount   int
	Preview            string
}

// Store is the Session Store capability interface. It is backend-neutral:
// callers never know whether they are talking to the file-tree or SQL
// implementation.
type Store interface {
	CreateSession(ctx context.Context, metadata map[string]interface{}, cfg *memengine.Config) (SessionID, error)
	SaveMessage(ctx context.Context, session SessionID, msg memengine.Message, tokens int) error
	SaveMemory(ctx context.Context, session SessionID, systemMessages, messages []memengine.Message, summaries []memengine.Summary) error
	// LoadSession returns (nil, nil) when no session with this ID exists.
	// A non-nil error means the session exists but could not be read back
	// (I/O failure, corrupt payload).
	LoadSession(ctx context.Context, session SessionID) (*SessionData, error)
	ListSessions(ctx context.Context, limit, offset int) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, session SessionID) (bool, error)
	UpdateSessionMetadata(ctx context.Context, session SessionID, metadata map[string]interface{}) (bool, error)
	GetSessionStats(ctx context.Context, session SessionID) (*SessionStats, error)
	FindLatestSession(ctx context.Context) (SessionID, bool, error)
	FindSessionByPrefix(ctx context.Context, prefix string) (SessionID, bool, error)
}

// PreviewFrom truncates the content of the first user message for the
// preview field surfaced by ListSessions.
func PreviewFrom(messages []memengine.Message) string {
	const maxLen = 120
	for _, m := range messages {
		if m.Role != memengine.RoleUser {
			continue
		}
		text := m.TextContentOf()
		if text == "" {
			continue
		}
		if len(text) > maxLen {
			return text[:maxLen] + "..."
		}
		return text
	}
	return ""
}
