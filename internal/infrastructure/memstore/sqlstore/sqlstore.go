// Package sqlstore implements memstore.Store on top of gorm, supporting
// sqlite and postgres dialects.
package sqlstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nine5427/memengine/internal/domain/memengine"
	"github.com/nine5427/memengine/internal/infrastructure/memstore"
	"github.com/nine5427/memengine/pkg/errors"
)

// Store is a gorm-backed memstore.Store.
type Store struct {
	db *gorm.DB
}

// New opens a connection for the given dialect ("sqlite" or "postgres") and
// DSN, then runs auto-migration for the session/message/summary tables.
func New(dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.NewPersistenceFailedError("connect to database", err)
	}

	if err := db.AutoMigrate(&SessionModel{}, &MessageModel{}, &SummaryModel{}); err != nil {
		return nil, errors.NewPersistenceFailedError("migrate database", err)
	}

	return &Store{db: db}, nil
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, metadata map[string]interface{}, cfg *memengine.Config) (memstore.SessionID, error) {
	id := memstore.SessionID(uuid.New().String())
	now := time.Now().UTC()

	row := SessionModel{
		ID:        string(id),
		Metadata:  marshalJSON(metadata),
		Config:    marshalJSON(cfg),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", errors.NewPersistenceFailedError("create session row", err)
	}
	return id, nil
}

func (s *Store) sessionRow(ctx context.Context, id memstore.SessionID) (*SessionModel, error) {
	var row SessionModel
	if err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error; err != nil {
		return nil, errors.NewSessionNotFoundError(fmt.Sprintf("session %s not found", id))
	}
	return &row, nil
}

// findSessionRow returns (nil, nil) when no session with this ID exists,
// distinguishing absence from a real query failure.
func (s *Store) findSessionRow(ctx context.Context, id memstore.SessionID) (*SessionModel, error) {
	var row SessionModel
	err := s.db.WithContext(ctx).First(&row, "id = ?", string(id)).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.NewPersistenceFailedError("query session", err)
	}
	return &row, nil
}

// SaveMessage inserts one message row keyed by its role.
func (s *Store) SaveMessage(ctx context.Context, session memstore.SessionID, msg memengine.Message, tokens int) error {
	if _, err := s.sessionRow(ctx, session); err != nil {
		return err
	}

	kind := "conversation"
	if msg.Role == memengine.RoleSystem {
		kind = "system"
	}

	payload := marshalJSON(memstore.ToWireMessage(msg))
	row := MessageModel{
		SessionID: string(session),
		Kind:      kind,
		Payload:   payload,
		Tokens:    tokens,
		Timestamp: msg.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.NewPersistenceFailedError("insert message row", err)
	}
	return s.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", string(session)).
		Update("updated_at", time.Now().UTC()).Error
}

// SaveMemory replaces all message and summary rows for a session.
func (s *Store) SaveMemory(ctx context.Context, session memstore.SessionID, systemMessages, messages []memengine.Message, summaries []memengine.Summary) error {
	if _, err := s.sessionRow(ctx, session); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", string(session)).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", string(session)).Delete(&SummaryModel{}).Error; err != nil {
			return err
		}

		for _, m := range systemMessages {
			row := MessageModel{SessionID: string(session), Kind: "system", Payload: marshalJSON(memstore.ToWireMessage(m)), Timestamp: m.Timestamp}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, m := range messages {
			row := MessageModel{SessionID: string(session), Kind: "conversation", Payload: marshalJSON(memstore.ToWireMessage(m)), Timestamp: m.Timestamp}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		for _, sm := range summaries {
			row := SummaryModel{SessionID: string(session), Payload: marshalJSON(memstore.ToWireSummary(sm)), CreatedAt: sm.CreatedAt}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		return tx.Model(&SessionModel{}).Where("id = ?", string(session)).Update("updated_at", time.Now().UTC()).Error
	})
}

// LoadSession reads back the full session state. It returns (nil, nil) if
// no session with this ID exists; a non-nil error means the session row
// exists but could not be read back.
func (s *Store) LoadSession(ctx context.Context, session memstore.SessionID) (*memstore.SessionData, error) {
	row, err := s.findSessionRow(ctx, session)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	var msgRows []MessageModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", string(session)).Order("timestamp asc, id asc").Find(&msgRows).Error; err != nil {
		return nil, errors.NewPersistenceFailedError("query messages", err)
	}

	var systemMessages, messages []memengine.Message
	for _, r := range msgRows {
		var wm memstore.WireMessage
		if err := json.Unmarshal([]byte(r.Payload), &wm); err != nil {
			return nil, errors.NewPersistenceFailedError("decode message payload", err)
		}
		m, err := memstore.FromWireMessage(wm)
		if err != nil {
			return nil, errors.NewPersistenceFailedError("decode message", err)
		}
		if r.Kind == "system" {
			systemMessages = append(systemMessages, m)
		} else {
			messages = append(messages, m)
		}
	}

	var sumRows []SummaryModel
	if err := s.db.WithContext(ctx).Where("session_id = ?", string(session)).Order("created_at asc, id asc").Find(&sumRows).Error; err != nil {
		return nil, errors.NewPersistenceFailedError("query summaries", err)
	}
	summaries := make([]memengine.Summary, 0, len(sumRows))
	for _, r := range sumRows {
		var ws memstore.WireSummary
		if err := json.Unmarshal([]byte(r.Payload), &ws); err != nil {
			return nil, errors.NewPersistenceFailedError("decode summary payload", err)
		}
		sm, err := memstore.FromWireSummary(ws)
		if err != nil {
			return nil, errors.NewPersistenceFailedError("decode summary", err)
		}
		summaries = append(summaries, sm)
	}

	var metadata map[string]interface{}
	_ = json.Unmarshal([]byte(row.Metadata), &metadata)
	var cfg *memengine.Config
	if row.Config != "" {
		cfg = &memengine.Config{}
		_ = json.Unmarshal([]byte(row.Config), cfg)
	}

	return &memstore.SessionData{
		Manifest: memstore.SessionManifest{
			ID:        session,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
			Metadata:  metadata,
			Config:    cfg,
		},
		SystemMessages: systemMessages,
		Messages:       messages,
		Summaries:      summaries,
		Stats: memstore.SessionStats{
			MessageCount:       len(messages),
			SystemMessageCount: len(systemMessages),
			SummaryCount:       len(summaries),
			CompressionCount:   len(summaries),
		},
	}, nil
}

// ListSessions returns session summaries ordered newest-updated first.
func (s *Store) ListSessions(ctx context.Context, limit, offset int) ([]memstore.SessionSummary, error) {
	var rows []SessionModel
	q := s.db.WithContext(ctx).Order("updated_at desc").Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.NewPersistenceFailedError("query sessions", err)
	}

	out := make([]memstore.SessionSummary, 0, len(rows))
	for _, row := range rows {
		data, err := s.LoadSession(ctx, memstore.SessionID(row.ID))
		if err != nil || data == nil {
			continue
		}
		out = append(out, memstore.SessionSummary{
			ID:                 data.Manifest.ID,
			CreatedAt:          data.Manifest.CreatedAt,
			UpdatedAt:          data.Manifest.UpdatedAt,
			MessageCount:       data.Stats.MessageCount,
			SystemMessageCount: data.Stats.SystemMessageCount,
			SummaryCount:       data.Stats.SummaryCount,
			CompressionCount:   data.Stats.CompressionCount,
			Preview:            memstore.PreviewFrom(data.Messages),
		})
	}
	return out, nil
}

// DeleteSession removes a session and all of its messages/summaries.
func (s *Store) DeleteSession(ctx context.Context, session memstore.SessionID) (bool, error) {
	if _, err := s.sessionRow(ctx, session); err != nil {
		return false, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", string(session)).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id = ?", string(session)).Delete(&SummaryModel{}).Error; err != nil {
			return err
		}
		return tx.Delete(&SessionModel{}, "id = ?", string(session)).Error
	})
	if err != nil {
		return false, errors.NewPersistenceFailedError("delete session", err)
	}
	return true, nil
}

// UpdateSessionMetadata merges new keys into the session's metadata column.
func (s *Store) UpdateSessionMetadata(ctx context.Context, session memstore.SessionID, metadata map[string]interface{}) (bool, error) {
	row, err := s.sessionRow(ctx, session)
	if err != nil {
		return false, nil
	}

	var current map[string]interface{}
	_ = json.Unmarshal([]byte(row.Metadata), &current)
	if current == nil {
		current = make(map[string]interface{})
	}
	for k, v := range metadata {
		current[k] = v
	}

	err = s.db.WithContext(ctx).Model(&SessionModel{}).Where("id = ?", string(session)).Updates(map[string]interface{}{
		"metadata":   marshalJSON(current),
		"updated_at": time.Now().UTC(),
	}).Error
	if err != nil {
		return false, errors.NewPersistenceFailedError("update session metadata", err)
	}
	return true, nil
}

// GetSessionStats returns counts for a session.
func (s *Store) GetSessionStats(ctx context.Context, session memstore.SessionID) (*memstore.SessionStats, error) {
	data, err := s.LoadSession(ctx, session)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	return &data.Stats, nil
}

// FindLatestSession returns the most recently updated session, if any.
func (s *Store) FindLatestSession(ctx context.Context) (memstore.SessionID, bool, error) {
	var row SessionModel
	err := s.db.WithContext(ctx).Order("updated_at desc").First(&row).Error
	if err != nil {
		return "", false, nil
	}
	return memstore.SessionID(row.ID), true, nil
}

// FindSessionByPrefix resolves a short ID prefix to a full session ID.
// An ambiguous prefix (matching more than one session) returns not-found
// rather than guessing.
func (s *Store) FindSessionByPrefix(ctx context.Context, prefix string) (memstore.SessionID, bool, error) {
	var rows []SessionModel
	if err := s.db.WithContext(ctx).Where("id LIKE ?", prefix+"%").Limit(2).Find(&rows).Error; err != nil {
		return "", false, nil
	}
	if len(rows) != 1 {
		return "", false, nil
	}
	return memstore.SessionID(rows[0].ID), true, nil
}
