package sqlstore

import (
	"time"

	"gorm.io/gorm"
)

// SessionModel is the sessions table row.
type SessionModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Metadata  string `gorm:"type:text"` // JSON encoded
	Config    string `gorm:"type:text"` // JSON encoded memengine.Config
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (SessionModel) TableName() string { return "sessions" }

// MessageModel is one row of the messages table; Kind tells system messages
// apart from conversation messages.
type MessageModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index:idx_session_ts;size:64;not null"`
	Kind      string `gorm:"size:16;not null"` // "system" or "conversation"
	Payload   string `gorm:"type:text;not null"` // JSON encoded memstore.WireMessage
	Tokens    int
	Timestamp time.Time `gorm:"index:idx_session_ts"`
}

func (MessageModel) TableName() string { return "messages" }

// SummaryModel is one row of the summaries table.
type SummaryModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"index;size:64;not null"`
	Payload   string `gorm:"type:text;not null"` // JSON encoded memstore.WireSummary
	CreatedAt time.Time
}

func (SummaryModel) TableName() string { return "summaries" }
