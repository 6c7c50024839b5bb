// Package storage provides the persistence backends for tgflow: an
// SQLite store (gorm, pure-Go driver) implementing both
// tgflow.Persistence and tgflow.SessionRegistry, and a JSON file
// store for single-process bots.
package storage

import "time"

// stateModel is one persisted user- or chat-data map, JSON-encoded.
type stateModel struct {
	Scope     string `gorm:"primaryKey;size:8"`
	RefID     int64  `gorm:"primaryKey"`
	Blob      []byte
	UpdatedAt time.Time
}

func (stateModel) TableName() string {
	return "flow_state"
}

const (
	scopeUser = "user"
	scopeChat = "chat"
)

// sessionModel is one persisted callback-session record.
type sessionModel struct {
	Token     string `gorm:"primaryKey"`
	Action    string `gorm:"index"`
	ChatID    int64  `gorm:"index"`
	Blob      []byte
	CreatedAt time.Time
}

func (sessionModel) TableName() string {
	return "flow_sessions"
}
