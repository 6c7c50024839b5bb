// Copyright (c) 2025 @AmarnathCJD

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/amarnathcjd/tgflow"
)

const defaultSessionTTL = 1 * time.Hour

var (
	_ tgflow.Persistence     = (*SQLiteStore)(nil)
	_ tgflow.SessionRegistry = (*SQLiteStore)(nil)
)

// SQLiteStore persists user/chat data maps and callback-session
// records in a single SQLite database. Session records expire after
// the configured TTL; expired rows are invisible to lookups and freed
// by SweepSessions.
type SQLiteStore struct {
	db  *gorm.DB
	ttl time.Duration
}

// NewSQLiteStore opens (or creates) the database at dsn. Pass a nil
// gormLogger to silence gorm.
func NewSQLiteStore(dsn string, gormLogger logger.Interface) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("[NewSQLiteStore] dsn required")
	}
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	if dbDir := filepath.Dir(dsn); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, errors.Wrap(err, "[NewSQLiteStore] create database directory")
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[NewSQLiteStore] open")
	}

	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&stateModel{}, &sessionModel{}); err != nil {
		return nil, errors.Wrap(err, "[NewSQLiteStore] migrate")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &SQLiteStore{db: db, ttl: defaultSessionTTL}, nil
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return errors.Wrapf(err, "[NewSQLiteStore] %s", pragma)
		}
	}
	return nil
}

// SetSessionTTL overrides the default one-hour session lifetime.
func (s *SQLiteStore) SetSessionTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl = ttl
	}
}

func (s *SQLiteStore) LoadUserData(ctx context.Context, userID int64) (map[string]any, error) {
	return s.loadState(ctx, scopeUser, userID)
}

func (s *SQLiteStore) SaveUserData(ctx context.Context, userID int64, data map[string]any) error {
	return s.saveState(ctx, scopeUser, userID, data)
}

func (s *SQLiteStore) LoadChatData(ctx context.Context, chatID int64) (map[string]any, error) {
	return s.loadState(ctx, scopeChat, chatID)
}

func (s *SQLiteStore) SaveChatData(ctx context.Context, chatID int64, data map[string]any) error {
	return s.saveState(ctx, scopeChat, chatID, data)
}

func (s *SQLiteStore) loadState(ctx context.Context, scope string, id int64) (map[string]any, error) {
	var rec stateModel
	err := s.db.WithContext(ctx).
		Where("scope = ? AND ref_id = ?", scope, id).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[SQLiteStore] load state")
	}
	var data map[string]any
	if err := json.Unmarshal(rec.Blob, &data); err != nil {
		return nil, errors.Wrap(err, "[SQLiteStore] decode state")
	}
	return data, nil
}

func (s *SQLiteStore) saveState(ctx context.Context, scope string, id int64, data map[string]any) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "[SQLiteStore] encode state")
	}
	rec := stateModel{Scope: scope, RefID: id, Blob: blob, UpdatedAt: time.Now()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}, {Name: "ref_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_at"}),
	}).Create(&rec).Error
	return errors.Wrap(err, "[SQLiteStore] save state")
}

// Bind mints and persists a fresh session token for (chat, action).
// ModelData round-trips through JSON, so lookups return it as the
// generic decoded form (map[string]any, []any, float64, string, ...).
func (s *SQLiteStore) Bind(ctx context.Context, chatID int64, action tgflow.ActionID, model any) (string, error) {
	blob, err := json.Marshal(model)
	if err != nil {
		return "", errors.Wrap(err, "[SQLiteStore] encode session model")
	}
	token := string(action) + ":" + uuid.NewString()
	rec := sessionModel{
		Token:     token,
		Action:    string(action),
		ChatID:    chatID,
		Blob:      blob,
		CreatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", errors.Wrap(err, "[SQLiteStore] bind session")
	}
	return token, nil
}

func (s *SQLiteStore) PeekAction(ctx context.Context, token string) (tgflow.ActionID, error) {
	var rec sessionModel
	err := s.db.WithContext(ctx).
		Where("token = ? AND created_at > ?", token, time.Now().Add(-s.ttl)).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "[SQLiteStore] peek action")
	}
	return tgflow.ActionID(rec.Action), nil
}

func (s *SQLiteStore) LookupChatBoundCallback(ctx context.Context, chatID int64, token string) (*tgflow.SessionRecord, error) {
	var rec sessionModel
	err := s.db.WithContext(ctx).
		Where("token = ? AND chat_id = ? AND created_at > ?", token, chatID, time.Now().Add(-s.ttl)).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "[SQLiteStore] lookup session")
	}
	var model any
	if len(rec.Blob) > 0 {
		if err := json.Unmarshal(rec.Blob, &model); err != nil {
			return nil, errors.Wrap(err, "[SQLiteStore] decode session model")
		}
	}
	return &tgflow.SessionRecord{
		Token:     rec.Token,
		Action:    tgflow.ActionID(rec.Action),
		ChatID:    rec.ChatID,
		ModelData: model,
		CreatedAt: rec.CreatedAt,
	}, nil
}

// Invalidate drops one session token.
func (s *SQLiteStore) Invalidate(ctx context.Context, token string) error {
	err := s.db.WithContext(ctx).Where("token = ?", token).Delete(&sessionModel{}).Error
	return errors.Wrap(err, "[SQLiteStore] invalidate session")
}

// SweepSessions deletes expired session rows and returns how many
// were dropped.
func (s *SQLiteStore) SweepSessions(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at <= ?", time.Now().Add(-s.ttl)).
		Delete(&sessionModel{})
	return res.RowsAffected, errors.Wrap(res.Error, "[SQLiteStore] sweep sessions")
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
