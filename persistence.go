package tgflow

import "context"

// Persistence carries per-user and per-chat data across process
// restarts. The dispatcher loads a scope's map the first time an
// update touches it and writes it back after every handled update.
// Implementations live in the storage package; not-found must yield
// an empty (or nil) map, not an error.
type Persistence interface {
	LoadUserData(ctx context.Context, userID int64) (map[string]any, error)
	SaveUserData(ctx context.Context, userID int64, data map[string]any) error
	LoadChatData(ctx context.Context, chatID int64) (map[string]any, error)
	SaveChatData(ctx context.Context, chatID int64, data map[string]any) error
	Close() error
}
