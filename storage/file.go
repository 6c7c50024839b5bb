// Copyright (c) 2025 @AmarnathCJD

package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/amarnathcjd/tgflow"
)

var _ tgflow.Persistence = (*FileStore)(nil)

// FileStore keeps user and chat data in one JSON file, suitable for
// single-process bots. The file is re-read only when its mtime
// changes and written through on every save with 0600 permissions.
type FileStore struct {
	mu         sync.Mutex
	path       string
	lastEdited time.Time
	cached     *stateFileFormat
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) LoadUserData(_ context.Context, userID int64) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.load()
	if err != nil {
		return nil, err
	}
	return copyMap(file.Users[userID]), nil
}

func (f *FileStore) SaveUserData(_ context.Context, userID int64, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.load()
	if err != nil {
		return err
	}
	file.Users[userID] = copyMap(data)
	return f.store(file)
}

func (f *FileStore) LoadChatData(_ context.Context, chatID int64) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.load()
	if err != nil {
		return nil, err
	}
	return copyMap(file.Chats[chatID]), nil
}

func (f *FileStore) SaveChatData(_ context.Context, chatID int64, data map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := f.load()
	if err != nil {
		return err
	}
	file.Chats[chatID] = copyMap(data)
	return f.store(file)
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) load() (*stateFileFormat, error) {
	info, err := os.Stat(f.path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist):
		// Fresh store; the file appears on first save.
		return newStateFileFormat(), nil
	default:
		return nil, err
	}

	if info.ModTime().Equal(f.lastEdited) && f.cached != nil {
		return f.cached, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, errors.Wrap(err, "[FileStore] reading file")
	}

	file := newStateFileFormat()
	if err := json.Unmarshal(data, file); err != nil {
		return nil, errors.Wrap(err, "[FileStore] parsing file")
	}
	if file.Users == nil {
		file.Users = make(map[int64]map[string]any)
	}
	if file.Chats == nil {
		file.Chats = make(map[int64]map[string]any)
	}

	f.cached = file
	f.lastEdited = info.ModTime()
	return file, nil
}

func (f *FileStore) store(file *stateFileFormat) error {
	dir, _ := filepath.Split(f.path)
	if dir != "" {
		if stat, err := os.Stat(dir); err != nil {
			return errors.Errorf("[FileStore] %v: directory not found", dir)
		} else if !stat.IsDir() {
			return errors.Errorf("[FileStore] %v: not a directory", dir)
		}
	}

	data, err := json.Marshal(file)
	if err != nil {
		return errors.Wrap(err, "[FileStore] encoding")
	}
	if err := os.WriteFile(f.path, data, 0600); err != nil {
		return errors.Wrap(err, "[FileStore] writing file")
	}

	f.cached = file
	if info, err := os.Stat(f.path); err == nil {
		f.lastEdited = info.ModTime()
	}
	return nil
}

type stateFileFormat struct {
	Users map[int64]map[string]any `json:"users"`
	Chats map[int64]map[string]any `json:"chats"`
}

func newStateFileFormat() *stateFileFormat {
	return &stateFileFormat{
		Users: make(map[int64]map[string]any),
		Chats: make(map[int64]map[string]any),
	}
}

func copyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
