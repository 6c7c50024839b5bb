// Copyright (c) 2025, amarnathcjd

package tgflow_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/amarnathcjd/tgflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, cfg tgflow.DispatcherConfig) *tgflow.Dispatcher {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = tgflow.NewNopLogger()
	}
	d, err := tgflow.NewDispatcher(cfg)
	require.NoError(t, err)
	return d
}

type testBot struct {
	username string

	mu   sync.Mutex
	sent []string
}

func (b *testBot) Username() string { return b.username }

func (b *testBot) SendMessage(_ context.Context, _ int64, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, text)
	return nil
}

func (b *testBot) AnswerCallbackQuery(_ context.Context, _, _ string) error { return nil }

func (b *testBot) AnswerInlineQuery(_ context.Context, _ string, _ any) error { return nil }

type memStore struct {
	mu    sync.Mutex
	users map[int64]map[string]any
	chats map[int64]map[string]any
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[int64]map[string]any),
		chats: make(map[int64]map[string]any),
	}
}

func (s *memStore) LoadUserData(_ context.Context, id int64) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.users[id]), nil
}

func (s *memStore) SaveUserData(_ context.Context, id int64, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = cloneMap(data)
	return nil
}

func (s *memStore) LoadChatData(_ context.Context, id int64) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.chats[id]), nil
}

func (s *memStore) SaveChatData(_ context.Context, id int64, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[id] = cloneMap(data)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) userValue(id int64, key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id][key]
}

func (s *memStore) chatValue(id int64, key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chats[id][key]
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func noop(*tgflow.Update, *tgflow.CallbackContext) error { return nil }

func TestDispatcherFirstMatchWins(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var first, second int
	h1, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		first++
		return nil
	})
	require.NoError(t, err)
	h2, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		second++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.AddHandler(h1))
	require.NoError(t, d.AddHandler(h2))

	handled := d.ProcessUpdate(context.Background(), textUpdate("hello"))
	assert.True(t, handled)
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
}

func TestDispatcherGroupOrdering(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var order []string
	veto := func(tag string) tgflow.Filter {
		return tgflow.FilterCustom(func(*tgflow.Update) bool {
			order = append(order, tag)
			return false
		})
	}
	addVeto := func(tag string, group int) {
		h, err := tgflow.NewMessageHandler(veto(tag), noop)
		require.NoError(t, err)
		require.NoError(t, d.AddHandlerToGroup(h, group))
	}

	// Registered out of numeric order on purpose.
	addVeto("g7", 7)
	addVeto("g-3", -3)
	addVeto("g0a", 0)
	addVeto("g0b", 0)

	var hit bool
	catch, err := tgflow.NewMessageHandler(nil, func(*tgflow.Update, *tgflow.CallbackContext) error {
		hit = true
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandlerToGroup(catch, 9))

	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("hello")))
	assert.Equal(t, []string{"g-3", "g0a", "g0b", "g7"}, order)
	assert.True(t, hit)
}

func TestDispatcherRejectedContinues(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{Bot: &testBot{username: "examplebot"}})

	var gated, open int
	gatedHandler, err := tgflow.NewCommandHandler([]string{"start"}, func(*tgflow.Update, *tgflow.CallbackContext) error {
		gated++
		return nil
	}, tgflow.FilterChannel)
	require.NoError(t, err)
	openHandler, err := tgflow.NewCommandHandler([]string{"start"}, func(*tgflow.Update, *tgflow.CallbackContext) error {
		open++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.AddHandler(gatedHandler))
	require.NoError(t, d.AddHandler(openHandler))

	// The first handler recognizes the command but its channel filter
	// vetoes the private chat, so dispatch moves on.
	assert.True(t, d.ProcessUpdate(context.Background(), cmdUpdate("/start")))
	assert.Equal(t, 0, gated)
	assert.Equal(t, 1, open)
}

func TestDispatcherUnhandledHook(t *testing.T) {
	var got *tgflow.Update
	d := newTestDispatcher(t, tgflow.DispatcherConfig{
		UnhandledHook: func(u *tgflow.Update) { got = u },
	})

	u := textUpdate("nobody wants me")
	assert.False(t, d.ProcessUpdate(context.Background(), u))
	assert.Same(t, u, got)
}

func TestDispatcherPanicContainment(t *testing.T) {
	var hookErr error
	d := newTestDispatcher(t, tgflow.DispatcherConfig{
		ErrorHook: func(_ *tgflow.Update, err error) { hookErr = err },
	})

	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		panic("user code went sideways")
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("boom")))
	require.Error(t, hookErr)
	assert.Contains(t, hookErr.Error(), "panic")
	assert.Contains(t, hookErr.Error(), "user code went sideways")
}

type panicCheckHandler struct{}

func (panicCheckHandler) Check(*tgflow.Dispatcher, *tgflow.Update) tgflow.MatchResult {
	panic("matcher bug")
}

func (panicCheckHandler) Handle(*tgflow.Dispatcher, *tgflow.Update, tgflow.MatchResult) error {
	return nil
}

func TestDispatcherPanicInCheckSkipsHandler(t *testing.T) {
	var hookErr error
	d := newTestDispatcher(t, tgflow.DispatcherConfig{
		ErrorHook: func(_ *tgflow.Update, err error) { hookErr = err },
	})

	var caught bool
	next, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		caught = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.AddHandler(panicCheckHandler{}))
	require.NoError(t, d.AddHandler(next))

	// The panicking matcher counts as no match; the next handler still
	// gets its turn.
	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("hello")))
	assert.True(t, caught)
	require.Error(t, hookErr)
	assert.Contains(t, hookErr.Error(), "matcher bug")
}

func TestDispatcherCallbackErrorReported(t *testing.T) {
	var hookErr error
	d := newTestDispatcher(t, tgflow.DispatcherConfig{
		ErrorHook: func(_ *tgflow.Update, err error) { hookErr = err },
	})

	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		return assert.AnError
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	// A failing callback still consumes the update.
	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("hello")))
	assert.ErrorIs(t, hookErr, assert.AnError)
}

func TestDispatcherDedup(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var calls int
	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	u := textUpdate("hello")
	u.ID = 555
	assert.True(t, d.ProcessUpdate(context.Background(), u))
	assert.False(t, d.ProcessUpdate(context.Background(), u), "duplicate id must be dropped")
	assert.Equal(t, 1, calls)

	// ID zero marks synthetic updates and is never deduplicated.
	synthetic := textUpdate("again")
	assert.True(t, d.ProcessUpdate(context.Background(), synthetic))
	assert.True(t, d.ProcessUpdate(context.Background(), synthetic))
	assert.Equal(t, 3, calls)
}

func TestDispatcherRemoveHandler(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var first, second int
	h1, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		first++
		return nil
	})
	require.NoError(t, err)
	h2, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		second++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.AddHandler(h1))
	require.NoError(t, d.AddHandler(h2))
	require.NoError(t, d.RemoveHandler(h1))

	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("hello")))
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)

	assert.ErrorIs(t, d.RemoveHandler(h1), tgflow.ErrHandlerNotFound)
}

func TestDispatcherNilHandler(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})
	assert.ErrorIs(t, d.AddHandler(nil), tgflow.ErrNilHandler)
}

func TestDispatcherStartStopFeed(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{QueueSize: 16})

	var calls atomic.Int64
	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	assert.ErrorIs(t, d.Feed(textUpdate("too early")), tgflow.ErrDispatcherNotRunning)

	require.NoError(t, d.Start())
	assert.ErrorIs(t, d.Start(), tgflow.ErrDispatcherRunning)

	for i := int64(1); i <= 10; i++ {
		u := textUpdate("hello")
		u.ID = i
		require.NoError(t, d.Feed(u))
	}
	d.Stop()

	assert.Equal(t, int64(10), calls.Load())
	assert.ErrorIs(t, d.Feed(textUpdate("too late")), tgflow.ErrDispatcherNotRunning)
}

func TestDispatcherConcurrentWorkers(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{Workers: 4, QueueSize: 64})

	var calls atomic.Int64
	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	require.NoError(t, d.Start())
	for i := int64(1); i <= 25; i++ {
		u := textUpdate("hello")
		u.ID = i
		require.NoError(t, d.Feed(u))
	}
	d.Stop()

	assert.Equal(t, int64(25), calls.Load())
}

func TestDispatcherUpdatesChannel(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var calls atomic.Int64
	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	require.NoError(t, d.Start())
	d.Updates() <- textUpdate("direct ingress")
	d.Stop()

	assert.Equal(t, int64(1), calls.Load())
}

func TestDispatcherContextCancelled(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var calls int
	h, err := tgflow.NewRawHandler(func(*tgflow.Update, *tgflow.CallbackContext) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, d.ProcessUpdate(ctx, textUpdate("hello")))
	assert.Equal(t, 0, calls)
}

func TestDispatcherNegativeConfig(t *testing.T) {
	_, err := tgflow.NewDispatcher(tgflow.DispatcherConfig{Workers: -1})
	assert.Error(t, err)
	_, err = tgflow.NewDispatcher(tgflow.DispatcherConfig{QueueSize: -1})
	assert.Error(t, err)
}

func TestDispatcherStateLifecycle(t *testing.T) {
	store := newMemStore()
	store.users[7] = map[string]any{"visits": 1}

	d := newTestDispatcher(t, tgflow.DispatcherConfig{Store: store})

	h, err := tgflow.NewMessageHandler(nil, func(u *tgflow.Update, ctx *tgflow.CallbackContext) error {
		n, _ := ctx.UserData["visits"].(int)
		ctx.UserData["visits"] = n + 1
		ctx.ChatData["last_text"] = u.EffectiveMessage().Text
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	// First cycle warms the user map from the store, second reuses the
	// live map; both flush back after handling.
	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("one")))
	assert.Equal(t, 2, store.userValue(7, "visits"))

	assert.True(t, d.ProcessUpdate(context.Background(), textUpdate("two")))
	assert.Equal(t, 3, store.userValue(7, "visits"))
	assert.Equal(t, "two", store.chatValue(10, "last_text"))
}

func TestDispatcherStateSharedAcrossHandlers(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{Bot: &testBot{username: "examplebot"}})

	seen := make(chan string, 2)
	write, err := tgflow.NewCommandHandler([]string{"remember"}, func(u *tgflow.Update, ctx *tgflow.CallbackContext) error {
		ctx.UserData["note"] = strings.Join(ctx.Args, " ")
		return nil
	})
	require.NoError(t, err)
	read, err := tgflow.NewCommandHandler([]string{"recall"}, func(_ *tgflow.Update, ctx *tgflow.CallbackContext) error {
		note, _ := ctx.UserData["note"].(string)
		seen <- note
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, d.AddHandler(write))
	require.NoError(t, d.AddHandler(read))

	assert.True(t, d.ProcessUpdate(context.Background(), cmdUpdate("/remember tea at noon")))
	assert.True(t, d.ProcessUpdate(context.Background(), cmdUpdate("/recall")))
	assert.Equal(t, "tea at noon", <-seen)
}
