// Copyright (c) 2025, amarnathcjd

package tgflow

import (
	"context"
	"reflect"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/amarnathcjd/tgflow/internal/utils"
)

// Handler groups. Groups run in ascending numeric order, handlers in
// registration order within a group; the first match anywhere wins.
const (
	SessionGroup = -1
	DefaultGroup = 0
)

const (
	defaultRegistryTimeout = 5 * time.Second
	defaultQueueSize       = 100
	defaultDedupTTL        = 5 * time.Minute
	dedupCapacity          = 1000
)

// DispatcherConfig wires the dispatcher's collaborators. Every field
// is optional; zero values fall back to the documented defaults.
type DispatcherConfig struct {
	// Bot is the outbound client; its username drives /cmd@bot
	// addressing.
	Bot Bot
	// Registry resolves session callback tokens. Required before any
	// SessionCallbackHandler can be registered.
	Registry SessionRegistry
	// Store persists per-user/per-chat data across restarts.
	Store Persistence
	// Jobs is passed through to callbacks untouched.
	Jobs Scheduler
	// Logger overrides the default zap console logger.
	Logger   Logger
	LogLevel LogLevel
	// UnhandledHook fires when no handler matched an update.
	UnhandledHook func(u *Update)
	// ErrorHook fires for callback failures, contained panics and
	// registry consistency errors.
	ErrorHook func(u *Update, err error)
	// RegistryTimeout bounds every session-registry call. Default 5s.
	RegistryTimeout time.Duration
	// QueueSize is the ingress channel capacity. Default 100.
	QueueSize int
	// Workers > 1 dispatches queued updates concurrently. Handlers
	// are stateless so this is safe, but cycles touching the same
	// chat or user are then no longer serialized by the dispatcher.
	Workers int
	// DedupTTL bounds how long processed update IDs are remembered.
	// Default 5m.
	DedupTTL time.Duration
}

// Dispatcher owns the ordered handler set and drives one dispatch
// cycle per update: first Matched handler wins, its callback runs, at
// most one callback per update.
type Dispatcher struct {
	sync.RWMutex
	handlers map[int][]Handler
	groups   []int

	bot             Bot
	reg             SessionRegistry
	store           Persistence
	jobs            Scheduler
	log             Logger
	unhandledHook   func(u *Update)
	errorHook       func(u *Update, err error)
	registryTimeout time.Duration
	workers         int
	dedupTTL        time.Duration

	processed *utils.TTLSet[int64]

	stateMu  sync.Mutex
	userData map[int64]map[string]any
	chatData map[int64]map[string]any

	updates chan *Update
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Workers < 0 {
		return nil, errors.New("[NewDispatcher] negative worker count")
	}
	if cfg.QueueSize < 0 {
		return nil, errors.New("[NewDispatcher] negative queue size")
	}

	log := cfg.Logger
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	return &Dispatcher{
		handlers:        make(map[int][]Handler),
		bot:             cfg.Bot,
		reg:             cfg.Registry,
		store:           cfg.Store,
		jobs:            cfg.Jobs,
		log:             log.WithPrefix("tgflow [dispatcher]"),
		unhandledHook:   cfg.UnhandledHook,
		errorHook:       cfg.ErrorHook,
		registryTimeout: getDur(cfg.RegistryTimeout, defaultRegistryTimeout),
		workers:         getInt(cfg.Workers, 1),
		dedupTTL:        getDur(cfg.DedupTTL, defaultDedupTTL),
		processed:       utils.NewTTLSet[int64](dedupCapacity),
		userData:        make(map[int64]map[string]any),
		chatData:        make(map[int64]map[string]any),
		updates:         make(chan *Update, getInt(cfg.QueueSize, defaultQueueSize)),
	}, nil
}

func getInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func getDur(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// AddHandler registers h in the default group.
func (d *Dispatcher) AddHandler(h Handler) error {
	return d.AddHandlerToGroup(h, DefaultGroup)
}

// AddHandlerToGroup registers h at the end of the given group.
func (d *Dispatcher) AddHandlerToGroup(h Handler, group int) error {
	if h == nil {
		return ErrNilHandler
	}
	if _, ok := h.(*SessionCallbackHandler); ok && d.reg == nil {
		return ErrNoRegistry
	}

	d.Lock()
	defer d.Unlock()
	if _, ok := d.handlers[group]; !ok {
		d.groups = append(d.groups, group)
		sort.Ints(d.groups)
	}
	d.handlers[group] = append(d.handlers[group], h)
	return nil
}

// RemoveHandler unregisters a previously added handler.
func (d *Dispatcher) RemoveHandler(h Handler) error {
	d.Lock()
	defer d.Unlock()
	for group, handlers := range d.handlers {
		for i, have := range handlers {
			if !reflect.DeepEqual(have, h) {
				continue
			}
			d.handlers[group] = append(handlers[:i], handlers[i+1:]...)
			if len(d.handlers[group]) == 0 {
				delete(d.handlers, group)
				for gi, g := range d.groups {
					if g == group {
						d.groups = append(d.groups[:gi], d.groups[gi+1:]...)
						break
					}
				}
			}
			return nil
		}
	}
	return ErrHandlerNotFound
}

// orderedHandlers snapshots the full candidate list for one cycle:
// groups ascending, registration order within each group.
func (d *Dispatcher) orderedHandlers() []Handler {
	d.RLock()
	defer d.RUnlock()
	var out []Handler
	for _, g := range d.groups {
		out = append(out, d.handlers[g]...)
	}
	return out
}

// ProcessUpdate drives one dispatch cycle and reports whether any
// handler matched. Duplicate update IDs within the dedup TTL are
// dropped; ID 0 marks synthetic updates and bypasses dedup. Panics in
// matching or in the callback are contained here.
func (d *Dispatcher) ProcessUpdate(ctx context.Context, u *Update) bool {
	if u == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if u.ID != 0 && !d.processed.Add(u.ID) {
		d.log.Debugf("dropped duplicate update %d", u.ID)
		return false
	}

	for _, h := range d.orderedHandlers() {
		// Matching is pure, so abandoning it on cancellation is free.
		if ctx.Err() != nil {
			return false
		}
		res := d.checkSafe(h, u)
		if res.Verdict != Matched {
			continue
		}
		d.handleSafe(h, u, res)
		d.flushState(ctx, u)
		return true
	}

	if d.unhandledHook != nil {
		d.unhandledHook(u)
	} else {
		d.log.Debugf("no handler for %s update %d", u.Kind(), u.ID)
	}
	return false
}

func (d *Dispatcher) checkSafe(h Handler, u *Update) (res MatchResult) {
	defer d.newRecovery(u)()
	return h.Check(d, u)
}

func (d *Dispatcher) handleSafe(h Handler, u *Update, res MatchResult) {
	defer d.newRecovery(u)()
	err := h.Handle(d, u, res)
	if err == nil {
		return
	}
	var ce *ConsistencyError
	if errors.As(err, &ce) {
		d.log.Errorf("registry desync on update %d: %v", u.ID, ce)
	} else {
		d.log.Errorf("callback failed on update %d: %v", u.ID, err)
	}
	d.reportError(u, err)
}

// newRecovery contains a panic from user code: logged with a stack,
// reported to the error hook, never propagated to the loop.
func (d *Dispatcher) newRecovery(u *Update) func() {
	return func() {
		if r := recover(); r != nil {
			d.log.Errorf("recovered panic on update %d: %v\n%s", u.ID, r, debug.Stack())
			d.reportError(u, errors.Errorf("[Recovery] panic: %v", r))
		}
	}
}

func (d *Dispatcher) reportError(u *Update, err error) {
	if d.errorHook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Errorf("error hook panicked: %v", r)
		}
	}()
	d.errorHook(u, err)
}

// Start spawns the ingress loop consuming the update queue. Serial by
// default; Workers > 1 enables the bounded concurrent variant.
func (d *Dispatcher) Start() error {
	d.Lock()
	if d.running {
		d.Unlock()
		return ErrDispatcherRunning
	}
	d.running = true
	d.stop = make(chan struct{})
	d.Unlock()

	d.wg.Add(1)
	go d.loop()
	d.log.Infof("dispatch loop started (workers: %d)", d.workers)
	return nil
}

// Stop shuts the loop down after draining already queued updates and
// blocks until in-flight cycles finish.
func (d *Dispatcher) Stop() {
	d.Lock()
	if !d.running {
		d.Unlock()
		return
	}
	d.running = false
	close(d.stop)
	d.Unlock()

	d.wg.Wait()
	d.log.Info("dispatch loop stopped")
}

// Feed enqueues one update for dispatch, blocking when the queue is
// full.
func (d *Dispatcher) Feed(u *Update) error {
	d.RLock()
	running := d.running
	d.RUnlock()
	if !running {
		return ErrDispatcherNotRunning
	}
	d.updates <- u
	return nil
}

// Updates exposes the ingress queue for transports that write
// directly.
func (d *Dispatcher) Updates() chan<- *Update { return d.updates }

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := time.NewTicker(d.dedupTTL)
	defer sweep.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if d.workers > 1 {
		g.SetLimit(d.workers)
	}
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-d.stop:
			d.drain(ctx)
			return
		case u := <-d.updates:
			if d.workers > 1 {
				g.Go(func() error {
					d.ProcessUpdate(gctx, u)
					return nil
				})
				continue
			}
			d.ProcessUpdate(ctx, u)
		case <-sweep.C:
			d.processed.SweepBefore(time.Now().Add(-d.dedupTTL))
		}
	}
}

// drain processes whatever is still queued at shutdown, serially.
func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case u := <-d.updates:
			d.ProcessUpdate(ctx, u)
		default:
			return
		}
	}
}

// newContext builds the per-cycle context with the pass-through
// collaborators wired in.
func (d *Dispatcher) newContext(u *Update) *CallbackContext {
	ctx := &CallbackContext{
		Bot:     d.bot,
		Jobs:    d.jobs,
		Updates: d.updates,
	}
	if from := u.EffectiveUser(); from != nil {
		ctx.UserData = d.userDataFor(from.ID)
	}
	if chat := u.EffectiveChat(); chat != nil {
		ctx.ChatData = d.chatDataFor(chat.ID)
	}
	return ctx
}

func (d *Dispatcher) userDataFor(id int64) map[string]any {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	m, ok := d.userData[id]
	if !ok {
		m = d.loadState(id, false)
		d.userData[id] = m
	}
	return m
}

func (d *Dispatcher) chatDataFor(id int64) map[string]any {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	m, ok := d.chatData[id]
	if !ok {
		m = d.loadState(id, true)
		d.chatData[id] = m
	}
	return m
}

func (d *Dispatcher) loadState(id int64, chat bool) map[string]any {
	if d.store == nil {
		return make(map[string]any)
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.registryTimeout)
	defer cancel()

	var (
		m   map[string]any
		err error
	)
	if chat {
		m, err = d.store.LoadChatData(ctx, id)
	} else {
		m, err = d.store.LoadUserData(ctx, id)
	}
	if err != nil {
		d.log.Warnf("state load for %d: %v", id, err)
	}
	if m == nil {
		m = make(map[string]any)
	}
	return m
}

// flushState writes the touched user/chat maps back to the store
// after a handled update. Best effort; failures are logged.
func (d *Dispatcher) flushState(ctx context.Context, u *Update) {
	if d.store == nil {
		return
	}
	if from := u.EffectiveUser(); from != nil {
		if err := d.store.SaveUserData(ctx, from.ID, d.snapshotState(from.ID, false)); err != nil {
			d.log.Warnf("user state flush for %d: %v", from.ID, err)
		}
	}
	if chat := u.EffectiveChat(); chat != nil {
		if err := d.store.SaveChatData(ctx, chat.ID, d.snapshotState(chat.ID, true)); err != nil {
			d.log.Warnf("chat state flush for %d: %v", chat.ID, err)
		}
	}
}

func (d *Dispatcher) snapshotState(id int64, chat bool) map[string]any {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	src := d.userData[id]
	if chat {
		src = d.chatData[id]
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (d *Dispatcher) botUsername() string {
	if d == nil || d.bot == nil {
		return ""
	}
	return d.bot.Username()
}

func (d *Dispatcher) sessionRegistry() SessionRegistry {
	if d == nil {
		return nil
	}
	return d.reg
}

// registryContext bounds one session-registry call.
func (d *Dispatcher) registryContext() (context.Context, context.CancelFunc) {
	timeout := defaultRegistryTimeout
	if d != nil && d.registryTimeout > 0 {
		timeout = d.registryTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}
