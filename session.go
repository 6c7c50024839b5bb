// Copyright (c) 2025, amarnathcjd

package tgflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ActionID names one multi-step flow action. The zero value means
// "no action".
type ActionID string

// SessionRecord is the state bound to one outbound callback token:
// which action minted it, which chat it belongs to, and the opaque
// model the callback needs to resume the flow.
type SessionRecord struct {
	Token     string
	Action    ActionID
	ChatID    int64
	ModelData any
	CreatedAt time.Time
}

// SessionRegistry resolves opaque callback tokens for routed
// multi-step flows. Implementations may be backed by memory, disk or
// network; callers bound every call with a context deadline.
//
// Not-found is not an error: PeekAction returns the zero ActionID and
// LookupChatBoundCallback returns a nil record. Errors are reserved
// for transport or storage failures.
type SessionRegistry interface {
	// PeekAction resolves a token to its action without consuming it.
	PeekAction(ctx context.Context, token string) (ActionID, error)
	// LookupChatBoundCallback retrieves the record bound to the
	// (chat, token) pair.
	LookupChatBoundCallback(ctx context.Context, chatID int64, token string) (*SessionRecord, error)
}

// ConsistencyError reports a registry desync: a token's action
// resolved during matching but the bound record was gone by lookup
// time. It is surfaced to the dispatcher's error hook and the user
// callback is not invoked.
type ConsistencyError struct {
	Token  string
	ChatID int64
	Action ActionID
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("[SessionRegistry] accepted token %q (action %q) has no record bound to chat %d", e.Token, e.Action, e.ChatID)
}

// SessionCallbackHandler routes callback queries whose data token
// resolves, via the dispatcher's session registry, to this handler's
// action. Expired or unknown tokens are ignored silently; they occur
// naturally as flows age out.
type SessionCallbackHandler struct {
	baseHandler
	action ActionID
}

func NewSessionCallbackHandler(action ActionID, cb HandlerFunc) (*SessionCallbackHandler, error) {
	base, err := newBaseHandler("NewSessionCallbackHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	if action == "" {
		return nil, errors.New("[NewSessionCallbackHandler] empty action id")
	}
	return &SessionCallbackHandler{baseHandler: base, action: action}, nil
}

func (h *SessionCallbackHandler) Action() ActionID { return h.action }

func (h *SessionCallbackHandler) Check(d *Dispatcher, u *Update) MatchResult {
	cq := u.CallbackQuery
	if cq == nil || cq.Data == "" {
		return MatchResult{}
	}
	reg := d.sessionRegistry()
	if reg == nil {
		return MatchResult{}
	}

	ctx, cancel := d.registryContext()
	defer cancel()
	action, err := reg.PeekAction(ctx, cq.Data)
	if err != nil {
		d.log.Warnf("peek %q: %v", cq.Data, err)
		return MatchResult{}
	}
	if action == "" || action != h.action {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched}
}

func (h *SessionCallbackHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	cq := u.CallbackQuery
	var chatID int64
	if chat := u.EffectiveChat(); chat != nil {
		chatID = chat.ID
	}

	ctx, cancel := d.registryContext()
	defer cancel()
	rec, err := d.sessionRegistry().LookupChatBoundCallback(ctx, chatID, cq.Data)
	if err != nil {
		return errors.Wrap(err, "[SessionCallbackHandler] bound-callback lookup")
	}
	if rec == nil {
		return &ConsistencyError{Token: cq.Data, ChatID: chatID, Action: h.action}
	}
	res.Record = rec
	return h.invoke(d, u, res)
}

const defaultSessionTTL = 1 * time.Hour

// MemoryRegistry is the in-process SessionRegistry. Tokens are minted
// by Bind, become invisible once older than the TTL and are freed by
// SweepExpired or the janitor.
type MemoryRegistry struct {
	mu      sync.RWMutex
	ttl     time.Duration
	records map[string]*SessionRecord
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &MemoryRegistry{
		ttl:     ttl,
		records: make(map[string]*SessionRecord),
	}
}

// Bind mints a fresh token for (chat, action) and stores the record.
// The returned token goes into outbound callback data verbatim.
func (r *MemoryRegistry) Bind(chatID int64, action ActionID, model any) string {
	token := string(action) + ":" + uuid.NewString()
	rec := &SessionRecord{
		Token:     token,
		Action:    action,
		ChatID:    chatID,
		ModelData: model,
		CreatedAt: time.Now(),
	}
	r.mu.Lock()
	r.records[token] = rec
	r.mu.Unlock()
	return token
}

func (r *MemoryRegistry) PeekAction(ctx context.Context, token string) (ActionID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	rec, ok := r.records[token]
	r.mu.RUnlock()
	if !ok || r.expired(rec) {
		return "", nil
	}
	return rec.Action, nil
}

func (r *MemoryRegistry) LookupChatBoundCallback(ctx context.Context, chatID int64, token string) (*SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	rec, ok := r.records[token]
	r.mu.RUnlock()
	if !ok || r.expired(rec) || rec.ChatID != chatID {
		return nil, nil
	}
	return rec, nil
}

// Invalidate drops a token, reporting whether it was present.
func (r *MemoryRegistry) Invalidate(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[token]
	delete(r.records, token)
	return ok
}

// SweepExpired frees records past the TTL and returns how many were
// dropped.
func (r *MemoryRegistry) SweepExpired() int {
	cutoff := time.Now().Add(-r.ttl)
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped int
	for token, rec := range r.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(r.records, token)
			dropped++
		}
	}
	return dropped
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// StartJanitor sweeps expired records every interval until ctx is
// cancelled.
func (r *MemoryRegistry) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = r.ttl
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.SweepExpired()
			}
		}
	}()
}

func (r *MemoryRegistry) expired(rec *SessionRecord) bool {
	return time.Since(rec.CreatedAt) > r.ttl
}
