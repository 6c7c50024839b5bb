package tgflow

import "github.com/pkg/errors"

// Verdict is the three-way outcome of handler matching. Rejected and
// NoMatch both let dispatch continue to the next handler, but they
// are distinct: Rejected means the update had the right shape and an
// attached filter vetoed it.
type Verdict int

const (
	NoMatch Verdict = iota
	Rejected
	Matched
)

func (v Verdict) String() string {
	switch v {
	case Rejected:
		return "rejected"
	case Matched:
		return "matched"
	}
	return "no match"
}

// PatternMatch is one regexp match: the matched text, the capture
// groups in order, and the [start,end) byte span within the input.
type PatternMatch struct {
	Text   string
	Groups []string
	Index  [2]int
}

// dataKeyMatches is the filter-data key whose value, when of type
// []*PatternMatch, is promoted onto CallbackContext.Matches.
const dataKeyMatches = "matches"

// MatchResult carries the verdict of one handler evaluation plus the
// variant-specific payload extracted on a match.
type MatchResult struct {
	Verdict Verdict
	Args    []string
	Data    map[string]any
	Matches []*PatternMatch
	Record  *SessionRecord
}

func (r MatchResult) Ok() bool { return r.Verdict == Matched }

// HandlerFunc is the user callback invoked for a matched update.
type HandlerFunc func(u *Update, ctx *CallbackContext) error

// Handler is the unit of routing. Check decides whether the handler
// applies to an update and extracts the match payload; it must be
// cheap and side-effect free (the session variant's registry peek is
// the one sanctioned exception). Handle builds the per-update context
// through the dispatcher, binds the extracted payload and invokes the
// user callback. Handlers carry no per-update mutable state and must
// be safe to evaluate concurrently against different updates.
type Handler interface {
	Check(d *Dispatcher, u *Update) MatchResult
	Handle(d *Dispatcher, u *Update, res MatchResult) error
}

// baseHandler holds the pieces every handler variant shares: the user
// callback and an optional filter chain.
type baseHandler struct {
	callback HandlerFunc
	filters  Filter
}

func newBaseHandler(tag string, cb HandlerFunc, filters Filter) (baseHandler, error) {
	if cb == nil {
		return baseHandler{}, errors.Errorf("[%s] nil callback", tag)
	}
	return baseHandler{callback: cb, filters: filters}, nil
}

// runFilterChain folds the filter outcome into a MatchResult: veto
// becomes Rejected, a match keeps args and any filter data.
func (b *baseHandler) runFilterChain(u *Update, args []string) MatchResult {
	if b.filters == nil {
		return MatchResult{Verdict: Matched, Args: args}
	}
	res := b.filters.Check(u)
	if !res.Match {
		return MatchResult{Verdict: Rejected}
	}
	return MatchResult{Verdict: Matched, Args: args, Data: res.Data}
}

func (b *baseHandler) invoke(d *Dispatcher, u *Update, res MatchResult) error {
	ctx := d.newContext(u)
	ctx.bind(res)
	return b.callback(u, ctx)
}

// MessageHandler routes message-bearing updates gated purely by its
// filter chain. With a nil filter it accepts every new or edited
// message and channel post.
type MessageHandler struct {
	baseHandler
}

func NewMessageHandler(filter Filter, cb HandlerFunc) (*MessageHandler, error) {
	base, err := newBaseHandler("NewMessageHandler", cb, filter)
	if err != nil {
		return nil, err
	}
	return &MessageHandler{baseHandler: base}, nil
}

func (h *MessageHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.EffectiveMessage() == nil {
		return MatchResult{}
	}
	return h.runFilterChain(u, nil)
}

func (h *MessageHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

// CallbackQueryHandler routes callback queries, optionally gated by a
// pattern matched against the query data, anchored at its start.
type CallbackQueryHandler struct {
	baseHandler
	pattern *pattern
}

func NewCallbackQueryHandler(pattern string, cb HandlerFunc) (*CallbackQueryHandler, error) {
	base, err := newBaseHandler("NewCallbackQueryHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	p, err := newPattern("NewCallbackQueryHandler", pattern)
	if err != nil {
		return nil, err
	}
	return &CallbackQueryHandler{baseHandler: base, pattern: p}, nil
}

func (h *CallbackQueryHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.CallbackQuery == nil || u.CallbackQuery.Data == "" {
		return MatchResult{}
	}
	return h.pattern.runAgainst(u.CallbackQuery.Data)
}

func (h *CallbackQueryHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

// The remaining shape handlers gate on a single payload variant with
// no extraction of their own.

type ChosenInlineResultHandler struct {
	baseHandler
}

func NewChosenInlineResultHandler(cb HandlerFunc) (*ChosenInlineResultHandler, error) {
	base, err := newBaseHandler("NewChosenInlineResultHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	return &ChosenInlineResultHandler{baseHandler: base}, nil
}

func (h *ChosenInlineResultHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.ChosenInlineResult == nil {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched}
}

func (h *ChosenInlineResultHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

type ShippingQueryHandler struct {
	baseHandler
}

func NewShippingQueryHandler(cb HandlerFunc) (*ShippingQueryHandler, error) {
	base, err := newBaseHandler("NewShippingQueryHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	return &ShippingQueryHandler{baseHandler: base}, nil
}

func (h *ShippingQueryHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.ShippingQuery == nil {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched}
}

func (h *ShippingQueryHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

type PreCheckoutQueryHandler struct {
	baseHandler
}

func NewPreCheckoutQueryHandler(cb HandlerFunc) (*PreCheckoutQueryHandler, error) {
	base, err := newBaseHandler("NewPreCheckoutQueryHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	return &PreCheckoutQueryHandler{baseHandler: base}, nil
}

func (h *PreCheckoutQueryHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.PreCheckoutQuery == nil {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched}
}

func (h *PreCheckoutQueryHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

type PollHandler struct {
	baseHandler
}

func NewPollHandler(cb HandlerFunc) (*PollHandler, error) {
	base, err := newBaseHandler("NewPollHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	return &PollHandler{baseHandler: base}, nil
}

func (h *PollHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.Poll == nil {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched}
}

func (h *PollHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

type PollAnswerHandler struct {
	baseHandler
}

func NewPollAnswerHandler(cb HandlerFunc) (*PollAnswerHandler, error) {
	base, err := newBaseHandler("NewPollAnswerHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	return &PollAnswerHandler{baseHandler: base}, nil
}

func (h *PollAnswerHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.PollAnswer == nil {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched}
}

func (h *PollAnswerHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

// RawHandler receives every update regardless of variant. It obeys
// first-match-wins like any other handler, so register it in a
// trailing group when it is meant as a catch-all tap.
type RawHandler struct {
	baseHandler
}

func NewRawHandler(cb HandlerFunc) (*RawHandler, error) {
	base, err := newBaseHandler("NewRawHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	return &RawHandler{baseHandler: base}, nil
}

func (h *RawHandler) Check(_ *Dispatcher, _ *Update) MatchResult {
	return MatchResult{Verdict: Matched}
}

func (h *RawHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}
