package tgflow

import (
	"regexp"

	"github.com/pkg/errors"
)

// pattern is the optional regex gate shared by the pattern-driven
// handlers. A nil regexp accepts every text of the required shape.
type pattern struct {
	re *regexp.Regexp
}

func newPattern(tag, raw string) (*pattern, error) {
	if raw == "" {
		return &pattern{}, nil
	}
	re, err := compileAnchored(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] invalid pattern", tag)
	}
	return &pattern{re: re}, nil
}

// runAgainst matches text against the pattern, anchored at the start
// of the input. Without a pattern every text matches and no match
// object is produced.
func (p *pattern) runAgainst(text string) MatchResult {
	if p.re == nil {
		return MatchResult{Verdict: Matched}
	}
	m := matchPattern(p.re, text)
	if m == nil {
		return MatchResult{}
	}
	return MatchResult{Verdict: Matched, Matches: []*PatternMatch{m}}
}

// PatternHandler routes inline queries, optionally gated by a regex
// over the query text. The match is anchored at the start of the text
// but is not a full-string match; with no pattern configured the
// handler accepts every inline query that carries text.
type PatternHandler struct {
	baseHandler
	pattern *pattern
}

// NewPatternHandler compiles the pattern once; a malformed pattern is
// a configuration error. The empty string means no pattern.
func NewPatternHandler(pattern string, cb HandlerFunc) (*PatternHandler, error) {
	base, err := newBaseHandler("NewPatternHandler", cb, nil)
	if err != nil {
		return nil, err
	}
	p, err := newPattern("NewPatternHandler", pattern)
	if err != nil {
		return nil, err
	}
	return &PatternHandler{baseHandler: base, pattern: p}, nil
}

func (h *PatternHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	if u.InlineQuery == nil || u.InlineQuery.Query == "" {
		return MatchResult{}
	}
	return h.pattern.runAgainst(u.InlineQuery.Query)
}

func (h *PatternHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}
