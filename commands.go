// Copyright (c) 2025 @AmarnathCJD

package tgflow

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// commandRe is the legal shape of a command name after lower-casing.
var commandRe = regexp.MustCompile(`^[\da-z_]{1,32}$`)

// CommandHandler routes slash commands: messages that lead with a
// bot-command entity at offset zero whose name is one of the
// configured commands. Addressing a foreign bot (`/start@otherbot`)
// never matches; a bare `/start` always addresses the current bot.
type CommandHandler struct {
	baseHandler
	commands map[string]struct{}
}

// NewCommandHandler validates each command name against
// `^[\da-z_]{1,32}$` (case-insensitive) and fails construction
// otherwise. Without explicit filters the handler is gated by
// FilterMessage: new or edited messages, never channel posts.
// Multiple filters are combined conjunctively.
func NewCommandHandler(commands []string, cb HandlerFunc, filters ...Filter) (*CommandHandler, error) {
	base, err := newBaseHandler("NewCommandHandler", cb, commandFilters(filters))
	if err != nil {
		return nil, err
	}
	if len(commands) == 0 {
		return nil, errors.New("[NewCommandHandler] no commands given")
	}
	set := make(map[string]struct{}, len(commands))
	for _, c := range commands {
		c = strings.ToLower(c)
		if !commandRe.MatchString(c) {
			return nil, errors.Errorf("[NewCommandHandler] invalid command %q: only 1..32 of [a-z0-9_] allowed", c)
		}
		set[c] = struct{}{}
	}
	return &CommandHandler{baseHandler: base, commands: set}, nil
}

func commandFilters(filters []Filter) Filter {
	switch len(filters) {
	case 0:
		return FilterMessage
	case 1:
		return filters[0]
	}
	return And(filters...)
}

func (h *CommandHandler) Check(d *Dispatcher, u *Update) MatchResult {
	m := u.EffectiveMessage()
	if m == nil || !m.IsCommand() {
		return MatchResult{}
	}
	// The shortest well-formed command entity spans "/x".
	end := m.Entities[0].Length
	if end < 2 || end > len(m.Text) {
		return MatchResult{}
	}

	// Text holds "/name[@bot] args...": the entity spans the slash,
	// the name and the optional @bot suffix. A missing @bot segment
	// implicitly addresses the current bot.
	parts := strings.Split(m.Text[1:end], "@")
	parts = append(parts, d.botUsername())

	if !strings.EqualFold(parts[1], d.botUsername()) {
		return MatchResult{}
	}
	if _, ok := h.commands[strings.ToLower(parts[0])]; !ok {
		return MatchResult{}
	}
	return h.runFilterChain(u, m.Args())
}

func (h *CommandHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}

// PrefixHandler recognizes commands led by arbitrary prefixes like
// `!` or `#` instead of the platform's slash syntax. It needs no
// command entity and does no @botname disambiguation: prefixes are
// bot-local by convention.
type PrefixHandler struct {
	baseHandler
	commands map[string]struct{}
}

// NewPrefixHandler builds the recognition set as the cross product of
// every (prefix, command) pair, lower-cased and concatenated, so
// prefixes {"!", "#"} with command "test" match "!test" and "#test".
func NewPrefixHandler(prefixes, commands []string, cb HandlerFunc, filters ...Filter) (*PrefixHandler, error) {
	base, err := newBaseHandler("NewPrefixHandler", cb, commandFilters(filters))
	if err != nil {
		return nil, err
	}
	if len(prefixes) == 0 || len(commands) == 0 {
		return nil, errors.New("[NewPrefixHandler] prefixes and commands must be non-empty")
	}
	set := make(map[string]struct{}, len(prefixes)*len(commands))
	for _, p := range prefixes {
		if p == "" {
			return nil, errors.New("[NewPrefixHandler] empty prefix")
		}
		for _, c := range commands {
			if c == "" {
				return nil, errors.New("[NewPrefixHandler] empty command")
			}
			set[strings.ToLower(p+c)] = struct{}{}
		}
	}
	return &PrefixHandler{baseHandler: base, commands: set}, nil
}

func (h *PrefixHandler) Check(_ *Dispatcher, u *Update) MatchResult {
	m := u.EffectiveMessage()
	if m == nil || m.Text == "" {
		return MatchResult{}
	}
	fields := strings.Fields(m.Text)
	if len(fields) == 0 {
		return MatchResult{}
	}
	if _, ok := h.commands[strings.ToLower(fields[0])]; !ok {
		return MatchResult{}
	}
	return h.runFilterChain(u, fields[1:])
}

func (h *PrefixHandler) Handle(d *Dispatcher, u *Update, res MatchResult) error {
	return h.invoke(d, u, res)
}
