package tgflow

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// FilterResult is the outcome of one filter evaluation. Match false
// means the filter vetoed the update; Match true with a non-empty
// Data map means "matched with extracted data" and the map is merged
// into the CallbackContext before the callback runs.
type FilterResult struct {
	Match bool
	Data  map[string]any
}

// Filter gates message-oriented handlers. Implementations must be
// pure: stateless, no side effects, re-evaluated on every update.
type Filter interface {
	Check(u *Update) FilterResult
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc func(u *Update) FilterResult

func (f FilterFunc) Check(u *Update) FilterResult { return f(u) }

// And combines filters conjunctively. Evaluation short-circuits on
// the first non-match; data maps of the matching branches are merged
// left to right, later keys winning.
func And(filters ...Filter) Filter {
	return FilterFunc(func(u *Update) FilterResult {
		var data map[string]any
		for _, f := range filters {
			res := f.Check(u)
			if !res.Match {
				return FilterResult{}
			}
			data = mergeData(data, res.Data)
		}
		return FilterResult{Match: true, Data: data}
	})
}

// Or combines filters disjunctively, short-circuiting on the first
// match. Only the winning branch's data survives.
func Or(filters ...Filter) Filter {
	return FilterFunc(func(u *Update) FilterResult {
		for _, f := range filters {
			if res := f.Check(u); res.Match {
				return res
			}
		}
		return FilterResult{}
	})
}

// Not inverts a filter. Inversion is boolean only: negating a match
// that carried data yields a plain non-match and the data is
// discarded.
func Not(f Filter) Filter {
	return FilterFunc(func(u *Update) FilterResult {
		return FilterResult{Match: !f.Check(u).Match}
	})
}

var (
	// FilterAll matches every update.
	FilterAll = FilterFunc(func(u *Update) FilterResult {
		return FilterResult{Match: true}
	})

	// FilterMessage matches new and edited chat messages, excluding
	// channel posts. This is the default gate for command handlers.
	FilterMessage = FilterFunc(func(u *Update) FilterResult {
		return FilterResult{Match: u.Message != nil || u.EditedMessage != nil}
	})

	// FilterChannelPost matches new and edited channel posts.
	FilterChannelPost = FilterFunc(func(u *Update) FilterResult {
		return FilterResult{Match: u.ChannelPost != nil || u.EditedChannelPost != nil}
	})

	// FilterText matches any update whose effective message has text.
	FilterText = FilterFunc(func(u *Update) FilterResult {
		m := u.EffectiveMessage()
		return FilterResult{Match: m != nil && m.Text != ""}
	})

	// FilterCommandShape matches messages that lead with a
	// bot-command entity at offset zero.
	FilterCommandShape = FilterFunc(func(u *Update) FilterResult {
		m := u.EffectiveMessage()
		return FilterResult{Match: m != nil && m.IsCommand()}
	})

	FilterPrivate = chatTypeFilter(ChatPrivate)
	FilterGroup   = FilterFunc(func(u *Update) FilterResult {
		m := u.EffectiveMessage()
		return FilterResult{Match: m != nil && m.IsGroup()}
	})
	FilterChannel = chatTypeFilter(ChatChannel)
)

func chatTypeFilter(chatType string) FilterFunc {
	return func(u *Update) FilterResult {
		c := u.EffectiveChat()
		return FilterResult{Match: c != nil && c.Type == chatType}
	}
}

// FilterUsers matches updates whose effective user is one of ids.
func FilterUsers(ids ...int64) Filter {
	return FilterFunc(func(u *Update) FilterResult {
		from := u.EffectiveUser()
		if from == nil {
			return FilterResult{}
		}
		for _, id := range ids {
			if from.ID == id {
				return FilterResult{Match: true}
			}
		}
		return FilterResult{}
	})
}

// FilterChats matches updates whose effective chat is one of ids.
func FilterChats(ids ...int64) Filter {
	return FilterFunc(func(u *Update) FilterResult {
		chat := u.EffectiveChat()
		if chat == nil {
			return FilterResult{}
		}
		for _, id := range ids {
			if chat.ID == id {
				return FilterResult{Match: true}
			}
		}
		return FilterResult{}
	})
}

// FilterRegex matches effective-message text against pattern,
// anchored at the start of the text. On match the result carries
// {"matches": []*PatternMatch} which handlers promote onto
// CallbackContext.Matches. The pattern is compiled once here;
// a bad pattern is a configuration error.
func FilterRegex(pattern string) (Filter, error) {
	re, err := compileAnchored(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "[FilterRegex] invalid pattern")
	}
	return FilterFunc(func(u *Update) FilterResult {
		m := u.EffectiveMessage()
		if m == nil || m.Text == "" {
			return FilterResult{}
		}
		match := matchPattern(re, m.Text)
		if match == nil {
			return FilterResult{}
		}
		return FilterResult{Match: true, Data: map[string]any{
			dataKeyMatches: []*PatternMatch{match},
		}}
	}), nil
}

// FilterCustom adapts a plain boolean predicate.
func FilterCustom(fn func(u *Update) bool) Filter {
	return FilterFunc(func(u *Update) FilterResult {
		return FilterResult{Match: fn(u)}
	})
}

// compileAnchored compiles pattern so that matching is anchored at
// the start of the input but not at its end.
func compileAnchored(pattern string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^(?:" + pattern + ")"
	}
	return regexp.Compile(pattern)
}

// matchPattern runs re against text and converts the leftmost
// anchored match into a PatternMatch, or nil.
func matchPattern(re *regexp.Regexp, text string) *PatternMatch {
	idx := re.FindStringSubmatchIndex(text)
	if idx == nil {
		return nil
	}
	groups := make([]string, 0, re.NumSubexp())
	for g := 1; g <= re.NumSubexp(); g++ {
		if idx[2*g] < 0 {
			groups = append(groups, "")
			continue
		}
		groups = append(groups, text[idx[2*g]:idx[2*g+1]])
	}
	return &PatternMatch{
		Text:   text[idx[0]:idx[1]],
		Groups: groups,
		Index:  [2]int{idx[0], idx[1]},
	}
}

func mergeData(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
