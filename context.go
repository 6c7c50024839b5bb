package tgflow

import (
	"context"
	"time"
)

// Bot is the outbound client handed through to callbacks. The core
// never calls it except for Username, which command addressing needs;
// everything else is pass-through surface for user callbacks.
type Bot interface {
	Username() string
	SendMessage(ctx context.Context, chatID int64, text string) error
	AnswerCallbackQuery(ctx context.Context, queryID, text string) error
	AnswerInlineQuery(ctx context.Context, queryID string, results any) error
}

// Scheduler is the job-queue collaborator, opaque to the core.
type Scheduler interface {
	Schedule(name string, in time.Duration, fn func(ctx context.Context)) error
}

// CallbackContext is the mutable per-dispatch-cycle bag handed to the
// user callback. The dispatcher builds one per matched update; it is
// never shared across concurrent cycles.
//
// Args, Matches, ViewModel and Data are filled by the matching
// handler: command handlers set Args, pattern handlers set Matches,
// the session handler sets ViewModel, and data-carrying filters merge
// into Data. The remaining fields are process-wide collaborators
// wired by the dispatcher.
type CallbackContext struct {
	Args      []string
	Matches   []*PatternMatch
	ViewModel any
	Data      map[string]any

	// Bot is the outbound client; nil when the dispatcher runs
	// without one.
	Bot Bot
	// UserData and ChatData are the live per-user and per-chat maps,
	// shared by reference across this user's/chat's dispatch cycles.
	// Nil when the update carries no effective user or chat.
	UserData map[string]any
	ChatData map[string]any
	Jobs     Scheduler
	// Updates lets callbacks feed synthetic updates back into the
	// dispatch queue.
	Updates chan<- *Update
}

// bind copies the extracted match payload onto the context.
func (c *CallbackContext) bind(res MatchResult) {
	c.Args = res.Args
	if res.Matches != nil {
		c.Matches = res.Matches
	}
	if res.Record != nil {
		c.ViewModel = res.Record.ModelData
	}
	if len(res.Data) == 0 {
		return
	}
	c.Data = mergeData(c.Data, res.Data)
	if c.Matches == nil {
		if ms, ok := res.Data[dataKeyMatches].([]*PatternMatch); ok {
			c.Matches = ms
		}
	}
}
