package tgflow_test

import (
	"context"
	"testing"

	"github.com/amarnathcjd/tgflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineUpdate(query string) *tgflow.Update {
	return &tgflow.Update{
		InlineQuery: &tgflow.InlineQuery{
			ID:    "iq1",
			From:  &tgflow.User{ID: 7},
			Query: query,
		},
	}
}

func cbqUpdate(data string) *tgflow.Update {
	return &tgflow.Update{
		CallbackQuery: &tgflow.CallbackQuery{
			ID:   "cbq1",
			From: &tgflow.User{ID: 7},
			Message: &tgflow.Message{
				ID:   5,
				Chat: &tgflow.Chat{ID: 10, Type: tgflow.ChatPrivate},
			},
			Data: data,
		},
	}
}

func TestNewPatternHandlerValidation(t *testing.T) {
	_, err := tgflow.NewPatternHandler("(", noop)
	assert.Error(t, err, "malformed pattern")

	_, err = tgflow.NewPatternHandler("ok", nil)
	assert.Error(t, err, "nil callback")
}

func TestPatternHandlerNoPattern(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	h, err := tgflow.NewPatternHandler("", noop)
	require.NoError(t, err)

	res := h.Check(d, inlineUpdate("anything at all"))
	assert.Equal(t, tgflow.Matched, res.Verdict)
	assert.Empty(t, res.Matches, "no pattern, no match object")

	assert.Equal(t, tgflow.NoMatch, h.Check(d, inlineUpdate("")).Verdict, "empty query text")
	assert.Equal(t, tgflow.NoMatch, h.Check(d, textUpdate("not an inline query")).Verdict)
}

func TestPatternHandlerAnchored(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	h, err := tgflow.NewPatternHandler("foo", noop)
	require.NoError(t, err)

	res := h.Check(d, inlineUpdate("foobar"))
	require.Equal(t, tgflow.Matched, res.Verdict)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, "foo", res.Matches[0].Text)
	assert.Equal(t, [2]int{0, 3}, res.Matches[0].Index)

	assert.Equal(t, tgflow.NoMatch, h.Check(d, inlineUpdate("barfoo")).Verdict, "match must start the text")
}

func TestPatternHandlerGroups(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	h, err := tgflow.NewPatternHandler(`weather (\S+)(?: (\S+))?`, noop)
	require.NoError(t, err)

	res := h.Check(d, inlineUpdate("weather london tomorrow"))
	require.Equal(t, tgflow.Matched, res.Verdict)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, []string{"london", "tomorrow"}, res.Matches[0].Groups)

	// An unmatched optional group comes back empty, keeping group
	// indexes stable.
	res = h.Check(d, inlineUpdate("weather london"))
	require.Equal(t, tgflow.Matched, res.Verdict)
	assert.Equal(t, []string{"london", ""}, res.Matches[0].Groups)
}

func TestPatternHandlerDispatch(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var got []*tgflow.PatternMatch
	h, err := tgflow.NewPatternHandler(`weather (.+)`, func(_ *tgflow.Update, ctx *tgflow.CallbackContext) error {
		got = ctx.Matches
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	assert.True(t, d.ProcessUpdate(context.Background(), inlineUpdate("weather london")))
	require.Len(t, got, 1)
	assert.Equal(t, "weather london", got[0].Text)
	assert.Equal(t, []string{"london"}, got[0].Groups)

	assert.False(t, d.ProcessUpdate(context.Background(), inlineUpdate("news london")))
}

func TestCallbackQueryHandler(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	catchAll, err := tgflow.NewCallbackQueryHandler("", noop)
	require.NoError(t, err)
	assert.Equal(t, tgflow.Matched, catchAll.Check(d, cbqUpdate("whatever")).Verdict)
	assert.Equal(t, tgflow.NoMatch, catchAll.Check(d, cbqUpdate("")).Verdict, "empty callback data")
	assert.Equal(t, tgflow.NoMatch, catchAll.Check(d, textUpdate("hello")).Verdict)

	menu, err := tgflow.NewCallbackQueryHandler(`menu:(\w+)`, noop)
	require.NoError(t, err)

	res := menu.Check(d, cbqUpdate("menu:games"))
	require.Equal(t, tgflow.Matched, res.Verdict)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, []string{"games"}, res.Matches[0].Groups)

	assert.Equal(t, tgflow.NoMatch, menu.Check(d, cbqUpdate("settings:sound")).Verdict)
}

func TestCallbackQueryHandlerDispatch(t *testing.T) {
	d := newTestDispatcher(t, tgflow.DispatcherConfig{})

	var section string
	h, err := tgflow.NewCallbackQueryHandler(`menu:(\w+)`, func(_ *tgflow.Update, ctx *tgflow.CallbackContext) error {
		section = ctx.Matches[0].Groups[0]
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, d.AddHandler(h))

	assert.True(t, d.ProcessUpdate(context.Background(), cbqUpdate("menu:audio")))
	assert.Equal(t, "audio", section)
}
