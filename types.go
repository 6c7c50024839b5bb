// Copyright (c) 2025 @AmarnathCJD

package tgflow

import "strings"

// Update kinds, one per payload variant.
const (
	OnNewMessage         = "OnNewMessage"
	OnEditMessage        = "OnEditMessage"
	OnChannelPost        = "OnChannelPost"
	OnEditChannelPost    = "OnEditChannelPost"
	OnInlineQuery        = "OnInlineQuery"
	OnCallbackQuery      = "OnCallbackQuery"
	OnChosenInlineResult = "OnChosenInlineResult"
	OnShippingQuery      = "OnShippingQuery"
	OnPreCheckoutQuery   = "OnPreCheckoutQuery"
	OnPollAnswer         = "OnPollAnswer"
	OnPoll               = "OnPoll"
	OnUnknown            = "OnUnknown"
)

const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSuperGroup = "supergroup"
	ChatChannel    = "channel"

	EntityBotCommand = "bot_command"
)

// Update is one inbound platform event. Exactly one of the payload
// fields is populated; ID is monotonically increasing per source but
// not gap-free. Updates are immutable once constructed and read-only
// to handlers for the duration of a dispatch cycle.
type Update struct {
	ID                 int64               `json:"update_id"`
	Message            *Message            `json:"message,omitempty"`
	EditedMessage      *Message            `json:"edited_message,omitempty"`
	ChannelPost        *Message            `json:"channel_post,omitempty"`
	EditedChannelPost  *Message            `json:"edited_channel_post,omitempty"`
	InlineQuery        *InlineQuery        `json:"inline_query,omitempty"`
	CallbackQuery      *CallbackQuery      `json:"callback_query,omitempty"`
	ChosenInlineResult *ChosenInlineResult `json:"chosen_inline_result,omitempty"`
	ShippingQuery      *ShippingQuery      `json:"shipping_query,omitempty"`
	PreCheckoutQuery   *PreCheckoutQuery   `json:"pre_checkout_query,omitempty"`
	PollAnswer         *PollAnswer         `json:"poll_answer,omitempty"`
	Poll               *Poll               `json:"poll,omitempty"`
}

// Kind reports which payload variant this update carries.
func (u *Update) Kind() string {
	switch {
	case u.Message != nil:
		return OnNewMessage
	case u.EditedMessage != nil:
		return OnEditMessage
	case u.ChannelPost != nil:
		return OnChannelPost
	case u.EditedChannelPost != nil:
		return OnEditChannelPost
	case u.InlineQuery != nil:
		return OnInlineQuery
	case u.CallbackQuery != nil:
		return OnCallbackQuery
	case u.ChosenInlineResult != nil:
		return OnChosenInlineResult
	case u.ShippingQuery != nil:
		return OnShippingQuery
	case u.PreCheckoutQuery != nil:
		return OnPreCheckoutQuery
	case u.PollAnswer != nil:
		return OnPollAnswer
	case u.Poll != nil:
		return OnPoll
	}
	return OnUnknown
}

// EffectiveMessage returns whichever of message, edited_message,
// channel_post or edited_channel_post is present, or nil.
func (u *Update) EffectiveMessage() *Message {
	switch {
	case u.Message != nil:
		return u.Message
	case u.EditedMessage != nil:
		return u.EditedMessage
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost
	}
	return nil
}

// EffectiveChat returns the chat this update belongs to, or nil for
// chat-less updates (inline queries, polls, ...).
func (u *Update) EffectiveChat() *Chat {
	if m := u.EffectiveMessage(); m != nil {
		return m.Chat
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil {
		return u.CallbackQuery.Message.Chat
	}
	return nil
}

// EffectiveUser returns the user who triggered this update, or nil.
func (u *Update) EffectiveUser() *User {
	switch {
	case u.Message != nil:
		return u.Message.From
	case u.EditedMessage != nil:
		return u.EditedMessage.From
	case u.CallbackQuery != nil:
		return u.CallbackQuery.From
	case u.InlineQuery != nil:
		return u.InlineQuery.From
	case u.ChosenInlineResult != nil:
		return u.ChosenInlineResult.From
	case u.ShippingQuery != nil:
		return u.ShippingQuery.From
	case u.PreCheckoutQuery != nil:
		return u.PreCheckoutQuery.From
	case u.PollAnswer != nil:
		return u.PollAnswer.User
	case u.ChannelPost != nil:
		return u.ChannelPost.From
	case u.EditedChannelPost != nil:
		return u.EditedChannelPost.From
	}
	return nil
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

type MessageEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
}

type Message struct {
	ID       int32           `json:"message_id"`
	From     *User           `json:"from,omitempty"`
	Chat     *Chat           `json:"chat"`
	Date     int64           `json:"date,omitempty"`
	Text     string          `json:"text,omitempty"`
	Caption  string          `json:"caption,omitempty"`
	Entities []MessageEntity `json:"entities,omitempty"`
}

// IsCommand reports whether the message leads with a bot-command
// entity at offset zero, i.e. the text begins with a `/command`.
func (m *Message) IsCommand() bool {
	return len(m.Entities) > 0 && m.Entities[0].Type == EntityBotCommand && m.Entities[0].Offset == 0
}

// Command returns the leading command name without the slash and
// without any @botname suffix, lower-cased. Empty when IsCommand is
// false.
func (m *Message) Command() string {
	if !m.IsCommand() {
		return ""
	}
	fields := strings.Fields(m.Text)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

// Args returns the whitespace-separated tokens following the first
// token of the message text.
func (m *Message) Args() []string {
	fields := strings.Fields(m.Text)
	if len(fields) < 2 {
		return []string{}
	}
	return fields[1:]
}

func (m *Message) IsPrivate() bool {
	return m.Chat != nil && m.Chat.Type == ChatPrivate
}

func (m *Message) IsGroup() bool {
	return m.Chat != nil && (m.Chat.Type == ChatGroup || m.Chat.Type == ChatSuperGroup)
}

func (m *Message) IsChannel() bool {
	return m.Chat != nil && m.Chat.Type == ChatChannel
}

type CallbackQuery struct {
	ID           string   `json:"id"`
	From         *User    `json:"from"`
	Message      *Message `json:"message,omitempty"`
	ChatInstance string   `json:"chat_instance,omitempty"`
	Data         string   `json:"data,omitempty"`
}

type InlineQuery struct {
	ID     string `json:"id"`
	From   *User  `json:"from"`
	Query  string `json:"query"`
	Offset string `json:"offset,omitempty"`
}

type ChosenInlineResult struct {
	ResultID string `json:"result_id"`
	From     *User  `json:"from"`
	Query    string `json:"query,omitempty"`
}

type ShippingQuery struct {
	ID             string `json:"id"`
	From           *User  `json:"from"`
	InvoicePayload string `json:"invoice_payload,omitempty"`
}

type PreCheckoutQuery struct {
	ID             string `json:"id"`
	From           *User  `json:"from"`
	Currency       string `json:"currency,omitempty"`
	TotalAmount    int64  `json:"total_amount,omitempty"`
	InvoicePayload string `json:"invoice_payload,omitempty"`
}

type PollOption struct {
	Text       string `json:"text"`
	VoterCount int    `json:"voter_count"`
}

type Poll struct {
	ID              string       `json:"id"`
	Question        string       `json:"question"`
	Options         []PollOption `json:"options,omitempty"`
	TotalVoterCount int          `json:"total_voter_count,omitempty"`
	IsClosed        bool         `json:"is_closed,omitempty"`
}

type PollAnswer struct {
	PollID    string `json:"poll_id"`
	User      *User  `json:"user"`
	OptionIDs []int  `json:"option_ids"`
}
