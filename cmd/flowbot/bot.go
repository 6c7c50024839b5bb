package main

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// stdoutBot answers by printing one JSON line per outbound call, the
// mirror image of the stdin transport. Scripts drive the binary by
// piping updates in and reading replies out.
type stdoutBot struct {
	username string

	mu  sync.Mutex
	enc *json.Encoder
}

func newStdoutBot(username string) *stdoutBot {
	return &stdoutBot{username: username, enc: json.NewEncoder(os.Stdout)}
}

type outboundCall struct {
	Method  string `json:"method"`
	ChatID  int64  `json:"chat_id,omitempty"`
	QueryID string `json:"query_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Results any    `json:"results,omitempty"`
}

func (b *stdoutBot) Username() string { return b.username }

func (b *stdoutBot) SendMessage(_ context.Context, chatID int64, text string) error {
	return b.emit(outboundCall{Method: "sendMessage", ChatID: chatID, Text: text})
}

func (b *stdoutBot) AnswerCallbackQuery(_ context.Context, queryID, text string) error {
	return b.emit(outboundCall{Method: "answerCallbackQuery", QueryID: queryID, Text: text})
}

func (b *stdoutBot) AnswerInlineQuery(_ context.Context, queryID string, results any) error {
	return b.emit(outboundCall{Method: "answerInlineQuery", QueryID: queryID, Results: results})
}

func (b *stdoutBot) emit(call outboundCall) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enc.Encode(call)
}
