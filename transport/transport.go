// Package transport delivers pipeline progress and answers to the
// operator. The engine talks to the Transport interface only; the
// Telegram implementation is the production transport and the console
// implementation backs the one-shot CLI mode.
package transport

import "context"

// MessageHandle identifies a sent message so it can be edited in
// place.
type MessageHandle int

// Transport sends and edits chat messages. All operations are
// best-effort from the pipeline's point of view: the engine logs
// failures and keeps going.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) (MessageHandle, error)
	Edit(ctx context.Context, chatID int64, handle MessageHandle, text string) error
}
