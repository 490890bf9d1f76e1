// Package transport defines the messaging-channel boundary. The core depends
// on this small surface only, not on any particular provider API.
package transport

import "context"

// ChatTarget identifies a delivery address on the channel.
type ChatTarget struct {
	ChatID int64
}

// Message is an inbound command message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

// SendOptions carries delivery hints. Silent marks a message low-priority at
// the channel level; it is a hint, not a correctness property.
type SendOptions struct {
	Silent         bool
	DisablePreview bool
	ParseMode      string
}

// Handler processes one inbound command message.
type Handler func(ctx context.Context, m Message)

// Sender delivers one text message to one target.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// Adapter is a full messaging channel: inbound command dispatch plus outbound
// delivery.
type Adapter interface {
	Sender

	// Handle registers a command handler (e.g. "/start"). Must be called
	// before Start.
	Handle(command string, h Handler)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
