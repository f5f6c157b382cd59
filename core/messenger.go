package core

import "context"

// Button is one interactive action attached to a chat message. Value carries
// the run id so the front end can route the action back to the bridge.
type Button struct {
	ActionID string
	Label    string
	Style    string // "primary", "danger" or empty for default
	Value    string
}

// Message is an outbound chat message. ThreadRef scopes the message into an
// existing thread when non-empty.
type Message struct {
	ChannelID string
	ThreadRef string
	Text      string
	Buttons   []Button
}

// Messenger abstracts the chat platform surface the bridge drives: plain and
// interactive messages, ephemeral requester-only notices, and incremental
// streaming message sessions identified by an opaque reference.
//
// Streaming contract: StartStream opens one incremental message in a thread;
// AppendStream appends markdown text to it in call order; StopStream closes
// it, optionally appending a final fragment. Calling AppendStream or
// StopStream with an unknown or already-stopped reference is a platform
// error; idempotence is layered on top by chat.Session.
type Messenger interface {
	// PostMessage posts a message and returns its platform reference.
	PostMessage(ctx context.Context, msg Message) (string, error)

	// UpdateMessage replaces the text (and buttons) of an existing message.
	UpdateMessage(ctx context.Context, channelID, ref string, msg Message) error

	// PostEphemeral posts a notice visible only to userID.
	PostEphemeral(ctx context.Context, channelID, userID, text string) error

	// StartStream opens an incremental message session in a thread and
	// returns the session reference.
	StartStream(ctx context.Context, channelID, threadRef string) (string, error)

	// AppendStream appends text to an open session.
	AppendStream(ctx context.Context, channelID, ref, text string) error

	// StopStream closes a session, optionally flushing finalText first.
	StopStream(ctx context.Context, channelID, ref, finalText string) error
}
