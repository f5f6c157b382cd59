package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/runbridge/core"
	"github.com/hupe1980/runbridge/logging"
)

// SessionOptions holds configuration overrides passed to OpenSession.
type SessionOptions struct {
	// Logger receives append/close diagnostics.
	Logger logging.Logger
}

// Session is one open incremental streaming message. At most one session is
// open per run at a time; the bridge opens one for the planning phase and one
// for report delivery. All methods are nil-safe so callers can hold a nil
// *Session on paths that never opened a stream.
type Session struct {
	messenger core.Messenger
	logger    logging.Logger
	channelID string
	ref       string

	mu   sync.Mutex
	open bool
}

// OpenSession starts a new streaming message in the given thread and returns
// the session handle.
func OpenSession(ctx context.Context, messenger core.Messenger, channelID, threadRef string, optFns ...func(o *SessionOptions)) (*Session, error) {
	opts := SessionOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	ref, err := messenger.StartStream(ctx, channelID, threadRef)
	if err != nil {
		return nil, fmt.Errorf("start stream: %w", err)
	}
	return &Session{
		messenger: messenger,
		logger:    opts.Logger,
		channelID: channelID,
		ref:       ref,
		open:      true,
	}, nil
}

// Ref returns the platform reference of the streaming message, or empty for
// a nil session.
func (s *Session) Ref() string {
	if s == nil {
		return ""
	}
	return s.ref
}

// IsOpen reports whether the session still accepts appends.
func (s *Session) IsOpen() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Append adds text to the open session. Appending to a nil or closed session
// is a no-op; empty text is skipped. Delivery failures are returned for the
// caller to log, never to abort on.
func (s *Session) Append(ctx context.Context, text string) error {
	if s == nil || text == "" {
		return nil
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.messenger.AppendStream(ctx, s.channelID, s.ref, text); err != nil {
		return fmt.Errorf("append stream: %w", err)
	}
	return nil
}

// Close stops the streaming message, optionally flushing finalText first.
// Close is idempotent: the second and later calls are no-ops, and failures
// are logged rather than propagated since already-delivered content is not
// at risk.
func (s *Session) Close(ctx context.Context, finalText string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.mu.Unlock()

	if err := s.messenger.StopStream(ctx, s.channelID, s.ref, finalText); err != nil {
		s.logger.Error("failed to stop stream", "channel_id", s.channelID, "ref", s.ref, "error", err)
	}
}
