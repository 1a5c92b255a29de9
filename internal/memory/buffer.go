package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MessageLog persists buffer activity. Evicted messages are tombstoned,
// never deleted, so the full history stays auditable.
type MessageLog interface {
	SaveMessage(ctx context.Context, sessionKey string, msg Message) error
	TombstoneOldest(ctx context.Context, sessionKey string) error
	ClearMessages(ctx context.Context, sessionKey string) error
}

// ConversationBuffer is a token-bounded FIFO of conversation turns.
// The in-memory state is the source of truth; the MessageLog is a durable
// shadow whose failures never surface to Add.
type ConversationBuffer struct {
	sessionKey string
	limit      int
	total      int
	messages   []Message
	log        MessageLog
	logger     *zap.Logger
}

// persistRetries bounds the async write retry loop.
const persistRetries = 3

// NewConversationBuffer creates a buffer with the given token limit.
// log may be nil for purely in-memory operation.
func NewConversationBuffer(sessionKey string, tokenLimit int, log MessageLog, logger *zap.Logger) *ConversationBuffer {
	return &ConversationBuffer{
		sessionKey: sessionKey,
		limit:      tokenLimit,
		log:        log,
		logger:     logger,
	}
}

// Add appends a message, evicting oldest-first until the token budget holds.
// A message larger than the whole budget is still admitted after the buffer
// fully drains; oversized input is never rejected.
func (b *ConversationBuffer) Add(role Role, content string) Message {
	msg := Message{
		Role:          role,
		Content:       content,
		TokenEstimate: EstimateTokens(content),
		CreatedAt:     time.Now(),
		Active:        true,
	}

	for b.total+msg.TokenEstimate > b.limit && len(b.messages) > 0 {
		evicted := b.messages[0]
		b.messages = b.messages[1:]
		b.total -= evicted.TokenEstimate
		b.persist(func(ctx context.Context) error {
			return b.log.TombstoneOldest(ctx, b.sessionKey)
		}, "tombstone oldest message")
	}

	b.messages = append(b.messages, msg)
	b.total += msg.TokenEstimate
	b.persist(func(ctx context.Context) error {
		return b.log.SaveMessage(ctx, b.sessionKey, msg)
	}, "save message")

	b.logger.Debug("message buffered",
		zap.String("session", b.sessionKey),
		zap.String("role", string(role)),
		zap.Int("tokens", b.total))
	return msg
}

// Restore seeds the buffer from its durable shadow without re-persisting
// the rows. If the token limit shrank since the rows were written, the
// oldest messages are evicted and tombstoned as usual.
func (b *ConversationBuffer) Restore(msgs []Message) {
	b.messages = append([]Message(nil), msgs...)
	b.total = 0
	for _, m := range msgs {
		b.total += m.TokenEstimate
	}
	for b.total > b.limit && len(b.messages) > 1 {
		evicted := b.messages[0]
		b.messages = b.messages[1:]
		b.total -= evicted.TokenEstimate
		b.persist(func(ctx context.Context) error {
			return b.log.TombstoneOldest(ctx, b.sessionKey)
		}, "tombstone oldest message")
	}
}

// Snapshot returns a copy of the active messages, newest-last.
func (b *ConversationBuffer) Snapshot() []Message {
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// ContextString renders the buffer as "role: content" lines.
func (b *ConversationBuffer) ContextString() string {
	var sb strings.Builder
	for i, m := range b.messages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", m.Role, m.Content)
	}
	return sb.String()
}

// TokenCount returns the active-token sum.
func (b *ConversationBuffer) TokenCount() int { return b.total }

// Len returns the number of active messages.
func (b *ConversationBuffer) Len() int { return len(b.messages) }

// Clear drops all active messages and tombstones the persisted rows.
func (b *ConversationBuffer) Clear() {
	b.messages = nil
	b.total = 0
	b.persist(func(ctx context.Context) error {
		return b.log.ClearMessages(ctx, b.sessionKey)
	}, "clear messages")
}

// persist runs a log write asynchronously with bounded retries. Storage
// trouble is logged and retried, never raised to the caller: the buffer's
// in-memory state must stay correct regardless of the durable shadow.
func (b *ConversationBuffer) persist(op func(context.Context) error, what string) {
	if b.log == nil {
		return
	}
	go func() {
		var err error
		for attempt := 0; attempt <= persistRetries; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = op(ctx)
			cancel()
			if err == nil {
				return
			}
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
		b.logger.Warn("buffer persistence failed",
			zap.String("session", b.sessionKey),
			zap.String("op", what),
			zap.Error(err))
	}()
}
