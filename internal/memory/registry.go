package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lumenlab/scholar/internal/index"
	"go.uber.org/zap"
)

// SessionRecovery loads a session's durable shadow so a restarted process
// resumes with its conversation and facts intact.
type SessionRecovery interface {
	ActiveMessages(ctx context.Context, sessionKey string) ([]Message, error)
	Facts(ctx context.Context, sessionKey string) ([]Fact, error)
}

// Registry owns all live sessions. Sessions are created lazily on first
// reference and live until an explicit Delete or an idle sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	tokenLimit int
	maxFacts   int
	msgLog     MessageLog
	factLog    FactLog
	recovery   SessionRecovery
	logger     *zap.Logger
}

// NewRegistry creates a session registry. msgLog and factLog may be nil.
func NewRegistry(tokenLimit, maxFacts int, msgLog MessageLog, factLog FactLog, logger *zap.Logger) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		tokenLimit: tokenLimit,
		maxFacts:   maxFacts,
		msgLog:     msgLog,
		factLog:    factLog,
		logger:     logger,
	}
}

// Get returns the session for key, creating it on first reference.
func (r *Registry) Get(key string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[key]
	r.mu.RUnlock()
	if ok {
		s.Touch()
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		s.Touch()
		return s
	}

	s = &Session{
		Key:    key,
		Buffer: NewConversationBuffer(key, r.tokenLimit, r.msgLog, r.logger),
		Facts:  NewFactStore(key, r.maxFacts, r.factLog, r.logger),
		Index:  index.New(r.logger),
	}
	r.recover(s)
	s.Touch()
	r.sessions[key] = s
	r.logger.Info("session created", zap.String("session", key))
	return s
}

// SetRecovery attaches a durable shadow to restore sessions from on first
// reference. Call before serving traffic.
func (r *Registry) SetRecovery(rec SessionRecovery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recovery = rec
}

// recover seeds a fresh session from the durable shadow. Failures degrade
// to an empty session; recovery is best effort.
func (r *Registry) recover(s *Session) {
	if r.recovery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := r.recovery.ActiveMessages(ctx, s.Key)
	if err != nil {
		r.logger.Warn("message recovery failed", zap.String("session", s.Key), zap.Error(err))
	} else if len(msgs) > 0 {
		s.Buffer.Restore(msgs)
	}

	facts, err := r.recovery.Facts(ctx, s.Key)
	if err != nil {
		r.logger.Warn("fact recovery failed", zap.String("session", s.Key), zap.Error(err))
	} else if len(facts) > 0 {
		s.Facts.Restore(facts)
	}

	if len(msgs) > 0 || len(facts) > 0 {
		r.logger.Info("session recovered",
			zap.String("session", s.Key),
			zap.Int("messages", len(msgs)),
			zap.Int("facts", len(facts)))
	}
}

// Lookup returns the session for key without creating one.
func (r *Registry) Lookup(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Delete removes a session, clearing its buffer, fact store and index
// together so no partial state survives.
func (r *Registry) Delete(key string) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	s.Lock()
	s.Buffer.Clear()
	s.Facts.Clear()
	s.Index.Clear()
	s.Unlock()
	r.logger.Info("session deleted", zap.String("session", key))
	return true
}

// Keys returns the keys of all live sessions.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepIdle starts a background loop evicting sessions idle longer than
// maxIdle. Cancel the context to stop.
func (r *Registry) SweepIdle(ctx context.Context, interval, maxIdle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-maxIdle)
				for _, key := range r.Keys() {
					r.mu.RLock()
					s, ok := r.sessions[key]
					r.mu.RUnlock()
					if ok && s.LastActive().Before(cutoff) {
						r.Delete(key)
						r.logger.Info("idle session evicted", zap.String("session", key))
					}
				}
			}
		}
	}()
}
