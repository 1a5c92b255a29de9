package memory

import (
	"sync"
	"time"

	"github.com/lumenlab/scholar/internal/index"
)

// Session owns one conversation buffer, one fact store partition and one
// content index partition. No other session can reach them.
type Session struct {
	Key    string
	Buffer *ConversationBuffer
	Facts  *FactStore
	Index  *index.Index

	// mu serializes session-scoped mutation and context assembly.
	mu         sync.Mutex
	lastActive time.Time

	static []Block
}

// Lock acquires the session's exclusive mutation section.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the mutation section.
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records activity for idle-eviction accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive reports the most recent activity timestamp.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// ConversationContext renders the buffer under the session lock.
func (s *Session) ConversationContext() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Buffer.ContextString()
}

// AddStaticBlock attaches a permanent instruction block to the session.
func (s *Session) AddStaticBlock(content string, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.static = append(s.static, Block{
		Content:   content,
		Type:      BlockStatic,
		Priority:  priority,
		CreatedAt: time.Now(),
	})
}

// StaticBlocks returns a copy of the session's instruction blocks.
func (s *Session) StaticBlocks() []Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Block, len(s.static))
	copy(out, s.static)
	return out
}

// Stats summarizes the session's memory state.
type Stats struct {
	SessionKey   string `json:"session_key"`
	MessageCount int    `json:"message_count"`
	TokenCount   int    `json:"token_count"`
	FactCount    int    `json:"fact_count"`
	IndexedDocs  int    `json:"indexed_docs"`
}

// Stats reports message, token, fact and index counts.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SessionKey:   s.Key,
		MessageCount: s.Buffer.Len(),
		TokenCount:   s.Buffer.TokenCount(),
		FactCount:    s.Facts.Count(),
		IndexedDocs:  s.Index.Len(),
	}
}
