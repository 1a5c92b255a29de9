package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fact is a short persisted statement extracted from conversation.
type Fact struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	SessionKey string    `json:"session_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// maxSourceSnippet bounds the stored source excerpt.
const maxSourceSnippet = 200

// FactLog persists fact store activity.
type FactLog interface {
	SaveFact(ctx context.Context, fact Fact) error
	EvictOldestFact(ctx context.Context, sessionKey string) error
	ClearFacts(ctx context.Context, sessionKey string) error
}

// FactStore is an append-only, capacity-bounded store of extracted facts.
// Eviction is strict insertion-order FIFO, independent of confidence.
type FactStore struct {
	sessionKey string
	maxFacts   int
	facts      []Fact
	log        FactLog
	logger     *zap.Logger
}

// NewFactStore creates a fact store capped at maxFacts entries.
func NewFactStore(sessionKey string, maxFacts int, log FactLog, logger *zap.Logger) *FactStore {
	return &FactStore{
		sessionKey: sessionKey,
		maxFacts:   maxFacts,
		log:        log,
		logger:     logger,
	}
}

// Store appends a fact, evicting the oldest entries once the cap is hit.
func (s *FactStore) Store(text string, confidence float64) {
	s.StoreWithSource(text, confidence, "")
}

// StoreWithSource appends a fact with a source snippet, truncated to a
// bounded length.
func (s *FactStore) StoreWithSource(text string, confidence float64, source string) {
	if len(source) > maxSourceSnippet {
		source = source[:maxSourceSnippet]
	}
	fact := Fact{
		Text:       text,
		Confidence: confidence,
		Source:     source,
		SessionKey: s.sessionKey,
		CreatedAt:  time.Now(),
	}
	s.facts = append(s.facts, fact)

	for len(s.facts) > s.maxFacts {
		s.facts = s.facts[1:]
		s.persist(func(ctx context.Context) error {
			return s.log.EvictOldestFact(ctx, s.sessionKey)
		}, "evict oldest fact")
	}

	s.persist(func(ctx context.Context) error {
		return s.log.SaveFact(ctx, fact)
	}, "save fact")

	s.logger.Debug("fact stored",
		zap.String("session", s.sessionKey),
		zap.Float64("confidence", confidence),
		zap.Int("count", len(s.facts)))
}

// Restore seeds the store from its durable shadow without re-persisting.
// Entries beyond the cap are dropped oldest-first.
func (s *FactStore) Restore(facts []Fact) {
	s.facts = append([]Fact(nil), facts...)
	for len(s.facts) > s.maxFacts {
		s.facts = s.facts[1:]
		s.persist(func(ctx context.Context) error {
			return s.log.EvictOldestFact(ctx, s.sessionKey)
		}, "evict oldest fact")
	}
}

// All returns a copy of the stored facts in insertion order.
func (s *FactStore) All() []Fact {
	out := make([]Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// Count returns the number of stored facts.
func (s *FactStore) Count() int { return len(s.facts) }

// Relevant returns up to limit facts whose text contains the query,
// case-folded, ordered by confidence descending then recency descending.
// Plain substring containment is a known limitation of this store, not an
// oversight; semantic matching belongs to the content index.
func (s *FactStore) Relevant(query string, limit int) []Fact {
	needle := strings.ToLower(query)
	var matched []Fact
	for _, f := range s.facts {
		if strings.Contains(strings.ToLower(f.Text), needle) {
			matched = append(matched, f)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Confidence != matched[j].Confidence {
			return matched[i].Confidence > matched[j].Confidence
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Clear drops all facts and clears the persisted rows.
func (s *FactStore) Clear() {
	s.facts = nil
	s.persist(func(ctx context.Context) error {
		return s.log.ClearFacts(ctx, s.sessionKey)
	}, "clear facts")
}

func (s *FactStore) persist(op func(context.Context) error, what string) {
	if s.log == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := op(ctx); err != nil {
			s.logger.Warn("fact persistence failed",
				zap.String("session", s.sessionKey),
				zap.String("op", what),
				zap.Error(err))
		}
	}()
}
