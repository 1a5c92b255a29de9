package memory

import (
	"sort"
	"strings"

	"github.com/lumenlab/scholar/internal/index"
	"go.uber.org/zap"
)

// Assembler composes the per-request context string from a session's three
// stores: instruction blocks, relevant facts, index matches and the
// conversation snapshot. A shared reference-corpus index may be attached
// alongside the per-session one; their matches compete for the same vector
// slots.
type Assembler struct {
	maxFacts   int
	maxMatches int
	maxBlocks  int
	global     *index.Index
	logger     *zap.Logger
}

// NewAssembler creates an assembler with the configured retrieval limits.
func NewAssembler(maxFacts, maxMatches, maxBlocks int, logger *zap.Logger) *Assembler {
	if maxFacts <= 0 {
		maxFacts = 5
	}
	if maxMatches <= 0 {
		maxMatches = 3
	}
	if maxBlocks <= 0 {
		maxBlocks = 20
	}
	return &Assembler{
		maxFacts:   maxFacts,
		maxMatches: maxMatches,
		maxBlocks:  maxBlocks,
		logger:     logger,
	}
}

// SetGlobalIndex attaches the shared reference corpus.
func (a *Assembler) SetGlobalIndex(ix *index.Index) { a.global = ix }

// Assemble builds the composed context for query against session, with
// optional request-scoped dynamic blocks. It takes the session's exclusive
// section for the duration, so callers must not already hold the session
// lock.
func (a *Assembler) Assemble(session *Session, query string, dynamic ...string) string {
	session.mu.Lock()
	defer session.mu.Unlock()

	pool := NewPool()

	for _, b := range session.static {
		pool.AddStatic(b.Content, b.Priority)
	}

	for _, f := range session.Facts.Relevant(query, a.maxFacts) {
		pool.AddFact(f)
	}

	hits := session.Index.Search(query, a.maxMatches)
	if a.global != nil {
		hits = append(hits, a.global.Search(query, a.maxMatches)...)
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
		if len(hits) > a.maxMatches {
			hits = hits[:a.maxMatches]
		}
	}
	if len(hits) > 0 {
		top := hits[0].Score
		for _, h := range hits {
			norm := 0.0
			if top > 0 {
				norm = h.Score / top
			}
			pool.AddVector(h.Content, h.DocID, norm)
		}
	}

	for _, d := range dynamic {
		pool.AddDynamic(d, nil)
	}

	selected := pool.Select(a.maxBlocks)

	var sb strings.Builder
	if block := Render(selected); block != "" {
		sb.WriteString(block)
	}
	if history := session.Buffer.ContextString(); history != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("Conversation:\n")
		sb.WriteString(history)
	}

	a.logger.Debug("context assembled",
		zap.String("session", session.Key),
		zap.Int("blocks", len(selected)))
	return sb.String()
}
