// Package index provides a term-frequency ranked content index. Despite
// the "semantic" label in user-facing text, scoring is plain bag-of-words
// occurrence counting; callers depend on the exact integer scores.
package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is a piece of indexed content. Multiple entries may share an id
// prefix (e.g. sections of one document); no uniqueness is enforced on
// content.
type Entry struct {
	DocID    string
	Content  string
	Metadata map[string]string
}

// Hit is a scored search result.
type Hit struct {
	DocID   string  `json:"doc_id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Index holds entries in insertion order. An instance is either scoped to
// one session (conversation history) or shared process-wide (reference
// corpus); the two never mix because they are distinct values.
type Index struct {
	mu      sync.RWMutex
	entries []Entry
	logger  *zap.Logger
}

// New creates an empty index.
func New(logger *zap.Logger) *Index {
	return &Index{logger: logger}
}

// Add indexes content and returns its document id. A "doc_id" metadata
// entry overrides the generated id, letting callers group sections under a
// shared prefix.
func (ix *Index) Add(content string, metadata map[string]string) string {
	docID := metadata["doc_id"]
	if docID == "" {
		docID = uuid.New().String()
	}

	ix.mu.Lock()
	ix.entries = append(ix.entries, Entry{DocID: docID, Content: content, Metadata: metadata})
	n := len(ix.entries)
	ix.mu.Unlock()

	ix.logger.Debug("content indexed", zap.String("doc_id", docID), zap.Int("entries", n))
	return docID
}

// Search scores every entry as the sum, over lower-cased whitespace-split
// query terms, of the term's occurrence count in the entry content.
// Zero-score entries are excluded; ties keep insertion order.
func (ix *Index) Search(query string, topK int) []Hit {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []Hit
	for _, e := range ix.entries {
		content := strings.ToLower(e.Content)
		score := 0
		for _, term := range terms {
			score += strings.Count(content, term)
		}
		if score > 0 {
			hits = append(hits, Hit{DocID: e.DocID, Content: e.Content, Score: float64(score)})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Clear drops all entries.
func (ix *Index) Clear() {
	ix.mu.Lock()
	ix.entries = nil
	ix.mu.Unlock()
}
