package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// BlockType labels the source a context block came from.
type BlockType string

const (
	BlockStatic  BlockType = "static"
	BlockFact    BlockType = "fact"
	BlockVector  BlockType = "vector"
	BlockDynamic BlockType = "dynamic"
)

// Per-type caps applied before the final priority sort. Capping per source
// keeps a flood from one store (say, many low-confidence facts) from
// starving the others.
const (
	maxStaticBlocks  = 5
	maxFactBlocks    = 8
	maxVectorBlocks  = 5
	maxDynamicBlocks = 2
)

// defaultDynamicPriority applies to request-scoped scratch blocks.
const defaultDynamicPriority = 5

// Block is an ephemeral, prioritized unit of context assembled per request.
// Blocks are never persisted.
type Block struct {
	Content   string
	Type      BlockType
	Priority  int
	CreatedAt time.Time
	Metadata  map[string]any
}

// Pool gathers blocks by type and produces the final prioritized selection.
type Pool struct {
	static  []Block
	fact    []Block
	vector  []Block
	dynamic []Block
}

// NewPool returns an empty block pool.
func NewPool() *Pool { return &Pool{} }

// AddStatic adds a permanent-context block with a caller-assigned priority.
func (p *Pool) AddStatic(content string, priority int) {
	p.static = append(p.static, Block{
		Content:   content,
		Type:      BlockStatic,
		Priority:  priority,
		CreatedAt: time.Now(),
	})
}

// AddFact adds a fact block; priority derives from confidence.
func (p *Pool) AddFact(fact Fact) {
	p.fact = append(p.fact, Block{
		Content:   fact.Text,
		Type:      BlockFact,
		Priority:  int(math.Round(fact.Confidence * 10)),
		CreatedAt: fact.CreatedAt,
		Metadata:  map[string]any{"confidence": fact.Confidence},
	})
}

// AddVector adds an index-match block; priority derives from the
// normalized retrieval score.
func (p *Pool) AddVector(content, docID string, normScore float64) {
	p.vector = append(p.vector, Block{
		Content:   content,
		Type:      BlockVector,
		Priority:  int(math.Round(normScore * 10)),
		CreatedAt: time.Now(),
		Metadata:  map[string]any{"doc_id": docID, "score": normScore},
	})
}

// AddDynamic adds request-scoped scratch context.
func (p *Pool) AddDynamic(content string, metadata map[string]any) {
	p.dynamic = append(p.dynamic, Block{
		Content:   content,
		Type:      BlockDynamic,
		Priority:  defaultDynamicPriority,
		CreatedAt: time.Now(),
		Metadata:  metadata,
	})
}

// Select applies the two-stage selection: per-type caps first, then a
// global stable sort by (priority desc, createdAt desc) truncated to
// maxBlocks.
func (p *Pool) Select(maxBlocks int) []Block {
	var all []Block
	all = append(all, capped(p.static, maxStaticBlocks)...)
	all = append(all, capped(p.fact, maxFactBlocks)...)
	all = append(all, capped(p.vector, maxVectorBlocks)...)
	all = append(all, capped(p.dynamic, maxDynamicBlocks)...)

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority > all[j].Priority
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if maxBlocks > 0 && len(all) > maxBlocks {
		all = all[:maxBlocks]
	}
	return all
}

func capped(blocks []Block, limit int) []Block {
	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// Render formats blocks into a prompt-ready context string with type
// headers and confidence/similarity annotations.
func Render(blocks []Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		header := fmt.Sprintf("[%s]", strings.ToUpper(string(b.Type)))
		switch b.Type {
		case BlockFact:
			if c, ok := b.Metadata["confidence"].(float64); ok {
				header += fmt.Sprintf(" (confidence: %.2f)", c)
			}
		case BlockVector:
			if s, ok := b.Metadata["score"].(float64); ok {
				header += fmt.Sprintf(" (similarity: %.2f)", s)
			}
		}
		sb.WriteString(header)
		sb.WriteByte(' ')
		sb.WriteString(b.Content)
	}
	return sb.String()
}
