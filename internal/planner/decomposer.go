package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// SubQueryType labels what kind of work a sub-query represents.
type SubQueryType string

const (
	TypeSearch   SubQueryType = "search"
	TypeAnalysis SubQueryType = "analysis"
	TypeSummary  SubQueryType = "summary"
)

// SubQuery is one independently answerable piece of a decomposed query.
type SubQuery struct {
	Text     string       `json:"text"`
	Type     SubQueryType `json:"type"`
	Priority int          `json:"priority"`
}

// Plan is an ordered decomposition of one query.
type Plan struct {
	OriginalQuery string     `json:"original_query"`
	SubQueries    []SubQuery `json:"sub_queries"`
}

// Splitter produces sub-query strings for a complex query. Implementations
// are external collaborators; the decomposer only validates their output.
type Splitter interface {
	Split(ctx context.Context, query, context_ string) ([]string, error)
}

// Sub-query count bounds expected from the splitter.
const (
	minSubQueries = 3
	maxSubQueries = 5
)

// Decomposer turns a complex query into an execution plan, falling back to
// a fixed generic template whenever the splitter fails or returns garbage.
type Decomposer struct {
	splitter Splitter
	logger   *zap.Logger
}

// NewDecomposer creates a decomposer backed by the given splitter.
func NewDecomposer(splitter Splitter, logger *zap.Logger) *Decomposer {
	return &Decomposer{splitter: splitter, logger: logger}
}

// Decompose builds a plan for query. It never returns an error: an invalid
// or failed split falls back to the generic template.
func (d *Decomposer) Decompose(ctx context.Context, query, sessionContext string) Plan {
	texts, err := d.splitter.Split(ctx, query, sessionContext)
	if err != nil {
		d.logger.Warn("splitter failed, using generic decomposition", zap.Error(err))
		texts = genericSplit(query)
	} else if !validSplit(texts) {
		d.logger.Warn("splitter returned invalid shape, using generic decomposition",
			zap.Int("count", len(texts)))
		texts = genericSplit(query)
	}

	subs := make([]SubQuery, len(texts))
	for i, t := range texts {
		subs[i] = SubQuery{
			Text:     t,
			Type:     identifyType(t),
			Priority: priorityFor(identifyType(t)),
		}
	}

	// Execution order: priority descending, original position on ties.
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].Priority > subs[j].Priority })

	return Plan{OriginalQuery: query, SubQueries: subs}
}

// validSplit checks the collaborator returned 3..5 distinct non-empty
// strings.
func validSplit(texts []string) bool {
	if len(texts) < minSubQueries || len(texts) > maxSubQueries {
		return false
	}
	seen := make(map[string]struct{}, len(texts))
	for _, t := range texts {
		trimmed := strings.TrimSpace(t)
		if trimmed == "" {
			return false
		}
		if _, dup := seen[trimmed]; dup {
			return false
		}
		seen[trimmed] = struct{}{}
	}
	return true
}

// genericSplit is the fixed 3-item fallback decomposition.
func genericSplit(query string) []string {
	return []string{
		fmt.Sprintf("What are the key aspects of %s?", query),
		fmt.Sprintf("What data is available about %s?", query),
		fmt.Sprintf("What conclusions can be drawn about %s?", query),
	}
}

var typeKeywords = []struct {
	t     SubQueryType
	words []string
}{
	{TypeSearch, []string{"find", "search", "locate", "what is", "who is", "data is available"}},
	{TypeAnalysis, []string{"analyze", "compare", "evaluate", "assess", "conclusions"}},
	{TypeSummary, []string{"summarize", "overview", "brief", "summary"}},
}

// identifyType maps a sub-query onto search/analysis/summary by keywords.
func identifyType(text string) SubQueryType {
	lower := strings.ToLower(text)
	for _, tk := range typeKeywords {
		for _, w := range tk.words {
			if strings.Contains(lower, w) {
				return tk.t
			}
		}
	}
	return TypeSearch
}

// priorityFor orders work so retrieval runs before analysis and summary.
func priorityFor(t SubQueryType) int {
	switch t {
	case TypeSearch:
		return 3
	case TypeAnalysis:
		return 2
	default:
		return 1
	}
}
