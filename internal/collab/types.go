// Package collab defines the external collaborator contracts the engine
// depends on (answer generation, synthesis, fact extraction and query
// splitting) plus the retry and circuit-breaker policy wrapped around
// every collaborator call.
package collab

import "context"

// Answer is the response contract shared by the generator and synthesizer.
type Answer struct {
	Response   string          `json:"response"`
	Confidence float64         `json:"confidence"`
	Sources    map[string]bool `json:"sources,omitempty"`
}

// SubResult pairs a sub-query with its collected answer.
type SubResult struct {
	Query      string          `json:"query"`
	Response   string          `json:"response"`
	Confidence float64         `json:"confidence"`
	Sources    map[string]bool `json:"sources,omitempty"`
}

// Generator produces an answer for a query given assembled context.
type Generator interface {
	Generate(ctx context.Context, query, assembledContext string) (*Answer, error)
}

// Synthesizer merges ordered sub-results into one coherent answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, originalQuery string, results []SubResult) (*Answer, error)
}

// FactExtractor pulls memorable facts out of a completed exchange.
type FactExtractor interface {
	ExtractFacts(ctx context.Context, userMessage, assistantResponse string) ([]string, error)
}

// QuerySplitter breaks a complex query into 3-5 sub-query strings.
type QuerySplitter interface {
	Split(ctx context.Context, query, context_ string) ([]string, error)
}
