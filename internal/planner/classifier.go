// Package planner decides how a query gets executed: complexity
// classification and, when warranted, decomposition into sub-queries.
package planner

import "strings"

// Level is the classified complexity of a query.
type Level string

const (
	LevelSimple   Level = "simple"
	LevelModerate Level = "moderate"
	LevelComplex  Level = "complex"
)

// Result is the outcome of classification.
type Result struct {
	Level              Level   `json:"level"`
	Score              float64 `json:"score"`
	NeedsDecomposition bool    `json:"needs_decomposition"`
}

// Strategy classifies queries. The keyword implementation below is the
// default; the interface exists so a model-backed classifier can slot in
// without touching orchestration.
type Strategy interface {
	Classify(query string) Result
}

// Scoring weights. The raw signed sum decides the level; more complex
// vocabulary hits always push the score strictly upward.
const (
	longQueryBonus    = 3 // more than 25 words
	mediumQueryBonus  = 2 // 16..25 words
	shortQueryPenalty = 1 // fewer than 8 words
	complexHitBonus   = 2 // per complex-vocabulary hit
	simpleOnlyPenalty = 1 // simple vocabulary with zero complex hits
	multiQuestionBump = 2 // more than one '?'
)

var complexTerms = []string{
	"analyze", "compare", "evaluate", "assess", "examine", "investigate",
	"comprehensive", "thorough", "relationship", "impact", "implications",
	"advantages", "disadvantages", "pros and cons", "explain how", "why does",
}

var simpleTerms = []string{
	"what", "who", "when", "where", "define", "meaning",
}

var conjunctions = []string{
	"and", "but", "however", "also", "additionally",
}

// KeywordClassifier scores queries with deterministic keyword heuristics.
type KeywordClassifier struct {
	ComplexThreshold  float64
	ModerateThreshold float64
}

// NewKeywordClassifier creates a classifier with the given cut points.
func NewKeywordClassifier(complexThreshold, moderateThreshold float64) *KeywordClassifier {
	return &KeywordClassifier{
		ComplexThreshold:  complexThreshold,
		ModerateThreshold: moderateThreshold,
	}
}

// Classify scores the query and maps the score onto a level.
func (c *KeywordClassifier) Classify(query string) Result {
	score := Score(query)

	var level Level
	switch {
	case score >= c.ComplexThreshold:
		level = LevelComplex
	case score >= c.ModerateThreshold:
		level = LevelModerate
	default:
		level = LevelSimple
	}

	return Result{
		Level:              level,
		Score:              score,
		NeedsDecomposition: level != LevelSimple,
	}
}

// Score computes the raw complexity score. Pure and deterministic so the
// weights stay unit-testable in isolation.
func Score(query string) float64 {
	lower := strings.ToLower(strings.TrimSpace(query))
	words := len(strings.Fields(query))

	score := 0.0

	switch {
	case words > 25:
		score += longQueryBonus
	case words > 15:
		score += mediumQueryBonus
	case words < 8:
		score -= shortQueryPenalty
	}

	complexHits := countPresent(lower, complexTerms)
	score += float64(complexHits * complexHitBonus)

	if complexHits == 0 && countPresent(lower, simpleTerms) > 0 {
		score -= simpleOnlyPenalty
	}

	if strings.Count(query, "?") > 1 {
		score += multiQuestionBump
	}

	if n := countPresent(lower, conjunctions); n > 1 {
		score += float64(n)
	}

	return score
}

// countPresent counts how many distinct terms occur in s.
func countPresent(s string, terms []string) int {
	n := 0
	for _, t := range terms {
		if strings.Contains(s, t) {
			n++
		}
	}
	return n
}
