// Package engine orchestrates query execution: classification, optional
// decomposition, bounded fan-out of sub-queries, synthesis and memory
// write-back.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenlab/scholar/internal/audit"
	"github.com/lumenlab/scholar/internal/collab"
	"github.com/lumenlab/scholar/internal/errs"
	"github.com/lumenlab/scholar/internal/index"
	"github.com/lumenlab/scholar/internal/memory"
	"github.com/lumenlab/scholar/internal/planner"
	"go.uber.org/zap"
)

// Options bounds engine concurrency and timing.
type Options struct {
	PoolSize        int
	QueryTimeout    time.Duration
	SubQueryTimeout time.Duration
}

// Result is the outcome of one processed query.
type Result struct {
	RequestID   string             `json:"request_id"`
	Response    string             `json:"response"`
	Level       planner.Level      `json:"level"`
	Score       float64            `json:"score"`
	Decomposed  bool               `json:"decomposed"`
	SubResults  []collab.SubResult `json:"sub_results,omitempty"`
	FactsStored int                `json:"facts_stored"`
	States      []Transition       `json:"states"`
	Duration    time.Duration      `json:"duration"`
}

// Engine drives queries through the state machine
// Received → Classified → {SingleShot | Decomposed} → Synthesizing → Completed.
type Engine struct {
	registry    *memory.Registry
	assembler   *memory.Assembler
	globalIndex *index.Index
	classifier  planner.Strategy
	decomposer  *planner.Decomposer
	generator   collab.Generator
	synthesizer collab.Synthesizer
	extractor   collab.FactExtractor
	caller      *collab.Caller
	trail       *audit.Trail
	pool        chan struct{} // semaphore bounding sub-query fan-out
	opts        Options
	logger      *zap.Logger
}

// New creates an engine. trail may be nil.
func New(
	registry *memory.Registry,
	assembler *memory.Assembler,
	globalIndex *index.Index,
	classifier planner.Strategy,
	splitter collab.QuerySplitter,
	generator collab.Generator,
	synthesizer collab.Synthesizer,
	extractor collab.FactExtractor,
	caller *collab.Caller,
	trail *audit.Trail,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if opts.PoolSize <= 0 {
		opts.PoolSize = 5
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = time.Minute
	}
	if opts.SubQueryTimeout <= 0 {
		opts.SubQueryTimeout = 20 * time.Second
	}
	assembler.SetGlobalIndex(globalIndex)

	e := &Engine{
		registry:    registry,
		assembler:   assembler,
		globalIndex: globalIndex,
		classifier:  classifier,
		generator:   generator,
		synthesizer: synthesizer,
		extractor:   extractor,
		caller:      caller,
		trail:       trail,
		pool:        make(chan struct{}, opts.PoolSize),
		opts:        opts,
		logger:      logger,
	}
	e.decomposer = planner.NewDecomposer(&retriedSplitter{caller: caller, inner: splitter}, logger)
	return e
}

// GlobalIndex exposes the shared reference corpus.
func (e *Engine) GlobalIndex() *index.Index { return e.globalIndex }

// Registry exposes the session registry.
func (e *Engine) Registry() *memory.Registry { return e.registry }

// Trail exposes the audit trail; may be nil when Redis is not configured.
func (e *Engine) Trail() *audit.Trail { return e.trail }

// Process runs one query against a session and returns the final answer.
func (e *Engine) Process(ctx context.Context, sessionKey, query string) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.opts.QueryTimeout)
	defer cancel()

	res := &Result{RequestID: uuid.New().String()}
	session := e.registry.Get(sessionKey)
	e.transition(ctx, res, sessionKey, StateReceived, query)

	cls := e.classifier.Classify(query)
	res.Level = cls.Level
	res.Score = cls.Score
	e.transition(ctx, res, sessionKey, StateClassified, string(cls.Level))

	var answer *collab.Answer
	var err error
	if cls.NeedsDecomposition {
		answer, err = e.runDecomposed(ctx, res, session, query)
	} else {
		answer, err = e.runSingleShot(ctx, res, session, query)
	}
	if err != nil {
		e.transition(ctx, res, sessionKey, StateFailed, err.Error())
		return nil, e.asEngineError(ctx, err)
	}

	res.Response = answer.Response
	res.FactsStored = e.writeBack(ctx, session, query, answer.Response)
	e.transition(ctx, res, sessionKey, StateCompleted, "")
	res.Duration = time.Since(start)

	e.logger.Info("query processed",
		zap.String("session", sessionKey),
		zap.String("level", string(cls.Level)),
		zap.Bool("decomposed", res.Decomposed),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// runSingleShot assembles one context and makes one generator call.
func (e *Engine) runSingleShot(ctx context.Context, res *Result, session *memory.Session, query string) (*collab.Answer, error) {
	e.transition(ctx, res, session.Key, StateSingleShot, "")

	assembled := e.assembler.Assemble(session, query)
	var answer *collab.Answer
	err := e.caller.Do(ctx, "generate", func(ctx context.Context) error {
		var genErr error
		answer, genErr = e.generator.Generate(ctx, query, assembled)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	return answer, nil
}

// runDecomposed fans sub-queries out over the bounded pool, collects
// results in plan order and synthesizes them into one answer. A failed
// sub-query degrades to an error result without disturbing its siblings;
// an expired request discards everything.
func (e *Engine) runDecomposed(ctx context.Context, res *Result, session *memory.Session, query string) (*collab.Answer, error) {
	plan := e.decomposer.Decompose(ctx, query, session.ConversationContext())
	res.Decomposed = true
	e.transition(ctx, res, session.Key, StateDecomposed, fmt.Sprintf("%d sub-queries", len(plan.SubQueries)))
	e.transition(ctx, res, session.Key, StateSubqueriesRunning, "")

	results := make([]collab.SubResult, len(plan.SubQueries))
	var wg sync.WaitGroup
	for i, sq := range plan.SubQueries {
		wg.Add(1)
		go func(i int, sq planner.SubQuery) {
			defer wg.Done()

			select {
			case e.pool <- struct{}{}:
				defer func() { <-e.pool }()
			case <-ctx.Done():
				results[i] = degradedResult(sq.Text, ctx.Err())
				return
			}

			subCtx, cancel := context.WithTimeout(ctx, e.opts.SubQueryTimeout)
			defer cancel()

			assembled := e.assembler.Assemble(session, sq.Text)
			var answer *collab.Answer
			err := e.caller.Do(subCtx, "generate", func(ctx context.Context) error {
				var genErr error
				answer, genErr = e.generator.Generate(ctx, sq.Text, assembled)
				return genErr
			})
			if err != nil {
				results[i] = degradedResult(sq.Text, err)
				return
			}
			results[i] = collab.SubResult{
				Query:      sq.Text,
				Response:   answer.Response,
				Confidence: answer.Confidence,
				Sources:    answer.Sources,
			}
		}(i, sq)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		// Discard collected results; a partial synthesis is worse than a
		// clean timeout.
		return nil, errs.Timeout("query timed out during sub-query fan-out", ctx.Err())
	}

	e.transition(ctx, res, session.Key, StateSynthesizing, "")
	var answer *collab.Answer
	err := e.caller.Do(ctx, "synthesize", func(ctx context.Context) error {
		var synErr error
		answer, synErr = e.synthesizer.Synthesize(ctx, query, results)
		return synErr
	})
	if err != nil {
		return nil, err
	}

	res.SubResults = results
	return answer, nil
}

// writeBack persists the completed exchange into the session's stores:
// extracted facts, the two conversation turns and the indexed transcript.
// All mutation happens inside the session's exclusive section.
func (e *Engine) writeBack(ctx context.Context, session *memory.Session, query, response string) int {
	var facts []string
	err := e.caller.Do(ctx, "extract_facts", func(ctx context.Context) error {
		var exErr error
		facts, exErr = e.extractor.ExtractFacts(ctx, query, response)
		return exErr
	})
	if err != nil {
		// The answer already exists; losing facts is recoverable.
		e.logger.Warn("fact extraction failed", zap.String("session", session.Key), zap.Error(err))
		facts = nil
	}

	session.Lock()
	defer session.Unlock()

	session.Buffer.Add(memory.RoleUser, query)
	session.Buffer.Add(memory.RoleAssistant, response)
	for _, f := range facts {
		session.Facts.StoreWithSource(f, 0.8, query)
	}
	session.Index.Add(
		fmt.Sprintf("User: %s\nAssistant: %s", query, response),
		map[string]string{"type": "conversation", "session_key": session.Key},
	)
	return len(facts)
}

// asEngineError maps a failure onto the stable taxonomy, preferring a
// request-level timeout when the deadline has passed.
func (e *Engine) asEngineError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && errs.CodeOf(err) != errs.CodeTimeout {
		return errs.Timeout("query timed out", err)
	}
	if errs.CodeOf(err) != "" {
		return err
	}
	return errs.Query("query processing failed", err)
}

func (e *Engine) transition(ctx context.Context, res *Result, sessionKey string, s State, detail string) {
	res.States = append(res.States, Transition{State: s, Detail: detail, At: time.Now()})
	e.trail.Record(ctx, audit.Event{
		RequestID:  res.RequestID,
		SessionKey: sessionKey,
		State:      string(s),
		Detail:     detail,
	})
}

func degradedResult(query string, cause error) collab.SubResult {
	return collab.SubResult{
		Query:      query,
		Response:   fmt.Sprintf("Error: %v", cause),
		Confidence: 0,
	}
}

// retriedSplitter routes splitter calls through the shared retry/breaker
// policy; the decomposer's generic fallback still catches exhausted calls.
type retriedSplitter struct {
	caller *collab.Caller
	inner  collab.QuerySplitter
}

func (r *retriedSplitter) Split(ctx context.Context, query, context_ string) ([]string, error) {
	var out []string
	err := r.caller.Do(ctx, "split", func(ctx context.Context) error {
		var splitErr error
		out, splitErr = r.inner.Split(ctx, query, context_)
		return splitErr
	})
	return out, err
}
