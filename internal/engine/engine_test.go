package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lumenlab/scholar/internal/collab"
	"github.com/lumenlab/scholar/internal/errs"
	"github.com/lumenlab/scholar/internal/index"
	"github.com/lumenlab/scholar/internal/memory"
	"github.com/lumenlab/scholar/internal/planner"
	"go.uber.org/zap"
)

// fakeCollaborator implements all four collaborator contracts with
// overridable behavior and call accounting.
type fakeCollaborator struct {
	mu              sync.Mutex
	generateQueries []string
	synthesizeCalls int
	extractCalls    int

	splitFn      func(query string) ([]string, error)
	generateFn   func(query string) (*collab.Answer, error)
	synthesizeFn func(originalQuery string, results []collab.SubResult) (*collab.Answer, error)
	extractFn    func(userMessage, assistantResponse string) ([]string, error)
}

func (f *fakeCollaborator) Split(_ context.Context, query, _ string) ([]string, error) {
	if f.splitFn != nil {
		return f.splitFn(query)
	}
	return nil, errors.New("no splitter configured")
}

func (f *fakeCollaborator) Generate(ctx context.Context, query, _ string) (*collab.Answer, error) {
	f.mu.Lock()
	f.generateQueries = append(f.generateQueries, query)
	f.mu.Unlock()
	if f.generateFn != nil {
		return f.generateFn(query)
	}
	return &collab.Answer{Response: "answer to " + query, Confidence: 0.9}, nil
}

func (f *fakeCollaborator) Synthesize(_ context.Context, originalQuery string, results []collab.SubResult) (*collab.Answer, error) {
	f.mu.Lock()
	f.synthesizeCalls++
	f.mu.Unlock()
	if f.synthesizeFn != nil {
		return f.synthesizeFn(originalQuery, results)
	}
	return &collab.Answer{Response: "synthesized answer", Confidence: 0.85}, nil
}

func (f *fakeCollaborator) ExtractFacts(_ context.Context, userMessage, assistantResponse string) ([]string, error) {
	f.mu.Lock()
	f.extractCalls++
	f.mu.Unlock()
	if f.extractFn != nil {
		return f.extractFn(userMessage, assistantResponse)
	}
	return nil, nil
}

func (f *fakeCollaborator) generateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.generateQueries)
}

func newTestEngine(fake *fakeCollaborator, opts Options) (*Engine, *collab.Breaker) {
	logger := zap.NewNop()
	registry := memory.NewRegistry(10000, 100, nil, nil, logger)
	assembler := memory.NewAssembler(5, 3, 20, logger)
	global := index.New(logger)
	classifier := planner.NewKeywordClassifier(4, 2)

	breaker := collab.NewBreaker(100, time.Minute, logger)
	caller := collab.NewCaller(collab.RetryPolicy{
		MaxRetries: 0,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}, breaker, logger)

	eng := New(registry, assembler, global, classifier, fake, fake, fake, fake, caller, nil, opts, logger)
	return eng, breaker
}

func hasState(states []Transition, want State) bool {
	for _, s := range states {
		if s.State == want {
			return true
		}
	}
	return false
}

func TestProcessSingleShot(t *testing.T) {
	fake := &fakeCollaborator{
		extractFn: func(string, string) ([]string, error) {
			return []string{"X equals 42"}, nil
		},
	}
	eng, _ := newTestEngine(fake, Options{})

	res, err := eng.Process(context.Background(), "s1", "What is X?")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Level != planner.LevelSimple {
		t.Errorf("level = %s, want simple", res.Level)
	}
	if res.Decomposed {
		t.Error("simple query must not decompose")
	}
	if fake.generateCount() != 1 {
		t.Errorf("generate calls = %d, want 1", fake.generateCount())
	}
	if fake.synthesizeCalls != 0 {
		t.Errorf("synthesize calls = %d, want 0", fake.synthesizeCalls)
	}
	if res.Response != "answer to What is X?" {
		t.Errorf("response = %q", res.Response)
	}
	if res.FactsStored != 1 {
		t.Errorf("facts stored = %d, want 1", res.FactsStored)
	}
	if !hasState(res.States, StateSingleShot) || !hasState(res.States, StateCompleted) {
		t.Errorf("state trace incomplete: %v", res.States)
	}

	// The exchange lands in session memory.
	session, ok := eng.Registry().Lookup("s1")
	if !ok {
		t.Fatal("session not created")
	}
	stats := session.Stats()
	if stats.MessageCount != 2 {
		t.Errorf("message count = %d, want user+assistant", stats.MessageCount)
	}
	if stats.FactCount != 1 {
		t.Errorf("fact count = %d, want 1", stats.FactCount)
	}
	if stats.IndexedDocs != 1 {
		t.Errorf("indexed docs = %d, want the conversation transcript", stats.IndexedDocs)
	}
}

func TestProcessDecomposedFanOut(t *testing.T) {
	fake := &fakeCollaborator{
		splitFn: func(string) ([]string, error) {
			return []string{
				"Find data on X",
				"Find data on Y",
				"Analyze X versus Y",
			}, nil
		},
	}
	eng, _ := newTestEngine(fake, Options{})

	res, err := eng.Process(context.Background(), "s1", "Analyze and compare X and Y, and evaluate Z")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Level != planner.LevelComplex || !res.Decomposed {
		t.Fatalf("expected decomposed complex run, got level=%s decomposed=%v", res.Level, res.Decomposed)
	}
	if len(res.SubResults) != 3 {
		t.Fatalf("sub-results = %d, want 3", len(res.SubResults))
	}
	if fake.generateCount() != 3 {
		t.Errorf("generate calls = %d, want one per sub-query", fake.generateCount())
	}
	if fake.synthesizeCalls != 1 {
		t.Errorf("synthesize calls = %d, want 1", fake.synthesizeCalls)
	}
	if res.Response != "synthesized answer" {
		t.Errorf("response = %q, want the synthesized answer", res.Response)
	}
	for _, want := range []State{StateDecomposed, StateSubqueriesRunning, StateSynthesizing, StateCompleted} {
		if !hasState(res.States, want) {
			t.Errorf("state trace missing %s: %v", want, res.States)
		}
	}
	// Plan order: the two retrieval sub-queries come before the analysis.
	if !strings.HasPrefix(res.SubResults[0].Query, "Find") || !strings.HasPrefix(res.SubResults[1].Query, "Find") {
		t.Errorf("retrieval sub-queries must run first: %+v", res.SubResults)
	}
}

func TestProcessGenericFallbackOnSplitterFailure(t *testing.T) {
	fake := &fakeCollaborator{} // splitter always errors
	eng, _ := newTestEngine(fake, Options{})

	res, err := eng.Process(context.Background(), "s1", "Analyze and compare X and Y, and evaluate Z")
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.SubResults) != 3 {
		t.Fatalf("sub-results = %d, want the 3-item generic plan", len(res.SubResults))
	}
	for _, sr := range res.SubResults {
		if !strings.Contains(sr.Query, "Analyze and compare X and Y, and evaluate Z") {
			t.Errorf("generic sub-query must embed the original query: %q", sr.Query)
		}
	}
}

func TestProcessSubQueryFailureDegrades(t *testing.T) {
	fake := &fakeCollaborator{
		splitFn: func(string) ([]string, error) {
			return []string{"Find data on X", "Find data on Y", "Analyze X versus Y"}, nil
		},
		generateFn: func(query string) (*collab.Answer, error) {
			if query == "Find data on Y" {
				return nil, errors.New("provider exploded")
			}
			return &collab.Answer{Response: "ok: " + query, Confidence: 0.9}, nil
		},
	}
	eng, _ := newTestEngine(fake, Options{})

	res, err := eng.Process(context.Background(), "s1", "Analyze and compare X and Y, and evaluate Z")
	if err != nil {
		t.Fatalf("one failed sub-query must not fail the request: %v", err)
	}
	if fake.synthesizeCalls != 1 {
		t.Fatalf("synthesis must still run, calls = %d", fake.synthesizeCalls)
	}

	var degraded, healthy int
	for _, sr := range res.SubResults {
		if strings.HasPrefix(sr.Response, "Error:") {
			degraded++
			if sr.Confidence != 0 {
				t.Errorf("degraded result confidence = %v, want 0", sr.Confidence)
			}
		} else {
			healthy++
		}
	}
	if degraded != 1 || healthy != 2 {
		t.Errorf("degraded=%d healthy=%d, want 1/2", degraded, healthy)
	}
}

func TestProcessSynthesisFailureIsFatal(t *testing.T) {
	fake := &fakeCollaborator{
		splitFn: func(string) ([]string, error) {
			return []string{"Find data on X", "Find data on Y", "Analyze X versus Y"}, nil
		},
		synthesizeFn: func(string, []collab.SubResult) (*collab.Answer, error) {
			return nil, errors.New("synthesis exploded")
		},
	}
	eng, _ := newTestEngine(fake, Options{})

	_, err := eng.Process(context.Background(), "s1", "Analyze and compare X and Y, and evaluate Z")
	if err == nil {
		t.Fatal("synthesis failure must fail the request")
	}
	if errs.CodeOf(err) != errs.CodeQuery {
		t.Errorf("code = %s, want %s", errs.CodeOf(err), errs.CodeQuery)
	}
}

func TestProcessTimeout(t *testing.T) {
	fake := &fakeCollaborator{
		generateFn: func(string) (*collab.Answer, error) {
			time.Sleep(200 * time.Millisecond)
			return nil, context.DeadlineExceeded
		},
	}
	eng, _ := newTestEngine(fake, Options{QueryTimeout: 50 * time.Millisecond})

	_, err := eng.Process(context.Background(), "s1", "What is X?")
	if err == nil {
		t.Fatal("expired deadline must fail the request")
	}
	if errs.CodeOf(err) != errs.CodeTimeout {
		t.Errorf("code = %s, want %s", errs.CodeOf(err), errs.CodeTimeout)
	}
}

func TestProcessBreakerOpenFailsFast(t *testing.T) {
	fake := &fakeCollaborator{}
	eng, breaker := newTestEngine(fake, Options{})
	for i := 0; i < 100; i++ {
		breaker.Failure()
	}

	_, err := eng.Process(context.Background(), "s1", "What is X?")
	if !errors.Is(err, errs.ErrBreakerOpen) {
		t.Fatalf("got %v, want breaker-open", err)
	}
	if fake.generateCount() != 0 {
		t.Error("open breaker must not reach the generator")
	}
}

func TestProcessFactExtractionFailureIsNonFatal(t *testing.T) {
	fake := &fakeCollaborator{
		extractFn: func(string, string) ([]string, error) {
			return nil, errors.New("extractor down")
		},
	}
	eng, _ := newTestEngine(fake, Options{})

	res, err := eng.Process(context.Background(), "s1", "What is X?")
	if err != nil {
		t.Fatalf("extraction failure must not fail the request: %v", err)
	}
	if res.FactsStored != 0 {
		t.Errorf("facts stored = %d, want 0", res.FactsStored)
	}
	if res.Response == "" {
		t.Error("answer must survive a failed extraction")
	}

	session, _ := eng.Registry().Lookup("s1")
	if session.Stats().MessageCount != 2 {
		t.Error("conversation turns must still be recorded")
	}
}

func TestProcessSessionIsolation(t *testing.T) {
	fake := &fakeCollaborator{}
	eng, _ := newTestEngine(fake, Options{})

	if _, err := eng.Process(context.Background(), "a", "What is X?"); err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Process(context.Background(), "b", "What is Y?"); err != nil {
		t.Fatal(err)
	}

	a, _ := eng.Registry().Lookup("a")
	b, _ := eng.Registry().Lookup("b")
	if a.Stats().MessageCount != 2 || b.Stats().MessageCount != 2 {
		t.Error("each session records exactly its own exchange")
	}
	if a.Buffer.ContextString() == b.Buffer.ContextString() {
		t.Error("sessions share buffer content")
	}
}

func TestProcessCompletesWithStaticBlocks(t *testing.T) {
	fake := &fakeCollaborator{}
	eng, _ := newTestEngine(fake, Options{})
	eng.Registry().Get("s1").AddStaticBlock("Answer formally.", 9)

	// Assembly runs inside the session's exclusive section; the whole query
	// must still finish.
	done := make(chan error, 1)
	go func() {
		_, err := eng.Process(context.Background(), "s1", "What is X?")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("query never completed")
	}
}

func TestProcessConcurrentSameSession(t *testing.T) {
	fake := &fakeCollaborator{}
	eng, _ := newTestEngine(fake, Options{})

	// Parallel queries on one session: context reads and write-back must
	// serialize on the session without corruption.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.Process(context.Background(), "shared", "Analyze and compare X and Y, and evaluate Z"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	session, ok := eng.Registry().Lookup("shared")
	if !ok {
		t.Fatal("session missing")
	}
	stats := session.Stats()
	if stats.MessageCount != 16 {
		t.Errorf("message count = %d, want 2 per query", stats.MessageCount)
	}
	if stats.IndexedDocs != 8 {
		t.Errorf("indexed docs = %d, want 1 per query", stats.IndexedDocs)
	}
}

func TestProcessPoolBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0

	fake := &fakeCollaborator{
		splitFn: func(string) ([]string, error) {
			return []string{"Find one", "Find two", "Find three", "Find four", "Find five"}, nil
		},
		generateFn: func(query string) (*collab.Answer, error) {
			mu.Lock()
			inFlight++
			if inFlight > peak {
				peak = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
			return &collab.Answer{Response: "ok", Confidence: 0.9}, nil
		},
	}
	eng, _ := newTestEngine(fake, Options{PoolSize: 2})

	_, err := eng.Process(context.Background(), "s1", "Analyze and compare X and Y, and evaluate Z")
	if err != nil {
		t.Fatal(err)
	}
	if peak > 2 {
		t.Errorf("peak concurrent generations = %d, want at most pool size 2", peak)
	}
}
