package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestPoolFactPriorityFromConfidence(t *testing.T) {
	cases := []struct {
		confidence float64
		want       int
	}{
		{0.0, 0},
		{0.44, 4},
		{0.45, 5},
		{0.8, 8},
		{1.0, 10},
	}
	for _, c := range cases {
		p := NewPool()
		p.AddFact(Fact{Text: "f", Confidence: c.confidence})
		got := p.Select(0)[0].Priority
		if got != c.want {
			t.Errorf("confidence %.2f: priority %d, want %d", c.confidence, got, c.want)
		}
	}
}

func TestPoolPerTypeCaps(t *testing.T) {
	p := NewPool()
	for i := 0; i < 10; i++ {
		p.AddStatic(fmt.Sprintf("static %d", i), 1)
		p.AddFact(Fact{Text: fmt.Sprintf("fact %d", i), Confidence: 0.5})
		p.AddVector(fmt.Sprintf("vector %d", i), "doc", 0.5)
		p.AddDynamic(fmt.Sprintf("dynamic %d", i), nil)
	}

	counts := map[BlockType]int{}
	for _, b := range p.Select(0) {
		counts[b.Type]++
	}
	if counts[BlockStatic] != maxStaticBlocks {
		t.Errorf("static count %d, want %d", counts[BlockStatic], maxStaticBlocks)
	}
	if counts[BlockFact] != maxFactBlocks {
		t.Errorf("fact count %d, want %d", counts[BlockFact], maxFactBlocks)
	}
	if counts[BlockVector] != maxVectorBlocks {
		t.Errorf("vector count %d, want %d", counts[BlockVector], maxVectorBlocks)
	}
	if counts[BlockDynamic] != maxDynamicBlocks {
		t.Errorf("dynamic count %d, want %d", counts[BlockDynamic], maxDynamicBlocks)
	}
}

func TestPoolSelectGlobalOrderAndTruncation(t *testing.T) {
	p := NewPool()
	p.AddStatic("low", 1)
	p.AddStatic("high", 9)
	p.AddFact(Fact{Text: "mid", Confidence: 0.5, CreatedAt: time.Now()})

	selected := p.Select(2)
	if len(selected) != 2 {
		t.Fatalf("got %d blocks, want 2", len(selected))
	}
	if selected[0].Content != "high" || selected[1].Content != "mid" {
		t.Errorf("priority order wrong: %q then %q", selected[0].Content, selected[1].Content)
	}
}

func TestPoolSelectRecencyTiebreak(t *testing.T) {
	p := NewPool()
	older := time.Now().Add(-time.Minute)
	p.fact = append(p.fact,
		Block{Content: "older", Type: BlockFact, Priority: 5, CreatedAt: older},
		Block{Content: "newer", Type: BlockFact, Priority: 5, CreatedAt: time.Now()},
	)
	selected := p.Select(0)
	if selected[0].Content != "newer" {
		t.Errorf("equal priority must order newest first, got %q", selected[0].Content)
	}
}

func TestRenderHeaders(t *testing.T) {
	p := NewPool()
	p.AddFact(Fact{Text: "the fact", Confidence: 0.8})
	p.AddVector("the match", "doc1", 1.0)
	p.AddStatic("the rule", 9)

	out := Render(p.Select(0))
	for _, want := range []string{
		"[STATIC] the rule",
		"[FACT] (confidence: 0.80) the fact",
		"[VECTOR] (similarity: 1.00) the match",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	if out := Render(nil); out != "" {
		t.Errorf("empty selection rendered %q, want empty string", out)
	}
}
