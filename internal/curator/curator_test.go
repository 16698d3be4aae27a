package curator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/internal/ingest"
	"Alfred-Curator/internal/llm"
	"Alfred-Curator/internal/scorer"
)

type fixedSource struct {
	items []ingest.Item
}

func (s *fixedSource) Name() string { return "fixed" }

func (s *fixedSource) Fetch(context.Context, time.Duration) ([]ingest.Item, error) {
	return s.items, nil
}

type fixedLLM struct {
	content string
}

func (c *fixedLLM) Complete(context.Context, llm.Request) (*llm.Response, error) {
	if c.content == "" {
		return nil, errors.New("scorer offline")
	}
	return &llm.Response{Content: c.content}, nil
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []SignalRecord
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, record SignalRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, record)
	return nil
}

func newTestCurator(t *testing.T, items []ingest.Item, llmContent string, publisher SignalPublisher, opts Options) *Curator {
	t.Helper()
	agg := ingest.NewAggregator(&fixedSource{items: items})
	engine := scorer.NewEngine(&fixedLLM{content: llmContent})
	memory := NewMemory(filepath.Join(t.TempDir(), "memory.json"))
	return New(agg, engine, memory, publisher, nil, opts)
}

func someItems(titles ...string) []ingest.Item {
	items := make([]ingest.Item, 0, len(titles))
	for _, title := range titles {
		items = append(items, ingest.Item{Title: title, Link: "https://example.com", Source: "Test"})
	}
	return items
}

func TestRunCycleScoresFreshItems(t *testing.T) {
	c := newTestCurator(t, someItems("First Fresh Headline", "Second Fresh Headline"), "9", nil, Options{})
	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if stats.Fresh != 2 || stats.Scored != 2 || stats.Deferred != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, signals := c.Memory().Counts(); signals != 2 {
		t.Fatalf("expected 2 signals recorded, got %d", signals)
	}
}

func TestRunCycleSkipsSeenItems(t *testing.T) {
	c := newTestCurator(t, someItems("Repeat Headline Story"), "7", nil, Options{})
	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if stats.Fresh != 0 || stats.Scored != 0 {
		t.Fatalf("expected nothing fresh on second cycle, got %+v", stats)
	}
}

func TestRunCycleDefersBeyondCap(t *testing.T) {
	items := someItems("Headline Number One", "Headline Number Two", "Headline Number Three")
	c := newTestCurator(t, items, "6", nil, Options{ScoreCap: 2})

	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if stats.Scored != 2 || stats.Deferred != 1 {
		t.Fatalf("expected 2 scored / 1 deferred, got %+v", stats)
	}

	// 被推迟的条目未标记已见，下个周期重新出现。
	stats, err = c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle failed: %v", err)
	}
	if stats.Fresh != 1 || stats.Scored != 1 {
		t.Fatalf("expected the deferred item to be scored next cycle, got %+v", stats)
	}
}

func TestRunCycleMarksSeenEvenWhenScoringFallsBack(t *testing.T) {
	// 空 content 让主评分路径失败，走关键词回退。
	c := newTestCurator(t, someItems("Major Exchange ETF Approved"), "", nil, Options{})
	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if !c.Memory().Seen("Major Exchange ETF Approved") {
		t.Fatal("item must be marked seen even when the remote scorer is down")
	}
	signals := c.Memory().Signals(10, 0)
	if len(signals) != 1 || signals[0].Score != 7 {
		t.Fatalf("expected fallback score 7 recorded, got %+v", signals)
	}
}

func TestRunCycleRejectsConcurrentRun(t *testing.T) {
	c := newTestCurator(t, someItems("Some Headline Here"), "5", nil, Options{})

	if !c.running.CompareAndSwap(false, true) {
		t.Fatal("failed to simulate in-flight cycle")
	}
	defer c.running.Store(false)

	_, err := c.RunCycle(context.Background())
	if apperrors.CodeOf(err) != apperrors.CodeCycleInFlight {
		t.Fatalf("expected CYCLE_IN_FLIGHT, got %v", err)
	}
}

func TestRunCyclePublishesHighSignals(t *testing.T) {
	publisher := &recordingPublisher{}
	items := someItems("Massive Breaking Story Here", "Boring Update Story Here")
	c := newTestCurator(t, items, "9", publisher, Options{PublishThreshold: 8})
	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.records) != 2 {
		t.Fatalf("expected both score-9 items published, got %d", len(publisher.records))
	}
}

func TestRunCycleSurvivesPublisherFailure(t *testing.T) {
	publisher := &recordingPublisher{err: errors.New("queue down")}
	c := newTestCurator(t, someItems("High Signal Headline Now"), "10", publisher, Options{})
	stats, err := c.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle should tolerate publisher failure, got %v", err)
	}
	if stats.Scored != 1 {
		t.Fatalf("expected item scored despite publisher failure, got %+v", stats)
	}
}

func TestRunCyclePersistsMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	agg := ingest.NewAggregator(&fixedSource{items: someItems("Persisted Headline Story")})
	engine := scorer.NewEngine(&fixedLLM{content: "8"})
	c := New(agg, engine, NewMemory(path), nil, nil, Options{})

	if _, err := c.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}

	reloaded := NewMemory(path)
	if !reloaded.Seen("Persisted Headline Story") {
		t.Fatal("expected memory persisted to disk after cycle")
	}
}
