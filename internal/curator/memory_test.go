package curator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(filepath.Join(t.TempDir(), "curator_memory.json"))
}

func TestMemorySeenAndMarkSeen(t *testing.T) {
	m := newTestMemory(t)
	if m.Seen("Bitcoin ETF Approved") {
		t.Fatal("fresh memory should not have seen anything")
	}
	m.MarkSeen("Bitcoin ETF Approved")
	if !m.Seen("Bitcoin ETF Approved") {
		t.Fatal("expected title to be seen after marking")
	}
	// 原始标题哈希：大小写不同视为不同条目。
	if m.Seen("bitcoin etf approved") {
		t.Fatal("seen-hash dedup must use the raw title")
	}
}

func TestMemorySaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	m := NewMemory(path)
	m.MarkSeen("First Headline")
	m.AppendSignal(SignalRecord{Title: "First Headline", Score: 8, Timestamp: time.Now().UTC()})
	if err := m.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reloaded := NewMemory(path)
	if !reloaded.Seen("First Headline") {
		t.Fatal("expected seen hash to survive reload")
	}
	seen, signals := reloaded.Counts()
	if seen != 1 || signals != 1 {
		t.Fatalf("unexpected counts after reload: seen=%d signals=%d", seen, signals)
	}
}

func TestMemorySaveShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	m := NewMemory(path)
	m.MarkSeen("A Headline")
	if err := m.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read memory file: %v", err)
	}
	var shape struct {
		SeenHashes  []string          `json:"seenHashes"`
		HighSignals []json.RawMessage `json:"highSignals"`
	}
	if err := json.Unmarshal(content, &shape); err != nil {
		t.Fatalf("memory file is not valid JSON: %v", err)
	}
	if len(shape.SeenHashes) != 1 {
		t.Fatalf("expected 1 seen hash on disk, got %d", len(shape.SeenHashes))
	}
}

func TestMemoryLoadCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewMemory(path)
	seen, signals := m.Counts()
	if seen != 0 || signals != 0 {
		t.Fatalf("corrupt file should yield empty memory, got seen=%d signals=%d", seen, signals)
	}
}

func TestMemoryPruneKeepsMostRecent(t *testing.T) {
	m := newTestMemory(t)
	titles := []string{"one", "two", "three", "four", "five"}
	for _, title := range titles {
		m.MarkSeen(title)
	}
	m.Prune(2)

	if m.Seen("one") || m.Seen("three") {
		t.Fatal("expected oldest hashes to be pruned")
	}
	if !m.Seen("four") || !m.Seen("five") {
		t.Fatal("expected most recent hashes to survive")
	}
}

func TestMemoryReset(t *testing.T) {
	m := newTestMemory(t)
	m.MarkSeen("headline")
	m.AppendSignal(SignalRecord{Title: "headline", Score: 9})

	seenCleared, signalsCleared := m.Reset(true)
	if seenCleared != 1 || signalsCleared != 0 {
		t.Fatalf("unexpected clear counts: seen=%d signals=%d", seenCleared, signalsCleared)
	}
	if m.Seen("headline") {
		t.Fatal("expected seen hashes cleared")
	}
	if _, signals := m.Counts(); signals != 1 {
		t.Fatal("expected signals kept")
	}

	_, signalsCleared = m.Reset(false)
	if signalsCleared != 1 {
		t.Fatalf("expected signals cleared, got %d", signalsCleared)
	}
}

func TestMemorySignalsFilterSortLimit(t *testing.T) {
	m := newTestMemory(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.AppendSignal(SignalRecord{Title: "low", Score: 3, Timestamp: base})
	m.AppendSignal(SignalRecord{Title: "older high", Score: 9, Timestamp: base})
	m.AppendSignal(SignalRecord{Title: "newer high", Score: 9, Timestamp: base.Add(time.Hour)})
	m.AppendSignal(SignalRecord{Title: "mid", Score: 6, Timestamp: base})

	signals := m.Signals(2, 5)
	if len(signals) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(signals))
	}
	if signals[0].Title != "newer high" {
		t.Fatalf("expected newest of the top score first, got %q", signals[0].Title)
	}
	if signals[1].Title != "older high" {
		t.Fatalf("expected older high second, got %q", signals[1].Title)
	}
}
