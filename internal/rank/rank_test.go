package rank

import (
	"testing"
	"time"

	"Alfred-Curator/internal/ingest"
)

func TestScoreItemKeywordsAndMultiplier(t *testing.T) {
	now := time.Now()
	item := ingest.Item{
		Title:       "Bitcoin rally continues",
		Source:      "Blockworks",
		PublishedAt: now.Add(-6 * time.Hour),
	}
	scored := ScoreItem(item, now)
	// (bitcoin 3 + rally 1) * 1.3 = 5.2
	if scored.Relevance != 5.2 {
		t.Fatalf("unexpected relevance %v", scored.Relevance)
	}
}

func TestScoreItemRecencyBonus(t *testing.T) {
	now := time.Now()
	fresh := ScoreItem(ingest.Item{Title: "crypto update", PublishedAt: now.Add(-time.Hour)}, now)
	stale := ScoreItem(ingest.Item{Title: "crypto update", PublishedAt: now.Add(-6 * time.Hour)}, now)
	if fresh.Relevance-stale.Relevance != 2 {
		t.Fatalf("expected +2 recency bonus, got %v vs %v", fresh.Relevance, stale.Relevance)
	}
}

func TestScoreItemPointsCapped(t *testing.T) {
	now := time.Now()
	hot := ScoreItem(ingest.Item{Title: "plain title", Points: 10000, PublishedAt: now.Add(-6 * time.Hour)}, now)
	if hot.Relevance != 3 {
		t.Fatalf("expected community bonus capped at 3, got %v", hot.Relevance)
	}
}

func TestScoreItemNegativeKeywords(t *testing.T) {
	now := time.Now()
	noise := ScoreItem(ingest.Item{Title: "celebrity meme coin", PublishedAt: now.Add(-6 * time.Hour)}, now)
	if noise.Relevance >= 0 {
		t.Fatalf("expected noise keywords to go negative, got %v", noise.Relevance)
	}
}

func TestRankOrdersAndLimits(t *testing.T) {
	now := time.Now()
	items := []ingest.Item{
		{Title: "boring nothing", PublishedAt: now.Add(-6 * time.Hour)},
		{Title: "bitcoin etf approved", Source: "CoinDesk", PublishedAt: now.Add(-6 * time.Hour)},
		{Title: "crypto news", PublishedAt: now.Add(-6 * time.Hour)},
	}
	top := Rank(items, 2)
	if len(top) != 2 {
		t.Fatalf("expected top 2, got %d", len(top))
	}
	if top[0].Title != "bitcoin etf approved" {
		t.Fatalf("expected highest relevance first, got %q", top[0].Title)
	}
}
