package scorer

import (
	"context"
	"errors"
	"testing"

	"Alfred-Curator/internal/llm"
)

type stubClient struct {
	content string
	err     error
}

func (s *stubClient) Complete(context.Context, llm.Request) (*llm.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"7", 7, false},
		{" 8 \n", 8, false},
		{"Score: 9", 9, false},
		{"10", 10, false},
		{"I would rate it 42", 0, true},
		{"no number here", 0, true},
		{"0", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseScore(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ParseScore(%q): expected error, got %d", tc.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseScore(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("ParseScore(%q) = %d, want %d", tc.raw, got, tc.want)
		}
	}
}

func TestKeywordScore(t *testing.T) {
	cases := []struct {
		title string
		want  int
	}{
		// 高价值关键词 etf：5 + 2。
		{"Major Exchange ETF Approved", 7},
		// 高价值只计一次，另有中价值命中：5 + 2 + 1。
		{"Bitcoin ETF launch announced", 8},
		// 没有关键词命中时保持基准分。
		{"Quiet day in the markets", 5},
		// 中价值关键词 ai：5 + 1。
		{"New AI model released", 6},
		// "paid" 不应命中 "ai"。
		{"Users paid more for shipping", 5},
	}
	for _, tc := range cases {
		if got := KeywordScore(tc.title); got != tc.want {
			t.Fatalf("KeywordScore(%q) = %d, want %d", tc.title, got, tc.want)
		}
	}
}

func TestKeywordScoreClamped(t *testing.T) {
	if got := KeywordScore("Bitcoin ETF SEC hack billion token AI defi"); got > 10 {
		t.Fatalf("expected clamp at 10, got %d", got)
	}
}

func TestScorePrefersLLM(t *testing.T) {
	engine := NewEngine(&stubClient{content: "9"})
	res := engine.Score(context.Background(), "Some headline")
	if res.Fallback {
		t.Fatal("expected LLM path, got fallback")
	}
	if res.Score != 9 {
		t.Fatalf("expected score 9, got %d", res.Score)
	}
}

func TestScoreFallsBackOnLLMError(t *testing.T) {
	engine := NewEngine(&stubClient{err: errors.New("connection refused")})
	res := engine.Score(context.Background(), "Major Exchange ETF Approved")
	if !res.Fallback {
		t.Fatal("expected fallback path")
	}
	if res.Score != 7 {
		t.Fatalf("expected fallback score 7, got %d", res.Score)
	}
}

func TestScoreFallsBackOnUnparseableOutput(t *testing.T) {
	engine := NewEngine(&stubClient{content: "I cannot rate this"})
	res := engine.Score(context.Background(), "Quiet day in the markets")
	if !res.Fallback {
		t.Fatal("expected fallback path for unparseable output")
	}
	if res.Score != 5 {
		t.Fatalf("expected baseline 5, got %d", res.Score)
	}
}

func TestScoreWithoutClientUsesFallback(t *testing.T) {
	engine := NewEngine(nil)
	res := engine.Score(context.Background(), "New AI model released")
	if !res.Fallback || res.Score != 6 {
		t.Fatalf("expected fallback score 6, got %+v", res)
	}
}
