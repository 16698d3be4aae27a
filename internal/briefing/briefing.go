// Package briefing 将排序后的文章编排成可直接阅读的新闻简报。
// 整个流程不依赖大模型，只做分类与格式化。
package briefing

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"Alfred-Curator/internal/ingest"
	"Alfred-Curator/internal/rank"
	"Alfred-Curator/pkg/logger"
)

var (
	cryptoPattern = regexp.MustCompile(`(?i)bitcoin|ethereum|crypto|defi|nft|token|blockchain|solana|eigenlayer|avs|restaking`)
	aiPattern     = regexp.MustCompile(`(?i)\bai\b|artificial intelligence|llm|gpt|model|machine learning|neural`)
)

const emptyBriefing = "No notable news in the last cycle."

// Format 把排序后的文章按主题分组并渲染为纯文本简报。
func Format(articles []rank.Scored, now time.Time) string {
	if len(articles) == 0 {
		return emptyBriefing
	}

	var crypto, ai, general []rank.Scored
	for _, a := range articles {
		text := a.Title + " " + a.Snippet
		switch {
		case cryptoPattern.MatchString(text):
			crypto = append(crypto, a)
		case aiPattern.MatchString(text):
			ai = append(ai, a)
		default:
			general = append(general, a)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "NEWS BRIEFING | %s UTC\n\n", now.UTC().Format("Mon, Jan 2, 15:04"))

	writeSection := func(heading string, items []rank.Scored) {
		if len(items) == 0 {
			return
		}
		b.WriteString(heading + "\n")
		for _, a := range items {
			fmt.Fprintf(&b, "• %s\n", a.Title)
			fmt.Fprintf(&b, "  %s — %s\n", a.Source, a.Link)
		}
		b.WriteString("\n")
	}

	writeSection("CRYPTO & WEB3", crypto)
	writeSection("AI & TECH", ai)
	writeSection("GENERAL", general)

	sources := make(map[string]struct{}, len(articles))
	for _, a := range articles {
		sources[a.Source] = struct{}{}
	}
	fmt.Fprintf(&b, "%d articles curated from %d sources", len(articles), len(sources))

	return b.String()
}

// Result 是一次简报生成的输出。
type Result struct {
	Briefing     string `json:"briefing"`
	ArticleCount int    `json:"articleCount"`
}

// Service 执行完整的简报流水线：聚合、排序、格式化。
type Service struct {
	aggregator *ingest.Aggregator
	maxAge     time.Duration
	topN       int
}

// NewService 创建简报服务。
func NewService(aggregator *ingest.Aggregator, maxAge time.Duration, topN int) *Service {
	if maxAge <= 0 {
		maxAge = 8 * time.Hour
	}
	if topN <= 0 {
		topN = 10
	}
	return &Service{aggregator: aggregator, maxAge: maxAge, topN: topN}
}

// Generate 运行一次简报流水线。没有可用文章时返回占位文案而非错误。
func (s *Service) Generate(ctx context.Context) (*Result, error) {
	log := logger.Named("briefing")
	start := time.Now()

	articles := s.aggregator.Aggregate(ctx, s.maxAge)
	if len(articles) == 0 {
		log.Info("本轮没有可用文章")
		return &Result{Briefing: emptyBriefing}, nil
	}

	ranked := rank.Rank(articles, s.topN)
	text := Format(ranked, time.Now())

	log.Info("简报生成完成",
		"articles", len(ranked),
		"chars", len(text),
		"elapsed", time.Since(start).Round(100*time.Millisecond).String())
	return &Result{Briefing: text, ArticleCount: len(ranked)}, nil
}
