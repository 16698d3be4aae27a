// Package rank 提供不依赖大模型的确定性文章排序：关键词权重、
// 来源可信度乘数、社区热度与时效加分。
package rank

import (
	"math"
	"sort"
	"strings"
	"time"

	"Alfred-Curator/internal/ingest"
	"Alfred-Curator/pkg/logger"
)

// topicWeights 是主题关键词及其权重，负数表示降权。
var topicWeights = map[string]float64{
	// 加密货币 / web3，高优先级。
	"bitcoin": 3, "btc": 3, "ethereum": 3, "eth": 3, "crypto": 2,
	"defi": 3, "nft": 2, "blockchain": 2, "solana": 2, "layer 2": 3,
	"rollup": 3, "eigenlayer": 5, "restaking": 4, "avs": 4,
	"staking": 3, "airdrop": 2, "token": 2, "dao": 2,
	// AI / 技术。
	"ai": 2, "artificial intelligence": 2, "machine learning": 2, "llm": 3,
	"openai": 2, "anthropic": 2, "gpu": 2, "inference": 3,
	// 市场。
	"sec": 2, "regulation": 2, "etf": 3, "fed": 2, "rate": 1,
	"bull": 1, "bear": 1, "rally": 1, "crash": 2,
	// 噪音降权。
	"meme": -1, "celebrity": -2, "scam": -1,
}

// sourceMultipliers 是来源可信度乘数，未知来源按 1.0 处理。
var sourceMultipliers = map[string]float64{
	"CoinDesk":      1.2,
	"Blockworks":    1.3,
	"The Block":     1.2,
	"CoinTelegraph": 1.0,
	"Decrypt":       1.1,
	"TechCrunch":    1.1,
	"Hacker News":   1.0,
}

// Scored 是带相关性分数的文章。
type Scored struct {
	ingest.Item
	Relevance float64 `json:"relevanceScore"`
}

// ScoreItem 为单篇文章计算相关性分数。
func ScoreItem(item ingest.Item, now time.Time) Scored {
	text := strings.ToLower(item.Title + " " + item.Snippet)
	var score float64

	for keyword, weight := range topicWeights {
		if strings.Contains(text, keyword) {
			score += weight
		}
	}

	// 社区热度加分，上限 +3。
	if item.Points > 0 {
		score += math.Min(float64(item.Points)/100, 3)
	}

	// 时效加分：两小时内 +2，四小时内 +1。
	if !item.PublishedAt.IsZero() {
		age := now.Sub(item.PublishedAt)
		switch {
		case age < 2*time.Hour:
			score += 2
		case age < 4*time.Hour:
			score += 1
		}
	}

	mult, ok := sourceMultipliers[item.Source]
	if !ok {
		mult = 1.0
	}
	score *= mult

	return Scored{
		Item:      item,
		Relevance: math.Round(score*100) / 100,
	}
}

// Rank 为所有文章评分并按相关性降序返回前 topN 篇。
func Rank(items []ingest.Item, topN int) []Scored {
	if topN <= 0 {
		topN = 10
	}
	now := time.Now()

	scored := make([]Scored, 0, len(items))
	for _, item := range items {
		scored = append(scored, ScoreItem(item, now))
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})

	if len(scored) > topN {
		scored = scored[:topN]
	}
	logger.Named("rank").Info("文章排序完成", "total", len(items), "top", len(scored))
	return scored
}
