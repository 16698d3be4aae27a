// Package scorer 负责为新闻标题评定 1-10 的重要性分数。
// 首选大模型评分，模型不可用或输出无法解析时退回确定性的关键词评分，
// 保证条目永远不会因为远端评分服务故障而被静默丢弃。
package scorer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/internal/llm"
	"Alfred-Curator/pkg/logger"
)

const (
	systemPrompt = "You are a senior news editor at a tech and crypto intelligence service. Reply with only a single number from 1 to 10."

	promptTemplate = "Rate this news headline from 1-10 based on significance and novelty. Topics: crypto, blockchain, AI, technology, business, macro economics. 1=routine/spam, 5=mildly interesting, 8=important development, 10=critical breaking event. Reply with ONLY the number.\n\n%q"

	maxScore      = 10
	minScore      = 1
	baselineScore = 5
	highBonus     = 2
	mediumBonus   = 1
)

// highValueKeywords 命中任意一个即加高价值分，只计首个命中。
var highValueKeywords = []string{
	"etf", "sec", "hack", "exploit", "bitcoin", "ethereum",
	"regulation", "billion", "acquisition", "bankrupt", "lawsuit",
}

// mediumValueKeywords 命中任意一个加较小的分值，同样只计一次。
var mediumValueKeywords = []string{
	"ai", "defi", "token", "funding", "launch", "partnership",
	"upgrade", "protocol", "stablecoin", "million",
}

// Engine 封装主评分路径与关键词回退路径。
type Engine struct {
	client llm.Client
}

// NewEngine 创建评分引擎。client 为 nil 时只使用关键词回退。
func NewEngine(client llm.Client) *Engine {
	return &Engine{client: client}
}

// Result 描述一次评分的结果及其来源。
type Result struct {
	Score int
	// Fallback 为 true 表示该分数来自关键词回退路径。
	Fallback bool
	Raw      string
}

// Score 为标题评分。主路径失败时自动退回关键词评分，永不返回错误
// 导致条目被丢弃。
func (e *Engine) Score(ctx context.Context, title string) Result {
	if e.client != nil {
		score, raw, err := e.scoreLLM(ctx, title)
		if err == nil {
			return Result{Score: score, Raw: raw}
		}
		logger.Named("scorer").Warn("大模型评分失败，使用关键词回退",
			"title", truncateTitle(title),
			"error", err)
	}
	return Result{Score: KeywordScore(title), Fallback: true}
}

// scoreLLM 调用大模型并解析数字。输出中的非数字字符会被剔除。
func (e *Engine) scoreLLM(ctx context.Context, title string) (int, string, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		System:    systemPrompt,
		Prompt:    fmt.Sprintf(promptTemplate, title),
		MaxTokens: 50,
	})
	if err != nil {
		return 0, "", apperrors.Wrap(apperrors.CodeScoreFailure, err, "调用评分模型失败")
	}

	score, err := ParseScore(resp.Content)
	if err != nil {
		return 0, resp.Content, err
	}
	return score, resp.Content, nil
}

// ParseScore 从模型输出中提取分数。剔除所有非数字字符后解析，
// 超出 [1,10] 范围视为无效。
func ParseScore(raw string) (int, error) {
	var digits strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, apperrors.New(apperrors.CodeScoreFailure, "模型输出中没有数字: "+raw)
	}
	score, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeScoreFailure, err, "解析分数失败")
	}
	if score < minScore || score > maxScore {
		return 0, apperrors.New(apperrors.CodeScoreFailure,
			fmt.Sprintf("分数 %d 超出有效范围", score))
	}
	return score, nil
}

// KeywordScore 是确定性的关键词回退评分。基准 5 分，命中高价值
// 关键词加 2（只计首个命中），命中中价值关键词加 1，上限 10 分。
func KeywordScore(title string) int {
	text := strings.ToLower(title)
	score := baselineScore

	for _, kw := range highValueKeywords {
		if containsWord(text, kw) {
			score += highBonus
			break
		}
	}
	for _, kw := range mediumValueKeywords {
		if containsWord(text, kw) {
			score += mediumBonus
			break
		}
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// containsWord 做词边界匹配，避免 "ai" 命中 "paid" 这类子串。
func containsWord(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(text[start-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= 40 {
		return title
	}
	return string(runes[:40]) + "..."
}
