package ingest

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode"

	"Alfred-Curator/pkg/logger"
)

// Source 是聚合器消费的统一信息源接口。
type Source interface {
	Name() string
	Fetch(ctx context.Context, maxAge time.Duration) ([]Item, error)
}

// Aggregator 汇总多个信息源并按归一化标题去重。
type Aggregator struct {
	sources []Source
}

// NewAggregator 创建聚合器。
func NewAggregator(sources ...Source) *Aggregator {
	return &Aggregator{sources: sources}
}

// Aggregate 并发拉取所有信息源后去重。结果按信息源的配置顺序拼接，
// 保证跨源重复时记录来源归属先配置的源。单个源的失败只记录日志，
// 不影响整体结果。
func (a *Aggregator) Aggregate(ctx context.Context, maxAge time.Duration) []Item {
	log := logger.Named("aggregator")

	type result struct {
		items []Item
		err   error
	}

	results := make([]result, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			items, err := src.Fetch(ctx, maxAge)
			results[i] = result{items: items, err: err}
		}(i, src)
	}
	wg.Wait()

	var all []Item
	for i, res := range results {
		if res.err != nil {
			log.Warn("信息源拉取失败", "source", a.sources[i].Name(), "error", res.err)
			continue
		}
		all = append(all, res.items...)
	}

	unique := Deduplicate(all)
	log.Info("聚合完成", "total", len(all), "unique", len(unique))
	return unique
}

// Deduplicate 按归一化标题去重，保留首个出现的条目。
// 归一化后不足 5 个字符的标题视为垃圾数据直接丢弃。
func Deduplicate(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	unique := make([]Item, 0, len(items))
	for _, item := range items {
		key := NormalizeTitle(item.Title)
		if len([]rune(key)) < 5 {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, item)
	}
	return unique
}

// NormalizeTitle 将标题转为小写、去除非字母数字字符并压缩空白，
// 用作去重键。
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
