package ingest

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/pkg/logger"
)

// Feed 描述一个 RSS 订阅源。
type Feed struct {
	Name string
	URL  string
}

// RSSFetcher 并发拉取多个 RSS 订阅源。
type RSSFetcher struct {
	feeds   []Feed
	timeout time.Duration
	parser  *gofeed.Parser
}

// NewRSSFetcher 创建订阅源抓取器。timeout 为单个源的抓取超时。
func NewRSSFetcher(feeds []Feed, timeout time.Duration) *RSSFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RSSFetcher{
		feeds:   feeds,
		timeout: timeout,
		parser:  gofeed.NewParser(),
	}
}

// Name 实现 Source。
func (f *RSSFetcher) Name() string { return "rss" }

// Fetch 拉取全部订阅源并返回时效内的条目。结果按订阅源的配置顺序
// 拼接，下游去重的归属因此是确定的。单个源失败只记录日志，
// 不影响其他源的结果。
func (f *RSSFetcher) Fetch(ctx context.Context, maxAge time.Duration) ([]Item, error) {
	cutoff := time.Now().Add(-maxAge)
	log := logger.Named("rss")

	type result struct {
		items []Item
		err   error
	}

	results := make([]result, len(f.feeds))
	var wg sync.WaitGroup
	for i, feed := range f.feeds {
		wg.Add(1)
		go func(i int, feed Feed) {
			defer wg.Done()
			items, err := f.fetchOne(ctx, feed, cutoff)
			results[i] = result{items: items, err: err}
		}(i, feed)
	}
	wg.Wait()

	var all []Item
	for i, res := range results {
		if res.err != nil {
			log.Warn("拉取订阅源失败",
				"feed", f.feeds[i].Name,
				"url", f.feeds[i].URL,
				"error", res.err)
			continue
		}
		all = append(all, res.items...)
	}

	log.Info("订阅源拉取完成", "feeds", len(f.feeds), "articles", len(all))
	return all, nil
}

func (f *RSSFetcher) fetchOne(ctx context.Context, feed Feed, cutoff time.Time) ([]Item, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	parsed, err := f.parser.ParseURLWithContext(feed.URL, fetchCtx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSourceUnavailable, err, "拉取 "+feed.Name+" 失败")
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		if entry == nil || entry.PublishedParsed == nil {
			continue
		}
		if !entry.PublishedParsed.After(cutoff) {
			continue
		}
		snippet := entry.Description
		if snippet == "" {
			snippet = entry.Content
		}
		items = append(items, Item{
			Title:       strings.TrimSpace(entry.Title),
			Link:        entry.Link,
			Source:      feed.Name,
			PublishedAt: entry.PublishedParsed.UTC(),
			Snippet:     truncate(stripHTML(snippet), 300),
		})
	}
	return items, nil
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(s, ""))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
