package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/pkg/logger"
)

const defaultHNBaseURL = "https://hacker-news.firebaseio.com/v0"

// HNFetcher 从 Hacker News 官方 API 拉取热门故事。
type HNFetcher struct {
	baseURL string
	count   int
	client  *http.Client
}

// NewHNFetcher 创建 Hacker News 抓取器。baseURL 为空时使用官方地址，
// count 决定拉取的热门故事数量。
func NewHNFetcher(baseURL string, count int, client *http.Client) *HNFetcher {
	if baseURL == "" {
		baseURL = defaultHNBaseURL
	}
	if count <= 0 {
		count = 15
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HNFetcher{baseURL: baseURL, count: count, client: client}
}

// Name 实现 Source。
func (f *HNFetcher) Name() string { return "hackernews" }

type hnStory struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Time  int64  `json:"time"`
	Text  string `json:"text"`
	Score int    `json:"score"`
}

// Fetch 返回最热门的若干条故事。单条拉取失败或缺少标题的条目被丢弃。
// Hacker News 的热门列表本身就是时效性排序，这里不再按 maxAge 过滤。
func (f *HNFetcher) Fetch(ctx context.Context, _ time.Duration) ([]Item, error) {
	count := f.count

	var topIDs []int
	if err := f.getJSON(ctx, f.baseURL+"/topstories.json", &topIDs); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSourceUnavailable, err, "拉取 Hacker News 热门列表失败")
	}
	if len(topIDs) > count {
		topIDs = topIDs[:count]
	}

	results := make(chan *hnStory, len(topIDs))
	for _, id := range topIDs {
		go func(id int) {
			var story hnStory
			url := fmt.Sprintf("%s/item/%d.json", f.baseURL, id)
			if err := f.getJSON(ctx, url, &story); err != nil {
				results <- nil
				return
			}
			results <- &story
		}(id)
	}

	items := make([]Item, 0, len(topIDs))
	for range topIDs {
		story := <-results
		if story == nil || story.Title == "" {
			continue
		}
		link := story.URL
		if link == "" {
			link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", story.ID)
		}
		items = append(items, Item{
			Title:       story.Title,
			Link:        link,
			Source:      "Hacker News",
			PublishedAt: time.Unix(story.Time, 0).UTC(),
			Snippet:     truncate(stripHTML(story.Text), 300),
			Points:      story.Score,
		})
	}

	logger.Named("hn").Info("Hacker News 拉取完成", "stories", len(items))
	return items, nil
}

func (f *HNFetcher) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
