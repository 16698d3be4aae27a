package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/pkg/logger"
)

const defaultTwitterBaseURL = "https://api.twitter.com/2"

// TwitterFetcher 通过 recent search 接口检索社交动态。
// 未配置 bearer token 时该源处于关闭状态。
type TwitterFetcher struct {
	baseURL string
	bearer  string
	query   string
	client  *http.Client
}

// NewTwitterFetcher 创建社交检索源。bearer 为空时 Fetch 返回空结果。
func NewTwitterFetcher(baseURL, bearer, query string, client *http.Client) *TwitterFetcher {
	if baseURL == "" {
		baseURL = defaultTwitterBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwitterFetcher{baseURL: baseURL, bearer: bearer, query: query, client: client}
}

// Name 实现 Source。
func (f *TwitterFetcher) Name() string { return "twitter" }

// Enabled 报告该源是否已配置凭据。
func (f *TwitterFetcher) Enabled() bool {
	return f.bearer != "" && f.query != ""
}

type twitterResponse struct {
	Data []struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		AuthorID  string    `json:"author_id"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"users"`
	} `json:"includes"`
}

// Fetch 检索最近的推文并归一化为条目。作者信息来自 includes.users。
func (f *TwitterFetcher) Fetch(ctx context.Context, maxAge time.Duration) ([]Item, error) {
	if !f.Enabled() {
		return nil, nil
	}

	params := url.Values{}
	params.Set("query", f.query)
	params.Set("max_results", "25")
	params.Set("tweet.fields", "created_at,author_id")
	params.Set("expansions", "author_id")
	params.Set("user.fields", "username")

	endpoint := f.baseURL + "/tweets/search/recent?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.bearer)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSourceUnavailable, err, "检索社交动态失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.CodeSourceUnavailable,
			fmt.Sprintf("社交检索返回异常状态码 %d", resp.StatusCode))
	}

	var payload twitterResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSourceUnavailable, err, "解析社交检索响应失败")
	}

	usernames := make(map[string]string, len(payload.Includes.Users))
	for _, user := range payload.Includes.Users {
		usernames[user.ID] = user.Username
	}

	cutoff := time.Now().Add(-maxAge)
	items := make([]Item, 0, len(payload.Data))
	for _, tweet := range payload.Data {
		if !tweet.CreatedAt.After(cutoff) {
			continue
		}
		author := usernames[tweet.AuthorID]
		link := "https://twitter.com/i/status/" + tweet.ID
		if author != "" {
			link = fmt.Sprintf("https://twitter.com/%s/status/%s", author, tweet.ID)
		}
		items = append(items, Item{
			Title:       truncate(tweet.Text, 140),
			Link:        link,
			Source:      "Twitter",
			PublishedAt: tweet.CreatedAt.UTC(),
			Snippet:     truncate(tweet.Text, 300),
			Author:      author,
		})
	}

	logger.Named("twitter").Info("社交检索完成", "tweets", len(items))
	return items, nil
}
