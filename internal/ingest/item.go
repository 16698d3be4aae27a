package ingest

import "time"

// Item 是所有信息源归一化后的条目结构。
type Item struct {
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"pubDate"`
	Snippet     string    `json:"snippet"`
	Author      string    `json:"author,omitempty"`
	// Points 仅对带社区投票的来源有意义（如 Hacker News）。
	Points int `json:"points,omitempty"`
}
