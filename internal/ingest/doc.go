// Package ingest 负责从外部信息源拉取并归一化新闻条目。
// 当前支持 RSS 订阅、Hacker News 以及可选的社交检索源，
// 聚合层会按标题归一化去重后输出统一的 Item 列表。
package ingest
