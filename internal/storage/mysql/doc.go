// Package mysql 提供信号的长期归档存储。滚动记忆文件只保留有限
// 历史，归档库保存全量信号供离线分析。
package mysql
