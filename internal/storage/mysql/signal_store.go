package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"Alfred-Curator/internal/curator"
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// SignalStore 将信号写入 MySQL 归档表。
type SignalStore struct {
	db *sql.DB
}

var _ curator.SignalArchive = (*SignalStore)(nil)

// NewSignalStore 创建归档存储并初始化表结构。
func NewSignalStore(ctx context.Context, cfg Config) (*SignalStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &SignalStore{db: db}
	if err := store.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return db, nil
}

func (s *SignalStore) ensureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS curator_signals (
	id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
	title VARCHAR(512) NOT NULL,
	link VARCHAR(1024) NOT NULL,
	source VARCHAR(128) NOT NULL,
	score TINYINT UNSIGNED NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	INDEX idx_signals_score (score),
	INDEX idx_signals_recorded (recorded_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("初始化信号归档表失败: %w", err)
	}
	return nil
}

// Save 实现 curator.SignalArchive。
func (s *SignalStore) Save(ctx context.Context, record curator.SignalRecord) error {
	const query = `INSERT INTO curator_signals (title, link, source, score, recorded_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		record.Title, record.Link, record.Source, record.Score, record.Timestamp.UTC()); err != nil {
		return fmt.Errorf("写入信号归档失败: %w", err)
	}
	return nil
}

// ListLatest 按归档时间倒序返回最近的信号。
func (s *SignalStore) ListLatest(ctx context.Context, limit int) ([]curator.SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT title, link, source, score, recorded_at FROM curator_signals ORDER BY recorded_at DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询信号归档失败: %w", err)
	}
	defer rows.Close()

	var records []curator.SignalRecord
	for rows.Next() {
		var record curator.SignalRecord
		if err := rows.Scan(&record.Title, &record.Link, &record.Source, &record.Score, &record.Timestamp); err != nil {
			return nil, fmt.Errorf("解析信号归档失败: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历信号归档失败: %w", err)
	}
	return records, nil
}

// Close 释放数据库连接池。
func (s *SignalStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
