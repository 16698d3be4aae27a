package curator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/internal/ingest"
	"Alfred-Curator/internal/scorer"
	"Alfred-Curator/pkg/logger"
)

// SignalPublisher 把高信号投递到下游队列。
type SignalPublisher interface {
	Publish(ctx context.Context, record SignalRecord) error
}

// SignalArchive 把信号写入长期归档存储。
type SignalArchive interface {
	Save(ctx context.Context, record SignalRecord) error
}

// Options 控制策展循环的运行参数。
type Options struct {
	// MaxAge 限制聚合条目的最大年龄。
	MaxAge time.Duration
	// ScoreCap 是单个周期内实际评分的条目上限，超出的条目
	// 推迟到下个周期。
	ScoreCap int
	// ScoreDelay 是两次评分调用之间的间隔，用于尊重评分服务限流。
	ScoreDelay time.Duration
	// HistorySize 是已见哈希的保留上限。
	HistorySize int
	// PublishThreshold 是投递到下游队列的最低分数。
	PublishThreshold int
}

func (o *Options) applyDefaults() {
	if o.MaxAge <= 0 {
		o.MaxAge = 8 * time.Hour
	}
	if o.ScoreCap <= 0 {
		o.ScoreCap = 10
	}
	if o.ScoreDelay < 0 {
		o.ScoreDelay = 0
	}
	if o.HistorySize <= 0 {
		o.HistorySize = 200
	}
	if o.PublishThreshold <= 0 {
		o.PublishThreshold = 8
	}
}

// Curator 驱动完整的策展周期。所有依赖在构造时显式注入。
type Curator struct {
	aggregator *ingest.Aggregator
	engine     *scorer.Engine
	memory     *Memory
	publisher  SignalPublisher
	archive    SignalArchive
	opts       Options

	running atomic.Bool
}

// New 创建策展器。publisher 与 archive 可以为 nil。
func New(aggregator *ingest.Aggregator, engine *scorer.Engine, memory *Memory, publisher SignalPublisher, archive SignalArchive, opts Options) *Curator {
	opts.applyDefaults()
	return &Curator{
		aggregator: aggregator,
		engine:     engine,
		memory:     memory,
		publisher:  publisher,
		archive:    archive,
		opts:       opts,
	}
}

// Memory 返回底层记忆，供查询接口使用。
func (c *Curator) Memory() *Memory {
	return c.memory
}

// CycleStats 汇总一次周期的处理结果。
type CycleStats struct {
	CycleID  string `json:"cycleId"`
	Fetched  int    `json:"fetched"`
	Fresh    int    `json:"fresh"`
	Scored   int    `json:"scored"`
	Deferred int    `json:"deferred"`
}

// RunCycle 执行一次完整的策展周期。同一时间只允许一个周期运行，
// 冲突时返回 CYCLE_IN_FLIGHT。
func (c *Curator) RunCycle(ctx context.Context) (*CycleStats, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, apperrors.New(apperrors.CodeCycleInFlight, "")
	}
	defer c.running.Store(false)

	cycleID := uuid.NewString()
	log := logger.Named("curator").With("cycle", cycleID)
	log.Info("开始策展周期")

	items := c.aggregator.Aggregate(ctx, c.opts.MaxAge)

	fresh := make([]ingest.Item, 0, len(items))
	for _, item := range items {
		if !c.memory.Seen(item.Title) {
			fresh = append(fresh, item)
		}
	}

	stats := &CycleStats{CycleID: cycleID, Fetched: len(items), Fresh: len(fresh)}

	toScore := fresh
	if len(toScore) > c.opts.ScoreCap {
		toScore = toScore[:c.opts.ScoreCap]
		// 超出上限的条目不标记已见，留到下个周期再评分。
		stats.Deferred = len(fresh) - c.opts.ScoreCap
	}

	for i, item := range toScore {
		if err := ctx.Err(); err != nil {
			log.Warn("周期被取消", "error", err)
			break
		}
		if i > 0 && c.opts.ScoreDelay > 0 {
			select {
			case <-time.After(c.opts.ScoreDelay):
			case <-ctx.Done():
			}
		}

		c.scoreOne(ctx, log, item)
		// 即使评分失败也标记已见，保证周期持续向前推进。
		c.memory.MarkSeen(item.Title)
		stats.Scored++
	}

	c.memory.Prune(c.opts.HistorySize)
	if err := c.memory.Save(); err != nil {
		// 持久化失败只记录日志，内存状态仍然是权威。
		log.Error("持久化记忆失败", "error", err)
	}

	log.Info("策展周期完成",
		"fetched", stats.Fetched,
		"fresh", stats.Fresh,
		"scored", stats.Scored,
		"deferred", stats.Deferred)
	return stats, nil
}

func (c *Curator) scoreOne(ctx context.Context, log *slog.Logger, item ingest.Item) {
	result := c.engine.Score(ctx, item.Title)

	record := SignalRecord{
		Title:     item.Title,
		Link:      item.Link,
		Source:    item.Source,
		Score:     result.Score,
		Timestamp: time.Now().UTC(),
	}
	// 所有评分结果都进入信号历史，高低筛选是读取时的事。
	c.memory.AppendSignal(record)

	if record.Score >= c.opts.PublishThreshold {
		log.Info("发现高信号", "score", record.Score, "title", record.Title)
		if c.publisher != nil {
			if err := c.publisher.Publish(ctx, record); err != nil {
				log.Warn("投递高信号失败", "error", err)
			}
		}
	}

	if c.archive != nil {
		if err := c.archive.Save(ctx, record); err != nil {
			log.Warn("归档信号失败", "error", err)
		}
	}
}
