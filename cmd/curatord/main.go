package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"Alfred-Curator/internal/api"
	"Alfred-Curator/internal/briefing"
	"Alfred-Curator/internal/config"
	"Alfred-Curator/internal/curator"
	"Alfred-Curator/internal/delivery"
	"Alfred-Curator/internal/gate"
	"Alfred-Curator/internal/ingest"
	"Alfred-Curator/internal/llm"
	"Alfred-Curator/internal/llm/openrouter"
	"Alfred-Curator/internal/payment"
	"Alfred-Curator/internal/scorer"
	"Alfred-Curator/internal/storage/mysql"
	"Alfred-Curator/pkg/logger"
)

// main 是策展守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("curatord 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CURATOR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "curator.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.Audit.Enabled,
			Path:       cfg.Log.Audit.Path,
			MaxSizeMB:  cfg.Log.Audit.MaxSizeMB,
			MaxBackups: cfg.Log.Audit.MaxBackups,
			MaxAgeDays: cfg.Log.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	engine := scorer.NewEngine(llmClient)

	aggregator, feedCount := buildAggregator(cfg)
	memory := curator.NewMemory(cfg.Curator.MemoryFile)

	queue, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if queue != nil {
			if err := queue.Close(); err != nil {
				logger.Named("main").Warn("关闭信号队列失败", "error", err)
			}
		}
	}()

	// 内存队列没有外部消费者，在进程内起一个记录日志的消费协程，
	// 避免队列被写满。
	if memQueue, ok := queue.(*delivery.MemoryQueue); ok {
		go func() {
			_ = memQueue.Consume(ctx, 1, func(_ context.Context, record curator.SignalRecord) error {
				logger.Named("delivery").Info("高信号已投递",
					"score", record.Score, "title", record.Title, "link", record.Link)
				return nil
			})
		}()
	}

	var archive curator.SignalArchive
	var archiveReader api.ArchiveReader
	switch cfg.Archive.Driver {
	case "", "none":
	case "mysql":
		store, err := mysql.NewSignalStore(ctx, mysql.Config{
			DSN:             cfg.Archive.MySQL.DSN,
			MaxOpenConns:    cfg.Archive.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Archive.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Archive.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Archive.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		defer store.Close()
		archive = store
		archiveReader = store
	default:
		return fmt.Errorf("未知的归档驱动: %s", cfg.Archive.Driver)
	}

	cur := curator.New(aggregator, engine, memory, queue, archive, curator.Options{
		MaxAge:           cfg.Curator.MaxAge(),
		ScoreCap:         cfg.Curator.ScoreCap,
		ScoreDelay:       cfg.Curator.ScoreDelay(),
		HistorySize:      cfg.Curator.HistorySize,
		PublishThreshold: cfg.Curator.PublishThreshold,
	})

	payStore, err := buildPaymentStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = payStore.Close()
	}()

	// 内存版支付存储依赖定期清扫回收过期键。
	if memStore, ok := payStore.(*payment.MemoryStore); ok {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					memStore.Cleanup()
				}
			}
		}()
	}

	var chain payment.ChainReader
	if cfg.Payment.Wallet != "" {
		client, err := payment.DialChain(ctx, cfg.Payment.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()
		chain = client
	}

	payments, err := payment.NewService(payStore, chain, payment.Options{
		Wallet:      cfg.Payment.Wallet,
		MinEth:      cfg.Payment.MinEth,
		Network:     cfg.Payment.Network,
		NonceTTL:    time.Duration(cfg.Payment.NonceTTLSeconds) * time.Second,
		SessionTTL:  time.Duration(cfg.Payment.SessionTTLSeconds) * time.Second,
		ChatTTL:     time.Duration(cfg.Payment.ChatTTLSeconds) * time.Second,
		BetaCode:    cfg.Payment.BetaCode,
		BetaMaxUses: cfg.Payment.BetaMaxUses,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(api.Config{
		Addr:      cfg.Server.Address,
		Curator:   cur,
		Briefings: briefing.NewService(aggregator, cfg.Curator.MaxAge(), cfg.Curator.BriefingTopN),
		Payments:  payments,
		Scoring:   engine,
		Gate:      gate.New(cfg.Server.LegacyToken, payments),
		Archive:   archiveReader,
		FeedCount: feedCount,
		Interval:  cfg.Curator.Interval(),
	})

	go runCycleLoop(ctx, cur, cfg.Curator.Interval())

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runCycleLoop 启动后先跑一个完整周期，之后按固定间隔重复。
func runCycleLoop(ctx context.Context, cur *curator.Curator, interval time.Duration) {
	log := logger.Named("main")

	if _, err := cur.RunCycle(ctx); err != nil {
		log.Warn("启动周期失败", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := cur.RunCycle(ctx); err != nil {
				log.Warn("定时周期失败", "error", err)
			}
		}
	}
}

func buildAggregator(cfg *config.Config) (*ingest.Aggregator, int) {
	feeds := make([]ingest.Feed, 0, len(cfg.Curator.Feeds))
	for _, feed := range cfg.Curator.Feeds {
		feeds = append(feeds, ingest.Feed{Name: feed.Name, URL: feed.URL})
	}

	sources := []ingest.Source{
		ingest.NewRSSFetcher(feeds, cfg.Curator.FetchTimeout()),
		ingest.NewHNFetcher("", cfg.Curator.HNCount, nil),
	}
	feedCount := len(feeds) + 1

	twitter := ingest.NewTwitterFetcher("", cfg.Curator.TwitterBearer(), cfg.Curator.TwitterQuery, nil)
	if twitter.Enabled() {
		sources = append(sources, twitter)
		feedCount++
	}

	return ingest.NewAggregator(sources...), feedCount
}

func buildQueue(cfg *config.Config) (delivery.Queue, error) {
	switch cfg.Delivery.Driver {
	case "", "memory":
		return delivery.NewMemoryQueue(256), nil
	case "redis":
		return delivery.NewRedisQueue(delivery.RedisQueueConfig{
			Address:   cfg.Delivery.Redis.Address,
			Password:  cfg.Delivery.Redis.Password,
			DB:        cfg.Delivery.Redis.DB,
			Queue:     cfg.Delivery.Redis.Queue,
			BlockWait: time.Duration(cfg.Delivery.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return delivery.NewRabbitMQQueue(delivery.RabbitMQConfig{
			URL:        cfg.Delivery.RabbitMQ.URL,
			Queue:      cfg.Delivery.RabbitMQ.Queue,
			Prefetch:   cfg.Delivery.RabbitMQ.Prefetch,
			Durable:    cfg.Delivery.RabbitMQ.Durable,
			AutoDelete: cfg.Delivery.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Delivery.Driver)
	}
}

func buildPaymentStore(cfg *config.Config) (payment.Store, error) {
	switch cfg.Payment.Store.Driver {
	case "", "memory":
		return payment.NewMemoryStore(), nil
	case "redis":
		return payment.NewRedisStore(payment.RedisStoreConfig{
			Address:   cfg.Payment.Store.Redis.Address,
			Password:  cfg.Payment.Store.Redis.Password,
			DB:        cfg.Payment.Store.Redis.DB,
			KeyPrefix: cfg.Payment.Store.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("未知的支付存储驱动: %s", cfg.Payment.Store.Driver)
	}
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "none":
		return nil, nil
	case "", "openrouter":
		apiKey := strings.TrimSpace(cfg.LLM.OpenRouter.APIKey)
		if apiKey == "" {
			// 没有密钥时退回关键词评分，不视为错误。
			return nil, nil
		}
		return openrouter.NewClient(openrouter.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenRouter.BaseURL,
			Model:   cfg.LLM.OpenRouter.Model,
			Timeout: cfg.LLM.OpenRouter.Timeout(),
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
