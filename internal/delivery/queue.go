package delivery

import (
	"context"
	"encoding/json"
	"fmt"

	"Alfred-Curator/internal/curator"
)

// Handler 处理队列中的一条信号。
type Handler func(ctx context.Context, record curator.SignalRecord) error

// Producer 负责向队列投递信号。
type Producer interface {
	Publish(ctx context.Context, record curator.SignalRecord) error
	Close() error
}

// Consumer 负责从队列中消费信号。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

func encodeRecord(record curator.SignalRecord) ([]byte, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("序列化信号失败: %w", err)
	}
	return payload, nil
}

func decodeRecord(payload []byte) (curator.SignalRecord, error) {
	var record curator.SignalRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return record, fmt.Errorf("解析信号失败: %w", err)
	}
	return record, nil
}
