package delivery

import (
	"context"
	"errors"
	"sync"

	"Alfred-Curator/internal/curator"
)

// MemoryQueue 使用 channel 模拟消息队列，适合单实例部署与测试。
type MemoryQueue struct {
	ch     chan curator.SignalRecord
	mu     sync.Mutex
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan curator.SignalRecord, size)}
}

// Publish 将信号投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, record curator.SignalRecord) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return errors.New("队列已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- record:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的信号。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case record, ok := <-q.ch:
					if !ok {
						return
					}
					_ = handler(ctx, record)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		close(q.ch)
		q.closed = true
	}
	q.mu.Unlock()
	return nil
}
