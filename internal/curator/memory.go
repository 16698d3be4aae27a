package curator

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/pkg/logger"
)

// SignalRecord 是一条已评分并留存的信号。
type SignalRecord struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Source    string    `json:"source"`
	Score     int       `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// memorySnapshot 是落盘的 JSON 结构。
type memorySnapshot struct {
	SeenHashes  []string       `json:"seenHashes"`
	HighSignals []SignalRecord `json:"highSignals"`
}

// Memory 维护策展记忆：已见条目哈希与信号历史。内存状态是权威，
// 磁盘只是恢复点，持久化失败不影响当前进程的行为。
type Memory struct {
	mu          sync.RWMutex
	path        string
	seenHashes  []string
	seenSet     map[string]struct{}
	highSignals []SignalRecord
}

// NewMemory 创建记忆实例并尝试从磁盘恢复。文件不存在或损坏时
// 从空状态开始。
func NewMemory(path string) *Memory {
	m := &Memory{
		path:    path,
		seenSet: make(map[string]struct{}),
	}
	m.load()
	return m
}

func (m *Memory) load() {
	content, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Named("memory").Warn("读取记忆文件失败，使用空记忆", "path", m.path, "error", err)
		}
		return
	}

	var snapshot memorySnapshot
	if err := json.Unmarshal(content, &snapshot); err != nil {
		logger.Named("memory").Warn("记忆文件损坏，使用空记忆", "path", m.path, "error", err)
		return
	}

	m.seenHashes = snapshot.SeenHashes
	m.highSignals = snapshot.HighSignals
	for _, h := range m.seenHashes {
		m.seenSet[h] = struct{}{}
	}
}

// TitleHash 返回跨周期去重使用的标题哈希。
// 注意这里刻意使用原始标题而非聚合层的归一化标题，两者的
// 去重范围不同。
func TitleHash(title string) string {
	return base64.StdEncoding.EncodeToString([]byte(title))
}

// Seen 报告标题是否已被处理过。
func (m *Memory) Seen(title string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.seenSet[TitleHash(title)]
	return ok
}

// MarkSeen 将标题记为已处理。
func (m *Memory) MarkSeen(title string) {
	hash := TitleHash(title)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seenSet[hash]; ok {
		return
	}
	m.seenSet[hash] = struct{}{}
	m.seenHashes = append(m.seenHashes, hash)
}

// AppendSignal 追加一条信号记录。
func (m *Memory) AppendSignal(record SignalRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.highSignals = append(m.highSignals, record)
}

// Prune 将已见哈希截断为最近的 max 条。
func (m *Memory) Prune(max int) {
	if max <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.seenHashes) <= max {
		return
	}
	dropped := m.seenHashes[:len(m.seenHashes)-max]
	for _, h := range dropped {
		delete(m.seenSet, h)
	}
	m.seenHashes = append([]string(nil), m.seenHashes[len(m.seenHashes)-max:]...)
}

// Save 将记忆原子化写盘：先写临时文件再重命名。
func (m *Memory) Save() error {
	m.mu.RLock()
	snapshot := memorySnapshot{
		SeenHashes:  append([]string(nil), m.seenHashes...),
		HighSignals: append([]SignalRecord(nil), m.highSignals...),
	}
	m.mu.RUnlock()

	content, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "序列化记忆失败")
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "创建记忆目录失败")
	}

	tempPath := m.path + ".tmp"
	if err := os.WriteFile(tempPath, content, 0o644); err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "写入临时记忆文件失败")
	}
	if err := os.Rename(tempPath, m.path); err != nil {
		return apperrors.Wrap(apperrors.CodePersistenceFailure, err, "替换记忆文件失败")
	}
	return nil
}

// Reset 清空已见哈希。keepSignals 为 false 时同时清空信号历史。
// 返回清空前的数量。
func (m *Memory) Reset(keepSignals bool) (seenCleared, signalsCleared int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seenCleared = len(m.seenHashes)
	m.seenHashes = nil
	m.seenSet = make(map[string]struct{})
	if !keepSignals {
		signalsCleared = len(m.highSignals)
		m.highSignals = nil
	}
	return seenCleared, signalsCleared
}

// Signals 返回按分数降序（分数相同按时间降序）排序的信号，
// 过滤掉低于 minScore 的记录，最多返回 limit 条。
func (m *Memory) Signals(limit, minScore int) []SignalRecord {
	m.mu.RLock()
	filtered := make([]SignalRecord, 0, len(m.highSignals))
	for _, s := range m.highSignals {
		if s.Score >= minScore {
			filtered = append(filtered, s)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered
}

// Counts 返回当前记忆规模（已见条目数、信号数）。
func (m *Memory) Counts() (seen, signals int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.seenHashes), len(m.highSignals)
}
