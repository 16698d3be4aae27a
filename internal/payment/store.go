package payment

import (
	"context"
	"sync"
	"time"
)

// Store 抽象 nonce、会话与聊天付费状态的存取。所有带 TTL 的
// 记录过期后必须表现为不存在。
type Store interface {
	// PutNonce 写入地址对应的挑战，覆盖旧值。
	PutNonce(ctx context.Context, address string, nonce Nonce) error
	// GetNonce 返回地址对应的挑战，不存在或已过期返回 nil。
	GetNonce(ctx context.Context, address string) (*Nonce, error)
	// DeleteNonce 删除地址对应的挑战。
	DeleteNonce(ctx context.Context, address string) error

	// PutSession 写入会话。
	PutSession(ctx context.Context, token string, session Session) error
	// GetSession 返回会话，不存在或已过期返回 nil。
	GetSession(ctx context.Context, token string) (*Session, error)

	// PutChatAccess 写入聊天付费记录。
	PutChatAccess(ctx context.Context, chatID string, access ChatAccess) error
	// GetChatAccess 返回聊天付费记录，不存在或已过期返回 nil。
	GetChatAccess(ctx context.Context, chatID string) (*ChatAccess, error)

	// RedeemBeta 原子地执行一次邀请码兑换：已兑换过返回
	// BetaAlreadyRedeemed，超出全局名额返回 BetaFull。
	RedeemBeta(ctx context.Context, chatID string, maxUses int) (BetaOutcome, error)
	// BetaRedeemed 报告该 chat 是否已兑换。
	BetaRedeemed(ctx context.Context, chatID string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// MemoryStore 是进程内实现，依赖惰性过期检查。适合单实例部署
// 与测试。
type MemoryStore struct {
	mu        sync.Mutex
	nonces    map[string]Nonce
	sessions  map[string]Session
	chats     map[string]ChatAccess
	betaUsers map[string]time.Time
	betaUsed  int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nonces:    make(map[string]Nonce),
		sessions:  make(map[string]Session),
		chats:     make(map[string]ChatAccess),
		betaUsers: make(map[string]time.Time),
	}
}

// PutNonce 实现 Store。
func (s *MemoryStore) PutNonce(_ context.Context, address string, nonce Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[address] = nonce
	return nil
}

// GetNonce 实现 Store。
func (s *MemoryStore) GetNonce(_ context.Context, address string) (*Nonce, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce, ok := s.nonces[address]
	if !ok {
		return nil, nil
	}
	if time.Now().After(nonce.ExpiresAt) {
		delete(s.nonces, address)
		return nil, nil
	}
	return &nonce, nil
}

// DeleteNonce 实现 Store。
func (s *MemoryStore) DeleteNonce(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonces, address)
	return nil
}

// PutSession 实现 Store。
func (s *MemoryStore) PutSession(_ context.Context, token string, session Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = session
	return nil
}

// GetSession 实现 Store。
func (s *MemoryStore) GetSession(_ context.Context, token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	if time.Now().After(session.ExpiresAt) {
		delete(s.sessions, token)
		return nil, nil
	}
	return &session, nil
}

// PutChatAccess 实现 Store。
func (s *MemoryStore) PutChatAccess(_ context.Context, chatID string, access ChatAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = access
	return nil
}

// GetChatAccess 实现 Store。
func (s *MemoryStore) GetChatAccess(_ context.Context, chatID string) (*ChatAccess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	access, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	if time.Now().After(access.ExpiresAt) {
		delete(s.chats, chatID)
		return nil, nil
	}
	return &access, nil
}

// RedeemBeta 实现 Store。
func (s *MemoryStore) RedeemBeta(_ context.Context, chatID string, maxUses int) (BetaOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.betaUsers[chatID]; ok {
		return BetaAlreadyRedeemed, nil
	}
	if s.betaUsed >= maxUses {
		return BetaFull, nil
	}
	s.betaUsers[chatID] = time.Now()
	s.betaUsed++
	return BetaGranted, nil
}

// BetaRedeemed 实现 Store。
func (s *MemoryStore) BetaRedeemed(_ context.Context, chatID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.betaUsers[chatID]
	return ok, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error {
	return nil
}

// Cleanup 主动清理过期的 nonce 与会话，供后台周期调用。
func (s *MemoryStore) Cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, nonce := range s.nonces {
		if now.After(nonce.ExpiresAt) {
			delete(s.nonces, addr)
		}
	}
	for token, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, token)
		}
	}
	for chatID, access := range s.chats {
		if now.After(access.ExpiresAt) {
			delete(s.chats, chatID)
		}
	}
}
