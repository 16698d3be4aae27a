package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStoreConfig 描述 Redis 存储的连接参数。
type RedisStoreConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 把 nonce、会话与聊天付费状态放进 Redis，TTL 交给
// Redis 的键过期机制。多实例部署时共享同一份状态。
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore 创建 Redis 存储实例。
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "curator:pay"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) nonceKey(address string) string { return s.prefix + ":nonce:" + address }

func (s *RedisStore) sessionKey(token string) string { return s.prefix + ":session:" + token }

func (s *RedisStore) chatKey(chatID string) string { return s.prefix + ":chat:" + chatID }

func (s *RedisStore) betaUserKey(chatID string) string { return s.prefix + ":beta:user:" + chatID }

func (s *RedisStore) betaCountKey() string { return s.prefix + ":beta:count" }

func (s *RedisStore) putJSON(ctx context.Context, key string, value any, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化 %s 失败: %w", key, err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("写入 Redis 键 %s 失败: %w", key, err)
	}
	return nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) (bool, error) {
	payload, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("读取 Redis 键 %s 失败: %w", key, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("解析 Redis 键 %s 失败: %w", key, err)
	}
	return true, nil
}

// PutNonce 实现 Store。
func (s *RedisStore) PutNonce(ctx context.Context, address string, nonce Nonce) error {
	return s.putJSON(ctx, s.nonceKey(address), nonce, nonce.ExpiresAt)
}

// GetNonce 实现 Store。
func (s *RedisStore) GetNonce(ctx context.Context, address string) (*Nonce, error) {
	var nonce Nonce
	ok, err := s.getJSON(ctx, s.nonceKey(address), &nonce)
	if err != nil || !ok {
		return nil, err
	}
	return &nonce, nil
}

// DeleteNonce 实现 Store。
func (s *RedisStore) DeleteNonce(ctx context.Context, address string) error {
	if err := s.client.Del(ctx, s.nonceKey(address)).Err(); err != nil {
		return fmt.Errorf("删除 Redis nonce 失败: %w", err)
	}
	return nil
}

// PutSession 实现 Store。
func (s *RedisStore) PutSession(ctx context.Context, token string, session Session) error {
	return s.putJSON(ctx, s.sessionKey(token), session, session.ExpiresAt)
}

// GetSession 实现 Store。
func (s *RedisStore) GetSession(ctx context.Context, token string) (*Session, error) {
	var session Session
	ok, err := s.getJSON(ctx, s.sessionKey(token), &session)
	if err != nil || !ok {
		return nil, err
	}
	return &session, nil
}

// PutChatAccess 实现 Store。
func (s *RedisStore) PutChatAccess(ctx context.Context, chatID string, access ChatAccess) error {
	return s.putJSON(ctx, s.chatKey(chatID), access, access.ExpiresAt)
}

// GetChatAccess 实现 Store。
func (s *RedisStore) GetChatAccess(ctx context.Context, chatID string) (*ChatAccess, error) {
	var access ChatAccess
	ok, err := s.getJSON(ctx, s.chatKey(chatID), &access)
	if err != nil || !ok {
		return nil, err
	}
	return &access, nil
}

// RedeemBeta 实现 Store。用 SETNX 保证同一 chat 只计数一次，
// INCR 维护全局名额，超额时回滚。
func (s *RedisStore) RedeemBeta(ctx context.Context, chatID string, maxUses int) (BetaOutcome, error) {
	created, err := s.client.SetNX(ctx, s.betaUserKey(chatID), time.Now().Unix(), 0).Result()
	if err != nil {
		return BetaFull, fmt.Errorf("记录邀请码兑换失败: %w", err)
	}
	if !created {
		return BetaAlreadyRedeemed, nil
	}

	used, err := s.client.Incr(ctx, s.betaCountKey()).Result()
	if err != nil {
		_ = s.client.Del(ctx, s.betaUserKey(chatID)).Err()
		return BetaFull, fmt.Errorf("更新邀请码名额失败: %w", err)
	}
	if used > int64(maxUses) {
		_ = s.client.Decr(ctx, s.betaCountKey()).Err()
		_ = s.client.Del(ctx, s.betaUserKey(chatID)).Err()
		return BetaFull, nil
	}
	return BetaGranted, nil
}

// BetaRedeemed 实现 Store。
func (s *RedisStore) BetaRedeemed(ctx context.Context, chatID string) (bool, error) {
	count, err := s.client.Exists(ctx, s.betaUserKey(chatID)).Result()
	if err != nil {
		return false, fmt.Errorf("查询邀请码状态失败: %w", err)
	}
	return count > 0, nil
}

// Close 实现 Store。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
