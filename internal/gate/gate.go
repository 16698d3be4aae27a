// Package gate 实现高级接口的准入策略。按优先级依次尝试：
// 回环地址直通、旧版共享令牌、已付费会话、内联 txHash 快速验证，
// 全部失败时拒绝并附带支付指引。
package gate

import (
	"net"
	"net/http"
	"strings"

	"Alfred-Curator/internal/payment"
	"Alfred-Curator/pkg/logger"
)

// Tier 标识放行所走的通道。
type Tier string

const (
	TierLoopback Tier = "loopback"
	TierLegacy   Tier = "legacy-token"
	TierSession  Tier = "session"
	TierDirect   Tier = "direct-payment"
	TierDenied   Tier = "denied"
)

// Decision 是一次准入判定的结果。
type Decision struct {
	Allowed bool
	Tier    Tier
	// Address 在会话通道放行时是会话绑定的钱包地址。
	Address string
	// Reason 在拒绝时说明原因。
	Reason string
	// Instructions 在拒绝时告知如何付费。
	Instructions *payment.Instructions
}

// Gate 组合旧版令牌与支付服务做准入判定。
type Gate struct {
	legacyToken string
	payments    *payment.Service
}

// New 创建准入网关。legacyToken 为空时旧版令牌通道关闭。
func New(legacyToken string, payments *payment.Service) *Gate {
	return &Gate{legacyToken: legacyToken, payments: payments}
}

// Check 按优先级对请求做准入判定。
func (g *Gate) Check(r *http.Request) Decision {
	// 回环地址视为容器内部调用，直接放行。
	if isLoopback(r.RemoteAddr) {
		return Decision{Allowed: true, Tier: TierLoopback}
	}

	if g.legacyToken != "" && g.matchLegacyToken(r) {
		return Decision{Allowed: true, Tier: TierLegacy}
	}

	ctx := r.Context()

	if token := r.Header.Get("X-Session-Token"); token != "" {
		session, err := g.payments.SessionInfo(ctx, token)
		if err != nil {
			logger.Named("gate").Warn("读取会话失败", "error", err)
		} else if session != nil && session.Paid {
			return Decision{Allowed: true, Tier: TierSession, Address: session.Address}
		}
	}

	// 代理可以直接携带 txHash 做一次性验证，不建会话。
	if txHash := r.URL.Query().Get("txHash"); txHash != "" {
		status, err := g.payments.CheckPayment(ctx, "", txHash)
		if err != nil {
			logger.Named("gate").Warn("内联支付验证失败", "error", err)
		} else if status.Paid {
			return Decision{Allowed: true, Tier: TierDirect}
		} else if status.Reason != "" {
			return g.deny(status.Reason)
		}
	}

	return g.deny("payment required")
}

func (g *Gate) deny(reason string) Decision {
	decision := Decision{
		Allowed: false,
		Tier:    TierDenied,
		Reason:  reason,
	}
	if wallet := g.payments.Wallet(); wallet != "" {
		decision.Instructions = &payment.Instructions{
			PayTo:   wallet,
			Amount:  g.payments.MinEth() + " Sepolia ETH",
			Network: g.payments.Network(),
		}
	}
	return decision
}

// matchLegacyToken 支持 Authorization: Bearer 头与 ?token= 查询参数。
func (g *Gate) matchLegacyToken(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		if strings.TrimPrefix(header, "Bearer ") == g.legacyToken {
			return true
		}
	}
	return r.URL.Query().Get("token") == g.legacyToken
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
