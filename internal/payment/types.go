package payment

import "time"

// Nonce 是等待签名的一次性挑战。
type Nonce struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session 是签名验证通过后建立的会话。
type Session struct {
	Address   string    `json:"address"`
	Verified  bool      `json:"verified"`
	Paid      bool      `json:"paid"`
	TxHash    string    `json:"txHash,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ChatAccess 记录聊天入口（按 chat ID）的付费状态。
type ChatAccess struct {
	Paid      bool      `json:"paid"`
	TxHash    string    `json:"txHash,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// BetaOutcome 是邀请码兑换的结果。
type BetaOutcome int

const (
	// BetaGranted 表示本次兑换成功。
	BetaGranted BetaOutcome = iota
	// BetaAlreadyRedeemed 表示该 chat 此前已兑换过，视为成功。
	BetaAlreadyRedeemed
	// BetaFull 表示名额已用尽。
	BetaFull
)

// Challenge 是发给客户端待签名的挑战。
type Challenge struct {
	Nonce   string `json:"nonce"`
	Message string `json:"message"`
}

// SessionGrant 是签名验证成功后的返回。
type SessionGrant struct {
	Token   string `json:"token"`
	Address string `json:"address"`
}

// Instructions 告诉未付费调用方如何完成支付。
type Instructions struct {
	PayTo   string `json:"payTo"`
	Amount  string `json:"amount"`
	Network string `json:"network"`
}

// Status 描述一次支付检查的结果。Paid 为 false 时 Reason 或
// Instructions 至少有一个非空。
type Status struct {
	Paid    bool   `json:"paid"`
	TxHash  string `json:"txHash,omitempty"`
	Address string `json:"address,omitempty"`
	Beta    bool   `json:"beta,omitempty"`
	// AlreadyRedeemed 标记本次兑换前该 chat 已兑换过邀请码。
	AlreadyRedeemed bool          `json:"alreadyRedeemed,omitempty"`
	Reason          string        `json:"error,omitempty"`
	Instructions    *Instructions `json:"instructions,omitempty"`
}
