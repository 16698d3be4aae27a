// Package payment 实现钱包签名认证与链上小额支付验证：
// nonce 挑战、EIP-191 签名恢复、会话管理、交易回执校验，
// 以及面向聊天入口的内测邀请码与付费台账。
package payment
