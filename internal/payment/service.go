package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"

	apperrors "Alfred-Curator/internal/errors"
	"Alfred-Curator/pkg/logger"
)

// challengeTemplate 是钱包签名的挑战文案，改动会使所有在途挑战失效。
const challengeTemplate = "Sign in to Alfred Curator\nNonce: %s"

// Options 描述支付服务的运行参数。
type Options struct {
	// Wallet 是收款钱包地址，未配置时支付验证直接失败。
	Wallet string
	// MinEth 是十进制 ETH 表示的最低支付金额。
	MinEth string
	// Network 是展示给调用方的网络描述。
	Network string

	NonceTTL   time.Duration
	SessionTTL time.Duration
	ChatTTL    time.Duration

	BetaCode    string
	BetaMaxUses int
}

func (o *Options) applyDefaults() {
	if o.MinEth == "" {
		o.MinEth = "0.001"
	}
	if o.Network == "" {
		o.Network = "Sepolia (chainId 11155111)"
	}
	if o.NonceTTL <= 0 {
		o.NonceTTL = 5 * time.Minute
	}
	if o.SessionTTL <= 0 {
		o.SessionTTL = 24 * time.Hour
	}
	if o.ChatTTL <= 0 {
		o.ChatTTL = 24 * time.Hour
	}
	if o.BetaMaxUses <= 0 {
		o.BetaMaxUses = 15
	}
}

// Service 组合存储与链上读取，完成认证与支付验证的全部状态转换。
type Service struct {
	store  Store
	chain  ChainReader
	opts   Options
	wallet common.Address
	minWei *big.Int
}

// NewService 创建支付服务。chain 为 nil 时所有链上验证路径失败，
// 但 nonce/签名/会话流程仍然可用。
func NewService(store Store, chain ChainReader, opts Options) (*Service, error) {
	opts.applyDefaults()

	minWei, err := parseEther(opts.MinEth)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "最低支付金额无效")
	}

	svc := &Service{
		store:  store,
		chain:  chain,
		opts:   opts,
		minWei: minWei,
	}
	if opts.Wallet != "" {
		if !common.IsHexAddress(opts.Wallet) {
			return nil, apperrors.New(apperrors.CodeInvalidArgument, "收款钱包地址无效: "+opts.Wallet)
		}
		svc.wallet = common.HexToAddress(opts.Wallet)
	}
	return svc, nil
}

// parseEther 把十进制 ETH 金额转换为 wei。
func parseEther(amount string) (*big.Int, error) {
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("无法解析金额 %q", amount)
	}
	wei := value.Mul(value, new(big.Rat).SetInt(big.NewInt(params.Ether)))
	if !wei.IsInt() {
		return nil, fmt.Errorf("金额 %q 精度超过 1 wei", amount)
	}
	return wei.Num(), nil
}

// NonceChallenge 为地址生成一次性签名挑战，覆盖旧挑战。
func (s *Service) NonceChallenge(ctx context.Context, address string) (*Challenge, error) {
	if !common.IsHexAddress(address) {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "钱包地址无效")
	}
	addr := strings.ToLower(address)

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "生成随机挑战失败")
	}
	value := hex.EncodeToString(buf)

	nonce := Nonce{Value: value, ExpiresAt: time.Now().Add(s.opts.NonceTTL)}
	if err := s.store.PutNonce(ctx, addr, nonce); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "保存挑战失败")
	}

	return &Challenge{
		Nonce:   value,
		Message: fmt.Sprintf(challengeTemplate, value),
	}, nil
}

// VerifySignature 校验钱包对挑战的 EIP-191 签名，成功后销毁挑战
// 并建立未付费会话。
func (s *Service) VerifySignature(ctx context.Context, address, signature string) (*SessionGrant, error) {
	if !common.IsHexAddress(address) {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "钱包地址无效")
	}
	addr := strings.ToLower(address)

	nonce, err := s.store.GetNonce(ctx, addr)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "读取挑战失败")
	}
	if nonce == nil {
		return nil, apperrors.New(apperrors.CodeAuthFailure, "没有待签名的挑战，请先获取 nonce")
	}

	message := fmt.Sprintf(challengeTemplate, nonce.Value)
	recovered, err := recoverSigner(message, signature)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeAuthFailure, err, "签名无效")
	}
	if !strings.EqualFold(recovered.Hex(), addr) {
		return nil, apperrors.New(apperrors.CodeAuthFailure, "签名与地址不匹配")
	}

	// 挑战一次性使用。
	if err := s.store.DeleteNonce(ctx, addr); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "销毁挑战失败")
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, err, "生成会话令牌失败")
	}
	token := hex.EncodeToString(buf)

	session := Session{
		Address:   addr,
		Verified:  true,
		Paid:      false,
		ExpiresAt: time.Now().Add(s.opts.SessionTTL),
	}
	if err := s.store.PutSession(ctx, token, session); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "保存会话失败")
	}

	logger.Audit().Info("钱包签名验证通过", "address", addr)
	return &SessionGrant{Token: token, Address: addr}, nil
}

// recoverSigner 按 EIP-191 personal_sign 规则恢复签名者地址。
func recoverSigner(message, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("签名不是合法的十六进制: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("签名长度 %d 无效", len(sig))
	}
	// 钱包返回的 V 通常是 27/28，恢复前归一化为 0/1。
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("恢复公钥失败: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// SessionInfo 返回会话信息，不存在或过期返回 nil。
func (s *Service) SessionInfo(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, nil
	}
	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "读取会话失败")
	}
	return session, nil
}

// CheckPayment 检查支付状态。sessionToken 为空表示代理直连验证
// （只校验收款方与金额）；txHash 为空时返回支付指引。
func (s *Service) CheckPayment(ctx context.Context, sessionToken, txHash string) (*Status, error) {
	var session *Session
	if sessionToken != "" {
		var err error
		session, err = s.store.GetSession(ctx, sessionToken)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "读取会话失败")
		}
		if session == nil {
			return nil, apperrors.New(apperrors.CodeAuthFailure, "会话无效或已过期")
		}
		if session.Paid {
			return &Status{Paid: true, TxHash: session.TxHash, Address: session.Address}, nil
		}
	}

	if (s.wallet == common.Address{}) {
		return nil, apperrors.New(apperrors.CodeConfigMissing, "未配置收款钱包")
	}

	if txHash == "" {
		status := &Status{Paid: false, Instructions: s.instructions()}
		if session != nil {
			status.Address = session.Address
		}
		return status, nil
	}

	status, sender, err := s.verifyTransaction(ctx, txHash)
	if err != nil || !status.Paid {
		return status, err
	}

	if session != nil {
		if !strings.EqualFold(sender.Hex(), session.Address) {
			return &Status{Paid: false, Reason: "交易发送方与会话钱包不匹配"}, nil
		}
		session.Paid = true
		session.TxHash = txHash
		if err := s.store.PutSession(ctx, sessionToken, *session); err != nil {
			return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "更新会话失败")
		}
		status.Address = session.Address
		logger.Audit().Info("会话支付验证通过",
			"address", session.Address,
			"txHash", txHash)
	} else {
		logger.Audit().Info("直连支付验证通过", "txHash", txHash)
	}
	return status, nil
}

// instructions 返回支付指引。
func (s *Service) instructions() *Instructions {
	return &Instructions{
		PayTo:   s.wallet.Hex(),
		Amount:  fmt.Sprintf("%s Sepolia ETH", s.opts.MinEth),
		Network: s.opts.Network,
	}
}

// verifyTransaction 做纯链上校验：回执成功、收款方匹配、金额达标。
// 返回的 Status.Paid 为 true 时 sender 有效。
func (s *Service) verifyTransaction(ctx context.Context, txHash string) (*Status, common.Address, error) {
	if s.chain == nil {
		return nil, common.Address{}, apperrors.New(apperrors.CodeConfigMissing, "未配置链上 RPC")
	}

	hash := common.HexToHash(txHash)

	receipt, err := s.chain.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Status{Paid: false, TxHash: txHash, Reason: "交易尚未确认，等待区块打包"}, common.Address{}, nil
		}
		return nil, common.Address{}, apperrors.Wrap(apperrors.CodeChainRPCFailure, err, "查询交易回执失败")
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return &Status{Paid: false, TxHash: txHash, Reason: "交易在链上回滚，请重新支付"}, common.Address{}, nil
	}

	tx, _, err := s.chain.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Status{Paid: false, TxHash: txHash, Reason: "交易不存在"}, common.Address{}, nil
		}
		return nil, common.Address{}, apperrors.Wrap(apperrors.CodeChainRPCFailure, err, "查询交易失败")
	}

	if tx.To() == nil || *tx.To() != s.wallet {
		return &Status{Paid: false, TxHash: txHash, Reason: "交易收款方与收款钱包不匹配"}, common.Address{}, nil
	}
	if tx.Value().Cmp(s.minWei) < 0 {
		reason := fmt.Sprintf("金额不足，已支付 %s ETH，要求 %s ETH", formatEther(tx.Value()), s.opts.MinEth)
		return &Status{Paid: false, TxHash: txHash, Reason: reason}, common.Address{}, nil
	}

	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return nil, common.Address{}, apperrors.Wrap(apperrors.CodeChainRPCFailure, err, "查询链 ID 失败")
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return nil, common.Address{}, apperrors.Wrap(apperrors.CodePaymentRejected, err, "解析交易发送方失败")
	}

	return &Status{Paid: true, TxHash: txHash}, sender, nil
}

// formatEther 把 wei 转为十进制 ETH 字符串。
func formatEther(wei *big.Int) string {
	value := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	return strings.TrimRight(strings.TrimRight(value.FloatString(18), "0"), ".")
}

// RedeemBeta 为聊天入口兑换内测邀请码。重复兑换视为成功。
func (s *Service) RedeemBeta(ctx context.Context, chatID, code string) (*Status, error) {
	if s.opts.BetaCode == "" {
		return nil, apperrors.New(apperrors.CodeConfigMissing, "未启用内测邀请码")
	}

	redeemed, err := s.store.BetaRedeemed(ctx, chatID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "查询邀请码状态失败")
	}
	if redeemed {
		return &Status{Paid: true, Beta: true, AlreadyRedeemed: true}, nil
	}

	if code != s.opts.BetaCode {
		return &Status{Paid: false, Reason: "邀请码无效"}, nil
	}

	outcome, err := s.store.RedeemBeta(ctx, chatID, s.opts.BetaMaxUses)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "兑换邀请码失败")
	}
	switch outcome {
	case BetaGranted:
		logger.Audit().Info("邀请码兑换成功", "chatId", chatID)
		return &Status{Paid: true, Beta: true}, nil
	case BetaAlreadyRedeemed:
		return &Status{Paid: true, Beta: true, AlreadyRedeemed: true}, nil
	default:
		return &Status{Paid: false, Reason: "内测名额已满"}, nil
	}
}

// ChatStatus 返回聊天入口的付费状态。内测用户始终视为已付费。
func (s *Service) ChatStatus(ctx context.Context, chatID string) (*Status, error) {
	redeemed, err := s.store.BetaRedeemed(ctx, chatID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "查询邀请码状态失败")
	}
	if redeemed {
		return &Status{Paid: true, Beta: true}, nil
	}

	access, err := s.store.GetChatAccess(ctx, chatID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "读取付费记录失败")
	}
	if access == nil {
		return &Status{Paid: false, Instructions: s.instructions()}, nil
	}
	return &Status{Paid: true, TxHash: access.TxHash}, nil
}

// VerifyChatPayment 按 txHash 为聊天入口验证支付，成功后记录
// 24 小时的访问权。
func (s *Service) VerifyChatPayment(ctx context.Context, chatID, txHash string) (*Status, error) {
	if (s.wallet == common.Address{}) {
		return nil, apperrors.New(apperrors.CodeConfigMissing, "未配置收款钱包")
	}
	if txHash == "" {
		return &Status{Paid: false, Reason: "缺少 txHash"}, nil
	}

	status, _, err := s.verifyTransaction(ctx, txHash)
	if err != nil || !status.Paid {
		return status, err
	}

	access := ChatAccess{
		Paid:      true,
		TxHash:    txHash,
		ExpiresAt: time.Now().Add(s.opts.ChatTTL),
	}
	if err := s.store.PutChatAccess(ctx, chatID, access); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistenceFailure, err, "记录付费状态失败")
	}
	logger.Audit().Info("聊天支付验证通过", "chatId", chatID, "txHash", txHash)
	return status, nil
}

// Wallet 返回收款钱包地址，未配置时为空字符串。
func (s *Service) Wallet() string {
	if (s.wallet == common.Address{}) {
		return ""
	}
	return s.wallet.Hex()
}

// MinEth 返回最低支付金额的十进制表示。
func (s *Service) MinEth() string { return s.opts.MinEth }

// Network 返回网络描述。
func (s *Service) Network() string { return s.opts.Network }
