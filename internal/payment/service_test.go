package payment

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	apperrors "Alfred-Curator/internal/errors"
)

var testChainID = big.NewInt(11155111)

const testWallet = "0x00000000000000000000000000000000000000AA"

type fakeChain struct {
	receipt    *types.Receipt
	receiptErr error
	tx         *types.Transaction
	txErr      error
}

func (f *fakeChain) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeChain) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return f.tx, false, f.txErr
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return testChainID, nil
}

func newTestService(t *testing.T, chain ChainReader) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryStore(), chain, Options{
		Wallet:      testWallet,
		MinEth:      "0.001",
		BetaCode:    "ALFRED-v1",
		BetaMaxUses: 2,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func signChallenge(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		t.Fatalf("sign challenge: %v", err)
	}
	// 模拟钱包返回的 27/28 形式。
	sig[crypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig)
}

func paymentTx(t *testing.T, key *ecdsa.PrivateKey, to common.Address, valueWei *big.Int) *types.Transaction {
	t.Helper()
	signer := types.LatestSignerForChainID(testChainID)
	return types.MustSignNewTx(key, signer, &types.LegacyTx{
		Nonce:    0,
		To:       &to,
		Value:    valueWei,
		Gas:      21000,
		GasPrice: big.NewInt(1),
	})
}

func ethWei(t *testing.T, amount string) *big.Int {
	t.Helper()
	wei, err := parseEther(amount)
	if err != nil {
		t.Fatalf("parse ether %q: %v", amount, err)
	}
	return wei
}

func TestNonceChallengeMessageFormat(t *testing.T) {
	svc := newTestService(t, nil)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	challenge, err := svc.NonceChallenge(context.Background(), addr.Hex())
	if err != nil {
		t.Fatalf("nonce challenge: %v", err)
	}
	if challenge.Nonce == "" {
		t.Fatal("expected non-empty nonce")
	}
	want := "Sign in to Alfred Curator\nNonce: " + challenge.Nonce
	if challenge.Message != want {
		t.Fatalf("unexpected challenge message %q", challenge.Message)
	}
}

func TestVerifySignatureHappyPath(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	challenge, err := svc.NonceChallenge(ctx, addr.Hex())
	if err != nil {
		t.Fatalf("nonce challenge: %v", err)
	}

	grant, err := svc.VerifySignature(ctx, addr.Hex(), signChallenge(t, key, challenge.Message))
	if err != nil {
		t.Fatalf("verify signature: %v", err)
	}
	if grant.Token == "" || len(grant.Token) != 64 {
		t.Fatalf("expected 32-byte hex token, got %q", grant.Token)
	}
	if grant.Address != strings.ToLower(addr.Hex()) {
		t.Fatalf("expected lowercased address, got %q", grant.Address)
	}

	session, err := svc.SessionInfo(ctx, grant.Token)
	if err != nil || session == nil {
		t.Fatalf("expected session, got %v err=%v", session, err)
	}
	if session.Paid {
		t.Fatal("fresh session must be unpaid")
	}
}

func TestVerifySignatureWithoutNonce(t *testing.T) {
	svc := newTestService(t, nil)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	_, err := svc.VerifySignature(context.Background(), addr.Hex(), signChallenge(t, key, "anything"))
	if apperrors.CodeOf(err) != apperrors.CodeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE, got %v", err)
	}
}

func TestVerifySignatureWrongSigner(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	key, _ := crypto.GenerateKey()
	otherKey, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	challenge, err := svc.NonceChallenge(ctx, addr.Hex())
	if err != nil {
		t.Fatalf("nonce challenge: %v", err)
	}

	_, err = svc.VerifySignature(ctx, addr.Hex(), signChallenge(t, otherKey, challenge.Message))
	if apperrors.CodeOf(err) != apperrors.CodeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE for wrong signer, got %v", err)
	}
}

func TestVerifySignatureNonceSingleUse(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	challenge, err := svc.NonceChallenge(ctx, addr.Hex())
	if err != nil {
		t.Fatalf("nonce challenge: %v", err)
	}
	signature := signChallenge(t, key, challenge.Message)
	if _, err := svc.VerifySignature(ctx, addr.Hex(), signature); err != nil {
		t.Fatalf("first verify: %v", err)
	}
	if _, err := svc.VerifySignature(ctx, addr.Hex(), signature); err == nil {
		t.Fatal("nonce must be single use")
	}
}

func TestCheckPaymentReturnsInstructions(t *testing.T) {
	svc := newTestService(t, nil)
	status, err := svc.CheckPayment(context.Background(), "", "")
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if status.Paid {
		t.Fatal("expected unpaid status")
	}
	if status.Instructions == nil {
		t.Fatal("expected payment instructions")
	}
	if status.Instructions.PayTo != common.HexToAddress(testWallet).Hex() {
		t.Fatalf("unexpected payTo %q", status.Instructions.PayTo)
	}
	if status.Instructions.Amount != "0.001 Sepolia ETH" {
		t.Fatalf("unexpected amount %q", status.Instructions.Amount)
	}
}

func TestCheckPaymentInvalidSession(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.CheckPayment(context.Background(), "no-such-token", "")
	if apperrors.CodeOf(err) != apperrors.CodeAuthFailure {
		t.Fatalf("expected AUTH_FAILURE, got %v", err)
	}
}

func TestCheckPaymentUnconfirmedTransaction(t *testing.T) {
	svc := newTestService(t, &fakeChain{receiptErr: ethereum.NotFound})
	status, err := svc.CheckPayment(context.Background(), "", "0xdeadbeef")
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if status.Paid || status.Reason == "" {
		t.Fatalf("expected unconfirmed status with reason, got %+v", status)
	}
}

func TestCheckPaymentRevertedTransaction(t *testing.T) {
	svc := newTestService(t, &fakeChain{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}})
	status, err := svc.CheckPayment(context.Background(), "", "0xdeadbeef")
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if status.Paid {
		t.Fatal("reverted transaction must not count as paid")
	}
}

func TestCheckPaymentWrongRecipient(t *testing.T) {
	key, _ := crypto.GenerateKey()
	other := common.HexToAddress("0x00000000000000000000000000000000000000BB")
	tx := paymentTx(t, key, other, ethWei(t, "0.001"))
	svc := newTestService(t, &fakeChain{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		tx:      tx,
	})

	status, err := svc.CheckPayment(context.Background(), "", tx.Hash().Hex())
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if status.Paid {
		t.Fatal("payment to the wrong recipient must be rejected")
	}
}

func TestCheckPaymentInsufficientAmount(t *testing.T) {
	key, _ := crypto.GenerateKey()
	tx := paymentTx(t, key, common.HexToAddress(testWallet), ethWei(t, "0.0001"))
	svc := newTestService(t, &fakeChain{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		tx:      tx,
	})

	status, err := svc.CheckPayment(context.Background(), "", tx.Hash().Hex())
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if status.Paid {
		t.Fatal("underpayment must be rejected")
	}
	if !strings.Contains(status.Reason, "0.001") {
		t.Fatalf("expected required amount in reason, got %q", status.Reason)
	}
}

func TestCheckPaymentDirectSuccess(t *testing.T) {
	key, _ := crypto.GenerateKey()
	tx := paymentTx(t, key, common.HexToAddress(testWallet), ethWei(t, "0.002"))
	svc := newTestService(t, &fakeChain{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		tx:      tx,
	})

	status, err := svc.CheckPayment(context.Background(), "", tx.Hash().Hex())
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if !status.Paid {
		t.Fatalf("expected paid status, got %+v", status)
	}
}

func TestCheckPaymentSessionFlow(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	tx := paymentTx(t, key, common.HexToAddress(testWallet), ethWei(t, "0.001"))
	svc := newTestService(t, &fakeChain{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		tx:      tx,
	})

	challenge, err := svc.NonceChallenge(ctx, addr.Hex())
	if err != nil {
		t.Fatalf("nonce challenge: %v", err)
	}
	grant, err := svc.VerifySignature(ctx, addr.Hex(), signChallenge(t, key, challenge.Message))
	if err != nil {
		t.Fatalf("verify signature: %v", err)
	}

	status, err := svc.CheckPayment(ctx, grant.Token, tx.Hash().Hex())
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if !status.Paid || status.Address != grant.Address {
		t.Fatalf("expected paid session status, got %+v", status)
	}

	// 会话已标记付费，后续检查不再访问链。
	status, err = svc.CheckPayment(ctx, grant.Token, "")
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if !status.Paid || status.TxHash != tx.Hash().Hex() {
		t.Fatalf("expected cached paid status, got %+v", status)
	}
}

func TestCheckPaymentSessionSenderMismatch(t *testing.T) {
	ctx := context.Background()
	sessionKey, _ := crypto.GenerateKey()
	payerKey, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(sessionKey.PublicKey)
	tx := paymentTx(t, payerKey, common.HexToAddress(testWallet), ethWei(t, "0.001"))
	svc := newTestService(t, &fakeChain{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		tx:      tx,
	})

	challenge, err := svc.NonceChallenge(ctx, addr.Hex())
	if err != nil {
		t.Fatalf("nonce challenge: %v", err)
	}
	grant, err := svc.VerifySignature(ctx, addr.Hex(), signChallenge(t, sessionKey, challenge.Message))
	if err != nil {
		t.Fatalf("verify signature: %v", err)
	}

	status, err := svc.CheckPayment(ctx, grant.Token, tx.Hash().Hex())
	if err != nil {
		t.Fatalf("check payment: %v", err)
	}
	if status.Paid {
		t.Fatal("payment from a different wallet must not satisfy the session")
	}
}

func TestCheckPaymentChainRPCFailure(t *testing.T) {
	svc := newTestService(t, &fakeChain{receiptErr: errors.New("rpc unreachable")})
	_, err := svc.CheckPayment(context.Background(), "", "0xdeadbeef")
	if apperrors.CodeOf(err) != apperrors.CodeChainRPCFailure {
		t.Fatalf("expected CHAIN_RPC_FAILURE, got %v", err)
	}
}

func TestRedeemBetaFlow(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	status, err := svc.RedeemBeta(ctx, "chat-1", "wrong-code")
	if err != nil || status.Paid {
		t.Fatalf("expected rejection for wrong code, got %+v err=%v", status, err)
	}

	status, err = svc.RedeemBeta(ctx, "chat-1", "ALFRED-v1")
	if err != nil || !status.Paid || !status.Beta {
		t.Fatalf("expected beta access granted, got %+v err=%v", status, err)
	}
	if status.AlreadyRedeemed {
		t.Fatalf("first redemption must not be flagged as repeat, got %+v", status)
	}

	// 重复兑换幂等，且响应明确标记为重复。
	status, err = svc.RedeemBeta(ctx, "chat-1", "whatever")
	if err != nil || !status.Paid {
		t.Fatalf("expected idempotent redemption, got %+v err=%v", status, err)
	}
	if !status.AlreadyRedeemed {
		t.Fatalf("expected repeat redemption flagged, got %+v", status)
	}

	if status, _ = svc.RedeemBeta(ctx, "chat-2", "ALFRED-v1"); !status.Paid {
		t.Fatalf("expected second chat granted, got %+v", status)
	}
	if status, _ = svc.RedeemBeta(ctx, "chat-3", "ALFRED-v1"); status.Paid {
		t.Fatalf("expected beta full, got %+v", status)
	}
}

func TestChatStatusBetaPrecedence(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	if _, err := svc.RedeemBeta(ctx, "chat-1", "ALFRED-v1"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	status, err := svc.ChatStatus(ctx, "chat-1")
	if err != nil || !status.Paid || !status.Beta {
		t.Fatalf("expected beta user treated as paid, got %+v err=%v", status, err)
	}

	status, err = svc.ChatStatus(ctx, "chat-unpaid")
	if err != nil || status.Paid {
		t.Fatalf("expected unpaid chat, got %+v err=%v", status, err)
	}
	if status.Instructions == nil {
		t.Fatal("unpaid chat must receive payment instructions")
	}
}

func TestVerifyChatPayment(t *testing.T) {
	ctx := context.Background()
	key, _ := crypto.GenerateKey()
	tx := paymentTx(t, key, common.HexToAddress(testWallet), ethWei(t, "0.001"))
	svc := newTestService(t, &fakeChain{
		receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful},
		tx:      tx,
	})

	status, err := svc.VerifyChatPayment(ctx, "chat-1", tx.Hash().Hex())
	if err != nil || !status.Paid {
		t.Fatalf("expected chat payment verified, got %+v err=%v", status, err)
	}

	status, err = svc.ChatStatus(ctx, "chat-1")
	if err != nil || !status.Paid || status.TxHash != tx.Hash().Hex() {
		t.Fatalf("expected recorded chat access, got %+v err=%v", status, err)
	}
}

func TestParseEther(t *testing.T) {
	wei := ethWei(t, "0.001")
	if wei.String() != "1000000000000000" {
		t.Fatalf("unexpected wei %s", wei.String())
	}
	if _, err := parseEther("not-a-number"); err == nil {
		t.Fatal("expected error for garbage amount")
	}
}
