package gate

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"Alfred-Curator/internal/payment"
)

func newPaymentService(t *testing.T, store payment.Store) *payment.Service {
	t.Helper()
	svc, err := payment.NewService(store, nil, payment.Options{
		Wallet: "0x00000000000000000000000000000000000000AA",
	})
	if err != nil {
		t.Fatalf("new payment service: %v", err)
	}
	return svc
}

func seedSession(t *testing.T, store payment.Store, token string, paid bool) {
	t.Helper()
	err := store.PutSession(context.Background(), token, payment.Session{
		Address:   "0xabc",
		Verified:  true,
		Paid:      paid,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func TestCheckLoopbackAllowed(t *testing.T) {
	g := New("secret", newPaymentService(t, payment.NewMemoryStore()))
	req := httptest.NewRequest("GET", "/api/signals", nil)
	req.RemoteAddr = "127.0.0.1:54321"

	decision := g.Check(req)
	if !decision.Allowed || decision.Tier != TierLoopback {
		t.Fatalf("expected loopback allow, got %+v", decision)
	}
}

func TestCheckLegacyTokenHeader(t *testing.T) {
	g := New("secret", newPaymentService(t, payment.NewMemoryStore()))
	req := httptest.NewRequest("GET", "/api/signals", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("Authorization", "Bearer secret")

	decision := g.Check(req)
	if !decision.Allowed || decision.Tier != TierLegacy {
		t.Fatalf("expected legacy token allow, got %+v", decision)
	}
}

func TestCheckLegacyTokenQuery(t *testing.T) {
	g := New("secret", newPaymentService(t, payment.NewMemoryStore()))
	req := httptest.NewRequest("GET", "/api/signals?token=secret", nil)
	req.RemoteAddr = "203.0.113.9:1234"

	decision := g.Check(req)
	if !decision.Allowed || decision.Tier != TierLegacy {
		t.Fatalf("expected query token allow, got %+v", decision)
	}
}

func TestCheckWrongTokenDenied(t *testing.T) {
	g := New("secret", newPaymentService(t, payment.NewMemoryStore()))
	req := httptest.NewRequest("GET", "/api/signals?token=wrong", nil)
	req.RemoteAddr = "203.0.113.9:1234"

	decision := g.Check(req)
	if decision.Allowed {
		t.Fatalf("expected deny, got %+v", decision)
	}
	if decision.Instructions == nil {
		t.Fatal("deny must carry payment instructions")
	}
}

func TestCheckPaidSessionAllowed(t *testing.T) {
	store := payment.NewMemoryStore()
	seedSession(t, store, "tok-paid", true)
	g := New("", newPaymentService(t, store))

	req := httptest.NewRequest("GET", "/api/signals", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Session-Token", "tok-paid")

	decision := g.Check(req)
	if !decision.Allowed || decision.Tier != TierSession || decision.Address != "0xabc" {
		t.Fatalf("expected paid session allow, got %+v", decision)
	}
}

func TestCheckUnpaidSessionDenied(t *testing.T) {
	store := payment.NewMemoryStore()
	seedSession(t, store, "tok-unpaid", false)
	g := New("", newPaymentService(t, store))

	req := httptest.NewRequest("GET", "/api/signals", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Session-Token", "tok-unpaid")

	decision := g.Check(req)
	if decision.Allowed {
		t.Fatalf("unpaid session must be denied, got %+v", decision)
	}
}

func TestCheckSessionTakesPrecedenceOverTxHash(t *testing.T) {
	store := payment.NewMemoryStore()
	seedSession(t, store, "tok-paid", true)
	g := New("", newPaymentService(t, store))

	// 会话通道优先，txHash 参数不会触发链上调用。
	req := httptest.NewRequest("GET", "/api/signals?txHash=0xdeadbeef", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("X-Session-Token", "tok-paid")

	decision := g.Check(req)
	if !decision.Allowed || decision.Tier != TierSession {
		t.Fatalf("expected session tier to win, got %+v", decision)
	}
}
