package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tonfaucet/chain"
	"tonfaucet/faucet"
	"tonfaucet/storage"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testRecipient(seed byte) string {
	var account [32]byte
	for i := range account {
		account[i] = seed + byte(i)
	}
	return chain.NewAddress(account).String()
}

// stubChain confirms every submission immediately.
type stubChain struct {
	mu      sync.Mutex
	submits int
}

func (s *stubChain) SubmitTransaction(ctx context.Context, raw []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	return fmt.Sprintf("tx-%d", s.submits), nil
}

func (s *stubChain) TransactionStatus(ctx context.Context, hash string) (chain.TxStatus, error) {
	return chain.TxConfirmed, nil
}

func (s *stubChain) AccountSequence(ctx context.Context, account string) (uint64, error) {
	return 0, nil
}

type stubSweeper struct {
	settled int
	err     error
}

func (s *stubSweeper) Sweep(ctx context.Context) (int, error) { return s.settled, s.err }

func newTestServer(t *testing.T, maxClaims int64, sweeper Sweeper) http.Handler {
	t.Helper()
	kv := storage.NewMemKV()
	client := &stubChain{}
	wallet, err := faucet.NewWallet(testMnemonic, kv, client)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	orch := faucet.NewOrchestrator(
		faucet.NewLedger(kv),
		faucet.NewRateLimiter(kv, maxClaims, time.Hour),
		wallet,
		faucet.NewExecutor(client, faucet.ExecutorConfig{
			PollInitial:    time.Millisecond,
			PollMax:        2 * time.Millisecond,
			ConfirmTimeout: 50 * time.Millisecond,
		}),
	)
	auth, err := NewAuthenticator("secret")
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	handler, err := New(Config{Orchestrator: orch, Reconciler: sweeper, Auth: auth})
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return handler
}

func postClaim(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/faucet/claims", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestClaimEndpoint(t *testing.T) {
	handler := newTestServer(t, 10, nil)
	recipient := testRecipient(1)

	rr := postClaim(t, handler, fmt.Sprintf(`{"id":"c1","recipient":%q,"amount":"2"}`, recipient))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for confirmed claim, got %d: %s", rr.Code, rr.Body.String())
	}
	var record faucet.Request
	if err := json.Unmarshal(rr.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.ID != "c1" || record.Status != faucet.StatusConfirmed || record.TxHash == "" {
		t.Fatalf("unexpected record: %+v", record)
	}

	// Lookup returns the same record.
	req := httptest.NewRequest(http.MethodGet, "/v1/faucet/claims/c1", nil)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("lookup: %d", rr.Code)
	}
}

func TestClaimEndpointValidation(t *testing.T) {
	handler := newTestServer(t, 10, nil)

	rr := postClaim(t, handler, `{"recipient":"garbage"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "invalid_recipient" {
		t.Fatalf("unexpected code: %q", resp.Code)
	}

	rr = postClaim(t, handler, fmt.Sprintf(`{"recipient":%q,"amount":"zzz"}`, testRecipient(2)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad amount, got %d", rr.Code)
	}

	rr = postClaim(t, handler, `{not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad body, got %d", rr.Code)
	}
}

func TestClaimEndpointRateLimited(t *testing.T) {
	handler := newTestServer(t, 1, nil)
	recipient := testRecipient(3)

	if rr := postClaim(t, handler, fmt.Sprintf(`{"id":"a","recipient":%q}`, recipient)); rr.Code != http.StatusOK {
		t.Fatalf("first claim: %d", rr.Code)
	}
	rr := postClaim(t, handler, fmt.Sprintf(`{"id":"b","recipient":%q}`, recipient))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != "rate_limited" {
		t.Fatalf("unexpected code: %q", resp.Code)
	}
}

func TestStatusEndpointNotFound(t *testing.T) {
	handler := newTestServer(t, 10, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/faucet/claims/unknown", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestServer(t, 10, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rr.Code, rr.Body.String())
	}
}

func TestAdminRequiresBearer(t *testing.T) {
	handler := newTestServer(t, 10, &stubSweeper{settled: 2})

	req := httptest.NewRequest(http.MethodPost, "/admin/pause", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/pause", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rr.Code)
	}
}

func TestAdminPauseResumeStatus(t *testing.T) {
	handler := newTestServer(t, 10, &stubSweeper{settled: 2})
	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer secret")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := do(http.MethodPost, "/admin/pause"); rr.Code != http.StatusNoContent {
		t.Fatalf("pause: %d", rr.Code)
	}
	rr := postClaim(t, handler, fmt.Sprintf(`{"recipient":%q}`, testRecipient(4)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while paused, got %d", rr.Code)
	}

	rr = do(http.MethodGet, "/admin/status")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: %d", rr.Code)
	}
	var state map[string]bool
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !state["paused"] {
		t.Fatal("expected paused state")
	}

	if rr := do(http.MethodPost, "/admin/resume"); rr.Code != http.StatusNoContent {
		t.Fatalf("resume: %d", rr.Code)
	}
	if rr := postClaim(t, handler, fmt.Sprintf(`{"recipient":%q}`, testRecipient(5))); rr.Code != http.StatusOK {
		t.Fatalf("claim after resume: %d %s", rr.Code, rr.Body.String())
	}
}

func TestAdminReconcile(t *testing.T) {
	handler := newTestServer(t, 10, &stubSweeper{settled: 3})
	req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("reconcile: %d", rr.Code)
	}
	var resp map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["settled"] != 3 {
		t.Fatalf("settled: %d", resp["settled"])
	}
}
