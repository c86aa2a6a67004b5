package gateway

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tandachain/native/collateral"
	"tandachain/native/fund"
	"tandachain/native/pricefeed"
	"tandachain/native/terms"
	"tandachain/native/yield"
	"tandachain/state"
)

const (
	ownerHex = "00000000000000000000000000000000000000aa"
	aliceHex = "0000000000000000000000000000000000000001"
)

func newTestServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	store := state.NewStore()

	feed := pricefeed.NewStaticFeed(big.NewInt(100_000_000), 8)
	feed.SetUptime(true, time.Unix(0, 0))
	adapter := pricefeed.NewAdapter(feed, feed, time.Hour, 24*time.Hour)

	var nativeV, stableV, custodyV [20]byte
	nativeV[19], stableV[19], custodyV[19] = 0xFE, 0xFD, 0xFC

	colEngine := collateral.NewEngine(nativeV)
	colEngine.SetState(store)
	colEngine.SetConverter(adapter)

	fundEngine := fund.NewEngine(stableV, nativeV)
	fundEngine.SetState(store)
	fundEngine.SetLedger(colEngine)
	colEngine.SetObligations(fundEngine)

	yieldEngine := yield.NewEngine(nativeV, custodyV)
	yieldEngine.SetState(store)
	yieldEngine.SetVault(yield.NewMemoryVault())
	fundEngine.SetRecaller(yieldEngine)

	registry := terms.NewRegistry(store, colEngine, fundEngine, yieldEngine)
	return New(registry, nil, nil), store
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestCreateAndSummarizeTerm(t *testing.T) {
	server, _ := newTestServer(t)
	rec := postJSON(t, server.Handler(), "/v1/terms", map[string]any{
		"owner":              ownerHex,
		"registrationPeriod": 3600,
		"totalParticipants":  3,
		"cycleTime":          3600,
		"contributionPeriod": 1800,
		"contributionAmount": "100",
		"stableToken":        "USDC",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		TermID uint64 `json:"termId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.TermID == 0 {
		t.Fatalf("no term id assigned")
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/terms/1/", nil)
	summaryRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(summaryRec, req)
	if summaryRec.Code != http.StatusOK {
		t.Fatalf("summary status %d: %s", summaryRec.Code, summaryRec.Body.String())
	}
	var summary struct {
		FundState string `json:"fundState"`
	}
	if err := json.Unmarshal(summaryRec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.FundState != "initializing" {
		t.Fatalf("fund state %q, want initializing", summary.FundState)
	}
}

func TestCreateTermRejectsBadParams(t *testing.T) {
	server, _ := newTestServer(t)
	rec := postJSON(t, server.Handler(), "/v1/terms", map[string]any{
		"owner":              ownerHex,
		"registrationPeriod": 3600,
		"totalParticipants":  1,
		"cycleTime":          3600,
		"contributionPeriod": 1800,
		"contributionAmount": "100",
		"stableToken":        "USDC",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want 422", rec.Code)
	}
}

func TestJoinThroughGateway(t *testing.T) {
	server, store := newTestServer(t)
	rec := postJSON(t, server.Handler(), "/v1/terms", map[string]any{
		"owner":              ownerHex,
		"registrationPeriod": 3600,
		"totalParticipants":  3,
		"cycleTime":          3600,
		"contributionPeriod": 1800,
		"contributionAmount": "100",
		"stableToken":        "USDC",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %s", rec.Body.String())
	}
	var alice [20]byte
	alice[19] = 0x01
	if err := store.Credit(alice, big.NewInt(1_000), nil); err != nil {
		t.Fatalf("credit: %v", err)
	}

	rec = postJSON(t, server.Handler(), "/v1/terms/1/join", map[string]any{
		"user":   aliceHex,
		"amount": "330",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status %d: %s", rec.Code, rec.Body.String())
	}

	userReq := httptest.NewRequest(http.MethodGet, "/v1/terms/1/users/"+aliceHex, nil)
	userRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(userRec, userReq)
	var user struct {
		LockedBank json.Number `json:"lockedBank"`
	}
	if err := json.Unmarshal(userRec.Body.Bytes(), &user); err != nil {
		t.Fatalf("decode user: %v", err)
	}
	if user.LockedBank.String() != "330" {
		t.Fatalf("locked bank %q, want 330", user.LockedBank)
	}

	rec = postJSON(t, server.Handler(), "/v1/terms/1/join", map[string]any{
		"user":   aliceHex,
		"amount": "10",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("underfunded join status %d, want 422", rec.Code)
	}
}

func TestInvalidAddressRejected(t *testing.T) {
	server, _ := newTestServer(t)
	rec := postJSON(t, server.Handler(), "/v1/terms/1/join", map[string]any{
		"user":   "nothex",
		"amount": "330",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}
