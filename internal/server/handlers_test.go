package server

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/soldesk/goperp/internal/services"
	"github.com/soldesk/goperp/pkg/config"
	"github.com/soldesk/goperp/pkg/solana"
)

const handlersTestWallet = "11111111111111111111111111111111"

// rpcStub is a minimal JSON-RPC backend: canned responses per method.
type rpcStub struct {
	srv *httptest.Server
}

func newRPCStub(t *testing.T) *rpcStub {
	t.Helper()
	stub := &rpcStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")

		switch req.Method {
		case "getAccountInfo":
			// oracle and user accounts share the stub; oracle layout is
			// harmless for the user-account path since tests that care use
			// absent accounts
			oracle := make([]byte, 16)
			binary.LittleEndian.PutUint64(oracle, uint64(int64(100*1e6)))
			writeRPCResult(w, map[string]any{
				"context": map[string]any{"slot": 1},
				"value": map[string]any{
					"lamports": 1,
					"owner":    "o",
					"data":     []string{base64.StdEncoding.EncodeToString(oracle), "base64"},
				},
			})
		case "getTokenAccountsByOwner":
			writeRPCResult(w, map[string]any{
				"context": map[string]any{"slot": 1},
				"value":   []map[string]any{{"pubkey": "token-acct"}},
			})
		case "getTokenAccountBalance":
			writeRPCResult(w, map[string]any{
				"context": map[string]any{"slot": 1},
				"value":   map[string]any{"amount": "1000000000", "decimals": 6, "uiAmount": 1000.0},
			})
		case "getLatestBlockhash":
			writeRPCResult(w, map[string]any{
				"context": map[string]any{"slot": 1},
				"value":   map[string]any{"blockhash": "hash123", "lastValidBlockHeight": 42},
			})
		default:
			writeRPCResult(w, nil)
		}
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func writeRPCResult(w http.ResponseWriter, result any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	stub := newRPCStub(t)

	chain := solana.NewClient(solana.Config{
		Endpoint:    stub.srv.URL,
		MinInterval: time.Millisecond,
		MaxRetries:  1,
		Timeout:     5 * time.Second,
	})
	markets := services.NewMarketDataService(chain, []config.MarketConfig{
		{Symbol: "SOL-PERP", MarketIndex: 0, OracleAccount: "oracle-sol", ReferencePrice: 95},
	}, time.Minute)
	positions := services.NewPositionService(chain, markets, "ComputeBudget111111111111111111111111111111")

	srv, err := New(Config{
		DBPath:         filepath.Join(t.TempDir(), "journal.db"),
		ProgramID:      "ComputeBudget111111111111111111111111111111",
		CollateralMint: "mint",
		Tick:           time.Minute,
	}, chain, markets, positions)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMarketsEndpoint(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodGet, "/api/markets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("expected success, got %v", body)
	}
	data, ok := body["data"].([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("expected 1 market, got %v", body["data"])
	}
	m := data[0].(map[string]any)
	if m["symbol"] != "SOL-PERP" || m["price"] != 100.0 {
		t.Errorf("market payload mismatch: %v", m)
	}
}

func TestCalculateMarginEndpoint(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodPost, "/api/trade/calculate-margin", map[string]any{
		"walletAddress": handlersTestWallet,
		"tradeAmount":   100,
		"leverage":      5,
		"direction":     "long",
		"marketSymbol":  "SOL-PERP",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	if body["positionSize"] != 500.0 || body["actualLeverage"] != 5.0 || body["marginUsed"] != 100.0 {
		t.Errorf("margin payload mismatch: %v", body)
	}
	if body["limitedByMargin"] != false || body["collateral"] != 1000.0 {
		t.Errorf("margin payload mismatch: %v", body)
	}
}

func TestCalculateMargin_Validation(t *testing.T) {
	router := newTestServer(t).Router()
	cases := []map[string]any{
		{"walletAddress": "bad", "tradeAmount": 100, "leverage": 5, "direction": "long", "marketSymbol": "SOL-PERP"},
		{"walletAddress": handlersTestWallet, "tradeAmount": 0, "leverage": 5, "direction": "long", "marketSymbol": "SOL-PERP"},
		{"walletAddress": handlersTestWallet, "tradeAmount": 100, "leverage": 26, "direction": "long", "marketSymbol": "SOL-PERP"},
		{"walletAddress": handlersTestWallet, "tradeAmount": 100, "leverage": 5, "direction": "up", "marketSymbol": "SOL-PERP"},
		{"walletAddress": handlersTestWallet, "tradeAmount": 100, "leverage": 5, "direction": "long", "marketSymbol": ""},
	}
	for i, c := range cases {
		rec := doRequest(t, router, http.MethodPost, "/api/trade/calculate-margin", c)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("case %d: expected 400, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
}

func TestTradeSubmitEndpoint(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodPost, "/api/trade/submit", map[string]any{
		"walletAddress": handlersTestWallet,
		"tradeAmount":   100,
		"leverage":      5,
		"direction":     "long",
		"marketSymbol":  "SOL-PERP",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)
	tx, ok := body["transactionData"].(map[string]any)
	if !ok {
		t.Fatalf("missing transactionData: %v", body)
	}
	if tx["feePayer"] != handlersTestWallet || tx["blockhash"] != "hash123" {
		t.Errorf("transaction envelope mismatch: %v", tx)
	}
	instructions, ok := tx["instructions"].([]any)
	if !ok || len(instructions) < 3 {
		t.Errorf("expected instruction list, got %v", tx["instructions"])
	}
}

func TestTradeSubmit_UnknownMarket(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodPost, "/api/trade/submit", map[string]any{
		"walletAddress": handlersTestWallet,
		"tradeAmount":   100,
		"leverage":      5,
		"direction":     "long",
		"marketSymbol":  "DOGE-PERP",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTransactionSubmit_MissingBody(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodPost, "/api/transaction/submit", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTransactionStatus_MissingSignature(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodGet, "/api/transaction/status", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWalletPositions_InvalidAddress(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodGet, "/api/markets/positions/not-an-address", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWalletTrades_Empty(t *testing.T) {
	router := newTestServer(t).Router()
	rec := doRequest(t, router, http.MethodGet, "/api/trades/"+handlersTestWallet, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	trades, ok := body["trades"].([]any)
	if !ok || len(trades) != 0 {
		t.Errorf("expected empty trade list, got %v", body["trades"])
	}
}
