package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"treasury-lens/internal/fetch"
)

// rpcServer answers every JSON-RPC request with result. It fails the test if
// the method differs from want.
func rpcServer(t *testing.T, want string, result interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if want != "" && req.Method != want {
			t.Errorf("expected method %s, got %s", want, req.Method)
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func rpcErrorServer(code int, message string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error": map[string]interface{}{
				"code":    code,
				"message": message,
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestHTTPClient_GetBalance(t *testing.T) {
	server := rpcServer(t, "getBalance", map[string]interface{}{
		"context": map[string]interface{}{"slot": 1},
		"value":   uint64(2_500_000_000),
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	lamports, err := client.GetBalance(context.Background(), "addr")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if lamports != 2_500_000_000 {
		t.Errorf("expected 2500000000 lamports, got %d", lamports)
	}
}

func TestHTTPClient_GetTokenAccountsByOwner(t *testing.T) {
	server := rpcServer(t, "getTokenAccountsByOwner", map[string]interface{}{
		"value": []map[string]interface{}{
			{
				"pubkey": "acct1",
				"account": map[string]interface{}{
					"data": map[string]interface{}{
						"parsed": map[string]interface{}{
							"info": map[string]interface{}{
								"mint":  "mint1",
								"owner": "owner1",
								"tokenAmount": map[string]interface{}{
									"amount":         "1500000",
									"decimals":       6,
									"uiAmountString": "1.5",
								},
							},
						},
					},
				},
			},
		},
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	accounts, err := client.GetTokenAccountsByOwner(context.Background(), "owner1", TokenProgramID)
	if err != nil {
		t.Fatalf("GetTokenAccountsByOwner: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}

	a := accounts[0]
	if a.Pubkey != "acct1" || a.Mint != "mint1" || a.Owner != "owner1" {
		t.Errorf("unexpected account: %+v", a)
	}
	if got := UIAmount(a.Amount); got != 1.5 {
		t.Errorf("expected amount 1.5, got %v", got)
	}
}

func TestHTTPClient_GetTransaction(t *testing.T) {
	server := rpcServer(t, "getTransaction", map[string]interface{}{
		"slot":      int64(123456),
		"blockTime": int64(1700000000),
		"meta": map[string]interface{}{
			"err":          nil,
			"fee":          uint64(5000),
			"preBalances":  []uint64{1_000_000_000, 0},
			"postBalances": []uint64{994_995_000, 5_000_000},
			"logMessages":  []string{"Program log: Hello", "Program log: World"},
			"loadedAddresses": map[string]interface{}{
				"writable": []string{"addr3"},
				"readonly": []string{"addr4"},
			},
		},
		"transaction": map[string]interface{}{
			"message": map[string]interface{}{
				"accountKeys": []string{"addr1", "addr2"},
				"instructions": []map[string]interface{}{
					{"programIdIndex": 3},
				},
			},
		},
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	tx, err := client.GetTransaction(context.Background(), "testsig123")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx == nil {
		t.Fatal("expected transaction, got nil")
	}

	if tx.Slot != 123456 {
		t.Errorf("expected slot 123456, got %d", tx.Slot)
	}
	if tx.BlockTime == nil || *tx.BlockTime != 1700000000 {
		t.Errorf("expected blockTime 1700000000, got %v", tx.BlockTime)
	}
	if tx.Meta == nil {
		t.Fatal("expected meta, got nil")
	}
	if len(tx.Meta.LogMessages) != 2 {
		t.Errorf("expected 2 log messages, got %d", len(tx.Meta.LogMessages))
	}
	if tx.Message == nil {
		t.Fatal("expected message, got nil")
	}
	if len(tx.Message.AccountKeys) != 4 {
		t.Errorf("expected 4 account keys including loaded addresses, got %d", len(tx.Message.AccountKeys))
	}
	if ids := tx.Message.ProgramIDs(); len(ids) != 1 || ids[0] != "addr4" {
		t.Errorf("expected program addr4, got %v", ids)
	}
}

func TestHTTPClient_GetTransaction_NotFound(t *testing.T) {
	server := rpcServer(t, "getTransaction", nil)
	defer server.Close()

	client := NewHTTPClient(server.URL)

	tx, err := client.GetTransaction(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx != nil {
		t.Errorf("expected nil for not found, got %+v", tx)
	}
}

func TestHTTPClient_GetSignaturesForAddress(t *testing.T) {
	blockTime := int64(1700000000)
	server := rpcServer(t, "getSignaturesForAddress", []map[string]interface{}{
		{"signature": "sig1", "slot": int64(100), "blockTime": blockTime, "err": nil},
		{"signature": "sig2", "slot": int64(101), "blockTime": nil, "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	sigs, err := client.GetSignaturesForAddress(context.Background(), "testaddr", &SignaturesOpts{Limit: 10})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	if len(sigs) != 2 {
		t.Fatalf("expected 2 signatures, got %d", len(sigs))
	}
	if sigs[0].Signature != "sig1" {
		t.Errorf("expected sig1, got %s", sigs[0].Signature)
	}
	if sigs[1].Slot != 101 {
		t.Errorf("expected slot 101, got %d", sigs[1].Slot)
	}
	if sigs[1].BlockTime != nil {
		t.Errorf("expected nil blockTime, got %v", *sigs[1].BlockTime)
	}
	if sigs[1].Err == nil {
		t.Error("expected failed signature to carry err")
	}
}

func TestHTTPClient_GetBlockTime(t *testing.T) {
	server := rpcServer(t, "getBlockTime", int64(1700000123))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	ts, err := client.GetBlockTime(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetBlockTime: %v", err)
	}
	if ts == nil || *ts != 1700000123 {
		t.Errorf("expected 1700000123, got %v", ts)
	}
}

func TestHTTPClient_GetAccountInfo(t *testing.T) {
	server := rpcServer(t, "getAccountInfo", map[string]interface{}{
		"value": map[string]interface{}{
			"lamports":   uint64(1000000),
			"owner":      "11111111111111111111111111111111",
			"data":       []string{"SGVsbG8gV29ybGQ=", "base64"},
			"executable": false,
			"rentEpoch":  uint64(100),
		},
	})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	info, err := client.GetAccountInfo(context.Background(), "testpubkey")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info == nil {
		t.Fatal("expected account info, got nil")
	}
	if info.Lamports != 1000000 {
		t.Errorf("expected lamports 1000000, got %d", info.Lamports)
	}
	if info.Owner != SystemProgramID {
		t.Errorf("unexpected owner: %s", info.Owner)
	}
	if info.Data != "SGVsbG8gV29ybGQ=" {
		t.Errorf("unexpected data: %s", info.Data)
	}
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := rpcServer(t, "getAccountInfo", map[string]interface{}{"value": nil})
	defer server.Close()

	client := NewHTTPClient(server.URL)

	info, err := client.GetAccountInfo(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if info != nil {
		t.Errorf("expected nil for not found, got %+v", info)
	}
}

func TestHTTPClient_GetProgramAccounts(t *testing.T) {
	var filters []interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64        `json:"id"`
			Params []interface{} `json:"params"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Params) == 2 {
			if cfg, ok := req.Params[1].(map[string]interface{}); ok {
				filters, _ = cfg["filters"].([]interface{})
			}
		}

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": []map[string]interface{}{
				{
					"pubkey": "pos1",
					"account": map[string]interface{}{
						"lamports": 1,
						"owner":    "prog",
						"data":     []string{"AQID", "base64"},
					},
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	accounts, err := client.GetProgramAccounts(context.Background(), "prog", &ProgramAccountsOpts{
		DataSize: 128,
		Memcmp:   []MemcmpFilter{{Offset: 8, Bytes: "owner"}},
	})
	if err != nil {
		t.Fatalf("GetProgramAccounts: %v", err)
	}
	if len(accounts) != 1 || accounts[0].Pubkey != "pos1" || accounts[0].Account.Data != "AQID" {
		t.Errorf("unexpected accounts: %+v", accounts)
	}
	if len(filters) != 2 {
		t.Errorf("expected dataSize and memcmp filters, got %v", filters)
	}
}

func TestHTTPClient_Classification(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
		want    fetch.Kind
	}{
		{"invalid params", -32602, "Invalid param: WrongSize", fetch.KindInvalidInput},
		{"slot skipped", -32007, "Slot 1 was skipped, or missing due to ledger jump to recent snapshot", fetch.KindDataGap},
		{"long term storage", -32009, "Slot 1 was skipped, or missing in long-term storage", fetch.KindDataGap},
		{"block not available", -32004, "Block not available for slot 1", fetch.KindDataGap},
		{"node unhealthy", -32005, "Node is behind by 120 slots", fetch.KindUnavailable},
		{"rate limited code", -32429, "rate limit exceeded", fetch.KindRateLimited},
		{"account missing by text", -32000, "could not find account", fetch.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := rpcErrorServer(tt.code, tt.message)
			defer server.Close()

			client := NewHTTPClient(server.URL, WithName("node-a"))

			_, err := client.GetBalance(context.Background(), "addr")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := fetch.KindOf(err); got != tt.want {
				t.Errorf("expected kind %s, got %s (%v)", tt.want, got, err)
			}

			var fe *fetch.Error
			if !errors.As(err, &fe) {
				t.Fatalf("expected *fetch.Error, got %T", err)
			}
			if fe.Endpoint != "node-a" || fe.Op != "getBalance" {
				t.Errorf("unexpected error labels: op=%s endpoint=%s", fe.Op, fe.Endpoint)
			}

			var rpcErr *rpcError
			if !errors.As(err, &rpcErr) || rpcErr.Code != tt.code {
				t.Errorf("expected wrapped rpcError with code %d", tt.code)
			}
		})
	}
}

func TestHTTPClient_HTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   fetch.Kind
	}{
		{http.StatusTooManyRequests, fetch.KindRateLimited},
		{http.StatusBadGateway, fetch.KindUnavailable},
		{http.StatusServiceUnavailable, fetch.KindUnavailable},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL)

			_, err := client.GetBalance(context.Background(), "addr")
			if got := fetch.KindOf(err); got != tt.want {
				t.Errorf("expected kind %s, got %s", tt.want, got)
			}
		})
	}
}

func TestHTTPClient_SingleAttempt(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)

	if _, err := client.GetBalance(context.Background(), "addr"); err == nil {
		t.Fatal("expected error, got nil")
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 round trip, got %d", calls)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithTimeout(20*time.Millisecond))

	_, err := client.GetBalance(context.Background(), "addr")
	if got := fetch.KindOf(err); got != fetch.KindTimeout {
		t.Errorf("expected timeout kind, got %s (%v)", got, err)
	}
}

func TestHTTPClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	_, err := client.GetBalance(ctx, "addr")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if got := fetch.KindOf(err); got != fetch.KindCanceled {
		t.Errorf("expected canceled kind, got %s", got)
	}
}
