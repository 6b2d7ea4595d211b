package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOnchainMissingConfig(t *testing.T) {
	on := NewOnchain(OnchainOptions{}, noopLogger())
	if _, err := on.GetPrice(context.Background(), "BTC"); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}

	on = NewOnchain(OnchainOptions{RPCURL: "http://localhost"}, noopLogger())
	_, err := on.GetPrice(context.Background(), "BTC")
	if !errors.Is(err, ErrUnknownTicker) {
		t.Fatalf("缺少 feed 配置应返回 ErrUnknownTicker，got %v", err)
	}
}

func TestOnchainRetriesRPCFailures(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	on := NewOnchain(OnchainOptions{
		RPCURL: server.URL,
		Feeds:  map[string]string{"BTC": "0x0000000000000000000000000000000000000001"},
		Retry:  fastRetry(),
	}, noopLogger())

	if _, err := on.GetPrice(context.Background(), "BTC"); err == nil {
		t.Fatal("RPC 持续失败时应报错")
	}
	if hits != 3 {
		t.Fatalf("expected 3 RPC attempts, got %d", hits)
	}
}

func TestOnchainUnknownTickerSkipsRPC(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	on := NewOnchain(OnchainOptions{
		RPCURL: server.URL,
		Feeds:  map[string]string{"ETH": "0x0000000000000000000000000000000000000001"},
		Retry:  fastRetry(),
	}, noopLogger())

	if _, err := on.GetPrice(context.Background(), "BTC"); !errors.Is(err, ErrUnknownTicker) {
		t.Fatalf("expected ErrUnknownTicker, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("unconfigured feed must not hit the RPC endpoint, got %d calls", hits)
	}
}
