package signal_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/model"
	"github.com/tradesync/market-engine/internal/signal"
)

func TestTradingSignal_ServiceResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ai/trading-signal" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["symbol"] != "AAPL" {
			t.Errorf("symbol: got %v", req["symbol"])
		}
		json.NewEncoder(w).Encode(model.Signal{
			Signal:     model.SignalBuy,
			Confidence: 0.91,
			Reasoning:  "momentum breakout",
		})
	}))
	defer srv.Close()

	c := signal.NewClient(srv.URL)
	sig := c.TradingSignal(context.Background(), "AAPL", nil, decimal.NewFromInt(150))
	if sig.Signal != model.SignalBuy || sig.Confidence != 0.91 {
		t.Errorf("unexpected signal: %+v", sig)
	}
}

// assertFallback checks sig against the fallback-signal invariants also
// asserted in TestFallbackBounds.
func assertFallback(t *testing.T, sig model.Signal) {
	t.Helper()
	switch sig.Signal {
	case model.SignalBuy, model.SignalSell, model.SignalHold:
	default:
		t.Fatalf("unexpected action %q", sig.Signal)
	}
	if sig.Confidence < 0.5 || sig.Confidence >= 1.0 {
		t.Fatalf("confidence out of range: %f", sig.Confidence)
	}
	if sig.Reasoning == "" || sig.Timestamp.IsZero() {
		t.Fatalf("fallback record incomplete: %+v", sig)
	}
}

func TestTradingSignal_FallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := signal.NewClient(srv.URL)
	sig := c.TradingSignal(context.Background(), "TSLA", nil, decimal.NewFromInt(250))
	assertFallback(t, sig)
}

func TestTradingSignal_FallbackOnUnreachable(t *testing.T) {
	c := signal.NewClient("http://127.0.0.1:1")
	sig := c.TradingSignal(context.Background(), "NVDA", nil, decimal.NewFromInt(490))
	assertFallback(t, sig)
}

func TestSentiment_Fallback(t *testing.T) {
	c := signal.NewClient("http://127.0.0.1:1")
	s := c.Sentiment(context.Background(), "markets look shaky")
	if s.Sentiment != "NEUTRAL" || s.Score != 0.5 {
		t.Errorf("expected neutral fallback, got %+v", s)
	}
}

func TestSentiment_ServiceResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ai/sentiment-analysis" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(model.Sentiment{Sentiment: "POSITIVE", Score: 0.82})
	}))
	defer srv.Close()

	c := signal.NewClient(srv.URL)
	s := c.Sentiment(context.Background(), "record earnings")
	if s.Sentiment != "POSITIVE" || s.Score != 0.82 {
		t.Errorf("unexpected sentiment: %+v", s)
	}
}

func TestFallbackBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		sig := signal.Fallback("AAPL")
		switch sig.Signal {
		case model.SignalBuy, model.SignalSell, model.SignalHold:
		default:
			t.Fatalf("unexpected action %q", sig.Signal)
		}
		if sig.Confidence < 0.5 || sig.Confidence >= 1.0 {
			t.Fatalf("confidence out of range: %f", sig.Confidence)
		}
		if sig.Reasoning == "" || sig.Timestamp.IsZero() {
			t.Fatalf("fallback record incomplete: %+v", sig)
		}
	}
}
