// Package signal talks to the external AI analysis service. Every call
// degrades to a locally generated result, so callers never see an error
// when the service is slow, down, or misbehaving.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradesync/market-engine/internal/metrics"
	"github.com/tradesync/market-engine/internal/model"
)

const requestTimeout = 5 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

type signalRequest struct {
	Symbol         string          `json:"symbol"`
	HistoricalData []model.Quote   `json:"historical_data"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
}

type sentimentRequest struct {
	Text string `json:"text"`
}

// TradingSignal asks the AI service for a recommendation on symbol. On any
// failure it substitutes a locally generated signal and returns no error.
func (c *Client) TradingSignal(ctx context.Context, symbol string, history []model.Quote, currentPrice decimal.Decimal) model.Signal {
	req := signalRequest{Symbol: symbol, HistoricalData: history, CurrentPrice: currentPrice}

	var out model.Signal
	if err := c.post(ctx, "/ai/trading-signal", req, &out); err != nil {
		slog.Warn("ai signal unavailable, using fallback", "symbol", symbol, "error", err)
		metrics.SignalFallbacks.Inc()
		return Fallback(symbol)
	}
	return out
}

// Sentiment analyzes text. Failures yield a neutral result, never an error.
func (c *Client) Sentiment(ctx context.Context, text string) model.Sentiment {
	var out model.Sentiment
	if err := c.post(ctx, "/ai/sentiment-analysis", sentimentRequest{Text: text}, &out); err != nil {
		slog.Warn("ai sentiment unavailable, using fallback", "error", err)
		metrics.SignalFallbacks.Inc()
		return model.Sentiment{Sentiment: "NEUTRAL", Score: 0.5}
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ai service returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Fallback produces a random recommendation with confidence in [0.5, 1.0).
func Fallback(symbol string) model.Signal {
	actions := []model.SignalAction{model.SignalBuy, model.SignalSell, model.SignalHold}
	action := actions[rand.IntN(len(actions))]
	return model.Signal{
		Signal:     action,
		Confidence: 0.5 + rand.Float64()*0.5,
		Reasoning:  fmt.Sprintf("Local analysis for %s: %s signal based on simulated market conditions", symbol, action),
		Timestamp:  time.Now().UTC(),
	}
}
