// Package sources holds the HTTP clients for the external collaborators:
// the strategy evaluator, the market-signal monitor, the risk feed, and
// the eligibility predicates. Every client returns an error on failure
// and lets the caller decide how the cycle degrades.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yieldcouncil/yieldcouncil/pkg/models"
)

func newClient(timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("User-Agent", "yieldcouncil/1.0")
	return client
}

// ── Strategy evaluator ──────────────────────────────────────

// StrategyClient fetches the rebalance opportunity evaluation.
type StrategyClient struct {
	client *resty.Client
	url    string
}

func NewStrategyClient(url string, timeout time.Duration) *StrategyClient {
	return &StrategyClient{client: newClient(timeout), url: url}
}

func (c *StrategyClient) Evaluate(ctx context.Context) (*models.StrategyInput, error) {
	var out models.StrategyInput
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("strategy evaluator unreachable: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("strategy evaluator returned %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// ── Market-signal monitor ───────────────────────────────────

// SignalClient fetches the current market-signal snapshot.
type SignalClient struct {
	client *resty.Client
	url    string
}

func NewSignalClient(url string, timeout time.Duration) *SignalClient {
	return &SignalClient{client: newClient(timeout), url: url}
}

func (c *SignalClient) Snapshot(ctx context.Context) (*models.SignalInput, error) {
	var out models.SignalInput
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("signal monitor unreachable: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("signal monitor returned %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// ── Risk feed ───────────────────────────────────────────────

// riskFeedPayload is the wire shape the risk feed serves.
type riskFeedPayload struct {
	LiquidityRisk float64 `json:"liquidity_risk"`
	TechnicalRisk float64 `json:"technical_risk"`
}

// RiskFeedClient serves both the liquidity and technical risk components
// from one upstream feed.
type RiskFeedClient struct {
	client *resty.Client
	url    string
}

func NewRiskFeedClient(url string, timeout time.Duration) *RiskFeedClient {
	return &RiskFeedClient{client: newClient(timeout), url: url}
}

func (c *RiskFeedClient) fetch(ctx context.Context) (riskFeedPayload, error) {
	var out riskFeedPayload
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.url)
	if err != nil {
		return out, fmt.Errorf("risk feed unreachable: %w", err)
	}
	if resp.StatusCode() != 200 {
		return out, fmt.Errorf("risk feed returned %d: %s", resp.StatusCode(), resp.String())
	}
	return out, nil
}

func (c *RiskFeedClient) EstimateLiquidityRisk(ctx context.Context) (float64, error) {
	p, err := c.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return models.Clamp01(p.LiquidityRisk), nil
}

func (c *RiskFeedClient) EstimateTechnicalRisk(ctx context.Context) (float64, error) {
	p, err := c.fetch(ctx)
	if err != nil {
		return 0, err
	}
	return models.Clamp01(p.TechnicalRisk), nil
}
