package sources

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/yieldcouncil/yieldcouncil/internal/eligibility"
)

// StaticPredicate is a fixed kill-switch, useful for maintenance windows
// and tests.
type StaticPredicate struct {
	PredicateName string
	Triggered     bool
}

func (p StaticPredicate) Name() string { return p.PredicateName }

func (p StaticPredicate) Check(ctx context.Context) (bool, error) {
	return p.Triggered, nil
}

// HTTPPredicate polls a kill-switch endpoint. The endpoint serves
// {"triggered": bool}.
type HTTPPredicate struct {
	name   string
	client *resty.Client
	url    string
}

func NewHTTPPredicate(name, url string, timeout time.Duration) *HTTPPredicate {
	return &HTTPPredicate{name: name, client: newClient(timeout), url: url}
}

func (p *HTTPPredicate) Name() string { return p.name }

func (p *HTTPPredicate) Check(ctx context.Context) (bool, error) {
	var out struct {
		Triggered bool `json:"triggered"`
	}
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(p.url)
	if err != nil {
		return false, fmt.Errorf("emergency predicate %q unreachable: %w", p.name, err)
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("emergency predicate %q returned %d", p.name, resp.StatusCode())
	}
	return out.Triggered, nil
}

// MarketClient polls the market-suitability endpoint. The endpoint
// serves the eligibility.Suitability shape.
type MarketClient struct {
	client *resty.Client
	url    string
}

func NewMarketClient(url string, timeout time.Duration) *MarketClient {
	return &MarketClient{client: newClient(timeout), url: url}
}

func (c *MarketClient) Check(ctx context.Context) (eligibility.Suitability, error) {
	var out eligibility.Suitability
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.url)
	if err != nil {
		return out, fmt.Errorf("market suitability endpoint unreachable: %w", err)
	}
	if resp.StatusCode() != 200 {
		return out, fmt.Errorf("market suitability endpoint returned %d", resp.StatusCode())
	}
	return out, nil
}

// ParseEmergencyURLs expands "name=url" pairs into HTTP predicates.
// Malformed entries are reported, not silently dropped.
func ParseEmergencyURLs(entries []string, timeout time.Duration) ([]eligibility.EmergencyPredicate, error) {
	out := make([]eligibility.EmergencyPredicate, 0, len(entries))
	for _, e := range entries {
		name, url, ok := strings.Cut(e, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("malformed emergency predicate entry %q, want name=url", e)
		}
		out = append(out, NewHTTPPredicate(name, url, timeout))
	}
	return out, nil
}
