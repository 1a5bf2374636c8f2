package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"hadoku/internal/logger"
)

// ClientConfig configures the HTTP broker client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Account string
	DryRun  bool
	Timeout time.Duration
	// RatePerMinute caps order submissions; 0 disables the limiter.
	RatePerMinute int
}

// Client talks to the execution worker over HTTP. Orders are never retried:
// a timed-out submission may still have filled, so a retry could double the
// position. Ambiguity is surfaced to the caller instead.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	account string
	dryRun  bool
}

func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("broker: base URL cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)
	if cfg.APIKey != "" {
		httpClient.SetHeader("X-API-Key", cfg.APIKey)
	}
	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return &Client{
		http:    httpClient,
		limiter: limiter,
		account: cfg.Account,
		dryRun:  cfg.DryRun,
	}, nil
}

func (c *Client) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Ticker == "" || req.Quantity <= 0 {
		return Result{}, fmt.Errorf("broker: invalid request ticker=%q quantity=%.4f", req.Ticker, req.Quantity)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}
	if req.Account == "" {
		req.Account = c.account
	}
	if c.dryRun {
		req.DryRun = true
	}
	logger.Infof("broker: submitting %s %s x%.0f (dry_run=%v)", req.Action, req.Ticker, req.Quantity, req.DryRun)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/execute-trade")
	if err != nil {
		return Result{}, fmt.Errorf("broker: submit %s %s: %w", req.Action, req.Ticker, err)
	}
	body := resp.String()
	if resp.StatusCode() != 200 {
		return Result{
			Success: false,
			Message: fmt.Sprintf("worker returned %d: %s", resp.StatusCode(), truncate(body, 200)),
		}, nil
	}
	parsed := gjson.Parse(body)
	return Result{
		Success: parsed.Get("success").Bool(),
		Message: parsed.Get("message").String(),
		OrderID: parsed.Get("order_id").String(),
	}, nil
}

// Health pings the worker; used at startup and by the health endpoint.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("broker: health returned %d", resp.StatusCode())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
