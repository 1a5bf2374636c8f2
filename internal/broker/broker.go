// Package broker submits orders to the brokerage execution worker.
package broker

import (
	"context"

	"hadoku/internal/domain"
)

// Request is one order to place.
type Request struct {
	Ticker     string             `json:"ticker"`
	Action     domain.TradeAction `json:"action"`
	Quantity   float64            `json:"quantity"`
	Account    string             `json:"account,omitempty"`
	DryRun     bool               `json:"dry_run,omitempty"`
	LimitPrice float64            `json:"limit_price,omitempty"`
}

// Result is the worker's answer. Success false with a nil error means the
// worker rejected the order; an error means we never got a usable answer.
type Result struct {
	Success bool
	Message string
	OrderID string
}

// Executor places orders. The live engine and the monitor both depend on
// this interface so paper trading and tests can swap the implementation.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}
