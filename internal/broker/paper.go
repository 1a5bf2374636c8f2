package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"hadoku/internal/logger"
)

// Paper accepts every order without touching a brokerage. It keeps the
// submitted orders in memory for inspection.
type Paper struct {
	mu     sync.Mutex
	orders []Request
}

func NewPaper() *Paper { return &Paper{} }

func (p *Paper) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Ticker == "" || req.Quantity <= 0 {
		return Result{}, fmt.Errorf("broker: invalid request ticker=%q quantity=%.4f", req.Ticker, req.Quantity)
	}
	p.mu.Lock()
	p.orders = append(p.orders, req)
	p.mu.Unlock()
	orderID := uuid.NewString()
	logger.Infof("broker(paper): filled %s %s x%.0f order=%s", req.Action, req.Ticker, req.Quantity, orderID)
	return Result{
		Success: true,
		Message: "paper fill",
		OrderID: orderID,
	}, nil
}

// Orders returns a copy of every submitted order.
func (p *Paper) Orders() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.orders))
	copy(out, p.orders)
	return out
}
