// Package pricing quotes plan prices from live server occupancy.
package pricing

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"realityshop/internal/metrics"
)

// CapacityReader reports how many clients a server holds and how many it may hold.
type CapacityReader interface {
	Capacity(ctx context.Context, serverID string) (current, limit int, err error)
}

// Quote maps occupancy onto the band: an empty server costs Max, a full one Min.
// Rounding is half-to-even. Results outside the band are clamped.
func Quote(band Band, current, limit int) int {
	if limit <= 0 || current <= 0 {
		return band.Max
	}
	occupancy := float64(current) / float64(limit)
	discount := int(math.RoundToEven(float64(band.Max-band.Min) * occupancy))
	price := band.Max - discount
	if price < band.Min {
		return band.Min
	}
	if price > band.Max {
		return band.Max
	}
	return price
}

// PlanPrice pairs a plan with its current quote.
type PlanPrice struct {
	Plan  Plan
	Price int
}

// Engine reads capacity on every call. Nothing is cached and nothing is reserved,
// so two users may see the same price while the server fills up.
type Engine struct {
	capacity CapacityReader
	logger   *zap.Logger
}

func NewEngine(capacity CapacityReader, logger *zap.Logger) *Engine {
	return &Engine{capacity: capacity, logger: logger}
}

// Price quotes a band on the given server.
func (e *Engine) Price(ctx context.Context, band Band, serverID string) (int, error) {
	current, limit, err := e.capacity.Capacity(ctx, serverID)
	if err != nil {
		return 0, fmt.Errorf("read capacity of %s: %w", serverID, err)
	}
	price := Quote(band, current, limit)
	metrics.IncQuote(serverID)
	e.logger.Debug("price quoted",
		zap.String("server", serverID),
		zap.Int("current", current),
		zap.Int("limit", limit),
		zap.Int("price", price),
	)
	return price, nil
}

// PriceList quotes every catalog plan against a single capacity read.
func (e *Engine) PriceList(ctx context.Context, serverID string) ([]PlanPrice, error) {
	current, limit, err := e.capacity.Capacity(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("read capacity of %s: %w", serverID, err)
	}
	plans := Plans()
	out := make([]PlanPrice, 0, len(plans))
	for _, p := range plans {
		out = append(out, PlanPrice{Plan: p, Price: Quote(p.Band, current, limit)})
	}
	metrics.IncQuote(serverID)
	return out, nil
}
