package sim

import (
	"context"
	"time"
)

// Pacer blocks until the next tick is due. A nil Pacer runs unthrottled.
type Pacer interface {
	Wait(ctx context.Context) error
}

// TickerPacer paces the loop at a fixed wall-clock rate.
type TickerPacer struct {
	ticker *time.Ticker
}

func NewTickerPacer(rate int) *TickerPacer {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return &TickerPacer{ticker: time.NewTicker(time.Second / time.Duration(rate))}
}

func (p *TickerPacer) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *TickerPacer) Stop() {
	p.ticker.Stop()
}
