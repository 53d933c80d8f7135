package dispatch

import (
	"context"
	"math/rand"
	"time"
)

// Pacer は連続送信の間に挟む待機を表す。待機中もコンテキストの終了に応答する。
type Pacer interface {
	Wait(ctx context.Context) error
}

// JitterPacer はMinからMaxの間の一様乱数だけ待機する。
type JitterPacer struct {
	Min time.Duration
	Max time.Duration
}

// Wait はランダムな時間だけ待機する。
func (p JitterPacer) Wait(ctx context.Context) error {
	d := p.Min
	if p.Max > p.Min {
		d += time.Duration(rand.Int63n(int64(p.Max - p.Min)))
	}
	return sleep(ctx, d)
}

// FixedPacer は常に一定時間待機する。
type FixedPacer struct {
	Delay time.Duration
}

// Wait はDelayだけ待機する。
func (p FixedPacer) Wait(ctx context.Context) error {
	return sleep(ctx, p.Delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
