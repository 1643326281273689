// Package ratelimit gates agent invocations behind a persisted hourly
// window so restarts cannot be used to dodge the quota.
package ratelimit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/msageha/overseer/internal/docstore"
	"github.com/msageha/overseer/internal/model"
)

// Window is the quota window length.
const Window = time.Hour

// Limiter is a token window persisted at Path. The zero clock means real
// time; tests inject their own.
type Limiter struct {
	Path  string
	Limit int
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(path string, limit int) *Limiter {
	return &Limiter{
		Path:  path,
		Limit: limit,
		Now:   time.Now,
		Sleep: sleepCtx,
	}
}

// Acquire consumes one token, blocking until the window rolls over when
// the quota is exhausted. The persisted (window_start, count) pair is
// updated before Acquire returns so a crash right after an agent call can
// never under-count.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		now := l.Now()

		var wait time.Duration
		_, err := docstore.Update(l.Path, func(w *model.RateLimitWindow) error {
			start := time.Unix(w.WindowStartEpoch, 0)
			if w.WindowStartEpoch == 0 || now.Sub(start) >= Window {
				w.WindowStartEpoch = now.Unix()
				w.Count = 0
			}
			if w.Count < l.Limit {
				w.Count++
				wait = 0
				return nil
			}
			wait = Window - now.Sub(time.Unix(w.WindowStartEpoch, 0))
			return nil
		})
		if err != nil {
			return fmt.Errorf("update rate limit window: %w", err)
		}
		if wait <= 0 {
			return nil
		}
		if err := l.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Peek returns the persisted window without consuming a token.
func (l *Limiter) Peek() (model.RateLimitWindow, error) {
	var w model.RateLimitWindow
	if err := docstore.Load(l.Path, &w); err != nil && !os.IsNotExist(err) {
		return w, err
	}
	return w, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
