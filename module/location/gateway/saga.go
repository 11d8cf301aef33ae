package gateway

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"PTracker/tools/errs"

	"go.uber.org/zap"
)

// RetryPolicy bounds retry-until-converged for one saga step.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 3 * time.Second
	}
	return p
}

// delay is BaseDelay<<attempt capped at MaxDelay, minus up to 10% jitter.
func (p RetryPolicy) delay(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if d/5 <= 0 {
		return d
	}
	return d - time.Duration(rand.Int63n(int64(d/5)))/2
}

// step is one idempotent side of a friend-graph mutation.
type step struct {
	name   string
	doc    string
	fields map[string]any
}

func retryable(err error) bool {
	if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrArgs) {
		return false
	}
	return errors.Is(err, errs.ErrRemoteUnavailable)
}

// converge retries one step until it applies, the error is permanent, or the
// attempts run out.
func (g *Gateway) converge(ctx context.Context, saga string, s step) error {
	var err error
	for attempt := 0; attempt < g.retry.Attempts; attempt++ {
		err = g.store.Update(ctx, UsersCollection, s.doc, s.fields)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == g.retry.Attempts-1 {
			break
		}
		g.log.Warn("saga step failed, retrying",
			zap.String("saga", saga), zap.String("step", s.name), zap.Int("attempt", attempt+1), zap.Error(err))
		t := time.NewTimer(g.retry.delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// runSaga applies steps in order. Every step is idempotent, so re-running a
// failed saga converges to the same state.
func (g *Gateway) runSaga(ctx context.Context, saga string, steps ...step) error {
	for _, s := range steps {
		if err := g.converge(ctx, saga, s); err != nil {
			return errs.WrapMsg(err, "saga step failed", "saga", saga, "step", s.name)
		}
	}
	g.log.Info("saga converged", zap.String("saga", saga))
	return nil
}
