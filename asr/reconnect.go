package asr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/message"
)

// ErrReconnectExhausted is returned once the bounded attempt budget is used
// up. Further attempts are refused until MarkSuccess resets the counter.
var ErrReconnectExhausted = errors.New("asr: reconnect attempts exhausted")

// ReconnectPolicy tunes the bounded exponential backoff applied between
// reconnection attempts. The delay doubles per attempt starting at BaseDelay
// and is capped at MaxDelay.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultReconnectPolicy retries five times with delays of 300ms, 600ms,
// 1.2s, 2.4s and 4.8s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		BaseDelay:   300 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Reconnector serializes reconnection attempts against a backend, applying
// the policy's backoff and refusing attempts beyond the budget. Callers must
// invoke MarkSuccess once the connection is verified working so the budget
// resets for the next outage.
type Reconnector struct {
	policy ReconnectPolicy
	logger logging.Logger

	mu       sync.Mutex
	attempts int
}

// NewReconnector creates a reconnector for the given policy.
func NewReconnector(policy ReconnectPolicy, logger logging.Logger) *Reconnector {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Reconnector{policy: policy, logger: logger}
}

// CanRetry reports whether the attempt budget allows another attempt.
func (r *Reconnector) CanRetry() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts < r.policy.MaxAttempts
}

// Attempts returns the number of attempts consumed since the last reset.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// MarkSuccess resets the attempt counter after a verified connection.
func (r *Reconnector) MarkSuccess() {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()
	r.logger.Debug("reconnect counter reset")
}

// Attempt runs a single reconnection attempt: it consumes one unit of the
// budget, waits out the backoff delay and then calls connect. It returns
// ErrReconnectExhausted when the budget was already spent, ctx.Err() when the
// delay is interrupted, and otherwise whatever connect returns. Attempts are
// serialized; concurrent callers queue.
func (r *Reconnector) Attempt(ctx context.Context, connect func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts >= r.policy.MaxAttempts {
		r.logger.Error("maximum reconnection attempts reached", "max_attempts", r.policy.MaxAttempts)
		return ErrReconnectExhausted
	}

	r.attempts++

	delay := r.policy.BaseDelay << (r.attempts - 1)
	if delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}

	r.logger.Warn("attempting reconnection",
		"attempt", r.attempts,
		"max_attempts", r.policy.MaxAttempts,
		"delay", delay.String(),
	)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	if err := connect(ctx); err != nil {
		r.logger.Error("reconnection attempt failed", "attempt", r.attempts, "error", err.Error())
		return err
	}

	r.logger.Debug("connection attempt completed", "attempt", r.attempts)
	return nil
}

// Reconnect runs one bounded reconnection attempt against the backend. On
// success the attempt budget is reset. Once the budget is exhausted, or when
// the final attempt fails, a fatal module error is emitted and
// ErrReconnectExhausted is returned; callers should treat the backend as
// permanently down at that point.
func (p *Pipeline) Reconnect(ctx context.Context) error {
	err := p.reconnector.Attempt(ctx, p.rec.StartConnection)
	if err == nil {
		p.reconnector.MarkSuccess()
		return nil
	}

	if errors.Is(err, ErrReconnectExhausted) {
		p.ReportError(message.CodeFatalError,
			fmt.Sprintf("failed to reconnect after %d attempts", p.reconnector.policy.MaxAttempts), nil)
		return err
	}

	if ctx.Err() != nil {
		return err
	}

	if !p.reconnector.CanRetry() {
		p.ReportError(message.CodeFatalError,
			fmt.Sprintf("all reconnection attempts failed, last error: %s", err.Error()), nil)
		return fmt.Errorf("%w: %s", ErrReconnectExhausted, err.Error())
	}

	return err
}
