package asr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechmesh/message"
)

// flakyRecognizer fails StartConnection a configurable number of times.
type flakyRecognizer struct {
	fakeRecognizer
	failures int
	starts   int
}

func (f *flakyRecognizer) StartConnection(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.starts <= f.failures {
		return errors.New("dial tcp: connection refused")
	}
	f.connected = true
	return nil
}

func fastPolicy(maxAttempts int) ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
	}
}

func TestReconnector_BudgetExhaustsAfterMaxAttempts(t *testing.T) {
	r := NewReconnector(fastPolicy(3), nil)
	ctx := context.Background()

	connect := func(ctx context.Context) error { return errors.New("refused") }

	for i := 1; i <= 3; i++ {
		require.True(t, r.CanRetry())
		err := r.Attempt(ctx, connect)
		assert.EqualError(t, err, "refused")
		assert.Equal(t, i, r.Attempts())
	}

	require.False(t, r.CanRetry())
	err := r.Attempt(ctx, connect)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, 3, r.Attempts())
}

func TestReconnector_MarkSuccessResetsBudget(t *testing.T) {
	r := NewReconnector(fastPolicy(2), nil)
	ctx := context.Background()

	connect := func(ctx context.Context) error { return errors.New("refused") }
	_ = r.Attempt(ctx, connect)
	_ = r.Attempt(ctx, connect)
	require.False(t, r.CanRetry())

	r.MarkSuccess()

	assert.Equal(t, 0, r.Attempts())
	assert.True(t, r.CanRetry())
	assert.NoError(t, r.Attempt(ctx, func(ctx context.Context) error { return nil }))
}

func TestReconnector_AttemptHonorsContextDuringBackoff(t *testing.T) {
	r := NewReconnector(ReconnectPolicy{
		MaxAttempts: 1,
		BaseDelay:   time.Minute,
		MaxDelay:    time.Minute,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Attempt(ctx, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Attempt did not observe cancellation")
	}
}

func TestPipeline_ReconnectEmitsFatalAfterExhaustion(t *testing.T) {
	rec := &flakyRecognizer{failures: 10}
	p := New(rec, func(o *Options) {
		o.Reconnect = fastPolicy(2)
	})

	var mu sync.Mutex
	var errs []message.ModuleError
	p.OnError(func(e message.ModuleError) {
		mu.Lock()
		errs = append(errs, e)
		mu.Unlock()
	})

	ctx := context.Background()

	err := p.Reconnect(ctx)
	require.Error(t, err)
	mu.Lock()
	assert.Empty(t, errs)
	mu.Unlock()

	// The final failed attempt spends the budget and turns fatal.
	err = p.Reconnect(ctx)
	assert.ErrorIs(t, err, ErrReconnectExhausted)

	mu.Lock()
	require.Len(t, errs, 1)
	assert.Equal(t, message.CodeFatalError, errs[0].Code)
	assert.Equal(t, message.ModuleASR, errs[0].Module)
	mu.Unlock()

	// The budget stays spent: further attempts are refused and re-reported.
	err = p.Reconnect(ctx)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.False(t, rec.IsConnected())
}

func TestPipeline_ReconnectSuccessResetsBudget(t *testing.T) {
	rec := &flakyRecognizer{failures: 1}
	p := New(rec, func(o *Options) {
		o.Reconnect = fastPolicy(2)
	})

	ctx := context.Background()

	require.Error(t, p.Reconnect(ctx))
	require.NoError(t, p.Reconnect(ctx))

	assert.True(t, rec.IsConnected())
	assert.Equal(t, 0, p.reconnector.Attempts())
}
