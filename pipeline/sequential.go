package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/speechmesh/emitter"
	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/message"
	"github.com/hupe1980/speechmesh/queue"
)

// Handler executes one unit of work. It must observe ctx cancellation at its
// next suspension point and unwind without emitting further output.
type Handler[T any] func(ctx context.Context, item T) error

// SequentialOptions configures a Sequential processor.
type SequentialOptions struct {
	// Module tags errors reported through OnError.
	Module message.ModuleType

	// QueueCapacityHint pre-sizes the work queue for the expected backlog.
	QueueCapacityHint int

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Sequential enforces that at most one handler executes at a time. Items are
// pulled from an ordered work queue; a failure inside a unit of work is
// converted to a ModuleError and reported without terminating the loop.
type Sequential[T any] struct {
	queue   *queue.Queue[T]
	handler Handler[T]
	module  message.ModuleType
	logger  logging.Logger

	errs *emitter.Emitter[message.ModuleError]

	// Cancel handle for the in-flight unit, nil when idle.
	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSequential creates a processor draining its own work queue through handler.
// Call Run to start the consumer loop.
func NewSequential[T any](handler Handler[T], optFns ...func(o *SequentialOptions)) *Sequential[T] {
	opts := SequentialOptions{
		Module: message.ModuleTTS,
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Sequential[T]{
		queue: queue.New[T](func(o *queue.Options) {
			o.CapacityHint = opts.QueueCapacityHint
		}),
		handler: handler,
		module:  opts.Module,
		logger:  opts.Logger,
		errs:    emitter.New[message.ModuleError](),
	}
}

// Put enqueues an item at the tail.
func (s *Sequential[T]) Put(item T) { s.queue.Put(item) }

// PutFront enqueues an item at the head, ahead of all waiting items.
func (s *Sequential[T]) PutFront(item T) { s.queue.PutFront(item) }

// Len reports the number of items waiting in the queue.
func (s *Sequential[T]) Len() int { return s.queue.Len() }

// OnError registers a listener for module errors raised by units of work.
func (s *Sequential[T]) OnError(fn emitter.Listener[message.ModuleError]) *emitter.Subscription[message.ModuleError] {
	return s.errs.On(fn)
}

// Run consumes the queue until ctx is cancelled, executing one unit of work at
// a time. It blocks; callers typically run it in its own goroutine.
func (s *Sequential[T]) Run(ctx context.Context) error {
	for {
		item, err := s.queue.Get(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrFlushed) {
				// Pending get resolved by a flush; keep consuming.
				continue
			}
			return err
		}

		s.runUnit(ctx, item)
	}
}

// Flush discards all queued items and cancels the in-flight unit of work.
// The queue is drained first so the consumer cannot pick up a stale item
// between the cancellation and the discard.
func (s *Sequential[T]) Flush() {
	s.queue.Flush()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (s *Sequential[T]) runUnit(ctx context.Context, item T) {
	unitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	err := s.invoke(unitCtx, item)
	if err == nil {
		return
	}

	// Cancellation is not an error and must not be reported as one.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Debug("unit of work cancelled", "module", string(s.module))
		return
	}

	modErr := message.NewModuleError(s.module, message.CodeNonFatalError, err.Error())
	if ve, ok := message.AsVendorError(err); ok {
		modErr.VendorInfo = &ve.Info
	}

	s.logger.Error("unit of work failed", "module", string(s.module), "error", err.Error())
	s.errs.Emit(modErr)
}

// invoke runs the handler, converting a panic into an error so a misbehaving
// unit of work cannot take down the consumer loop.
func (s *Sequential[T]) invoke(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()

	return s.handler(ctx, item)
}
