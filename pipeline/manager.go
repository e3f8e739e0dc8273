package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/message"
)

// Producer launches an independent unit of work yielding a lazy sequence of
// chunks. Both channels must be closed when the producer finishes.
type Producer[T any] func(ctx context.Context) (<-chan T, <-chan error)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Module tags errors surfaced on per-request error channels.
	Module message.ModuleType

	// ChunkBufferSize sets the per-request output channel buffer.
	ChunkBufferSize int

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Manager tracks many requests in flight simultaneously, each identified by a
// caller-supplied request id. Chunks for a given id are delivered in the order
// the producer yields them; no ordering exists across ids. Completion, normal
// or cancelled, deregisters the id.
type Manager[T any] struct {
	logger logging.Logger
	mod    message.ModuleType
	buffer int

	mu     sync.RWMutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates an empty request manager.
func NewManager[T any](optFns ...func(o *ManagerOptions)) *Manager[T] {
	opts := ManagerOptions{
		Module:          message.ModuleLLM,
		ChunkBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager[T]{
		logger: opts.Logger,
		mod:    opts.Module,
		buffer: opts.ChunkBufferSize,
		active: make(map[string]context.CancelFunc),
	}
}

// Start launches producer under a cancellation handle keyed by requestID and
// returns channels streaming its chunks and terminal error. It fails if the id
// is already in flight. The chunk channel closes when the producer completes,
// is aborted, or ctx is cancelled.
func (m *Manager[T]) Start(ctx context.Context, requestID string, producer Producer[T]) (<-chan T, <-chan error, error) {
	requestCtx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if _, exists := m.active[requestID]; exists {
		m.mu.Unlock()
		cancel()
		return nil, nil, fmt.Errorf("request %s already in flight", requestID)
	}
	m.active[requestID] = cancel
	m.mu.Unlock()

	chunksCh := make(chan T, m.buffer)
	errorsCh := make(chan error, 1)

	producerChunks, producerErrs := producer(requestCtx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			close(chunksCh)
			close(errorsCh)
			cancel()

			m.mu.Lock()
			delete(m.active, requestID)
			m.mu.Unlock()
		}()

		m.forward(requestCtx, requestID, producerChunks, producerErrs, chunksCh, errorsCh)
	}()

	return chunksCh, errorsCh, nil
}

// Abort cancels exactly the unit of work for requestID, leaving all others
// unaffected. It is a no-op if the id is unknown or already completed, and is
// safe to call more than once.
func (m *Manager[T]) Abort(requestID string) {
	m.mu.RLock()
	cancel, exists := m.active[requestID]
	m.mu.RUnlock()

	if !exists {
		return
	}

	m.logger.Debug("aborting request", "request_id", requestID)
	cancel()
}

// AbortAll cancels every in-flight request.
func (m *Manager[T]) AbortAll() {
	m.mu.RLock()
	cancels := make([]context.CancelFunc, 0, len(m.active))
	for _, cancel := range m.active {
		cancels = append(cancels, cancel)
	}
	m.mu.RUnlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// IsActive reports whether a cancellation handle is registered for requestID.
func (m *Manager[T]) IsActive(requestID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.active[requestID]
	return exists
}

// Len reports the number of in-flight requests.
func (m *Manager[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Wait blocks until all in-flight requests have completed. Intended for
// shutdown after AbortAll.
func (m *Manager[T]) Wait() {
	m.wg.Wait()
}

// forward relays producer output to the caller-facing channels until the
// producer closes its chunk channel or the request context is cancelled.
func (m *Manager[T]) forward(
	ctx context.Context,
	requestID string,
	producerChunks <-chan T,
	producerErrs <-chan error,
	chunksCh chan<- T,
	errorsCh chan<- error,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-producerChunks:
			if !ok {
				// Drain a trailing terminal error, if any.
				select {
				case err, ok := <-producerErrs:
					if ok && err != nil {
						m.reportError(ctx, requestID, err, errorsCh)
					}
				default:
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case chunksCh <- chunk:
			}

		case err, ok := <-producerErrs:
			if !ok {
				producerErrs = nil
				continue
			}
			if err != nil {
				m.reportError(ctx, requestID, err, errorsCh)
				return
			}
		}
	}
}

func (m *Manager[T]) reportError(ctx context.Context, requestID string, err error, errorsCh chan<- error) {
	modErr := message.NewModuleError(m.mod, message.CodeFatalError, err.Error())
	modErr.Metadata = map[string]any{"request_id": requestID}
	if ve, ok := message.AsVendorError(err); ok {
		modErr.VendorInfo = &ve.Info
	}

	m.logger.Error("request failed", "request_id", requestID, "error", err.Error())

	select {
	case <-ctx.Done():
	case errorsCh <- &RequestError{Err: modErr}:
	}
}

// RequestError adapts a ModuleError to the error interface for delivery on a
// request's error channel.
type RequestError struct {
	Err message.ModuleError
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request failed: %s", e.Err.Module, e.Err.Message)
}
