package synthesis

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/speechmesh/emitter"
	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/message"
)

// State is the lifecycle position of one synthesis request.
type State string

const (
	StateQueued     State = "QUEUED"
	StateProcessing State = "PROCESSING"
	StateFinalizing State = "FINALIZING"
	StateCompleted  State = "COMPLETED"
	StateCancelled  State = "CANCELLED"
)

// Terminal reports whether the state has no outgoing transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// IllegalTransitionError signals an internal-consistency violation: a
// transition the state machine does not allow was requested.
type IllegalTransitionError struct {
	RequestID string
	From      State
	To        State
}

// Error implements the error interface.
func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("synthesis: illegal transition %s -> %s for request %s", e.From, e.To, e.RequestID)
}

// Transition describes one state change of a tracked request.
type Transition struct {
	RequestID string
	From      State
	To        State
	At        time.Time
}

// request is the per-id record. queuedAt anchors TTFB and total duration.
type request struct {
	state        State
	queuedAt     time.Time
	processingAt time.Time
}

// Options configures a Machine.
type Options struct {
	// Vendor stamps emitted metrics records.
	Vendor string

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Machine tracks the multi-chunk synthesis lifecycle of every in-flight
// request id. A request enters QUEUED when first seen, moves to PROCESSING on
// its first input chunk, to FINALIZING on the chunk flagged as last, and to
// COMPLETED once all buffered output has been emitted. CANCELLED is reachable
// from any non-terminal state. Terminal states absorb: late chunks for a
// completed or cancelled id are dropped, never re-emitted.
type Machine struct {
	vendor string
	logger logging.Logger

	mu       sync.Mutex
	requests map[string]*request

	transitions *emitter.Emitter[Transition]
	metrics     *emitter.Emitter[message.ModuleMetrics]
}

// New creates an empty machine.
func New(optFns ...func(o *Options)) *Machine {
	opts := Options{
		Vendor: "unknown",
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Machine{
		vendor:      opts.Vendor,
		logger:      opts.Logger,
		requests:    make(map[string]*request),
		transitions: emitter.New[Transition](),
		metrics:     emitter.New[message.ModuleMetrics](),
	}
}

// OnTransition registers a listener fired on every state entry.
func (m *Machine) OnTransition(fn emitter.Listener[Transition]) *emitter.Subscription[Transition] {
	return m.transitions.On(fn)
}

// OnMetrics registers a listener for metrics records emitted on PROCESSING
// (ttfb) and COMPLETED (request_duration_ms) entries.
func (m *Machine) OnMetrics(fn emitter.Listener[message.ModuleMetrics]) *emitter.Subscription[message.ModuleMetrics] {
	return m.metrics.On(fn)
}

// State reports the current state of a request id and whether it is tracked.
func (m *Machine) State(requestID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return "", false
	}
	return r.state, true
}

// Active reports whether the request id is tracked in a non-terminal state.
func (m *Machine) Active(requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	return ok && !r.state.Terminal()
}

// ActiveIDs returns all request ids currently in a non-terminal state.
func (m *Machine) ActiveIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.requests))
	for id, r := range m.requests {
		if !r.state.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Chunk records receipt of one input chunk for requestID. An unseen id enters
// QUEUED first. The first chunk moves QUEUED to PROCESSING; a chunk flagged
// final moves PROCESSING (or QUEUED, for a single-chunk request) to
// FINALIZING. The boolean reports whether the chunk should be processed:
// chunks arriving for a terminal id are dropped and report false. A chunk
// arriving in FINALIZING violates the machine and returns an
// IllegalTransitionError.
func (m *Machine) Chunk(requestID string, final bool) (bool, error) {
	m.mu.Lock()

	r, ok := m.requests[requestID]
	if !ok {
		r = &request{state: StateQueued, queuedAt: time.Now()}
		m.requests[requestID] = r
		m.mu.Unlock()
		m.transitions.Emit(Transition{RequestID: requestID, From: "", To: StateQueued, At: r.queuedAt})
		m.mu.Lock()
	}

	if r.state.Terminal() {
		m.mu.Unlock()
		m.logger.Debug("dropping late chunk", "request_id", requestID, "state", string(r.state))
		return false, nil
	}

	if r.state == StateFinalizing {
		m.mu.Unlock()
		return false, &IllegalTransitionError{RequestID: requestID, From: StateFinalizing, To: StateProcessing}
	}

	var events []func()

	if r.state == StateQueued {
		now := time.Now()
		r.processingAt = now
		events = append(events, m.enterLocked(requestID, r, StateProcessing, now))
		ttfb := now.Sub(r.queuedAt).Milliseconds()
		events = append(events, func() {
			m.metrics.Emit(m.newMetrics(requestID, map[string]any{message.MetricTTSTTFB: ttfb}))
		})
	}

	if final {
		events = append(events, m.enterLocked(requestID, r, StateFinalizing, time.Now()))
	}

	m.mu.Unlock()
	for _, fn := range events {
		fn()
	}
	return true, nil
}

// Complete moves a FINALIZING request to COMPLETED, meaning all buffered
// output for the request has been emitted. Completing from any other state is
// an internal-consistency error.
func (m *Machine) Complete(requestID string) error {
	m.mu.Lock()

	r, ok := m.requests[requestID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("synthesis: unknown request %s", requestID)
	}
	if r.state != StateFinalizing {
		from := r.state
		m.mu.Unlock()
		return &IllegalTransitionError{RequestID: requestID, From: from, To: StateCompleted}
	}

	now := time.Now()
	fire := m.enterLocked(requestID, r, StateCompleted, now)
	total := now.Sub(r.queuedAt).Milliseconds()
	m.mu.Unlock()

	fire()
	m.metrics.Emit(m.newMetrics(requestID, map[string]any{message.MetricRequestDurationMS: total}))
	return nil
}

// Cancel moves a request to CANCELLED from any non-terminal state. Cancelling
// an unknown or already terminal id is a safe no-op, so repeated flushes are
// idempotent.
func (m *Machine) Cancel(requestID string) {
	m.mu.Lock()

	r, ok := m.requests[requestID]
	if !ok || r.state.Terminal() {
		m.mu.Unlock()
		return
	}

	fire := m.enterLocked(requestID, r, StateCancelled, time.Now())
	m.mu.Unlock()
	fire()
}

// CancelAll cancels every tracked non-terminal request. Used for an unscoped
// flush.
func (m *Machine) CancelAll() {
	for _, id := range m.ActiveIDs() {
		m.Cancel(id)
	}
}

// Forget drops the record for a terminal request id so the registry does not
// grow without bound. Forgetting a non-terminal id is refused.
func (m *Machine) Forget(requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestID]
	if !ok {
		return nil
	}
	if !r.state.Terminal() {
		return fmt.Errorf("synthesis: request %s still %s", requestID, r.state)
	}
	delete(m.requests, requestID)
	return nil
}

// enterLocked applies the state change under the lock and returns the emit
// thunk to run after unlocking.
func (m *Machine) enterLocked(requestID string, r *request, to State, at time.Time) func() {
	from := r.state
	r.state = to
	m.logger.Debug("synthesis state changed", "request_id", requestID, "from", string(from), "to", string(to))
	return func() {
		m.transitions.Emit(Transition{RequestID: requestID, From: from, To: to, At: at})
	}
}

func (m *Machine) newMetrics(requestID string, metrics map[string]any) message.ModuleMetrics {
	rec := message.NewModuleMetrics(message.ModuleTTS, m.vendor, metrics)
	rec.Metadata = map[string]any{"request_id": requestID}
	return rec
}
