package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/speechmesh/emitter"
	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/message"
	"github.com/hupe1980/speechmesh/pipeline"
	"github.com/hupe1980/speechmesh/synthesis"
	"github.com/hupe1980/speechmesh/timeline"
)

// Synthesizer is the capability interface a text-to-speech backend implements.
// Synthesize streams raw PCM for one text chunk; both channels must be closed
// when the stream ends.
type Synthesizer interface {
	StartConnection(ctx context.Context) error
	Synthesize(ctx context.Context, t message.TTSTextInput) (<-chan []byte, <-chan error)
	Cancel(ctx context.Context) error
	StopConnection(ctx context.Context) error
	Vendor() string
	OutputFormat() timeline.Format
}

// AudioChunk is one frame-aligned slice of synthesized PCM.
type AudioChunk struct {
	RequestID string
	Data      []byte
}

// Options configures a Pipeline.
type Options struct {
	// QueueCapacityHint pre-sizes the text-chunk queue.
	QueueCapacityHint int

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// requestState tracks output accounting for one synthesis request.
type requestState struct {
	startedAt    time.Time
	audioStarted bool
	audioBytes   int64
}

// Pipeline drives a Synthesizer: text chunks are queued and consumed one at a
// time by a sequential processor, each request's lifecycle is tracked by the
// synthesis state machine, and outbound audio is frame-aligned with the
// trailing partial frame carried into the next backend chunk. A flush cancels
// in-flight work and discards the carry.
type Pipeline struct {
	synth  Synthesizer
	logger logging.Logger

	seq     *pipeline.Sequential[message.TTSTextInput]
	machine *synthesis.Machine

	audio       *emitter.Emitter[AudioChunk]
	textResults *emitter.Emitter[message.TTSTextResult]
	audioStarts *emitter.Emitter[message.TTSAudioStart]
	audioEnds   *emitter.Emitter[message.TTSAudioEnd]
	flushEnds   *emitter.Emitter[message.TTSFlushEnd]
	errors      *emitter.Emitter[message.ModuleError]
	metrics     *emitter.Emitter[message.ModuleMetrics]

	mu       sync.Mutex
	leftover []byte
	requests map[string]*requestState
}

// New creates a pipeline for the given backend. Call Run to start the
// consumer loop.
func New(synth Synthesizer, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Pipeline{
		synth:  synth,
		logger: opts.Logger,
		machine: synthesis.New(func(o *synthesis.Options) {
			o.Vendor = synth.Vendor()
			o.Logger = opts.Logger
		}),
		audio:       emitter.New[AudioChunk](),
		textResults: emitter.New[message.TTSTextResult](),
		audioStarts: emitter.New[message.TTSAudioStart](),
		audioEnds:   emitter.New[message.TTSAudioEnd](),
		flushEnds:   emitter.New[message.TTSFlushEnd](),
		errors:      emitter.New[message.ModuleError](),
		metrics:     emitter.New[message.ModuleMetrics](),
		requests:    make(map[string]*requestState),
	}

	p.seq = pipeline.NewSequential(p.handleItem, func(o *pipeline.SequentialOptions) {
		o.Module = message.ModuleTTS
		o.QueueCapacityHint = opts.QueueCapacityHint
		o.Logger = opts.Logger
	})
	p.seq.OnError(func(e message.ModuleError) { p.errors.Emit(e) })
	p.machine.OnMetrics(func(rec message.ModuleMetrics) { p.metrics.Emit(rec) })

	return p
}

// OnAudio registers a listener for outbound frame-aligned audio.
func (p *Pipeline) OnAudio(fn emitter.Listener[AudioChunk]) *emitter.Subscription[AudioChunk] {
	return p.audio.On(fn)
}

// OnTextResult registers a listener for synthesized-text reports.
func (p *Pipeline) OnTextResult(fn emitter.Listener[message.TTSTextResult]) *emitter.Subscription[message.TTSTextResult] {
	return p.textResults.On(fn)
}

// OnAudioStart registers a listener fired on the first audio of a request.
func (p *Pipeline) OnAudioStart(fn emitter.Listener[message.TTSAudioStart]) *emitter.Subscription[message.TTSAudioStart] {
	return p.audioStarts.On(fn)
}

// OnAudioEnd registers a listener fired when a request drains or is flushed.
func (p *Pipeline) OnAudioEnd(fn emitter.Listener[message.TTSAudioEnd]) *emitter.Subscription[message.TTSAudioEnd] {
	return p.audioEnds.On(fn)
}

// OnFlushEnd registers a listener for flush acknowledgements.
func (p *Pipeline) OnFlushEnd(fn emitter.Listener[message.TTSFlushEnd]) *emitter.Subscription[message.TTSFlushEnd] {
	return p.flushEnds.On(fn)
}

// OnError registers a listener for module errors.
func (p *Pipeline) OnError(fn emitter.Listener[message.ModuleError]) *emitter.Subscription[message.ModuleError] {
	return p.errors.On(fn)
}

// OnMetrics registers a listener for metrics records (ttfb, request duration).
func (p *Pipeline) OnMetrics(fn emitter.Listener[message.ModuleMetrics]) *emitter.Subscription[message.ModuleMetrics] {
	return p.metrics.On(fn)
}

// State reports the synthesis state for a request id.
func (p *Pipeline) State(requestID string) (synthesis.State, bool) {
	return p.machine.State(requestID)
}

// Start opens the backend connection.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.synth.StartConnection(ctx); err != nil {
		return fmt.Errorf("tts: start connection: %w", err)
	}
	return nil
}

// Stop flushes pending work and closes the backend connection.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.flushAll()

	if err := p.synth.StopConnection(ctx); err != nil {
		return fmt.Errorf("tts: stop connection: %w", err)
	}
	return nil
}

// Run consumes queued text input until ctx is cancelled. It blocks; callers
// typically run it in its own goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.seq.Run(ctx)
}

// Submit enqueues one text chunk for synthesis.
func (p *Pipeline) Submit(t message.TTSTextInput) error {
	if err := t.Validate(); err != nil {
		return err
	}
	p.seq.Put(t)
	return nil
}

// Flush cancels synthesis and answers with a flush end. With a request id it
// cancels only that request's state, dropping its still-queued chunks as they
// surface; without one it cancels the in-flight unit, discards the queue and
// every tracked request.
func (p *Pipeline) Flush(flush message.TTSFlush) {
	if flush.RequestID != "" {
		p.cancelRequest(flush.RequestID)
	} else {
		p.flushAll()
	}

	end := message.TTSFlushEnd{FlushID: flush.FlushID, Metadata: flush.Metadata}
	p.flushEnds.Emit(end)
}

// DeliverTextResult is called by the backend when it reports the text (and
// word timings) actually synthesized.
func (p *Pipeline) DeliverTextResult(res message.TTSTextResult) error {
	if err := res.Validate(); err != nil {
		return err
	}
	p.textResults.Emit(res)
	return nil
}

// ReportError emits a module error with vendor passthrough.
func (p *Pipeline) ReportError(requestID string, code message.ErrorCode, msg string, vendorInfo *message.VendorInfo) {
	modErr := message.NewModuleError(message.ModuleTTS, code, msg)
	if requestID != "" {
		modErr.Metadata = map[string]any{"request_id": requestID}
	}
	if vendorInfo != nil {
		vendor := vendorInfo.Vendor
		if vendor == "" {
			vendor = p.synth.Vendor()
		}
		modErr.VendorInfo = &message.VendorInfo{
			Vendor:  vendor,
			Code:    vendorInfo.Code,
			Message: vendorInfo.Message,
		}
	}
	p.errors.Emit(modErr)
}

// handleItem is the sequential unit of work for one text chunk.
func (p *Pipeline) handleItem(ctx context.Context, t message.TTSTextInput) error {
	ok, err := p.machine.Chunk(t.RequestID, t.TextInputEnd)
	if err != nil {
		return err
	}
	if !ok {
		// Request already terminal: stale chunk, nothing to synthesize.
		return nil
	}

	p.mu.Lock()
	state, tracked := p.requests[t.RequestID]
	if !tracked {
		state = &requestState{startedAt: time.Now()}
		p.requests[t.RequestID] = state
	}
	p.mu.Unlock()

	chunks, errs := p.synth.Synthesize(ctx, t)

	if err := p.consumeAudio(ctx, t, state, chunks, errs); err != nil {
		return err
	}

	if t.TextInputEnd {
		return p.completeRequest(t.RequestID, state)
	}
	return nil
}

// consumeAudio drains the backend's audio stream for one chunk, frame-aligning
// before emission. A cancelled request stops emitting at the next chunk.
func (p *Pipeline) consumeAudio(
	ctx context.Context,
	t message.TTSTextInput,
	state *requestState,
	chunks <-chan []byte,
	errs <-chan error,
) error {
	for {
		select {
		case <-ctx.Done():
			p.discardCarry()
			if err := p.synth.Cancel(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("cancel synthesis failed", "error", err.Error())
			}
			return ctx.Err()

		case data, ok := <-chunks:
			if !ok {
				select {
				case err, ok := <-errs:
					if ok && err != nil {
						return err
					}
				default:
				}
				return nil
			}

			if !p.machine.Active(t.RequestID) {
				// Flushed mid-stream: stop emitting for this request.
				p.discardCarry()
				if err := p.synth.Cancel(ctx); err != nil {
					p.logger.Warn("cancel synthesis failed", "error", err.Error())
				}
				return nil
			}

			p.emitAudio(t.RequestID, state, data)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return err
			}
		}
	}
}

// emitAudio prefixes the carried partial frame, emits the whole-frame portion
// and retains the new remainder.
func (p *Pipeline) emitAudio(requestID string, state *requestState, data []byte) {
	format := p.synth.OutputFormat()
	frameSize := format.FrameSize()

	p.mu.Lock()
	combined := append(p.leftover, data...)
	validLength := len(combined) - len(combined)%frameSize
	p.leftover = append([]byte(nil), combined[validLength:]...)
	out := combined[:validLength]

	first := false
	if len(out) > 0 {
		if !state.audioStarted {
			state.audioStarted = true
			first = true
		}
		state.audioBytes += int64(len(out))
	}
	p.mu.Unlock()

	if len(out) == 0 {
		return
	}

	if first {
		p.audioStarts.Emit(message.TTSAudioStart{RequestID: requestID})
	}

	p.audio.Emit(AudioChunk{RequestID: requestID, Data: out})
}

// completeRequest finishes a request whose final chunk has drained: the state
// machine moves to COMPLETED and the audio end reports totals. A request
// cancelled by a flush while its final chunk was still streaming is reaped
// silently; the cancel path already reported the audio end.
func (p *Pipeline) completeRequest(requestID string, state *requestState) error {
	if err := p.machine.Complete(requestID); err != nil {
		var ite *synthesis.IllegalTransitionError
		if errors.As(err, &ite) && ite.From == synthesis.StateCancelled {
			p.mu.Lock()
			delete(p.requests, requestID)
			p.mu.Unlock()
			_ = p.machine.Forget(requestID)
			return nil
		}
		return err
	}

	p.emitAudioEnd(requestID, state)

	p.mu.Lock()
	delete(p.requests, requestID)
	p.mu.Unlock()
	_ = p.machine.Forget(requestID)

	return nil
}

func (p *Pipeline) emitAudioEnd(requestID string, state *requestState) {
	p.mu.Lock()
	started := state.audioStarted
	startedAt := state.startedAt
	audioBytes := state.audioBytes
	p.mu.Unlock()

	if !started {
		return
	}

	format := p.synth.OutputFormat()
	end := message.TTSAudioEnd{
		RequestID:                   requestID,
		RequestEventIntervalMS:      time.Since(startedAt).Milliseconds(),
		RequestTotalAudioDurationMS: int64(format.BytesDurationMS(int(audioBytes))),
	}

	p.logger.Debug("request audio finished",
		"request_id", requestID,
		"audio_duration_ms", end.RequestTotalAudioDurationMS,
	)
	p.audioEnds.Emit(end)
}

// cancelRequest flushes one request id, leaving every other request's state
// untouched. Still-queued chunks for the id are dropped by the state machine
// when the consumer reaches them.
func (p *Pipeline) cancelRequest(requestID string) {
	p.machine.Cancel(requestID)

	p.mu.Lock()
	state, tracked := p.requests[requestID]
	delete(p.requests, requestID)
	p.mu.Unlock()

	if tracked {
		p.emitAudioEnd(requestID, state)
	}
}

// flushAll cancels the in-flight unit, discards the queue, the carry and all
// tracked request states.
func (p *Pipeline) flushAll() {
	p.seq.Flush()
	p.machine.CancelAll()
	p.discardCarry()

	p.mu.Lock()
	states := p.requests
	p.requests = make(map[string]*requestState)
	p.mu.Unlock()

	for id, state := range states {
		p.emitAudioEnd(id, state)
	}
}

func (p *Pipeline) discardCarry() {
	p.mu.Lock()
	p.leftover = nil
	p.mu.Unlock()
}
