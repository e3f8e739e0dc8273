package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/speechmesh/emitter"
	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/message"
	"github.com/hupe1980/speechmesh/queue"
	"github.com/hupe1980/speechmesh/timeline"
)

// Recognizer is the capability interface a speech-to-text backend implements.
// Backends hand transcription results to the pipeline through
// Pipeline.DeliverResult and report failures through Pipeline.ReportError.
type Recognizer interface {
	StartConnection(ctx context.Context) error
	SendAudio(ctx context.Context, data []byte) (bool, error)
	Finalize(ctx context.Context) error
	StopConnection(ctx context.Context) error
	IsConnected() bool
	Vendor() string
	InputFormat() timeline.Format
}

// BufferMode selects what happens to audio frames arriving while the backend
// is disconnected.
type BufferMode int

const (
	// BufferDiscard drops frames received while disconnected.
	BufferDiscard BufferMode = iota
	// BufferKeep retains frames up to ByteLimit, discarding the oldest first.
	BufferKeep
)

// BufferStrategy configures disconnected-frame handling.
type BufferStrategy struct {
	Mode      BufferMode
	ByteLimit int
}

// Frame is one inbound PCM payload with its correlation metadata.
type Frame struct {
	Data     []byte
	Metadata map[string]any
}

// Options configures a Pipeline.
type Options struct {
	// Buffer selects frame handling while the backend is disconnected.
	Buffer BufferStrategy

	// QueueCapacityHint pre-sizes the frame queue.
	QueueCapacityHint int

	// Reconnect tunes the bounded reconnection backoff.
	Reconnect ReconnectPolicy

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Pipeline drives a Recognizer: it queues inbound audio frames, consumes them
// through a single loop (single writer over the audio timeline), forwards
// finalize directives, and stamps outbound results with session metadata and
// a per-turn id that rotates after each final result.
type Pipeline struct {
	rec    Recognizer
	buffer BufferStrategy
	logger logging.Logger

	frames      *queue.Queue[Frame]
	timeline    *timeline.Timeline
	reconnector *Reconnector

	results      *emitter.Emitter[message.ASRResult]
	finalizeEnds *emitter.Emitter[message.ASRFinalizeEnd]
	errors       *emitter.Emitter[message.ModuleError]
	metrics      *emitter.Emitter[message.ModuleMetrics]

	// Mutable turn state, guarded for the consumer loop vs. result delivery.
	mu            sync.Mutex
	sessionID     string
	turnID        string
	finalizeID    string
	finalizeAt    time.Time
	firstAudioAt  time.Time
	ttfwSent      bool
	sentBytes     int64
	buffered      []Frame
	bufferedBytes int
	stopped       bool
}

// New creates a pipeline for the given backend. Call Run to start the frame
// consumer loop.
func New(rec Recognizer, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		Buffer:    BufferStrategy{Mode: BufferDiscard},
		Reconnect: DefaultReconnectPolicy(),
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Pipeline{
		rec:    rec,
		buffer: opts.Buffer,
		logger: opts.Logger,
		frames: queue.New[Frame](func(o *queue.Options) {
			o.CapacityHint = opts.QueueCapacityHint
		}),
		reconnector: NewReconnector(opts.Reconnect, opts.Logger),
		timeline:     timeline.New(),
		results:      emitter.New[message.ASRResult](),
		finalizeEnds: emitter.New[message.ASRFinalizeEnd](),
		errors:       emitter.New[message.ModuleError](),
		metrics:      emitter.New[message.ModuleMetrics](),
		turnID:       message.NewID(),
	}
}

// OnResult registers a listener for transcription results.
func (p *Pipeline) OnResult(fn emitter.Listener[message.ASRResult]) *emitter.Subscription[message.ASRResult] {
	return p.results.On(fn)
}

// OnFinalizeEnd registers a listener for finalize-drain completions.
func (p *Pipeline) OnFinalizeEnd(fn emitter.Listener[message.ASRFinalizeEnd]) *emitter.Subscription[message.ASRFinalizeEnd] {
	return p.finalizeEnds.On(fn)
}

// OnError registers a listener for module errors.
func (p *Pipeline) OnError(fn emitter.Listener[message.ModuleError]) *emitter.Subscription[message.ModuleError] {
	return p.errors.On(fn)
}

// OnMetrics registers a listener for metrics records.
func (p *Pipeline) OnMetrics(fn emitter.Listener[message.ModuleMetrics]) *emitter.Subscription[message.ModuleMetrics] {
	return p.metrics.On(fn)
}

// Timeline exposes the audio timeline so callers can map provider-reported
// timestamps back to real capture time.
func (p *Pipeline) Timeline() *timeline.Timeline { return p.timeline }

// Start opens the backend connection.
func (p *Pipeline) Start(ctx context.Context) error {
	start := time.Now()
	if err := p.rec.StartConnection(ctx); err != nil {
		return fmt.Errorf("asr: start connection: %w", err)
	}
	p.emitMetrics(map[string]any{message.MetricASRConnectDelay: time.Since(start).Milliseconds()})
	return nil
}

// Stop closes the backend connection and emits the final send-duration
// metrics record.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	err := p.rec.StopConnection(ctx)

	actualSend := p.timeline.TotalUserAudioDuration() + p.timeline.TotalSilenceAudioDuration()
	p.emitMetrics(map[string]any{message.MetricASRActualSend: actualSend})

	if err != nil {
		return fmt.Errorf("asr: stop connection: %w", err)
	}
	return nil
}

// SubmitFrame enqueues an inbound audio frame for the consumer loop.
func (p *Pipeline) SubmitFrame(frame Frame) {
	p.frames.Put(frame)
}

// Finalize records the finalize directive. The latency reported on the
// eventual finalize end is measured from this call to the backend's final
// result.
func (p *Pipeline) Finalize(ctx context.Context, finalizeID string) error {
	if !p.rec.IsConnected() {
		p.logger.Warn("finalize: service not connected")
	}

	p.mu.Lock()
	p.finalizeID = finalizeID
	p.finalizeAt = time.Now()
	p.mu.Unlock()

	if err := p.rec.Finalize(ctx); err != nil {
		return fmt.Errorf("asr: finalize: %w", err)
	}
	return nil
}

// Run consumes the frame queue until ctx is cancelled. It blocks; callers
// typically run it in its own goroutine.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		frame, err := p.frames.Get(ctx)
		if err != nil {
			if err == queue.ErrFlushed {
				continue
			}
			return err
		}

		if err := p.handleFrame(ctx, frame); err != nil {
			p.logger.Error("error consuming audio frame", "error", err.Error())
			p.ReportError(message.CodeNonFatalError, err.Error(), nil)
		}
	}
}

// DeliverResult is called by the backend listener when a transcription result
// arrives. The pipeline stamps the per-turn id and session metadata, emits
// TTFW on the first result and TTLW on a final result after a finalize, and
// rotates the turn id after each final result.
func (p *Pipeline) DeliverResult(res message.ASRResult) {
	p.mu.Lock()

	res.ID = p.turnID
	if p.sessionID != "" {
		if res.Metadata == nil {
			res.Metadata = make(map[string]any)
		}
		res.Metadata[message.MetadataSessionID] = p.sessionID
	}

	var ttfw, ttlw int64 = -1, -1
	if !p.ttfwSent && !p.firstAudioAt.IsZero() {
		ttfw = time.Since(p.firstAudioAt).Milliseconds()
		p.ttfwSent = true
	}

	var finalizeID string
	if res.Final && !p.finalizeAt.IsZero() {
		ttlw = time.Since(p.finalizeAt).Milliseconds()
		finalizeID = p.finalizeID
		p.finalizeAt = time.Time{}
	}

	if res.Final {
		p.turnID = message.NewID()
	}
	sessionID := p.sessionID
	p.mu.Unlock()

	if ttfw >= 0 {
		p.emitMetrics(map[string]any{message.MetricASRTTFW: ttfw})
	}

	p.results.Emit(res)

	if ttlw >= 0 {
		p.emitMetrics(map[string]any{message.MetricASRTTLW: ttlw})

		end := message.ASRFinalizeEnd{FinalizeID: finalizeID, LatencyMS: ttlw}
		if sessionID != "" {
			end.Metadata = map[string]any{message.MetadataSessionID: sessionID}
		}
		p.finalizeEnds.Emit(end)
	}
}

// ReportError emits a module error stamped with the current turn and session.
func (p *Pipeline) ReportError(code message.ErrorCode, msg string, vendorInfo *message.VendorInfo) {
	p.mu.Lock()
	modErr := message.ModuleError{
		ID:      p.turnID,
		Module:  message.ModuleASR,
		Code:    code,
		Message: msg,
		Metadata: map[string]any{
			message.MetadataSessionID: p.sessionID,
		},
	}
	p.mu.Unlock()

	if vendorInfo != nil {
		vendor := vendorInfo.Vendor
		if vendor == "" {
			vendor = p.rec.Vendor()
		}
		modErr.VendorInfo = &message.VendorInfo{
			Vendor:  vendor,
			Code:    vendorInfo.Code,
			Message: vendorInfo.Message,
		}
	}

	p.errors.Emit(modErr)
}

func (p *Pipeline) handleFrame(ctx context.Context, frame Frame) error {
	if len(frame.Data) == 0 {
		p.logger.Warn("send frame: empty pcm frame detected")
		return nil
	}

	format := p.rec.InputFormat()

	if !p.rec.IsConnected() {
		p.bufferDisconnected(frame, format)
		return nil
	}

	if sid, ok := frame.Metadata[message.MetadataSessionID].(string); ok && sid != "" {
		p.mu.Lock()
		p.sessionID = sid
		p.mu.Unlock()
	}

	// Replay frames retained while disconnected before the live frame.
	p.mu.Lock()
	replay := p.buffered
	p.buffered = nil
	p.bufferedBytes = 0
	p.mu.Unlock()

	if len(replay) > 0 {
		p.logger.Debug("send frame: flushing buffered frames", "count", len(replay))
		for _, bf := range replay {
			if err := p.sendFrame(ctx, bf.Data, format); err != nil {
				return err
			}
		}
	}

	return p.sendFrame(ctx, frame.Data, format)
}

func (p *Pipeline) sendFrame(ctx context.Context, data []byte, format timeline.Format) error {
	ok, err := p.rec.SendAudio(ctx, data)
	if err != nil {
		p.timeline.AddDroppedAudio(int64(format.BytesDurationMS(len(data))))
		return err
	}
	if !ok {
		p.timeline.AddDroppedAudio(int64(format.BytesDurationMS(len(data))))
		return nil
	}

	p.timeline.AddUserAudio(int64(format.BytesDurationMS(len(data))))

	p.mu.Lock()
	p.sentBytes += int64(len(data))
	if p.firstAudioAt.IsZero() {
		p.firstAudioAt = time.Now()
	}
	p.mu.Unlock()

	return nil
}

// bufferDisconnected applies the configured strategy to a frame arriving
// while the backend is down. Discarded audio still advances the timeline so
// provider timestamps stay mappable.
func (p *Pipeline) bufferDisconnected(frame Frame, format timeline.Format) {
	if p.buffer.Mode == BufferDiscard {
		p.logger.Debug("send frame: service not connected, discarding")
		p.timeline.AddDroppedAudio(int64(format.BytesDurationMS(len(frame.Data))))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.bufferedBytes+len(frame.Data) > p.buffer.ByteLimit && len(p.buffered) > 0 {
		dropped := p.buffered[0]
		p.buffered = p.buffered[1:]
		p.bufferedBytes -= len(dropped.Data)
		p.timeline.AddDroppedAudio(int64(format.BytesDurationMS(len(dropped.Data))))
	}

	p.buffered = append(p.buffered, frame)
	p.bufferedBytes += len(frame.Data)
}

func (p *Pipeline) emitMetrics(metrics map[string]any) {
	p.mu.Lock()
	rec := message.ModuleMetrics{
		ID:      p.turnID,
		Module:  message.ModuleASR,
		Vendor:  p.rec.Vendor(),
		Metrics: metrics,
	}
	if p.sessionID != "" {
		rec.Metadata = map[string]any{message.MetadataSessionID: p.sessionID}
	}
	p.mu.Unlock()

	p.metrics.Emit(rec)
}
