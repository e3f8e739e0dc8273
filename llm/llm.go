package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/speechmesh/emitter"
	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/memory"
	"github.com/hupe1980/speechmesh/message"
	"github.com/hupe1980/speechmesh/model"
	"github.com/hupe1980/speechmesh/pipeline"
)

// Chunk is one streamed completion delta tagged with its request id. Final
// marks the last chunk of a request and carries the full accumulated text.
type Chunk struct {
	RequestID string
	Text      string
	Final     bool
}

// Options configures a Pipeline.
type Options struct {
	// Instructions is the system prompt prefixed to every completion.
	Instructions string

	// MaxHistoryLength bounds the conversation memory.
	MaxHistoryLength int

	// EventBufferSize sets the per-request chunk channel buffer.
	EventBufferSize int

	// Logger provides structured logging. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Pipeline drives a model.Model with many completions in flight: each Submit
// launches an independently cancellable request whose chunks stream out
// tagged with the request id. Conversation context is drawn from the bounded
// chat memory; the user turn is appended on submit and the assistant turn
// once the completion finishes.
type Pipeline struct {
	mdl          model.Model
	instructions string
	logger       logging.Logger
	bufferSize   int

	manager *pipeline.Manager[Chunk]
	chat    *memory.Chat

	chunks  *emitter.Emitter[Chunk]
	errors  *emitter.Emitter[message.ModuleError]
	metrics *emitter.Emitter[message.ModuleMetrics]
}

// New creates a pipeline backed by the given model.
func New(mdl model.Model, optFns ...func(o *Options)) *Pipeline {
	opts := Options{
		MaxHistoryLength: 10,
		EventBufferSize:  100,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Pipeline{
		mdl:          mdl,
		instructions: opts.Instructions,
		logger:       opts.Logger,
		bufferSize:   opts.EventBufferSize,
		manager: pipeline.NewManager[Chunk](func(o *pipeline.ManagerOptions) {
			o.Module = message.ModuleLLM
			o.ChunkBufferSize = opts.EventBufferSize
			o.Logger = opts.Logger
		}),
		chat:    memory.NewChat(opts.MaxHistoryLength),
		chunks:  emitter.New[Chunk](),
		errors:  emitter.New[message.ModuleError](),
		metrics: emitter.New[message.ModuleMetrics](),
	}
}

// OnChunk registers a listener for streamed completion chunks.
func (p *Pipeline) OnChunk(fn emitter.Listener[Chunk]) *emitter.Subscription[Chunk] {
	return p.chunks.On(fn)
}

// OnError registers a listener for module errors.
func (p *Pipeline) OnError(fn emitter.Listener[message.ModuleError]) *emitter.Subscription[message.ModuleError] {
	return p.errors.On(fn)
}

// OnMetrics registers a listener for metrics records (ttft).
func (p *Pipeline) OnMetrics(fn emitter.Listener[message.ModuleMetrics]) *emitter.Subscription[message.ModuleMetrics] {
	return p.metrics.On(fn)
}

// Memory exposes the bounded conversation memory.
func (p *Pipeline) Memory() *memory.Chat { return p.chat }

// IsActive reports whether a completion is in flight for the request id.
func (p *Pipeline) IsActive(requestID string) bool { return p.manager.IsActive(requestID) }

// Submit appends the user turn to memory and starts a completion for it. The
// returned channel closes when the request completes or is aborted.
func (p *Pipeline) Submit(ctx context.Context, requestID, input string) (<-chan Chunk, error) {
	p.chat.Put(memory.RoleUser, input)

	req := model.Request{
		Instructions: p.instructions,
		Messages:     p.chat.Get(),
		Stream:       true,
	}

	start := time.Now()

	chunksCh, errsCh, err := p.manager.Start(ctx, requestID, func(reqCtx context.Context) (<-chan Chunk, <-chan error) {
		return p.produce(reqCtx, requestID, req, start)
	})
	if err != nil {
		return nil, fmt.Errorf("llm: submit: %w", err)
	}

	p.logger.Debug("completion started", "request_id", requestID, "history_len", len(req.Messages))

	out := make(chan Chunk, cap(chunksCh))
	go func() {
		defer close(out)
		for {
			select {
			case chunk, ok := <-chunksCh:
				if !ok {
					if errsCh != nil {
						select {
						case err, ok := <-errsCh:
							if ok && err != nil {
								p.reportError(err)
							}
						default:
						}
					}
					return
				}
				p.chunks.Emit(chunk)
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			case err, ok := <-errsCh:
				if !ok {
					errsCh = nil
					continue
				}
				p.reportError(err)
			}
		}
	}()

	return out, nil
}

// Abort cancels exactly the completion for requestID, leaving all others
// streaming. Unknown ids are a safe no-op.
func (p *Pipeline) Abort(requestID string) {
	p.logger.Debug("aborting completion", "request_id", requestID)
	p.manager.Abort(requestID)
}

// Flush aborts every in-flight completion.
func (p *Pipeline) Flush() {
	p.manager.AbortAll()
}

// Stop aborts all requests and waits for their goroutines to finish.
func (p *Pipeline) Stop() {
	p.manager.AbortAll()
	p.manager.Wait()
}

// produce runs one completion, translating model responses into tagged chunks
// and appending the finished assistant turn to memory.
func (p *Pipeline) produce(ctx context.Context, requestID string, req model.Request, start time.Time) (<-chan Chunk, <-chan error) {
	out := make(chan Chunk, p.bufferSize)
	errCh := make(chan error, 1)

	respCh, modelErrs := p.mdl.Generate(ctx, req)

	go func() {
		defer close(out)
		defer close(errCh)

		var (
			ttftSent bool
			ttfsSent bool
			accum    strings.Builder
		)

		for {
			select {
			case <-ctx.Done():
				return

			case resp, ok := <-respCh:
				if !ok {
					return
				}

				if !ttftSent {
					ttftSent = true
					p.emitMetrics(requestID, map[string]any{
						message.MetricLLMTTFT: time.Since(start).Milliseconds(),
					})
				}

				if resp.Partial {
					accum.WriteString(resp.Text)
				} else {
					accum.Reset()
					accum.WriteString(resp.Text)
				}

				if !ttfsSent && strings.ContainsAny(accum.String(), ".!?\n") {
					ttfsSent = true
					p.emitMetrics(requestID, map[string]any{
						message.MetricLLMTTFS: time.Since(start).Milliseconds(),
					})
				}

				if resp.Partial {
					select {
					case <-ctx.Done():
						return
					case out <- Chunk{RequestID: requestID, Text: resp.Text}:
					}
					continue
				}

				// Final response: the turn lands in memory before the final
				// chunk is delivered, so readers observe a consistent history.
				p.chat.Put(memory.RoleAssistant, resp.Text)

				select {
				case <-ctx.Done():
				case out <- Chunk{RequestID: requestID, Text: resp.Text, Final: true}:
				}
				return

			case err, ok := <-modelErrs:
				if !ok {
					modelErrs = nil
					continue
				}
				if err != nil {
					errCh <- err
					return
				}
			}
		}
	}()

	return out, errCh
}

func (p *Pipeline) reportError(err error) {
	var reqErr *pipeline.RequestError
	if errors.As(err, &reqErr) {
		p.errors.Emit(reqErr.Err)
		return
	}

	p.errors.Emit(message.NewModuleError(message.ModuleLLM, message.CodeNonFatalError, err.Error()))
}

func (p *Pipeline) emitMetrics(requestID string, metrics map[string]any) {
	rec := message.NewModuleMetrics(message.ModuleLLM, p.mdl.Info().Provider, metrics)
	rec.Metadata = map[string]any{"request_id": requestID}
	p.metrics.Emit(rec)
}
