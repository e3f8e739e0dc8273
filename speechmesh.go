// Package speechmesh provides a high-level façade over the speech pipelines
// (recognition, synthesis and language-model completion) with shared settings
// and logging. Most applications interact with this package by:
//  1. Creating a SpeechMesh via New() with the vendor backends they use
//  2. Running the pipelines (Run) and wiring listeners (OnX hooks on each pipeline)
//  3. Submitting audio frames, synthesis text and completion requests
//
// The façade delegates the actual work to the asr, tts and llm packages while
// keeping setup ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply a config
// file and a structured logger.
package speechmesh

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/speechmesh/asr"
	"github.com/hupe1980/speechmesh/config"
	"github.com/hupe1980/speechmesh/llm"
	"github.com/hupe1980/speechmesh/logging"
	"github.com/hupe1980/speechmesh/model"
	"github.com/hupe1980/speechmesh/tts"
)

// Options configures the SpeechMesh instance.
type Options struct {
	// Settings holds the shared runtime settings. Defaults to config.Default().
	Settings config.Settings

	// Instructions is the system prompt for the language model.
	Instructions string

	// Backends. Only the pipelines whose backend is set are constructed.
	Recognizer  asr.Recognizer
	Synthesizer tts.Synthesizer
	Model       model.Model

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// SpeechMesh is the high-level façade aggregating the configured pipelines.
type SpeechMesh struct {
	opts Options

	asr *asr.Pipeline
	tts *tts.Pipeline
	llm *llm.Pipeline
}

// New creates a new SpeechMesh instance with optional overrides. Pipelines
// are built only for the backends provided.
func New(optFns ...func(o *Options)) *SpeechMesh {
	opts := Options{
		Settings: config.Default(),
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	m := &SpeechMesh{opts: opts}

	if opts.Recognizer != nil {
		m.asr = asr.New(opts.Recognizer, func(o *asr.Options) {
			o.QueueCapacityHint = opts.Settings.QueueCapacityHint
			o.Logger = opts.Logger
		})
	}

	if opts.Synthesizer != nil {
		m.tts = tts.New(opts.Synthesizer, func(o *tts.Options) {
			o.QueueCapacityHint = opts.Settings.QueueCapacityHint
			o.Logger = opts.Logger
		})
	}

	if opts.Model != nil {
		m.llm = llm.New(opts.Model, func(o *llm.Options) {
			o.Instructions = opts.Instructions
			o.MaxHistoryLength = opts.Settings.MaxHistoryLength
			o.EventBufferSize = opts.Settings.EventBufferSize
			o.Logger = opts.Logger
		})
	}

	return m
}

// ASR returns the recognition pipeline, or nil when no Recognizer was set.
func (m *SpeechMesh) ASR() *asr.Pipeline { return m.asr }

// TTS returns the synthesis pipeline, or nil when no Synthesizer was set.
func (m *SpeechMesh) TTS() *tts.Pipeline { return m.tts }

// LLM returns the completion pipeline, or nil when no Model was set.
func (m *SpeechMesh) LLM() *llm.Pipeline { return m.llm }

// Run connects the vendor backends and drives the pipeline consumer loops
// until ctx is cancelled.
func (m *SpeechMesh) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	return m.shutdown()
}

// Start is the non-blocking variant of Run: it connects the backends and
// launches the consumer loops, leaving shutdown to Stop.
func (m *SpeechMesh) Start(ctx context.Context) error {
	if m.asr != nil {
		if err := m.asr.Start(ctx); err != nil {
			return fmt.Errorf("speechmesh: start asr: %w", err)
		}
		go func() { _ = m.asr.Run(ctx) }()
	}

	if m.tts != nil {
		if err := m.tts.Start(ctx); err != nil {
			return fmt.Errorf("speechmesh: start tts: %w", err)
		}
		go func() { _ = m.tts.Run(ctx) }()
	}

	return nil
}

// Stop disconnects the backends and aborts any in-flight work.
func (m *SpeechMesh) Stop() error { return m.shutdown() }

func (m *SpeechMesh) shutdown() error {
	var errs []error

	if m.llm != nil {
		m.llm.Stop()
	}

	shutdownCtx := context.Background()

	if m.tts != nil {
		if err := m.tts.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop tts: %w", err))
		}
	}

	if m.asr != nil {
		if err := m.asr.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop asr: %w", err))
		}
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("speechmesh: shutdown: %s", strings.Join(msgs, "; "))
	}

	return nil
}

// CompleteSync is a synchronous helper that submits a completion request and
// drains its chunk stream, returning the final text.
func (m *SpeechMesh) CompleteSync(ctx context.Context, requestID, input string) (string, error) {
	if m.llm == nil {
		return "", fmt.Errorf("speechmesh: no model configured")
	}

	out, err := m.llm.Submit(ctx, requestID, input)
	if err != nil {
		return "", err
	}

	var final string
	for chunk := range out {
		if chunk.Final {
			final = chunk.Text
		}
	}

	if err := ctx.Err(); err != nil {
		return final, err
	}

	return final, nil
}
