package tts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speechmesh/internal/testutil"
	"github.com/hupe1980/speechmesh/message"
	"github.com/hupe1980/speechmesh/synthesis"
	"github.com/hupe1980/speechmesh/timeline"
)

// fakeSynthesizer answers each Synthesize call with canned byte chunks keyed
// by the input text.
type fakeSynthesizer struct {
	mu        sync.Mutex
	responses map[string][][]byte
	cancelled int
	block     map[string]chan struct{} // optional gate per text
}

func newFakeSynthesizer() *fakeSynthesizer {
	return &fakeSynthesizer{
		responses: make(map[string][][]byte),
		block:     make(map[string]chan struct{}),
	}
}

func (f *fakeSynthesizer) addResponse(text string, chunks ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[text] = chunks
}

func (f *fakeSynthesizer) blockOn(text string) chan struct{} {
	gate := make(chan struct{})
	f.mu.Lock()
	f.block[text] = gate
	f.mu.Unlock()
	return gate
}

func (f *fakeSynthesizer) StartConnection(ctx context.Context) error { return nil }
func (f *fakeSynthesizer) StopConnection(ctx context.Context) error  { return nil }

func (f *fakeSynthesizer) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
	return nil
}

func (f *fakeSynthesizer) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeSynthesizer) Vendor() string { return "fake" }

func (f *fakeSynthesizer) OutputFormat() timeline.Format { return timeline.L16Mono16K }

func (f *fakeSynthesizer) Synthesize(ctx context.Context, t message.TTSTextInput) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)

	f.mu.Lock()
	canned := f.responses[t.Text]
	gate := f.block[t.Text]
	f.mu.Unlock()

	go func() {
		defer close(chunks)
		defer close(errs)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return
			}
		}
		for _, c := range canned {
			select {
			case <-ctx.Done():
				return
			case chunks <- c:
			}
		}
	}()

	return chunks, errs
}

var _ Synthesizer = (*fakeSynthesizer)(nil)

type collector struct {
	mu          sync.Mutex
	audio       []AudioChunk
	starts      []message.TTSAudioStart
	ends        []message.TTSAudioEnd
	flushEnds   []message.TTSFlushEnd
	errors      []message.ModuleError
	metricsKeys []string
}

func collect(p *Pipeline) *collector {
	c := &collector{}
	p.OnAudio(func(a AudioChunk) {
		c.mu.Lock()
		copied := AudioChunk{RequestID: a.RequestID, Data: append([]byte(nil), a.Data...)}
		c.audio = append(c.audio, copied)
		c.mu.Unlock()
	})
	p.OnAudioStart(func(s message.TTSAudioStart) {
		c.mu.Lock()
		c.starts = append(c.starts, s)
		c.mu.Unlock()
	})
	p.OnAudioEnd(func(e message.TTSAudioEnd) {
		c.mu.Lock()
		c.ends = append(c.ends, e)
		c.mu.Unlock()
	})
	p.OnFlushEnd(func(e message.TTSFlushEnd) {
		c.mu.Lock()
		c.flushEnds = append(c.flushEnds, e)
		c.mu.Unlock()
	})
	p.OnError(func(e message.ModuleError) {
		c.mu.Lock()
		c.errors = append(c.errors, e)
		c.mu.Unlock()
	})
	p.OnMetrics(func(rec message.ModuleMetrics) {
		c.mu.Lock()
		for k := range rec.Metrics {
			c.metricsKeys = append(c.metricsKeys, k)
		}
		c.mu.Unlock()
	})
	return c
}

func (c *collector) totalAudioBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, a := range c.audio {
		n += len(a.Data)
	}
	return n
}

func startPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.Start(ctx))
	go func() { _ = p.Run(ctx) }()
}

func TestPipeline_SingleRequestLifecycle(t *testing.T) {
	synth := newFakeSynthesizer()
	synth.addResponse("hello", make([]byte, 640))
	synth.addResponse("world", make([]byte, 320))

	p := New(synth)
	c := collect(p)
	startPipeline(t, p)

	require.NoError(t, p.Submit(testutil.TextInput("req-1", "hello")))
	require.NoError(t, p.Submit(testutil.FinalTextInput("req-1", "world")))

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.ends) == 1
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	require.Len(t, c.starts, 1)
	assert.Equal(t, "req-1", c.starts[0].RequestID)

	assert.Equal(t, "req-1", c.ends[0].RequestID)
	// 960 bytes of 16 kHz mono 16-bit audio is 30 ms.
	assert.Equal(t, int64(30), c.ends[0].RequestTotalAudioDurationMS)

	assert.Contains(t, c.metricsKeys, message.MetricTTSTTFB)
	assert.Contains(t, c.metricsKeys, message.MetricRequestDurationMS)
}

func TestPipeline_PartialFrameCarriedAcrossChunks(t *testing.T) {
	synth := newFakeSynthesizer()
	// 3 bytes then 1 byte: nothing emitted until the frame completes.
	synth.addResponse("uneven", []byte{1, 2, 3}, []byte{4})

	p := New(synth)
	c := collect(p)
	startPipeline(t, p)

	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-1", Text: "uneven", TextInputEnd: true}))

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.ends) == 1
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()

	// The 3-byte chunk yields one whole frame (2 bytes), the carry completes
	// the second frame when the last byte arrives.
	require.Len(t, c.audio, 2)
	assert.Equal(t, []byte{1, 2}, c.audio[0].Data)
	assert.Equal(t, []byte{3, 4}, c.audio[1].Data)
}

func TestPipeline_AudioEndTotalsCountWholeFramesOnly(t *testing.T) {
	synth := newFakeSynthesizer()
	// 33 bytes: 16 whole frames emitted, 1 byte carried and discarded.
	synth.addResponse("odd", make([]byte, 33))

	p := New(synth)
	c := collect(p)
	startPipeline(t, p)

	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-1", Text: "odd", TextInputEnd: true}))

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.ends) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 32, c.totalAudioBytes())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, int64(1), c.ends[0].RequestTotalAudioDurationMS)
}

func TestPipeline_ScopedFlushLeavesOtherRequestUntouched(t *testing.T) {
	synth := newFakeSynthesizer()
	synth.addResponse("a-text", make([]byte, 320))
	synth.addResponse("b-text", make([]byte, 320))

	p := New(synth)
	c := collect(p)
	startPipeline(t, p)

	// Request A receives a non-final chunk, then a flush directed at it.
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-a", Text: "a-text"}))
	assert.Eventually(t, func() bool {
		st, ok := p.State("req-a")
		return ok && st == synthesis.StateProcessing
	}, time.Second, 5*time.Millisecond)

	p.Flush(message.TTSFlush{FlushID: "flush-1", RequestID: "req-a"})

	st, ok := p.State("req-a")
	require.True(t, ok)
	assert.Equal(t, synthesis.StateCancelled, st)

	// Request B completes normally, unaffected by the unrelated flush.
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-b", Text: "b-text"}))
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-b", Text: "b-text", TextInputEnd: true}))

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, e := range c.ends {
			if e.RequestID == "req-b" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Stale queued chunks for the flushed request are dropped silently.
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-a", Text: "a-text", TextInputEnd: true}))
	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.errors)

	require.Len(t, c.flushEnds, 1)
	assert.Equal(t, "flush-1", c.flushEnds[0].FlushID)
}

func TestPipeline_UnscopedFlushCancelsInFlightAndDiscardsQueue(t *testing.T) {
	synth := newFakeSynthesizer()
	gate := synth.blockOn("slow")
	synth.addResponse("slow", make([]byte, 320))
	synth.addResponse("queued", make([]byte, 320))

	p := New(synth)
	c := collect(p)
	startPipeline(t, p)

	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-1", Text: "slow"}))
	assert.Eventually(t, func() bool {
		st, ok := p.State("req-1")
		return ok && st == synthesis.StateProcessing
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-2", Text: "queued"}))

	p.Flush(message.TTSFlush{FlushID: "flush-all"})
	close(gate)

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.flushEnds) == 1
	}, time.Second, 5*time.Millisecond)

	st, ok := p.State("req-1")
	require.True(t, ok)
	assert.Equal(t, synthesis.StateCancelled, st)

	// No audio escapes after the flush.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.totalAudioBytes())
}

func TestPipeline_FlushDuringFinalChunkStaysSilent(t *testing.T) {
	synth := newFakeSynthesizer()
	gate := synth.blockOn("held")
	synth.addResponse("held", make([]byte, 320))

	p := New(synth)
	c := collect(p)
	startPipeline(t, p)

	// The final chunk reaches FINALIZING, then the backend stalls mid-stream.
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-1", Text: "held", TextInputEnd: true}))
	assert.Eventually(t, func() bool {
		st, ok := p.State("req-1")
		return ok && st == synthesis.StateFinalizing
	}, time.Second, 5*time.Millisecond)

	p.Flush(message.TTSFlush{FlushID: "flush-1", RequestID: "req-1"})
	close(gate)

	// The cancelled request is reaped without a completion.
	assert.Eventually(t, func() bool {
		_, tracked := p.State("req-1")
		return !tracked
	}, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.errors)
	assert.Empty(t, c.audio)
}

func TestPipeline_StateMachineScenario(t *testing.T) {
	synth := newFakeSynthesizer()
	synth.addResponse("first", make([]byte, 64))
	synth.addResponse("last", make([]byte, 64))

	p := New(synth)
	startPipeline(t, p)

	// chunk(final=false), chunk(final=true), then a flush for a different
	// request id: the request still reaches COMPLETED.
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-1", Text: "first"}))
	require.NoError(t, p.Submit(message.TTSTextInput{RequestID: "req-1", Text: "last", TextInputEnd: true}))
	p.Flush(message.TTSFlush{FlushID: "flush-x", RequestID: "other"})

	assert.Eventually(t, func() bool {
		_, tracked := p.State("req-1")
		return !tracked // completed requests are forgotten after the audio end
	}, time.Second, 5*time.Millisecond)
}

func TestPipeline_InvalidSubmitRejected(t *testing.T) {
	p := New(newFakeSynthesizer())
	assert.Error(t, p.Submit(message.TTSTextInput{Text: "missing request id"}))
}

func TestPipeline_ReportErrorVendorPassthrough(t *testing.T) {
	synth := newFakeSynthesizer()
	p := New(synth)
	c := collect(p)

	p.ReportError("req-1", message.CodeNonFatalError, "voice unavailable", &message.VendorInfo{
		Vendor:  "elevenlabs",
		Code:    "voice_not_found",
		Message: "unknown voice id",
	})
	p.ReportError("req-2", message.CodeNonFatalError, "stream reset", &message.VendorInfo{
		Code: "1006",
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.errors, 2)

	require.NotNil(t, c.errors[0].VendorInfo)
	assert.Equal(t, "elevenlabs", c.errors[0].VendorInfo.Vendor)
	assert.Equal(t, "voice_not_found", c.errors[0].VendorInfo.Code)

	// Without a caller-supplied vendor the backend's name is stamped.
	require.NotNil(t, c.errors[1].VendorInfo)
	assert.Equal(t, "fake", c.errors[1].VendorInfo.Vendor)
}
