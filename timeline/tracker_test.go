package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_PartialFrameCarry(t *testing.T) {
	// 16 kHz mono 16-bit: frame size 2 bytes.
	tr := NewTracker(L16Mono16K, time.Now())

	added := tr.AddAudio([]byte{0x01})
	assert.Zero(t, added)
	assert.Equal(t, float64(0), tr.DurationMS())
	assert.Equal(t, 1, tr.PendingBytes())

	added = tr.AddAudio([]byte{0x02})
	assert.Equal(t, int64(1), added)
	assert.Equal(t, 0, tr.PendingBytes())
	assert.InDelta(t, 1000.0/16000.0, tr.DurationMS(), 1e-9)
}

func TestTracker_StereoFrameAlignment(t *testing.T) {
	// 16-bit stereo: frame size 4 bytes. 3 bytes then 1 byte completes a frame.
	format := Format{SampleRate: 16000, BytesPerSample: 2, Channels: 2}
	tr := NewTracker(format, time.Now())

	tr.AddAudio([]byte{1, 2, 3})
	assert.Equal(t, float64(0), tr.DurationMS())
	assert.Equal(t, 3, tr.PendingBytes())

	tr.AddAudio([]byte{4})
	assert.Equal(t, 0, tr.PendingBytes())
	assert.InDelta(t, 1000.0/16000.0, tr.DurationMS(), 1e-9)
}

func TestTracker_DurationMatchesWholeFrameBytes(t *testing.T) {
	tr := NewTracker(L16Mono16K, time.Now())

	// 16000 frames = 32000 bytes = exactly one second.
	tr.AddAudio(make([]byte, 32000))
	assert.InDelta(t, 1000.0, tr.DurationMS(), 1e-9)
	assert.Equal(t, time.Second, tr.Duration())
}

func TestTracker_DurationMonotonic(t *testing.T) {
	tr := NewTracker(L16Mono16K, time.Now())

	var last float64
	for _, n := range []int{3, 1, 7, 2, 640, 1} {
		tr.AddAudio(make([]byte, n))
		d := tr.DurationMS()
		require.GreaterOrEqual(t, d, last)
		last = d
	}
}

func TestTracker_SegmentOffsetsStrictlyIncreasing(t *testing.T) {
	tr := NewTracker(L16Mono16K, time.Now())
	tr.AddAudio(make([]byte, 100))
	tr.AddAudio(make([]byte, 3))
	tr.AddAudio(make([]byte, 201))

	segs := tr.Segments()
	require.NotEmpty(t, segs)
	for i := 1; i < len(segs); i++ {
		assert.Greater(t, segs[i].StartByte, segs[i-1].StartByte)
		assert.Equal(t, segs[i-1].EndByte, segs[i].StartByte)
	}
}

func TestTracker_EndTime(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(L16Mono16K, start)
	tr.AddAudio(make([]byte, 32000)) // one second

	assert.Equal(t, start, tr.Start())
	assert.Equal(t, start.Add(time.Second), tr.End())
}

func TestTracker_ResetReleasesPartialState(t *testing.T) {
	tr := NewTracker(L16Mono16K, time.Now())
	tr.AddAudio(make([]byte, 5))
	require.Equal(t, 1, tr.PendingBytes())

	restart := time.Now()
	tr.Reset(restart)

	assert.Zero(t, tr.PendingBytes())
	assert.Zero(t, tr.TotalBytes())
	assert.Empty(t, tr.Segments())
	assert.Equal(t, restart, tr.Start())
}
