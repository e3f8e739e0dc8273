package timeline

import (
	"fmt"
	"time"
)

// Format describes a fixed PCM stream layout.
type Format struct {
	SampleRate     int // samples per second per channel
	BytesPerSample int
	Channels       int
}

// L16Mono16K is the default capture format: 16 kHz, 16-bit, mono.
var L16Mono16K = Format{SampleRate: 16000, BytesPerSample: 2, Channels: 1}

// FrameSize returns the number of bytes in one frame (one sample across all
// channels).
func (f Format) FrameSize() int {
	return f.BytesPerSample * f.Channels
}

// Validate checks that all format fields are positive.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.BytesPerSample <= 0 || f.Channels <= 0 {
		return fmt.Errorf("invalid pcm format %+v", f)
	}
	return nil
}

// FrameDuration returns the wall-clock duration of n whole frames.
func (f Format) FrameDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate)
}

// DurationMS returns the duration of n whole frames in milliseconds.
func (f Format) DurationMS(n int64) float64 {
	return float64(n) * 1000 / float64(f.SampleRate)
}

// BytesDurationMS returns the duration in milliseconds implied by n bytes of
// audio. Only whole frames count.
func (f Format) BytesDurationMS(n int) float64 {
	return f.DurationMS(int64(n / f.FrameSize()))
}
