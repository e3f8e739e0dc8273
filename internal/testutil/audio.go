package testutil

import (
	"time"

	"github.com/hupe1980/speechmesh/timeline"
)

// Audio returns d worth of silent PCM in the given format. The length is
// rounded down to whole frames.
func Audio(d time.Duration, f timeline.Format) []byte {
	frames := int(d.Milliseconds()) * f.SampleRate / 1000
	return make([]byte, frames*f.FrameSize())
}
