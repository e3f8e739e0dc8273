package timeline

import "time"

// Segment is a contiguous run of whole-frame audio bytes. Offsets are
// positions in the logical stream of whole-frame bytes appended so far;
// successive segments have strictly increasing offsets.
type Segment struct {
	StartByte int64
	EndByte   int64
	Frames    int64
}

// Tracker maps an append-only PCM byte stream to elapsed duration. Payloads
// may arrive with any alignment: only whole frames contribute to duration,
// and a trailing partial frame is held back until completed by a later call.
type Tracker struct {
	format   Format
	start    time.Time
	offset   int64 // total whole-frame bytes appended
	frames   int64
	pending  []byte
	segments []Segment
}

// NewTracker constructs a tracker for a fixed format anchored at start.
func NewTracker(format Format, start time.Time) *Tracker {
	return &Tracker{format: format, start: start}
}

// AddAudio appends a payload. The whole-frame portion (including any carried
// remainder from earlier calls) becomes a new segment; the rest is buffered.
// It returns the number of whole frames appended by this call.
func (t *Tracker) AddAudio(data []byte) int64 {
	if len(data) == 0 && len(t.pending) < t.format.FrameSize() {
		return 0
	}

	combined := append(t.pending, data...)
	frameSize := t.format.FrameSize()
	whole := (len(combined) / frameSize) * frameSize

	t.pending = append([]byte(nil), combined[whole:]...)
	if whole == 0 {
		return 0
	}

	frames := int64(whole / frameSize)
	t.segments = append(t.segments, Segment{
		StartByte: t.offset,
		EndByte:   t.offset + int64(whole),
		Frames:    frames,
	})
	t.offset += int64(whole)
	t.frames += frames
	return frames
}

// DurationMS returns the elapsed duration in milliseconds implied by all
// appended whole frames. Pending partial-frame bytes contribute nothing.
func (t *Tracker) DurationMS() float64 {
	return t.format.DurationMS(t.frames)
}

// Duration returns the elapsed duration implied by all appended whole frames.
func (t *Tracker) Duration() time.Duration {
	return t.format.FrameDuration(t.frames)
}

// Start returns the wall-clock anchor of the stream.
func (t *Tracker) Start() time.Time { return t.start }

// End returns the wall-clock time at the current stream position.
func (t *Tracker) End() time.Time { return t.start.Add(t.Duration()) }

// PendingBytes reports how many partial-frame bytes are buffered.
func (t *Tracker) PendingBytes() int { return len(t.pending) }

// TotalBytes reports the total whole-frame bytes appended.
func (t *Tracker) TotalBytes() int64 { return t.offset }

// Segments returns a copy of the appended segments.
func (t *Tracker) Segments() []Segment {
	out := make([]Segment, len(t.segments))
	copy(out, t.segments)
	return out
}

// Reset discards all segments and any buffered partial frame. Used when a
// cancelled unit of work must release its partial state.
func (t *Tracker) Reset(start time.Time) {
	t.start = start
	t.offset = 0
	t.frames = 0
	t.pending = nil
	t.segments = nil
}
