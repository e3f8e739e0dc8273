package timeline

import "fmt"

// EventType classifies a timeline segment.
type EventType int

const (
	// UserAudio is audio that was captured and sent to the provider.
	UserAudio EventType = iota
	// SilenceAudio is synthetic silence sent to the provider in place of
	// captured audio.
	SilenceAudio
	// DroppedAudio is captured audio that was never sent to the provider
	// (e.g. discarded while reconnecting). The provider's clock does not
	// advance over it, but real capture time does.
	DroppedAudio
)

// Event is one merged run of same-typed audio.
type Event struct {
	Type       EventType
	DurationMS int64
}

// Timeline records the ordered audio events of one session and translates
// provider-reported timestamps into real capture time. It is owned by a
// single session and mutated only by that session's active unit of work.
type Timeline struct {
	events          []Event
	totalUser       int64
	totalSilence    int64
	totalDropped    int64
	onRangeError    func(msg string)
}

// Options configures a Timeline.
type Options struct {
	// OnRangeError is invoked when a timestamp query falls outside the
	// recorded timeline. The query still returns a clamped value.
	OnRangeError func(msg string)
}

// New constructs an empty timeline.
func New(optFns ...func(o *Options)) *Timeline {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Timeline{onRangeError: opts.OnRangeError}
}

// AddUserAudio appends user audio. Adjacent user segments merge.
func (t *Timeline) AddUserAudio(durationMS int64) {
	t.add(UserAudio, durationMS)
	if durationMS > 0 {
		t.totalUser += durationMS
	}
}

// AddSilenceAudio appends silence. Adjacent silence segments merge.
func (t *Timeline) AddSilenceAudio(durationMS int64) {
	t.add(SilenceAudio, durationMS)
	if durationMS > 0 {
		t.totalSilence += durationMS
	}
}

// AddDroppedAudio appends audio that never reached the provider. Adjacent
// dropped segments merge.
func (t *Timeline) AddDroppedAudio(durationMS int64) {
	t.add(DroppedAudio, durationMS)
	if durationMS > 0 {
		t.totalDropped += durationMS
	}
}

func (t *Timeline) add(typ EventType, durationMS int64) {
	if durationMS <= 0 {
		return
	}
	if n := len(t.events); n > 0 && t.events[n-1].Type == typ {
		t.events[n-1].DurationMS += durationMS
		return
	}
	t.events = append(t.events, Event{Type: typ, DurationMS: durationMS})
}

// AudioDurationBeforeTime translates a provider timestamp (milliseconds on
// the provider's clock, which advances over user and silence audio only) into
// the amount of real audio captured up to that instant. Dropped audio shifts
// the result forward; silence contributes nothing.
func (t *Timeline) AudioDurationBeforeTime(timeMS int64) int64 {
	if timeMS < 0 {
		t.rangeError(fmt.Sprintf("time %dms is less than 0", timeMS))
		return 0
	}
	if axis := t.totalUser + t.totalSilence; timeMS > axis {
		t.rangeError(fmt.Sprintf("time %dms exceeds timeline duration %dms", timeMS, axis))
	}

	var result, axis int64
	for _, ev := range t.events {
		switch ev.Type {
		case DroppedAudio:
			// A dropped run counts only once the provider clock has passed
			// into audio that follows it. A query landing exactly on the
			// boundary before the run excludes it; a run before any provider
			// audio (axis 0) is always included.
			if axis >= timeMS && axis > 0 {
				return result
			}
			result += ev.DurationMS
			continue
		case SilenceAudio:
			if axis >= timeMS {
				return result
			}
			axis += ev.DurationMS
		case UserAudio:
			if axis >= timeMS {
				return result
			}
			if axis+ev.DurationMS < timeMS {
				result += ev.DurationMS
				axis += ev.DurationMS
				continue
			}
			result += timeMS - axis
			return result
		}
	}
	return result
}

// TotalUserAudioDuration returns the summed user audio in milliseconds.
func (t *Timeline) TotalUserAudioDuration() int64 { return t.totalUser }

// TotalSilenceAudioDuration returns the summed silence in milliseconds.
func (t *Timeline) TotalSilenceAudioDuration() int64 { return t.totalSilence }

// TotalDroppedAudioDuration returns the summed dropped audio in milliseconds.
func (t *Timeline) TotalDroppedAudioDuration() int64 { return t.totalDropped }

// Events returns a copy of the merged event list.
func (t *Timeline) Events() []Event {
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Reset discards all recorded events.
func (t *Timeline) Reset() {
	t.events = nil
	t.totalUser = 0
	t.totalSilence = 0
	t.totalDropped = 0
}

func (t *Timeline) rangeError(msg string) {
	if t.onRangeError != nil {
		t.onRangeError(msg)
	}
}
