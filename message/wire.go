package message

import "errors"

// Names of the data messages crossing the boundary. The embedding host maps
// these onto its transport envelope.
const (
	DataASRResult      = "asr_result"
	DataASRFinalize    = "asr_finalize"
	DataASRFinalizeEnd = "asr_finalize_end"
	DataTTSTextInput   = "tts_text_input"
	DataTTSTextResult  = "tts_text_result"
	DataTTSFlush       = "tts_flush"
	DataTTSFlushEnd    = "tts_flush_end"
	DataTTSAudioStart  = "tts_audio_start"
	DataTTSAudioEnd    = "tts_audio_end"
	DataError          = "error"
	DataMetrics        = "metrics"
)

// ASRWord is one recognized word with timing relative to the session start.
type ASRWord struct {
	Word       string `json:"word"`
	StartMS    int64  `json:"start_ms"`
	DurationMS int64  `json:"duration_ms"`
	Stable     bool   `json:"stable"`
}

// ASRResult is a partial or final recognition result for one turn.
type ASRResult struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Final      bool           `json:"final"`
	StartMS    int64          `json:"start_ms"`
	DurationMS int64          `json:"duration_ms"`
	Language   string         `json:"language"` // IETF BCP 47, e.g. "en-US"
	Words      []ASRWord      `json:"words,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Validate reports whether all required fields are present.
func (r ASRResult) Validate() error {
	if r.ID == "" {
		return errors.New("asr result: id is required")
	}
	if r.Text == "" {
		return errors.New("asr result: text is required")
	}
	if r.Language == "" {
		return errors.New("asr result: language is required")
	}
	return nil
}

// ASRFinalize directs the recognizer to drain: no further audio will follow
// for the current turn.
type ASRFinalize struct {
	FinalizeID string         `json:"finalize_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ASRFinalizeEnd acknowledges a finalize once the last result has been emitted.
type ASRFinalizeEnd struct {
	FinalizeID string         `json:"finalize_id"`
	LatencyMS  int64          `json:"latency_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// TTSWord is one synthesized word with timing relative to the request start.
type TTSWord struct {
	Word       string `json:"word"`
	StartMS    int64  `json:"start_ms"`
	DurationMS int64  `json:"duration_ms"`
}

// TTSTextInput is one chunk of text belonging to a synthesis request.
// TextInputEnd marks the final chunk of the request.
type TTSTextInput struct {
	RequestID    string         `json:"request_id"`
	Text         string         `json:"text"`
	TextInputEnd bool           `json:"text_input_end"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Validate reports whether all required fields are present.
func (t TTSTextInput) Validate() error {
	if t.RequestID == "" {
		return errors.New("tts text input: request_id is required")
	}
	return nil
}

// TTSTextResult reports the text (and word timings) actually synthesized for
// a request chunk.
type TTSTextResult struct {
	RequestID     string         `json:"request_id"`
	Text          string         `json:"text"`
	StartMS       int64          `json:"start_ms"`
	DurationMS    int64          `json:"duration_ms"`
	Words         []TTSWord      `json:"words"`
	TextResultEnd bool           `json:"text_result_end"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Validate reports whether all required fields are present.
func (t TTSTextResult) Validate() error {
	if t.RequestID == "" {
		return errors.New("tts text result: request_id is required")
	}
	if t.Words == nil {
		return errors.New("tts text result: words is required")
	}
	return nil
}

// TTSFlush cancels pending and in-flight synthesis. An empty RequestID flushes
// every tracked request.
type TTSFlush struct {
	FlushID   string         `json:"flush_id"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TTSFlushEnd acknowledges a flush once all affected state has been discarded.
type TTSFlushEnd struct {
	FlushID  string         `json:"flush_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TTSAudioStart marks the first audio byte of a synthesis request.
type TTSAudioStart struct {
	RequestID string         `json:"request_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TTSAudioEnd marks the end of audio for a synthesis request, with the
// wall-clock interval since the request started and the total audio duration
// implied by the bytes emitted.
type TTSAudioEnd struct {
	RequestID                   string         `json:"request_id"`
	RequestEventIntervalMS      int64          `json:"request_event_interval_ms"`
	RequestTotalAudioDurationMS int64          `json:"request_total_audio_duration_ms"`
	Metadata                    map[string]any `json:"metadata,omitempty"`
}
