// Package tts implements the text-to-speech pipeline: queued text chunks are
// synthesized one request at a time by a pluggable Synthesizer backend, each
// request's multi-chunk lifecycle is tracked by the synthesis state machine,
// and outbound PCM is frame-aligned with the trailing partial frame carried
// across backend chunks. Flushes cancel in-flight work, discard the carry and
// answer with a flush end.
package tts
