// Package asr implements the speech-to-text pipeline: inbound PCM frames are
// queued and consumed by a single loop that forwards them to a pluggable
// Recognizer backend, keeps the audio timeline for provider-time mapping, and
// stamps outbound results with session metadata and a per-turn id. Finalize
// directives drain the backend; the finalize end reports drain latency.
package asr
