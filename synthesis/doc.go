// Package synthesis tracks the multi-chunk lifecycle of text-to-speech
// requests. Each request id runs QUEUED -> PROCESSING -> FINALIZING ->
// COMPLETED, with CANCELLED reachable from any non-terminal state. Illegal
// transitions are internal-consistency errors; late chunks for terminal ids
// are dropped. State entries emit transition and metrics events (ttfb on
// PROCESSING, total duration on COMPLETED).
package synthesis
