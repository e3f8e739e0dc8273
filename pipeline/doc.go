// Package pipeline provides the two execution disciplines shared by the
// speech pipelines.
//
// Sequential enforces single-flight processing: one work queue, one consumer
// loop, at most one handler running at a time. A flush cancels the in-flight
// unit cooperatively and discards everything still queued.
//
// Manager supports many requests in flight simultaneously, each keyed by a
// caller-supplied request id with its own cancellation handle. Chunks for one
// request are delivered in producer order; requests are otherwise independent.
//
// Failures inside a unit of work are caught at the processor/manager boundary
// and converted to a message.ModuleError; the owning loop survives.
// Cancellation is never reported as an error.
package pipeline
