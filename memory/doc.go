// Package memory implements the bounded conversation memory shared by the
// pipelines: a fixed-capacity ordered buffer of chat messages with an
// eviction policy that keeps the retained history rooted at a user or system
// turn, plus a per-session store handing out one buffer per session.
//
// Rationale: conversational context passed to a model must begin with a user
// or system turn; blind FIFO eviction could otherwise strand a dangling
// assistant/tool turn at the head.
package memory
