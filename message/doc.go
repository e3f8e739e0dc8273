// Package message defines the structured records exchanged between the
// orchestration core and the boundary layer: module errors with optional
// vendor passthrough, module metrics, and the wire shapes for ASR/TTS
// results and directives. These are pure data types; serialization to a
// concrete transport envelope is owned by the embedding host.
package message
