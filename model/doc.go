// Package model defines the provider-agnostic abstractions and concrete
// helpers for interacting with language models inside SpeechMesh.
//
// Core goals:
//   - Unify streaming + non-streaming completion behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so the LLM pipeline remains decoupled from vendor SDKs.
package model
