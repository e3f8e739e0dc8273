package testutil

import (
	"github.com/hupe1980/speechmesh/message"
)

// ResultBuilder provides a fluent helper for constructing recognition results
// in tests.
// Example:
//
//	res := NewResultBuilder().Text("hello world").Final().Build()
//
// Chain only the parts you need; sensible defaults are applied.
type ResultBuilder struct {
	id       string
	text     string
	final    bool
	language string
	startMS  int64
	durMS    int64
	words    []message.ASRWord
	metadata map[string]any
}

// NewResultBuilder creates a builder with default language "en-US".
func NewResultBuilder() *ResultBuilder { return &ResultBuilder{language: "en-US"} }

// ID overrides the turn id (chainable). The pipeline normally stamps this.
func (b *ResultBuilder) ID(id string) *ResultBuilder { b.id = id; return b }

// Text sets the recognized text (chainable).
func (b *ResultBuilder) Text(t string) *ResultBuilder { b.text = t; return b }

// Final marks the result as final for its turn (chainable).
func (b *ResultBuilder) Final() *ResultBuilder { b.final = true; return b }

// Language sets the BCP 47 language tag (chainable).
func (b *ResultBuilder) Language(l string) *ResultBuilder { b.language = l; return b }

// Timing sets the provider-reported start and duration in milliseconds (chainable).
func (b *ResultBuilder) Timing(startMS, durMS int64) *ResultBuilder {
	b.startMS = startMS
	b.durMS = durMS
	return b
}

// Word appends a recognized word with timing (chainable).
func (b *ResultBuilder) Word(word string, startMS, durMS int64) *ResultBuilder {
	b.words = append(b.words, message.ASRWord{Word: word, StartMS: startMS, DurationMS: durMS, Stable: true})
	return b
}

// Meta sets a metadata key (chainable).
func (b *ResultBuilder) Meta(key string, value any) *ResultBuilder {
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	b.metadata[key] = value
	return b
}

// Build constructs the message.ASRResult value.
func (b *ResultBuilder) Build() message.ASRResult {
	return message.ASRResult{
		ID:         b.id,
		Text:       b.text,
		Final:      b.final,
		StartMS:    b.startMS,
		DurationMS: b.durMS,
		Language:   b.language,
		Words:      b.words,
		Metadata:   b.metadata,
	}
}

// TextInput constructs a synthesis text chunk for the given request.
func TextInput(requestID, text string) message.TTSTextInput {
	return message.TTSTextInput{RequestID: requestID, Text: text}
}

// FinalTextInput constructs the last text chunk of a synthesis request.
func FinalTextInput(requestID, text string) message.TTSTextInput {
	return message.TTSTextInput{RequestID: requestID, Text: text, TextInputEnd: true}
}
