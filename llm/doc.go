// Package llm implements the language-model pipeline: each submitted request
// runs as an independently cancellable streaming completion, chunks flow out
// tagged with their request id, and the bounded conversation memory supplies
// context and absorbs finished turns.
package llm
