// Package engine abstracts the embedding backend used for semantic search.
// The facade depends on the Engine interface, not on a concrete client, so
// the backend can be a local Ollama instance or the OpenAI API.
package engine

import "context"

type Engine interface {
	// Embed returns the embedding vector for the given text using the
	// specified model. The vector length is fixed for a given model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable. Checked once at
	// startup; an unreachable backend is fatal.
	IsRunning(ctx context.Context) bool
}
