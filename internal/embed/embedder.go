// Package embed converts text into vectors for the retrieval index.
package embed

import "context"

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
