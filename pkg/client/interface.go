package client

import "context"

// VisionClient is the transport seam to a vision-capable model backend.
// Implementations send one prompt plus one base64 image and return the
// raw model text; parsing stays with the caller.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// EmbeddingClient produces text embeddings for the similarity store.
type EmbeddingClient interface {
	EmbedText(ctx context.Context, model, text string) ([]float32, error)
}
