package engine

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient generates embeddings through the OpenAI API. Useful when no
// local model server is available.
type OpenAIClient struct {
	client *openai.Client
}

var _ Engine = (*OpenAIClient)(nil)

// NewOpenAI creates a client with the given API key.
func NewOpenAI(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(apiKey)}, nil
}

// Embed returns the embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no data")
	}
	return resp.Data[0].Embedding, nil
}

// IsRunning reports whether the API accepts the configured credentials.
func (c *OpenAIClient) IsRunning(ctx context.Context) bool {
	_, err := c.client.ListModels(ctx)
	return err == nil
}
