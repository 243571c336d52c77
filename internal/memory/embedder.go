package memory

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// openAIEmbedder implements Embedder over the OpenAI embeddings endpoint,
// the same SDK common/llm's openaiClient uses for chat completions.
type openAIEmbedder struct {
	client openai.Client
	model  string
}

// NewEmbedder builds the vector leg of hybrid search (§2, §7 Recovery #1).
// A failing Embed call is expected and handled by the retriever's
// BM25-only degraded path, not retried here.
func NewEmbedder(apiKey, baseURL, model string) Embedder {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &openAIEmbedder{client: openai.NewClient(opts...), model: model}
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: e.model,
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	raw := resp.Data[0].Embedding
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(v)
	}
	return out, nil
}
