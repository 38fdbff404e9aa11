package llm

import "context"

// ModelEmbedder binds a Client to a fixed embedding model, satisfying the
// single-text embedding function consumed by retrieval.
type ModelEmbedder struct {
	client *Client
	model  string
}

// NewModelEmbedder creates a ModelEmbedder for the given model name.
func NewModelEmbedder(client *Client, model string) *ModelEmbedder {
	return &ModelEmbedder{client: client, model: model}
}

func (m *ModelEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.client.Embed(ctx, m.model, text)
}

// ModelChatter binds a Client to a fixed chat model, satisfying the
// text-generation collaborator consumed by the RAG orchestrator.
type ModelChatter struct {
	client *Client
	model  string
}

// NewModelChatter creates a ModelChatter for the given model name.
func NewModelChatter(client *Client, model string) *ModelChatter {
	return &ModelChatter{client: client, model: model}
}

func (m *ModelChatter) Chat(ctx context.Context, messages []Message, jsonSchema *Schema) (string, error) {
	return m.client.Chat(ctx, m.model, messages, jsonSchema)
}
