package core

import (
	"context"
	"io"
	"iter"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// OpenAIGenerator streams answers from an OpenAI-compatible chat completion API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator builds a generator for apiKey. A non-empty baseURL points
// the client at a compatible server instead of api.openai.com.
func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, query string, sources []Document) iter.Seq2[string, error] {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(query, sources)},
		},
		Stream: true,
	}
	return singleUse(func(yield func(string, error) bool) {
		stream, err := g.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			yield("", errors.Wrap(err, "openai stream request failed"))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", errors.Wrap(err, "openai stream failed"))
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			if !yield(resp.Choices[0].Delta.Content, nil) {
				return
			}
		}
	})
}
