package core

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	defaultChatModelName      = "gemini-2.0-flash"
	defaultEmbeddingModelName = "text-embedding-004"
)

// LLMService talks to Gemini for both embeddings and streamed generation.
type LLMService struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

func NewLLMService(ctx context.Context, apiKey, chatModel, embeddingModel string, opts ...option.ClientOption) (*LLMService, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}
	if chatModel == "" {
		chatModel = defaultChatModelName
	}
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModelName
	}
	return &LLMService{
		client:         client,
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
	}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing GenAI client")
		} else {
			log.Debug().Msg("GenAI client closed")
		}
	}
}

func (s *LLMService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	em := s.client.EmbeddingModel(s.embeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, errors.Wrap(err, "gemini embedding request failed")
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// Generate streams the answer for query grounded on sources. Each Gemini
// stream chunk becomes one fragment; chunks without text are skipped.
func (s *LLMService) Generate(ctx context.Context, query string, sources []Document) iter.Seq2[string, error] {
	prompt := BuildPrompt(query, sources)
	return singleUse(func(yield func(string, error) bool) {
		model := s.client.GenerativeModel(s.chatModel)
		stream := model.GenerateContentStream(ctx, genai.Text(prompt))
		for {
			resp, err := stream.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", errors.Wrap(err, "gemini stream failed"))
				return
			}
			if text := responseText(resp); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	})
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		} else {
			log.Debug().Str("part_type", fmt.Sprintf("%T", part)).Msg("Gemini response part was not text")
		}
	}
	return b.String()
}
