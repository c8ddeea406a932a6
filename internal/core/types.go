package core

import (
	"context"
	"iter"

	"gwi.com/answer-engine/internal/store"
)

// Document is a single search hit. RelevanceScore is zero until ranked.
type Document struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]Document, error)
}

type Ranker interface {
	Rank(ctx context.Context, query string, docs []Document) ([]Document, error)
}

// Generator produces a response as a lazy sequence of text fragments. The
// sequence is single-use; a non-nil error ends it.
type Generator interface {
	Generate(ctx context.Context, query string, sources []Document) iter.Seq2[string, error]
}

type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
}

type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*store.Profile, error)
	UpsertProfile(ctx context.Context, p store.Profile) error
}

type ChatHistoryStore interface {
	AppendChat(ctx context.Context, rec *store.ChatRecord) error
	ListChats(ctx context.Context, userID string, limit int) ([]store.ChatRecord, error)
}

type EventType string

const (
	EventSearchResult EventType = "search_result"
	EventContent      EventType = "content"
	EventError        EventType = "error"
)

// Event is one message of a streaming turn, as sent to the client.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// EventSink receives streaming events in production order. Returning an
// error aborts the turn.
type EventSink func(Event) error
