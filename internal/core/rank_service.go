package core

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gwi.com/answer-engine/internal/utils"
)

const DefaultRankThreshold = 0.3

// EmbeddingRanker scores documents by cosine similarity between the query
// embedding and each document embedding.
type EmbeddingRanker struct {
	embedder    Embedder
	threshold   float64
	concurrency int
	limiter     *rate.Limiter
}

// NewEmbeddingRanker keeps documents scoring strictly above threshold.
// perSecond <= 0 disables throttling of embedding calls.
func NewEmbeddingRanker(embedder Embedder, threshold float64, concurrency int, perSecond float64) *EmbeddingRanker {
	if concurrency < 1 {
		concurrency = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &EmbeddingRanker{
		embedder:    embedder,
		threshold:   threshold,
		concurrency: concurrency,
		limiter:     rate.NewLimiter(limit, concurrency),
	}
}

func (r *EmbeddingRanker) embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.embedder.GetEmbedding(ctx, text)
}

// Rank returns the relevant subset of docs, most relevant first, with
// RelevanceScore set. An empty result is not an error.
func (r *EmbeddingRanker) Rank(ctx context.Context, query string, docs []Document) ([]Document, error) {
	queryEmbedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to embed query")
	}

	scores := make([]float64, len(docs))
	keep := make([]bool, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			docEmbedding, err := r.embed(gctx, doc.Content)
			if err != nil {
				return errors.Wrapf(err, "failed to embed document %q", doc.URL)
			}
			score, err := utils.CosineSimilarity(queryEmbedding, docEmbedding)
			if err != nil {
				log.Warn().Err(err).Str("url", doc.URL).Msg("Skipping document with incomparable embedding")
				return nil
			}
			scores[i] = score
			keep[i] = score > r.threshold
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ranked := make([]Document, 0, len(docs))
	for i, doc := range docs {
		if keep[i] {
			doc.RelevanceScore = scores[i]
			ranked = append(ranked, doc)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RelevanceScore > ranked[j].RelevanceScore
	})

	log.Debug().Int("candidates", len(docs)).Int("relevant", len(ranked)).Float64("threshold", r.threshold).Msg("Ranked search results")
	return ranked, nil
}
