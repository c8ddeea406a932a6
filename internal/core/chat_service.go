package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gwi.com/answer-engine/internal/store"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

var (
	ErrNoResults       = errors.New("no search results found")
	ErrProfileNotFound = errors.New("user not found")
	ErrEmptyQuery      = errors.New("query is required")
	ErrNotAuthorized   = errors.New("not authorized")
)

type TurnState int

const (
	StateSearching TurnState = iota
	StateRanking
	StateGenerating
	StatePersisting
	StateCompleted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateRanking:
		return "ranking"
	case StateGenerating:
		return "generating"
	case StatePersisting:
		return "persisting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("TurnState(%d)", int(s))
	}
}

// Turn is the request-scoped state of one query/response cycle.
type Turn struct {
	Query    string
	Sources  []Document
	Response string
	State    TurnState
	Record   *store.ChatRecord // Set once persisted
}

type ChatServiceOptions struct {
	// CollaboratorTimeout bounds Search and Rank individually. Zero means none.
	CollaboratorTimeout time.Duration

	// GenerationTimeout bounds the whole generation stream. Zero means none.
	GenerationTimeout time.Duration

	Now func() time.Time
}

type ChatService struct {
	profiles  ProfileStore
	history   ChatHistoryStore
	searcher  Searcher
	ranker    Ranker
	generator Generator

	collaboratorTimeout time.Duration
	generationTimeout   time.Duration
	now                 func() time.Time
}

func NewChatService(profiles ProfileStore, history ChatHistoryStore, searcher Searcher, ranker Ranker, generator Generator, opts ChatServiceOptions) *ChatService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ChatService{
		profiles:            profiles,
		history:             history,
		searcher:            searcher,
		ranker:              ranker,
		generator:           generator,
		collaboratorTimeout: opts.CollaboratorTimeout,
		generationTimeout:   opts.GenerationTimeout,
		now:                 now,
	}
}

// authorize is the subject/owner gate run before any store or collaborator call.
func authorize(op, subject, owner string) error {
	if subject == "" {
		return E(KindUnauthorized, op, ErrNotAuthorized)
	}
	if subject != owner {
		return E(KindForbidden, op, ErrNotAuthorized)
	}
	return nil
}

// Profile methods

func (s *ChatService) GetProfile(ctx context.Context, subject, userID string) (*store.Profile, error) {
	const op = "core.GetProfile"
	if err := authorize(op, subject, userID); err != nil {
		return nil, err
	}
	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, E(KindStorage, op, err)
	}
	if p == nil {
		return nil, E(KindNotFound, op, ErrProfileNotFound)
	}
	return p, nil
}

func (s *ChatService) UpsertProfile(ctx context.Context, subject string, p store.Profile) error {
	const op = "core.UpsertProfile"
	if err := authorize(op, subject, p.UserID); err != nil {
		return err
	}
	if err := s.profiles.UpsertProfile(ctx, p); err != nil {
		return E(KindStorage, op, err)
	}
	return nil
}

// Chat history methods

func (s *ChatService) ListHistory(ctx context.Context, subject, userID string, limit int) ([]store.ChatRecord, error) {
	const op = "core.ListHistory"
	if err := authorize(op, subject, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	records, err := s.history.ListChats(ctx, userID, limit)
	if err != nil {
		return nil, E(KindStorage, op, err)
	}
	if records == nil {
		records = []store.ChatRecord{}
	}
	return records, nil
}

// SaveChat stores a client-supplied transcript authored by subject.
func (s *ChatService) SaveChat(ctx context.Context, subject string, rec store.ChatRecord) (*store.ChatRecord, error) {
	const op = "core.SaveChat"
	if err := authorize(op, subject, rec.UserID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(rec.Query) == "" {
		return nil, E(KindInvalid, op, ErrEmptyQuery)
	}
	rec.ID = 0
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if err := s.history.AppendChat(ctx, &rec); err != nil {
		return nil, E(KindStorage, op, err)
	}
	return &rec, nil
}

// Turn methods

// RunTurn drives Searching, Ranking, Generating and Persisting for one query
// from subject. With a nil sink fragments are accumulated silently; otherwise
// the ranked sources and every fragment are handed to sink as they arrive.
// A failed or cancelled turn is never persisted.
func (s *ChatService) RunTurn(ctx context.Context, subject, query string, sink EventSink) (*Turn, error) {
	mode := "rest"
	if sink != nil {
		mode = "stream"
	}
	start := time.Now()

	turn, err := s.runTurn(ctx, subject, query, sink)

	observeTurn(mode, err, time.Since(start))
	if err != nil {
		log.Warn().Err(err).Str("user_id", subject).Str("mode", mode).Str("state", turn.State.String()).Msg("chat turn failed")
	} else {
		log.Info().Str("user_id", subject).Str("mode", mode).Int("sources", len(turn.Sources)).Int("response_len", len(turn.Response)).Msg("chat turn completed")
	}
	return turn, err
}

func (s *ChatService) runTurn(ctx context.Context, subject, query string, sink EventSink) (*Turn, error) {
	const op = "core.RunTurn"
	turn := &Turn{Query: query, State: StateSearching}

	// The record author is always the subject, so only presence is checked.
	if err := authorize(op, subject, subject); err != nil {
		turn.State = StateFailed
		return turn, err
	}
	if strings.TrimSpace(query) == "" {
		turn.State = StateFailed
		return turn, E(KindInvalid, op, ErrEmptyQuery)
	}

	fail := func(kind Kind, step string, err error) (*Turn, error) {
		turn.State = StateFailed
		if cerr := ctx.Err(); cerr != nil {
			return turn, fmt.Errorf("%s: %s aborted: %w", op, step, cerr)
		}
		return turn, E(kind, op+"."+step, err)
	}

	// Searching
	searchCtx, cancel := withOptionalTimeout(ctx, s.collaboratorTimeout)
	docs, err := s.searcher.Search(searchCtx, query)
	cancel()
	if err != nil {
		return fail(KindUpstream, "search", err)
	}
	if len(docs) == 0 {
		return fail(KindNoResults, "search", ErrNoResults)
	}

	// Ranking
	turn.State = StateRanking
	rankCtx, cancel := withOptionalTimeout(ctx, s.collaboratorTimeout)
	ranked, err := s.ranker.Rank(rankCtx, query, docs)
	cancel()
	if err != nil {
		return fail(KindUpstream, "rank", err)
	}
	if ranked == nil {
		ranked = []Document{}
	}
	turn.Sources = ranked
	if sink != nil {
		if err := sink(Event{Type: EventSearchResult, Data: ranked}); err != nil {
			return fail(KindUpstream, "emit", err)
		}
	}

	// Generating
	turn.State = StateGenerating
	genCtx, cancelGen := withOptionalTimeout(ctx, s.generationTimeout)
	defer cancelGen()

	var response strings.Builder
	for fragment, err := range s.generator.Generate(genCtx, query, ranked) {
		if err != nil {
			turn.Response = response.String()
			return fail(KindUpstream, "generate", err)
		}
		response.WriteString(fragment)
		fragmentsTotal.Inc()
		if sink != nil {
			if err := sink(Event{Type: EventContent, Data: fragment}); err != nil {
				turn.Response = response.String()
				return fail(KindUpstream, "emit", err)
			}
		}
	}
	turn.Response = response.String()
	if err := genCtx.Err(); err != nil {
		return fail(KindUpstream, "generate", err)
	}

	// Persisting
	turn.State = StatePersisting
	rec := &store.ChatRecord{
		UserID:    subject,
		Query:     query,
		Response:  turn.Response,
		Timestamp: s.now(),
	}
	if err := s.history.AppendChat(ctx, rec); err != nil {
		return fail(KindStorage, "persist", err)
	}
	turn.Record = rec
	turn.State = StateCompleted
	return turn, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
