package core

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gwi.com/answer-engine/internal/store"
)

// recorder collects the names of collaborator and store calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeProfiles struct {
	rec      *recorder
	profiles map[string]store.Profile
	err      error
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*store.Profile, error) {
	f.rec.add("profiles.get")
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeProfiles) UpsertProfile(_ context.Context, p store.Profile) error {
	f.rec.add("profiles.upsert")
	if f.err != nil {
		return f.err
	}
	f.profiles[p.UserID] = p
	return nil
}

type fakeHistory struct {
	rec     *recorder
	records []store.ChatRecord
	err     error
}

func (f *fakeHistory) AppendChat(_ context.Context, r *store.ChatRecord) error {
	f.rec.add("history.append")
	if f.err != nil {
		return f.err
	}
	r.ID = int64(len(f.records) + 1)
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeHistory) ListChats(_ context.Context, userID string, limit int) ([]store.ChatRecord, error) {
	f.rec.add("history.list")
	if f.err != nil {
		return nil, f.err
	}
	var out []store.ChatRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].UserID == userID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

type fakeSearcher struct {
	rec  *recorder
	docs []Document
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, _ string) ([]Document, error) {
	f.rec.add("search")
	return f.docs, f.err
}

type fakeRanker struct {
	rec     *recorder
	reorder func([]Document) []Document
	err     error
}

func (f *fakeRanker) Rank(_ context.Context, _ string, docs []Document) ([]Document, error) {
	f.rec.add("rank")
	if f.err != nil {
		return nil, f.err
	}
	return f.reorder(docs), nil
}

type fakeGenerator struct {
	rec       *recorder
	fragments []string
	err       error // yielded after all fragments
	onYield   func(i int)
}

func (f *fakeGenerator) Generate(ctx context.Context, _ string, _ []Document) iter.Seq2[string, error] {
	f.rec.add("generate")
	return singleUse(func(yield func(string, error) bool) {
		for i, frag := range f.fragments {
			if f.onYield != nil {
				f.onYield(i)
			}
			if ctx.Err() != nil {
				return
			}
			if !yield(frag, nil) {
				return
			}
		}
		if f.err != nil {
			yield("", f.err)
		}
	})
}

type fixture struct {
	rec       *recorder
	profiles  *fakeProfiles
	history   *fakeHistory
	searcher  *fakeSearcher
	ranker    *fakeRanker
	generator *fakeGenerator
	svc       *ChatService
}

var fixedNow = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func newFixture() *fixture {
	rec := &recorder{}
	f := &fixture{
		rec:      rec,
		profiles: &fakeProfiles{rec: rec, profiles: map[string]store.Profile{}},
		history:  &fakeHistory{rec: rec},
		searcher: &fakeSearcher{rec: rec, docs: []Document{
			{URL: "https://a.example", Content: "a"},
			{URL: "https://b.example", Content: "b"},
			{URL: "https://c.example", Content: "c"},
		}},
		ranker: &fakeRanker{rec: rec, reorder: func(d []Document) []Document {
			return []Document{d[2], d[0], d[1]}
		}},
		generator: &fakeGenerator{rec: rec, fragments: []string{"It", " is", " sunny."}},
	}
	f.svc = NewChatService(f.profiles, f.history, f.searcher, f.ranker, f.generator, ChatServiceOptions{
		Now: func() time.Time { return fixedNow },
	})
	return f
}

func TestRunTurn_StreamingScenario(t *testing.T) {
	f := newFixture()

	var events []Event
	turn, err := f.svc.RunTurn(context.Background(), "user123", "weather today", func(e Event) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, turn.State)
	require.Equal(t, "It is sunny.", turn.Response)

	require.Len(t, events, 4)
	require.Equal(t, EventSearchResult, events[0].Type)
	sources := events[0].Data.([]Document)
	require.Equal(t, []string{"https://c.example", "https://a.example", "https://b.example"},
		[]string{sources[0].URL, sources[1].URL, sources[2].URL})
	for i, want := range []string{"It", " is", " sunny."} {
		require.Equal(t, EventContent, events[i+1].Type)
		require.Equal(t, want, events[i+1].Data)
	}

	require.Len(t, f.history.records, 1)
	got := f.history.records[0]
	require.Equal(t, "user123", got.UserID)
	require.Equal(t, "weather today", got.Query)
	require.Equal(t, "It is sunny.", got.Response)
	require.Equal(t, fixedNow, got.Timestamp)
	require.Equal(t, []string{"search", "rank", "generate", "history.append"}, f.rec.Calls())
}

func TestRunTurn_SingleShot(t *testing.T) {
	f := newFixture()

	turn, err := f.svc.RunTurn(context.Background(), "user123", "weather today", nil)
	require.NoError(t, err)
	require.Equal(t, "It is sunny.", turn.Response)
	require.NotNil(t, turn.Record)
	require.Equal(t, int64(1), turn.Record.ID)
}

func TestRunTurn_NoResults(t *testing.T) {
	for name, docs := range map[string][]Document{"nil": nil, "empty": {}} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.searcher.docs = docs

			turn, err := f.svc.RunTurn(context.Background(), "user123", "weather today", nil)
			require.ErrorIs(t, err, ErrNoResults)
			require.Equal(t, KindNoResults, KindOf(err))
			require.Equal(t, StateFailed, turn.State)
			require.Empty(t, f.history.records)
			require.Equal(t, []string{"search"}, f.rec.Calls())
		})
	}
}

func TestRunTurn_EmptyRankingIsValid(t *testing.T) {
	f := newFixture()
	f.ranker.reorder = func([]Document) []Document { return nil }

	var first Event
	turn, err := f.svc.RunTurn(context.Background(), "user123", "q", func(e Event) error {
		if first.Type == "" {
			first = e
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, turn.State)
	require.NotNil(t, turn.Sources)
	require.Empty(t, turn.Sources)
	require.Equal(t, []Document{}, first.Data)
}

func TestRunTurn_UpstreamFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("search", func(t *testing.T) {
		f := newFixture()
		f.searcher.err = boom
		_, err := f.svc.RunTurn(context.Background(), "user123", "q", nil)
		require.ErrorIs(t, err, boom)
		require.Equal(t, KindUpstream, KindOf(err))
		require.Empty(t, f.history.records)
	})

	t.Run("rank", func(t *testing.T) {
		f := newFixture()
		f.ranker.err = boom
		_, err := f.svc.RunTurn(context.Background(), "user123", "q", nil)
		require.Equal(t, KindUpstream, KindOf(err))
		require.Empty(t, f.history.records)
	})

	t.Run("generate mid-stream", func(t *testing.T) {
		f := newFixture()
		f.generator.err = boom
		var contents []string
		turn, err := f.svc.RunTurn(context.Background(), "user123", "q", func(e Event) error {
			if e.Type == EventContent {
				contents = append(contents, e.Data.(string))
			}
			return nil
		})
		require.Equal(t, KindUpstream, KindOf(err))
		require.Equal(t, StateFailed, turn.State)
		require.Equal(t, []string{"It", " is", " sunny."}, contents)
		require.Empty(t, f.history.records)
	})

	t.Run("persist", func(t *testing.T) {
		f := newFixture()
		f.history.err = boom
		turn, err := f.svc.RunTurn(context.Background(), "user123", "q", nil)
		require.Equal(t, KindStorage, KindOf(err))
		require.Equal(t, StateFailed, turn.State)
	})

	t.Run("sink", func(t *testing.T) {
		f := newFixture()
		_, err := f.svc.RunTurn(context.Background(), "user123", "q", func(e Event) error {
			if e.Type == EventContent {
				return boom
			}
			return nil
		})
		require.ErrorIs(t, err, boom)
		require.Empty(t, f.history.records)
	})
}

func TestRunTurn_CancelledMidGeneration(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.generator.onYield = func(i int) {
		if i == 1 {
			cancel()
		}
	}

	turn, err := f.svc.RunTurn(ctx, "user123", "q", func(Event) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, StateFailed, turn.State)
	require.Equal(t, "It", turn.Response)
	require.Empty(t, f.history.records)
	require.NotContains(t, f.rec.Calls(), "history.append")
}

func TestRunTurn_GateRunsFirst(t *testing.T) {
	f := newFixture()

	_, err := f.svc.RunTurn(context.Background(), "", "q", nil)
	require.Equal(t, KindUnauthorized, KindOf(err))

	_, err = f.svc.RunTurn(context.Background(), "user123", "   ", nil)
	require.Equal(t, KindInvalid, KindOf(err))

	require.Empty(t, f.rec.Calls())
}

func TestProfile_Forbidden(t *testing.T) {
	f := newFixture()

	_, err := f.svc.GetProfile(context.Background(), "user123", "someone-else")
	require.Equal(t, KindForbidden, KindOf(err))

	err = f.svc.UpsertProfile(context.Background(), "user123", store.Profile{UserID: "someone-else"})
	require.Equal(t, KindForbidden, KindOf(err))

	_, err = f.svc.ListHistory(context.Background(), "user123", "someone-else", 0)
	require.Equal(t, KindForbidden, KindOf(err))

	_, err = f.svc.SaveChat(context.Background(), "user123", store.ChatRecord{UserID: "someone-else", Query: "q"})
	require.Equal(t, KindForbidden, KindOf(err))

	require.Empty(t, f.rec.Calls())
}

func TestProfile_GetAndUpsert(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.GetProfile(ctx, "user123", "user123")
	require.ErrorIs(t, err, ErrProfileNotFound)
	require.Equal(t, KindNotFound, KindOf(err))

	p := store.Profile{UserID: "user123", Username: "luke", Email: "luke@example.com"}
	require.NoError(t, f.svc.UpsertProfile(ctx, "user123", p))
	require.NoError(t, f.svc.UpsertProfile(ctx, "user123", p))
	require.Len(t, f.profiles.profiles, 1)

	got, err := f.svc.GetProfile(ctx, "user123", "user123")
	require.NoError(t, err)
	require.Equal(t, p, *got)

	f.profiles.err = errors.New("disk full")
	_, err = f.svc.GetProfile(ctx, "user123", "user123")
	require.Equal(t, KindStorage, KindOf(err))
}

func TestListHistory(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	records, err := f.svc.ListHistory(ctx, "user123", "user123", 0)
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)

	for _, q := range []string{"one", "two", "three"} {
		_, err := f.svc.SaveChat(ctx, "user123", store.ChatRecord{UserID: "user123", Query: q, Response: "r"})
		require.NoError(t, err)
	}

	records, err = f.svc.ListHistory(ctx, "user123", "user123", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "three", records[0].Query)
	require.Equal(t, fixedNow, records[0].Timestamp)
}

func TestSaveChat_RequiresQuery(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SaveChat(context.Background(), "user123", store.ChatRecord{UserID: "user123"})
	require.Equal(t, KindInvalid, KindOf(err))
	require.Empty(t, f.rec.Calls())
}

func TestRunTurn_CollaboratorTimeout(t *testing.T) {
	f := newFixture()
	f.svc.collaboratorTimeout = time.Millisecond
	f.svc.searcher = searcherFunc(func(ctx context.Context, _ string) ([]Document, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	turn, err := f.svc.RunTurn(context.Background(), "user123", "q", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, KindUpstream, KindOf(err))
	require.Equal(t, StateFailed, turn.State)
}

type searcherFunc func(ctx context.Context, query string) ([]Document, error)

func (f searcherFunc) Search(ctx context.Context, query string) ([]Document, error) {
	return f(ctx, query)
}
