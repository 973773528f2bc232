package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/archive"
	storememory "github.com/mediascope/mediascope/internal/store/memory"
)

type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	mentions []archive.EntityMention
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) ([]archive.EntityMention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	if f.err != nil && f.failures == 0 && f.mentions == nil {
		return nil, f.err
	}
	return f.mentions, nil
}

type fakeClassifier struct {
	score float64
	err   error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (float64, error) {
	return f.score, f.err
}

type openGate struct {
	mu     sync.Mutex
	frozen map[string]time.Duration
}

func (g *openGate) Wait(context.Context, string) error { return nil }

func (g *openGate) Freeze(capability string, d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.frozen == nil {
		g.frozen = make(map[string]time.Duration)
	}
	g.frozen[capability] = d
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

func newCoordinator(t *testing.T, ext archive.EntityExtractor, cls archive.SentimentClassifier) *Coordinator {
	t.Helper()
	c := New(ext, cls, &openGate{}, archive.NewRetryPolicy(2, time.Millisecond, 10*time.Millisecond),
		&seqIDs{}, Config{Parallelism: 2}, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestEnrichArticlesHappyPath(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{mentions: []archive.EntityMention{
		{Text: "Lloyd George", Type: "PERSON", StartChar: 0, EndChar: 12, Confidence: 0.95},
		{Text: "Whitehall", Type: "FAC", Confidence: 0.7},
	}}
	c := newCoordinator(t, ext, &fakeClassifier{score: 0.4})

	articles, err := c.EnrichArticles(context.Background(), []archive.Article{
		{ID: "a1", Content: "Lloyd George spoke at Whitehall."},
	})
	require.NoError(t, err)
	require.Len(t, articles[0].Entities, 2)
	require.Equal(t, archive.EntityPerson, articles[0].Entities[0].Type)
	require.Equal(t, archive.EntityOther, articles[0].Entities[1].Type, "unknown labels map to OTHER")
	require.Equal(t, 0.4, *articles[0].SentimentScore)
	require.Equal(t, archive.SentimentPositive, articles[0].SentimentLabel)
	require.False(t, articles[0].EnrichmentPending)
}

func TestEnrichArticlesPartialFailureDemotesToPending(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{err: archive.NewCapabilityError("entity-extraction", archive.KindTransient, errors.New("backend unreachable"))}
	c := newCoordinator(t, ext, &fakeClassifier{score: -0.5})

	articles, err := c.EnrichArticles(context.Background(), []archive.Article{
		{ID: "a1", Content: "text"},
	})
	require.NoError(t, err, "capability failure must not fail the pass")
	require.True(t, articles[0].EnrichmentPending)
	require.Empty(t, articles[0].Entities)
	require.Equal(t, archive.SentimentNegative, articles[0].SentimentLabel, "the other capability still ran")
}

func TestEnrichArticlesPermanentFailureNotPending(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{err: archive.NewCapabilityError("entity-extraction", archive.KindPermanent, errors.New("model rejected text"))}
	c := newCoordinator(t, ext, &fakeClassifier{score: -0.5})

	articles, err := c.EnrichArticles(context.Background(), []archive.Article{
		{ID: "a1", Content: "text"},
	})
	require.NoError(t, err)
	require.False(t, articles[0].EnrichmentPending, "a rejected input must not be re-attempted")
	require.Empty(t, articles[0].Entities)
	require.Equal(t, 1, ext.calls, "permanent verdicts are not retried")
	require.Equal(t, archive.SentimentNegative, articles[0].SentimentLabel, "the other capability still ran")
}

func TestEnrichArticlesRetriesTransient(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{
		failures: 1,
		err:      archive.NewCapabilityError("entity-extraction", archive.KindTransient, errors.New("timeout")),
		mentions: []archive.EntityMention{{Text: "London", Type: "GPE"}},
	}
	c := newCoordinator(t, ext, &fakeClassifier{score: 0})

	articles, err := c.EnrichArticles(context.Background(), []archive.Article{{ID: "a1", Content: "x"}})
	require.NoError(t, err)
	require.Equal(t, 2, ext.calls)
	require.Len(t, articles[0].Entities, 1)
	require.False(t, articles[0].EnrichmentPending)
}

func TestEnrichArticlesRateLimitFreezesGate(t *testing.T) {
	t.Parallel()

	gate := &openGate{}
	ext := &fakeExtractor{
		failures: 1,
		err:      archive.NewCapabilityError("entity-extraction", archive.KindRateLimited, errors.New("429")),
		mentions: []archive.EntityMention{{Text: "London", Type: "GPE"}},
	}
	c := New(ext, &fakeClassifier{}, gate, archive.NewRetryPolicy(2, time.Millisecond, 10*time.Millisecond),
		&seqIDs{}, Config{}, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.EnrichArticles(context.Background(), []archive.Article{{ID: "a1", Content: "x"}})
	require.NoError(t, err)
	require.Contains(t, gate.frozen, "entity-extraction")
}

func TestEnrichArticlesSkipsAlreadyEnriched(t *testing.T) {
	t.Parallel()

	ext := &fakeExtractor{err: archive.NewCapabilityError("entity-extraction", archive.KindPermanent, errors.New("boom"))}
	score := 0.2
	c := newCoordinator(t, ext, &fakeClassifier{err: archive.NewCapabilityError("sentiment-classification", archive.KindPermanent, errors.New("boom"))})

	articles, err := c.EnrichArticles(context.Background(), []archive.Article{{
		ID:             "a1",
		Content:        "x",
		SentimentScore: &score,
		SentimentLabel: archive.SentimentPositive,
		Entities:       []archive.Entity{{ID: "e1", ArticleID: "a1", Text: "London"}},
	}})
	require.NoError(t, err)
	require.Equal(t, 0, ext.calls, "existing entities are kept")
	require.False(t, articles[0].EnrichmentPending)
}

func TestEnrichArticlesAbortsOnContextEnd(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ext := &fakeExtractor{err: errors.New("network down")}
	c := newCoordinator(t, ext, &fakeClassifier{})

	_, err := c.EnrichArticles(ctx, []archive.Article{{ID: "a1", Content: "x"}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestReenrichUpdatesStore(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	ctx := context.Background()
	_, err := store.UpsertNewspaper(ctx, archive.Newspaper{ID: "p1", PageNumber: 1}, []archive.Article{
		{ID: "a1", ArticleNumber: 1, Content: "first", EnrichmentPending: true},
		{ID: "a2", ArticleNumber: 2, Content: "second", EnrichmentPending: true},
	})
	require.NoError(t, err)

	ext := &fakeExtractor{mentions: []archive.EntityMention{{Text: "London", Type: "GPE"}}}
	c := newCoordinator(t, ext, &fakeClassifier{score: -0.3})

	updated, err := c.Reenrich(ctx, store, 10)
	require.NoError(t, err)
	require.Equal(t, 2, updated)

	pending, err := store.ListPendingEnrichment(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)

	articles, err := store.ListArticles(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, archive.SentimentNegative, articles[0].SentimentLabel)
	require.Len(t, articles[0].Entities, 1)
}

func TestReenrichPermanentFailureClearsPending(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	ctx := context.Background()
	_, err := store.UpsertNewspaper(ctx, archive.Newspaper{ID: "p1", PageNumber: 1}, []archive.Article{
		{ID: "a1", ArticleNumber: 1, Content: "first", EnrichmentPending: true},
	})
	require.NoError(t, err)

	ext := &fakeExtractor{err: archive.NewCapabilityError("entity-extraction", archive.KindPermanent, errors.New("model rejected text"))}
	c := newCoordinator(t, ext, &fakeClassifier{score: 0.1})

	updated, err := c.Reenrich(ctx, store, 10)
	require.NoError(t, err)
	require.Equal(t, 1, updated)

	pending, err := store.ListPendingEnrichment(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending, "a permanent rejection leaves nothing to retry")
}

func TestSentimentLabelRecomputedFromThresholds(t *testing.T) {
	t.Parallel()

	c := New(&fakeExtractor{}, &fakeClassifier{score: 0.05}, &openGate{},
		archive.NewRetryPolicy(1, time.Millisecond, time.Millisecond), &seqIDs{},
		Config{Thresholds: archive.SentimentThresholds{Positive: 0.01, Negative: -0.01}}, zap.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }

	articles, err := c.EnrichArticles(context.Background(), []archive.Article{{ID: "a1", Content: "x"}})
	require.NoError(t, err)
	require.Equal(t, archive.SentimentPositive, articles[0].SentimentLabel)
}
