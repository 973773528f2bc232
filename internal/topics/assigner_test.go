package topics

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/archive"
	storememory "github.com/mediascope/mediascope/internal/store/memory"
)

type fakeAssigner struct {
	batch archive.TopicBatch
	err   error
	calls int
}

func (f *fakeAssigner) AssignTopics(_ context.Context, _ []archive.TopicDocument) (archive.TopicBatch, error) {
	f.calls++
	return f.batch, f.err
}

func seedCorpus(t *testing.T, store *storememory.ArchiveStore, n int) {
	t.Helper()
	articles := make([]archive.Article, n)
	for i := range articles {
		articles[i] = archive.Article{
			ID:            fmt.Sprintf("art-%02d", i),
			ArticleNumber: i + 1,
			Headline:      fmt.Sprintf("HEADLINE %d", i),
			Content:       "body",
		}
	}
	_, err := store.UpsertNewspaper(context.Background(), archive.Newspaper{ID: "p1", PageNumber: 1}, articles)
	require.NoError(t, err)
}

func TestRunSkipsSmallCorpus(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	seedCorpus(t, store, 3)
	capability := &fakeAssigner{}

	res, err := New(capability, store, Config{MinCorpusSize: 5}, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, 3, res.CorpusSize)
	require.Equal(t, 0, capability.calls)
}

func TestRunReplacesRegistry(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	seedCorpus(t, store, 6)
	capability := &fakeAssigner{batch: archive.TopicBatch{
		Topics: []archive.TopicDefinition{
			{ID: 1, Name: "industry", Keywords: []string{"coal", "strike"}},
			{ID: 2, Name: "sport", Keywords: []string{"cricket"}},
		},
		Assignments: map[string]int{
			"art-00": 1, "art-01": 1, "art-02": 1,
			"art-03": 2, "art-04": 2,
		},
	}}

	res, err := New(capability, store, Config{MinCorpusSize: 5, MinTopicSize: 2}, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, 6, res.CorpusSize)
	require.Equal(t, 2, res.TopicCount)
	require.Equal(t, 5, res.AssignedCount)
	require.Equal(t, 1, res.UnassignedLeft)

	topics, err := store.ListTopics(context.Background())
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, 3, topics[0].ArticleCount)
}

func TestRunDropsSmallTopics(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	seedCorpus(t, store, 5)
	capability := &fakeAssigner{batch: archive.TopicBatch{
		Topics: []archive.TopicDefinition{
			{ID: 1, Name: "industry"},
			{ID: 2, Name: "noise"},
		},
		Assignments: map[string]int{
			"art-00": 1, "art-01": 1, "art-02": 1,
			"art-03": 2,
		},
	}}

	res, err := New(capability, store, Config{MinCorpusSize: 5, MinTopicSize: 3}, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.TopicCount)
	require.Equal(t, 1, res.DroppedTopics)
	require.Equal(t, 3, res.AssignedCount)

	articles, err := store.ListArticles(context.Background(), "p1")
	require.NoError(t, err)
	require.Nil(t, articles[3].TopicID, "articles of dropped topics reset to null")
}

func TestRunNamesUnnamedTopicsFromKeywords(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	seedCorpus(t, store, 5)
	capability := &fakeAssigner{batch: archive.TopicBatch{
		Topics: []archive.TopicDefinition{
			{ID: 1, Keywords: []string{"coal", "strike", "miners", "wages", "union", "extra"}},
		},
		Assignments: map[string]int{"art-00": 1, "art-01": 1, "art-02": 1},
	}}

	_, err := New(capability, store, Config{MinCorpusSize: 5, MinTopicSize: 2}, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	topics, err := store.ListTopics(context.Background())
	require.NoError(t, err)
	require.Equal(t, "coal_strike_miners_wages_union", topics[0].Name)
}

func TestRunPropagatesCapabilityFailure(t *testing.T) {
	t.Parallel()

	store := storememory.NewArchiveStore()
	seedCorpus(t, store, 5)
	capability := &fakeAssigner{err: errors.New("clustering backend down")}

	_, err := New(capability, store, Config{MinCorpusSize: 5}, zap.NewNop()).Run(context.Background())
	require.Error(t, err)

	// The prior registry survives a failed run.
	topics, err := store.ListTopics(context.Background())
	require.NoError(t, err)
	require.Empty(t, topics)
}
