// Package topics runs corpus-wide batch topic assignment.
package topics

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/archive"
)

// Assigner periodically clusters the accumulated corpus and refreshes every
// article's topic_id. It is the only component allowed to bulk-rewrite
// topic assignments, and it does so through one atomic store call.
type Assigner struct {
	capability archive.TopicAssigner
	store      archive.Store
	cfg        Config
	logger     *zap.Logger
}

// Config holds the clustering thresholds.
type Config struct {
	// MinCorpusSize skips the run entirely below this many articles;
	// clustering tiny corpora produces noise.
	MinCorpusSize int
	// MinTopicSize drops topics with fewer assigned articles; their
	// articles' topic_id resets to null.
	MinTopicSize int
}

// New constructs an Assigner.
func New(capability archive.TopicAssigner, store archive.Store, cfg Config, logger *zap.Logger) *Assigner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinCorpusSize <= 0 {
		cfg.MinCorpusSize = 25
	}
	if cfg.MinTopicSize <= 0 {
		cfg.MinTopicSize = 3
	}
	return &Assigner{
		capability: capability,
		store:      store,
		cfg:        cfg,
		logger:     logger,
	}
}

// Result summarizes one batch run.
type Result struct {
	Skipped        bool
	CorpusSize     int
	TopicCount     int
	DroppedTopics  int
	AssignedCount  int
	UnassignedLeft int
}

// Run clusters the full corpus and replaces the topic registry. The prior
// registry and every article's topic_id are swapped in one batch so readers
// never observe a half-updated registry.
func (a *Assigner) Run(ctx context.Context) (Result, error) {
	corpus, err := a.store.ListCorpus(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list corpus: %w", err)
	}
	if len(corpus) < a.cfg.MinCorpusSize {
		a.logger.Info("topic batch skipped, corpus below threshold",
			zap.Int("corpus_size", len(corpus)),
			zap.Int("min_corpus_size", a.cfg.MinCorpusSize),
		)
		return Result{Skipped: true, CorpusSize: len(corpus)}, nil
	}

	batch, err := a.capability.AssignTopics(ctx, corpus)
	if err != nil {
		return Result{}, fmt.Errorf("assign topics: %w", err)
	}

	topics, assignments, dropped := a.applyThresholds(batch)

	if err := a.store.ReplaceTopics(ctx, topics, assignments); err != nil {
		return Result{}, fmt.Errorf("replace topics: %w", err)
	}

	res := Result{
		CorpusSize:     len(corpus),
		TopicCount:     len(topics),
		DroppedTopics:  dropped,
		AssignedCount:  len(assignments),
		UnassignedLeft: len(corpus) - len(assignments),
	}
	a.logger.Info("topic batch complete",
		zap.Int("corpus_size", res.CorpusSize),
		zap.Int("topics", res.TopicCount),
		zap.Int("dropped", res.DroppedTopics),
		zap.Int("assigned", res.AssignedCount),
	)
	return res, nil
}

// applyThresholds drops topics below the minimum article count, removes
// their assignments (resetting those articles to a null topic) and fills in
// names for topics the capability left unnamed.
func (a *Assigner) applyThresholds(batch archive.TopicBatch) ([]archive.TopicDefinition, map[string]int, int) {
	sizes := make(map[int]int)
	for _, topicID := range batch.Assignments {
		sizes[topicID]++
	}

	kept := make(map[int]bool)
	var topics []archive.TopicDefinition
	dropped := 0
	for _, t := range batch.Topics {
		if sizes[t.ID] < a.cfg.MinTopicSize {
			dropped++
			continue
		}
		if t.Name == "" {
			t.Name = nameFromKeywords(t.Keywords)
		}
		kept[t.ID] = true
		topics = append(topics, t)
	}

	assignments := make(map[string]int, len(batch.Assignments))
	for articleID, topicID := range batch.Assignments {
		if kept[topicID] {
			assignments[articleID] = topicID
		}
	}
	return topics, assignments, dropped
}

// nameFromKeywords joins the top keywords into a label, the convention the
// archive's registry has always used.
func nameFromKeywords(keywords []string) string {
	n := len(keywords)
	if n > 5 {
		n = 5
	}
	if n == 0 {
		return "uncategorized"
	}
	return strings.Join(keywords[:n], "_")
}
