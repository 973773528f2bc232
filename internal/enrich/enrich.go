// Package enrich applies entity extraction and sentiment classification per
// article, handling partial failure.
package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediascope/mediascope/internal/archive"
)

// Capability names used for throttling and logging.
const (
	capEntities  = "entity-extraction"
	capSentiment = "sentiment-classification"
)

// Coordinator runs the enrichment stage. Within one article the order is
// fixed (entities, then sentiment); different articles of the same page may
// run concurrently up to the configured parallelism.
type Coordinator struct {
	entities    archive.EntityExtractor
	sentiment   archive.SentimentClassifier
	gate        archive.CapabilityGate
	retry       *archive.RetryPolicy
	idGen       archive.IDGenerator
	thresholds  archive.SentimentThresholds
	parallelism int
	logger      *zap.Logger

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Config tunes the coordinator.
type Config struct {
	Parallelism int
	Thresholds  archive.SentimentThresholds
}

// New constructs a Coordinator.
func New(
	entities archive.EntityExtractor,
	sentiment archive.SentimentClassifier,
	gate archive.CapabilityGate,
	retry *archive.RetryPolicy,
	idGen archive.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	thresholds := cfg.Thresholds
	if thresholds.Positive == 0 && thresholds.Negative == 0 {
		thresholds = archive.DefaultSentimentThresholds()
	}
	return &Coordinator{
		entities:    entities,
		sentiment:   sentiment,
		gate:        gate,
		retry:       retry,
		idGen:       idGen,
		thresholds:  thresholds,
		parallelism: parallelism,
		logger:      logger,
		sleep:       sleepCtx,
	}
}

// EnrichArticles enriches every article in place. Retryable capability
// failures are demoted to the enrichment_pending flag; permanent rejections
// are recorded without it, since re-running them cannot succeed. Only a
// context ending aborts the pass. The input slice is mutated and returned.
func (c *Coordinator) EnrichArticles(ctx context.Context, articles []archive.Article) ([]archive.Article, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)
	for i := range articles {
		g.Go(func() error {
			return c.enrichOne(gctx, &articles[i])
		})
	}
	if err := g.Wait(); err != nil {
		return articles, fmt.Errorf("enrich articles: %w", err)
	}
	return articles, nil
}

// Reenrich retries only the pending fields of previously demoted articles
// and persists the outcome.
func (c *Coordinator) Reenrich(ctx context.Context, store archive.Store, limit int) (int, error) {
	pending, err := store.ListPendingEnrichment(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending enrichment: %w", err)
	}
	updated := 0
	for i := range pending {
		if err := c.enrichOne(ctx, &pending[i]); err != nil {
			return updated, err
		}
		if err := store.UpdateArticleEnrichment(ctx, pending[i]); err != nil {
			return updated, fmt.Errorf("update article enrichment: %w", err)
		}
		updated++
	}
	return updated, nil
}

func (c *Coordinator) enrichOne(ctx context.Context, article *archive.Article) error {
	pending := false

	if len(article.Entities) == 0 {
		mentions, err := c.extractEntities(ctx, article.Content)
		switch {
		case err == nil:
			ents, buildErr := c.buildEntities(article.ID, mentions)
			if buildErr != nil {
				return buildErr
			}
			article.Entities = ents
		case ctx.Err() != nil:
			return fmt.Errorf("entity extraction: %w", ctx.Err())
		case archive.IsPermanent(err):
			// The capability rejected the input; a retry would fail again,
			// so the article is not flagged for re-enrichment.
			c.logger.Warn("entity extraction rejected input",
				zap.String("article_id", article.ID),
				zap.Error(err),
			)
		default:
			pending = true
			c.logger.Warn("entity extraction demoted to pending",
				zap.String("article_id", article.ID),
				zap.Error(err),
			)
		}
	}

	if article.SentimentScore == nil {
		score, err := c.classifySentiment(ctx, article.Content)
		switch {
		case err == nil:
			label := c.thresholds.Label(score)
			article.SentimentScore = &score
			article.SentimentLabel = label
		case ctx.Err() != nil:
			return fmt.Errorf("sentiment classification: %w", ctx.Err())
		case archive.IsPermanent(err):
			c.logger.Warn("sentiment classification rejected input",
				zap.String("article_id", article.ID),
				zap.Error(err),
			)
		default:
			pending = true
			c.logger.Warn("sentiment classification demoted to pending",
				zap.String("article_id", article.ID),
				zap.Error(err),
			)
		}
	}

	article.EnrichmentPending = pending
	return nil
}

func (c *Coordinator) extractEntities(ctx context.Context, text string) ([]archive.EntityMention, error) {
	var mentions []archive.EntityMention
	err := c.invoke(ctx, capEntities, func(callCtx context.Context) error {
		var callErr error
		mentions, callErr = c.entities.Extract(callCtx, text)
		return callErr
	})
	return mentions, err
}

func (c *Coordinator) classifySentiment(ctx context.Context, text string) (float64, error) {
	var score float64
	err := c.invoke(ctx, capSentiment, func(callCtx context.Context) error {
		var callErr error
		score, callErr = c.sentiment.Classify(callCtx, text)
		return callErr
	})
	return score, err
}

// invoke runs one capability call through the shared gate with bounded
// retries. RateLimited verdicts freeze the gate for the backoff window so
// sibling workers pause too; Permanent verdicts return immediately.
func (c *Coordinator) invoke(ctx context.Context, capability string, call func(context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.gate.Wait(ctx, capability); err != nil {
			return err
		}
		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}
		if !c.retry.ShouldRetry(lastErr, attempt) {
			return lastErr
		}
		backoff := c.retry.Backoff(attempt)
		if archive.IsRateLimited(lastErr) {
			c.gate.Freeze(capability, backoff)
		}
		if err := c.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func (c *Coordinator) buildEntities(articleID string, mentions []archive.EntityMention) ([]archive.Entity, error) {
	entities := make([]archive.Entity, 0, len(mentions))
	for _, m := range mentions {
		id, err := c.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate entity id: %w", err)
		}
		entities = append(entities, archive.Entity{
			ID:         id,
			ArticleID:  articleID,
			Text:       m.Text,
			Type:       archive.NormalizeEntityType(m.Type),
			StartChar:  m.StartChar,
			EndChar:    m.EndChar,
			Confidence: m.Confidence,
		})
	}
	return entities, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
