// Package worker implements the digitization pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/archive"
	"github.com/mediascope/mediascope/internal/enrich"
	"github.com/mediascope/mediascope/internal/metadata"
	"github.com/mediascope/mediascope/internal/progress"
	"github.com/mediascope/mediascope/internal/segment"
)

// Capability name used when throttling text recognition.
const capRecognition = "text-recognition"

// Pages carry no section detection yet, so every newspaper lands in the
// default section.
const defaultSection = "Main"

// Progress checkpoints reported after each stage.
const (
	pctStarted    = 5
	pctPreprocess = 20
	pctRecognize  = 45
	pctMetadata   = 55
	pctSegment    = 65
	pctEnrich     = 85
	pctDone       = 100
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix string
	Topic      string
	// ItemBudget bounds wall time per item; exceeding it fails the item
	// with reason Timeout.
	ItemBudget time.Duration
}

// Worker consumes queue items and executes the digitization pipeline. Stage
// boundaries double as cancellation checkpoints.
type Worker struct {
	queue      archive.Queue
	items      archive.ItemStore
	store      archive.Store
	blobs      archive.BlobStore
	publisher  archive.Publisher
	hasher     archive.Hasher
	clock      archive.Clock
	idGen      archive.IDGenerator
	pre        archive.Preprocessor
	recognizer archive.TextRecognizer
	gate       archive.CapabilityGate
	retry      *archive.RetryPolicy
	resolver   *metadata.Resolver
	segmenter  *segment.Segmenter
	enricher   *enrich.Coordinator
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Deps bundles the collaborators a Worker needs.
type Deps struct {
	Queue      archive.Queue
	Items      archive.ItemStore
	Store      archive.Store
	Blobs      archive.BlobStore
	Publisher  archive.Publisher
	Hasher     archive.Hasher
	Clock      archive.Clock
	IDGen      archive.IDGenerator
	Pre        archive.Preprocessor
	Recognizer archive.TextRecognizer
	Gate       archive.CapabilityGate
	Retry      *archive.RetryPolicy
	Resolver   *metadata.Resolver
	Segmenter  *segment.Segmenter
	Enricher   *enrich.Coordinator
	Emitter    progress.Emitter
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ItemBudget <= 0 {
		cfg.ItemBudget = 300 * time.Second
	}
	return &Worker{
		queue:      deps.Queue,
		items:      deps.Items,
		store:      deps.Store,
		blobs:      deps.Blobs,
		publisher:  deps.Publisher,
		hasher:     deps.Hasher,
		clock:      deps.Clock,
		idGen:      deps.IDGen,
		pre:        deps.Pre,
		recognizer: deps.Recognizer,
		gate:       deps.Gate,
		retry:      deps.Retry,
		resolver:   deps.Resolver,
		segmenter:  deps.Segmenter,
		enricher:   deps.Enricher,
		emitter:    deps.Emitter,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued item", zap.String("item_id", item.ItemID))
		w.ProcessItem(ctx, item)
	}
}

// stageErr tags a pipeline failure with the terminal reason to record.
type stageErr struct {
	reason string
	err    error
}

func (e *stageErr) Error() string { return e.err.Error() }
func (e *stageErr) Unwrap() error { return e.err }

var errCancelRequested = errors.New("cancellation requested")

// ProcessItem runs one item through the full pipeline and records the
// terminal state. It never returns an error: every failure mode maps to a
// failed item with a reason.
func (w *Worker) ProcessItem(ctx context.Context, qi archive.QueueItem) {
	started := w.clock.Now()
	item, err := w.items.GetItem(ctx, qi.ItemID)
	if err != nil {
		w.logger.Error("load item failed", zap.String("item_id", qi.ItemID), zap.Error(err))
		return
	}

	if err := w.setProcessing(ctx, item.ID); err != nil {
		w.logger.Error("mark item processing failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	w.emit(progress.Event{ItemID: item.ID, TS: w.clock.Now(), Stage: progress.StageItemStart})

	runCtx, cancel := context.WithTimeout(ctx, w.cfg.ItemBudget)
	defer cancel()

	result, err := w.runPipeline(runCtx, item)
	if err != nil {
		reason, message := w.classifyFailure(runCtx, err)
		w.finishFailed(ctx, item.ID, started, reason, message)
		return
	}
	w.finishCompleted(ctx, item.ID, started, result)
}

// pipelineResult is the successful outcome of one item run.
type pipelineResult struct {
	paper        archive.Newspaper
	articleCount int
	note         string
}

func (w *Worker) runPipeline(ctx context.Context, item archive.Item) (pipelineResult, error) {
	raw, err := w.blobs.GetObject(ctx, item.ImageRef)
	if err != nil {
		return pipelineResult{}, fmt.Errorf("load original image: %w", err)
	}

	// Preprocess.
	stageStart := w.clock.Now()
	normalized, err := w.pre.Normalize(ctx, raw)
	if err != nil {
		if errors.Is(err, archive.ErrInputFormat) {
			return pipelineResult{}, &stageErr{reason: archive.ReasonInputFormat, err: err}
		}
		return pipelineResult{}, fmt.Errorf("preprocess: %w", err)
	}
	normRef, err := w.storeNormalized(ctx, item.ID, normalized)
	if err != nil {
		return pipelineResult{}, err
	}
	if err := w.checkpoint(ctx, item.ID, progress.StepPreprocess, pctPreprocess, stageStart); err != nil {
		return pipelineResult{}, err
	}

	// Recognize.
	stageStart = w.clock.Now()
	page, err := w.recognize(ctx, normalized.Normalized)
	if err != nil {
		return pipelineResult{}, fmt.Errorf("recognize: %w", err)
	}
	if err := w.checkpoint(ctx, item.ID, progress.StepRecognize, pctRecognize, stageStart); err != nil {
		return pipelineResult{}, err
	}

	// Resolve metadata.
	stageStart = w.clock.Now()
	resolution, resolved := w.resolver.Resolve(metadata.Input{
		Filename:       item.Filename,
		RecognizedText: page.Text,
		Manual:         item.ManualDate,
	})
	pageNumber := w.resolver.PageNumber(metadata.Input{
		Filename:       item.Filename,
		RecognizedText: page.Text,
	})
	if err := w.checkpoint(ctx, item.ID, progress.StepMetadata, pctMetadata, stageStart); err != nil {
		return pipelineResult{}, err
	}

	// Segment.
	stageStart = w.clock.Now()
	segments := w.segmenter.Segment(page)
	if err := w.checkpoint(ctx, item.ID, progress.StepSegment, pctSegment, stageStart); err != nil {
		return pipelineResult{}, err
	}

	// Enrich.
	stageStart = w.clock.Now()
	articles, err := w.buildArticles(segments)
	if err != nil {
		return pipelineResult{}, err
	}
	articles, err = w.enricher.EnrichArticles(ctx, articles)
	if err != nil {
		return pipelineResult{}, err
	}
	if err := w.checkpoint(ctx, item.ID, progress.StepEnrich, pctEnrich, stageStart); err != nil {
		return pipelineResult{}, err
	}

	// Persist.
	stageStart = w.clock.Now()
	paper, err := w.persist(ctx, item, resolution, resolved, pageNumber, normRef, segments, articles)
	if err != nil {
		return pipelineResult{}, err
	}
	w.emit(progress.Event{
		ItemID: item.ID,
		TS:     w.clock.Now(),
		Stage:  progress.StageItemStep,
		Step:   progress.StepPersist,
		Dur:    w.clock.Now().Sub(stageStart),
	})

	note := ""
	if paper.SegmentationEmpty {
		note = "no articles detected on page"
	}
	return pipelineResult{paper: paper, articleCount: len(articles), note: note}, nil
}

func (w *Worker) recognize(ctx context.Context, image []byte) (archive.RecognizedPage, error) {
	var page archive.RecognizedPage
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := w.gate.Wait(ctx, capRecognition); err != nil {
			return archive.RecognizedPage{}, err
		}
		page, lastErr = w.recognizer.Recognize(ctx, image)
		if lastErr == nil {
			return page, nil
		}
		if !w.retry.ShouldRetry(lastErr, attempt) {
			return archive.RecognizedPage{}, lastErr
		}
		backoff := w.retry.Backoff(attempt)
		if archive.IsRateLimited(lastErr) {
			w.gate.Freeze(capRecognition, backoff)
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return archive.RecognizedPage{}, err
		}
	}
}

func (w *Worker) buildArticles(segments []segment.Segmented) ([]archive.Article, error) {
	articles := make([]archive.Article, 0, len(segments))
	for _, seg := range segments {
		id, err := w.idGen.NewID()
		if err != nil {
			return nil, fmt.Errorf("generate article id: %w", err)
		}
		articles = append(articles, archive.Article{
			ID:            id,
			ArticleNumber: seg.ArticleNumber,
			Headline:      seg.Headline,
			Content:       seg.Content,
			WordCount:     seg.WordCount,
			BoundingBox:   seg.BoundingBox,
		})
	}
	return articles, nil
}

func (w *Worker) persist(
	ctx context.Context,
	item archive.Item,
	resolution metadata.Resolution,
	resolved bool,
	pageNumber int,
	normRef string,
	segments []segment.Segmented,
	articles []archive.Article,
) (archive.Newspaper, error) {
	paperID := item.NewspaperID
	if paperID == "" {
		var err error
		paperID, err = w.idGen.NewID()
		if err != nil {
			return archive.Newspaper{}, fmt.Errorf("generate newspaper id: %w", err)
		}
	}
	paper := archive.Newspaper{
		ID:                paperID,
		DateUnresolved:    !resolved,
		PageNumber:        pageNumber,
		Section:           defaultSection,
		ImageRef:          normRef,
		OriginalImageRef:  item.ImageRef,
		SegmentationEmpty: len(segments) == 0,
		ProcessedAt:       w.clock.Now(),
	}
	if resolved {
		date := resolution.Date
		paper.PublicationDate = &date
		paper.DateSource = resolution.Source
	}
	stored, err := w.store.UpsertNewspaper(ctx, paper, articles)
	if err != nil {
		return archive.Newspaper{}, fmt.Errorf("persist newspaper: %w", err)
	}

	unresolved := stored.DateUnresolved
	if err := w.items.UpdateItem(ctx, item.ID, archive.ItemUpdate{
		NewspaperID:    &stored.ID,
		DateUnresolved: &unresolved,
	}); err != nil {
		return archive.Newspaper{}, fmt.Errorf("record newspaper on item: %w", err)
	}

	w.publishCompletion(ctx, item, stored, len(articles))
	return stored, nil
}

func (w *Worker) publishCompletion(ctx context.Context, item archive.Item, paper archive.Newspaper, articleCount int) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"item_id":         item.ID,
		"newspaper_id":    paper.ID,
		"article_count":   articleCount,
		"date_unresolved": paper.DateUnresolved,
		"timestamp":       w.clock.Now().Format(time.RFC3339),
	}
	if paper.PublicationDate != nil {
		payload["publication_date"] = paper.PublicationDate.Format("2006-01-02")
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Warn("publish completion failed", zap.String("item_id", item.ID), zap.Error(err))
		return
	}
	w.logger.Info("item completion published",
		zap.String("item_id", item.ID),
		zap.String("newspaper_id", paper.ID),
		zap.Int("articles", articleCount),
	)
}

// storeNormalized writes the corrected image next to the original and
// returns its URI.
func (w *Worker) storeNormalized(ctx context.Context, itemID string, img archive.NormalizedImage) (string, error) {
	hash, err := w.hasher.Hash(img.Normalized)
	if err != nil {
		return "", fmt.Errorf("hash normalized image: %w", err)
	}
	path := w.buildBlobPath(itemID, hash)
	uri, err := w.blobs.PutObject(ctx, path, img.ContentType, bytes.NewReader(img.Normalized))
	if err != nil {
		return "", fmt.Errorf("store normalized image: %w", err)
	}
	return uri, nil
}

func (w *Worker) buildBlobPath(itemID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.jpg", itemID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.jpg", prefix, itemID, hash)
}

// checkpoint records stage completion and honors pending cancellation before
// the next stage starts.
func (w *Worker) checkpoint(ctx context.Context, itemID, step string, percent int, stageStart time.Time) error {
	w.emit(progress.Event{
		ItemID:  itemID,
		TS:      w.clock.Now(),
		Stage:   progress.StageItemStep,
		Step:    step,
		Percent: percent,
		Dur:     w.clock.Now().Sub(stageStart),
	})
	msg := "completed " + step
	if err := w.items.UpdateItem(ctx, itemID, archive.ItemUpdate{
		Progress: &percent,
		Message:  &msg,
	}); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	cancelled, err := w.items.CancelRequested(ctx, itemID)
	if err != nil {
		return fmt.Errorf("check cancellation: %w", err)
	}
	if cancelled {
		return &stageErr{reason: archive.ReasonCancelled, err: errCancelRequested}
	}
	return ctx.Err()
}

func (w *Worker) setProcessing(ctx context.Context, itemID string) error {
	status := archive.ItemStatusProcessing
	pct := pctStarted
	// A leftover cancel flag from an earlier run must not abort this one.
	return w.items.UpdateItem(ctx, itemID, archive.ItemUpdate{
		Status:      &status,
		Progress:    &pct,
		ClearCancel: true,
	})
}

// classifyFailure maps a pipeline error onto the recorded failure reason.
func (w *Worker) classifyFailure(runCtx context.Context, err error) (string, string) {
	var se *stageErr
	if errors.As(err, &se) {
		return se.reason, se.err.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return archive.ReasonTimeout, "processing budget exhausted"
	}
	if errors.Is(err, context.Canceled) {
		return archive.ReasonCancelled, "processing interrupted"
	}
	return "", err.Error()
}

func (w *Worker) finishFailed(ctx context.Context, itemID string, started time.Time, reason, message string) {
	status := archive.ItemStatusFailed
	update := archive.ItemUpdate{Status: &status, Message: &message}
	if reason != "" {
		update.FailReason = &reason
	}
	// Terminal updates use a fresh context so shutdown does not lose them.
	if err := w.items.UpdateItem(context.WithoutCancel(ctx), itemID, update); err != nil {
		w.logger.Error("record item failure failed", zap.String("item_id", itemID), zap.Error(err))
	}
	stage := progress.StageItemError
	if reason == archive.ReasonCancelled {
		stage = progress.StageItemCancelled
	}
	w.emit(progress.Event{
		ItemID: itemID,
		TS:     w.clock.Now(),
		Stage:  stage,
		Dur:    w.clock.Now().Sub(started),
		Note:   message,
	})
	w.logger.Warn("item failed",
		zap.String("item_id", itemID),
		zap.String("reason", reason),
		zap.String("message", message),
	)
}

func (w *Worker) finishCompleted(ctx context.Context, itemID string, started time.Time, result pipelineResult) {
	status := archive.ItemStatusCompleted
	pct := pctDone
	update := archive.ItemUpdate{Status: &status, Progress: &pct}
	if result.note != "" {
		update.Message = &result.note
	}
	if err := w.items.UpdateItem(context.WithoutCancel(ctx), itemID, update); err != nil {
		w.logger.Error("record item completion failed", zap.String("item_id", itemID), zap.Error(err))
	}
	w.emit(progress.Event{
		ItemID:   itemID,
		TS:       w.clock.Now(),
		Stage:    progress.StageItemDone,
		Percent:  pctDone,
		Articles: result.articleCount,
		Dur:      w.clock.Now().Sub(started),
		Note:     result.note,
	})
	w.logger.Info("item completed",
		zap.String("item_id", itemID),
		zap.String("newspaper_id", result.paper.ID),
		zap.Int("articles", result.articleCount),
		zap.Bool("date_unresolved", result.paper.DateUnresolved),
	)
}

func (w *Worker) emit(evt progress.Event) {
	if w.emitter != nil {
		w.emitter.Emit(evt)
	}
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
