package archive

import (
	"context"
	"io"
	"time"
)

// ItemStore persists pipeline item state for status polling.
type ItemStore interface {
	CreateItem(ctx context.Context, item Item) error
	UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error
	GetItem(ctx context.Context, itemID string) (Item, error)
	// RequestCancel flags a processing item; the worker observes the flag
	// between stages.
	RequestCancel(ctx context.Context, itemID string) error
	CancelRequested(ctx context.Context, itemID string) (bool, error)
}

// ItemUpdate carries the mutable fields of an item. Nil pointers leave the
// current value in place. ClearCancel drops a previously requested cancel so
// a new run starts with a clean flag.
type ItemUpdate struct {
	Status         *ItemStatus
	Progress       *int
	Message        *string
	FailReason     *string
	NewspaperID    *string
	DateUnresolved *bool
	ManualDate     *time.Time
	ClearCancel    bool
}

// Store owns the Newspaper/Article/Entity/Topic collections and their
// invariants.
type Store interface {
	// UpsertNewspaper inserts the newspaper and its article set, replacing
	// any prior newspaper with the same (publication_date, page_number) and
	// that newspaper's articles atomically. Returns the stored newspaper.
	UpsertNewspaper(ctx context.Context, paper Newspaper, articles []Article) (Newspaper, error)
	GetNewspaper(ctx context.Context, newspaperID string) (Newspaper, error)
	DeleteNewspaper(ctx context.Context, newspaperID string) error
	// CorrectPublicationDate updates the newspaper date and cascades it to
	// every child article's denormalized date in the same operation.
	CorrectPublicationDate(ctx context.Context, newspaperID string, date time.Time) error

	ListArticles(ctx context.Context, newspaperID string) ([]Article, error)
	// ListPendingEnrichment returns articles flagged enrichment_pending for
	// the re-enrichment pass.
	ListPendingEnrichment(ctx context.Context, limit int) ([]Article, error)
	// UpdateArticleEnrichment stores entities, sentiment and the pending
	// flag produced by an enrichment pass.
	UpdateArticleEnrichment(ctx context.Context, article Article) error

	// ListCorpus returns every article's id and text for batch clustering.
	ListCorpus(ctx context.Context) ([]TopicDocument, error)
	// ReplaceTopics swaps the whole topic registry and reassigns topic_id
	// for every article in one atomic batch. Articles absent from
	// assignments get a null topic.
	ReplaceTopics(ctx context.Context, topics []TopicDefinition, assignments map[string]int) error
	// ListTopics returns the registry with article_count recomputed.
	ListTopics(ctx context.Context) ([]Topic, error)

	AnalyticsSource
}

// Granularity is the time-bucket width for trend queries.
type Granularity string

// Supported trend granularities.
const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
	GranularityYear  Granularity = "year"
)

// FrequencyQuery selects articles matching a keyword or entity text.
type FrequencyQuery struct {
	// Keyword matches article headline or content; Entity matches an
	// extracted entity's text. Exactly one should be set.
	Keyword string
	Entity  string
	Start   time.Time
	End     time.Time
}

// DateCount is a per-publication-day match count with average sentiment over
// scored articles.
type DateCount struct {
	Date         time.Time
	Count        int
	AvgSentiment *float64
}

// PairCount counts distinct articles containing both entities of a pair.
type PairCount struct {
	EntityA string
	EntityB string
	Count   int
}

// TopicCount is one topic's share of a date range.
type TopicCount struct {
	TopicID      int
	Name         string
	Count        int
	AvgSentiment *float64
}

// LabelStat aggregates articles per sentiment label.
type LabelStat struct {
	Label    SentimentLabel
	Count    int
	AvgScore *float64
}

// EntityStat summarizes one entity's mentions across the archive.
type EntityStat struct {
	Text           string
	Type           EntityType
	Mentions       int
	NewspaperCount int
	AvgSentiment   *float64
}

// TopEntitiesQuery filters the most-mentioned-entities aggregate.
type TopEntitiesQuery struct {
	Type  EntityType
	Start time.Time
	End   time.Time
	Limit int
}

// AnalyticsSource exposes the read-side primitives the analytics engine
// aggregates. Implementations never mutate the archive.
type AnalyticsSource interface {
	MatchCountsByDate(ctx context.Context, q FrequencyQuery) ([]DateCount, error)
	CooccurrenceCounts(ctx context.Context, types []EntityType, start, end time.Time) ([]PairCount, error)
	TopicDistribution(ctx context.Context, start, end time.Time) ([]TopicCount, error)
	SentimentByLabel(ctx context.Context, start, end time.Time) ([]LabelStat, error)
	TopEntities(ctx context.Context, q TopEntitiesQuery) ([]EntityStat, error)
}

// BlobStore writes image artifacts out-of-line and returns an opaque URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// Queue provides enqueue/dequeue semantics for pipeline items.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// TextRecognizer turns a page image into text plus layout hints.
type TextRecognizer interface {
	Recognize(ctx context.Context, image []byte) (RecognizedPage, error)
}

// EntityExtractor lists named mentions in article text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]EntityMention, error)
}

// SentimentClassifier scores article text in [-1, 1].
type SentimentClassifier interface {
	Classify(ctx context.Context, text string) (float64, error)
}

// TopicAssigner clusters the whole corpus in one batch call.
type TopicAssigner interface {
	AssignTopics(ctx context.Context, corpus []TopicDocument) (TopicBatch, error)
}

// Preprocessor normalizes a raw page image before recognition.
type Preprocessor interface {
	Normalize(ctx context.Context, raw []byte) (NormalizedImage, error)
}

// NormalizedImage is the preprocessor output: the corrected image alongside
// the untouched original.
type NormalizedImage struct {
	Original    []byte
	Normalized  []byte
	ContentType string
}

// CapabilityGate throttles calls against a shared rate-limited capability.
type CapabilityGate interface {
	// Wait blocks until the capability may be called or ctx ends.
	Wait(ctx context.Context, capability string) error
	// Freeze pauses all callers of the capability for the given window,
	// typically after a RateLimited verdict.
	Freeze(capability string, d time.Duration)
}

// Hasher computes digests for blob object naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
