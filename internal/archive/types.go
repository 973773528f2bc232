// Package archive defines core types shared across subsystems.
package archive

import (
	"time"
)

// ItemStatus represents the lifecycle state of a submitted page image.
type ItemStatus string

// Item status values persisted in the item store.
const (
	ItemStatusUploaded   ItemStatus = "uploaded"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Failure reasons recorded on failed items.
const (
	ReasonTimeout     = "Timeout"
	ReasonCancelled   = "Cancelled"
	ReasonInputFormat = "InputFormatError"
)

// Item tracks one uploaded page image through the pipeline state machine.
type Item struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	ImageRef    string     `json:"image_ref"`
	Status      ItemStatus `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	FailReason  string     `json:"fail_reason,omitempty"`
	NewspaperID string     `json:"newspaper_id,omitempty"`

	// DateUnresolved is orthogonal to Status: a completed item may still
	// require a manual publication date.
	DateUnresolved bool `json:"date_unresolved"`

	// ManualDate, when set, wins over every resolver strategy on the next
	// processing run.
	ManualDate *time.Time `json:"manual_date,omitempty"`

	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
}

// QueueItem wraps an item ready to run.
type QueueItem struct {
	ItemID    string
	Attempt   int
	Submitted int64
}

// DateSource identifies which resolver strategy produced a publication date.
type DateSource string

// Resolver source tags, in chain priority order.
const (
	DateSourceManual     DateSource = "manual"
	DateSourceFilename   DateSource = "filename"
	DateSourceRecognized DateSource = "recognized-text"
)

// Newspaper is one physical scanned page.
type Newspaper struct {
	ID                string     `json:"id"`
	PublicationDate   *time.Time `json:"publication_date,omitempty"`
	DateSource        DateSource `json:"date_source,omitempty"`
	DateUnresolved    bool       `json:"date_unresolved"`
	PageNumber        int        `json:"page_number"`
	Section           string     `json:"section,omitempty"`
	ImageRef          string     `json:"image_ref"`
	OriginalImageRef  string     `json:"original_image_ref"`
	SegmentationEmpty bool       `json:"segmentation_empty"`
	ProcessedAt       time.Time  `json:"processed_at"`

	// ArticleCount and AvgSentiment are derived on read, never stored.
	ArticleCount int      `json:"article_count"`
	AvgSentiment *float64 `json:"avg_sentiment,omitempty"`
}

// SentimentLabel buckets a sentiment score for filtering and display.
type SentimentLabel string

// Sentiment labels assigned from the classifier score.
const (
	SentimentPositive SentimentLabel = "positive"
	SentimentNeutral  SentimentLabel = "neutral"
	SentimentNegative SentimentLabel = "negative"
)

// BoundingBox locates a region on the scanned page, in pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Article is one segmented story on a page.
type Article struct {
	ID              string       `json:"id"`
	NewspaperID     string       `json:"newspaper_id"`
	ArticleNumber   int          `json:"article_number"`
	Headline        string       `json:"headline"`
	Content         string       `json:"content"`
	WordCount       int          `json:"word_count"`
	BoundingBox     *BoundingBox `json:"bounding_box,omitempty"`
	PublicationDate *time.Time   `json:"publication_date,omitempty"`

	SentimentScore    *float64       `json:"sentiment_score,omitempty"`
	SentimentLabel    SentimentLabel `json:"sentiment_label,omitempty"`
	EnrichmentPending bool           `json:"enrichment_pending"`

	// TopicID is set only by the topic batch assigner.
	TopicID *int `json:"topic_id,omitempty"`

	Entities []Entity `json:"entities,omitempty"`
}

// EntityType classifies a named mention.
type EntityType string

// Entity types produced by the extraction capability.
const (
	EntityPerson EntityType = "PERSON"
	EntityOrg    EntityType = "ORG"
	EntityGPE    EntityType = "GPE"
	EntityNORP   EntityType = "NORP"
	EntityEvent  EntityType = "EVENT"
	EntityOther  EntityType = "OTHER"
)

// NormalizeEntityType maps unknown capability labels onto OTHER.
func NormalizeEntityType(raw string) EntityType {
	switch EntityType(raw) {
	case EntityPerson, EntityOrg, EntityGPE, EntityNORP, EntityEvent:
		return EntityType(raw)
	default:
		return EntityOther
	}
}

// Entity is a named mention inside an article, immutable once created.
type Entity struct {
	ID         string     `json:"id"`
	ArticleID  string     `json:"article_id"`
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	StartChar  int        `json:"start_char"`
	EndChar    int        `json:"end_char"`
	Confidence float64    `json:"confidence"`
}

// Topic is a cluster label over many articles. ArticleCount is recomputed on
// read rather than incrementally maintained.
type Topic struct {
	ID           int      `json:"topic_id"`
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	ArticleCount int      `json:"article_count"`
}

// RecognizedPage is the text-recognition capability output for one page.
type RecognizedPage struct {
	Text    string
	Regions []LayoutRegion
}

// LayoutRegion is one recognized text block with layout hints.
type LayoutRegion struct {
	Text              string
	Heading           bool
	HeadingConfidence float64
	Box               BoundingBox
}

// EntityMention is the entity-extraction capability output.
type EntityMention struct {
	Text       string
	Type       string
	StartChar  int
	EndChar    int
	Confidence float64
}

// TopicDocument pairs an article with the text the topic assigner clusters.
type TopicDocument struct {
	ArticleID string
	Text      string
}

// TopicDefinition describes one cluster found by a batch run.
type TopicDefinition struct {
	ID       int
	Name     string
	Keywords []string
}

// TopicBatch is the full result of one topic-assignment capability run.
type TopicBatch struct {
	Topics []TopicDefinition
	// Assignments maps article IDs to topic IDs. Articles missing from the
	// map (or mapped to a below-threshold topic) end up with a null topic.
	Assignments map[string]int
}
