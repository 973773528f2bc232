package postgres

import (
	"context"
	"fmt"
)

// schemaStatements create the tables the stores expect. They are idempotent
// so startup can run them unconditionally.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS newspapers (
	id UUID PRIMARY KEY,
	publication_date DATE,
	date_source TEXT NOT NULL DEFAULT '',
	date_unresolved BOOLEAN NOT NULL DEFAULT FALSE,
	page_number INTEGER NOT NULL DEFAULT 1,
	section TEXT NOT NULL DEFAULT '',
	image_ref TEXT NOT NULL DEFAULT '',
	original_image_ref TEXT NOT NULL DEFAULT '',
	segmentation_empty BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS newspapers_date_page_idx
	ON newspapers (publication_date, page_number)
	WHERE publication_date IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS topics (
	topic_id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	keywords JSONB
)`,
	`CREATE TABLE IF NOT EXISTS articles (
	id UUID PRIMARY KEY,
	newspaper_id UUID NOT NULL REFERENCES newspapers(id) ON DELETE CASCADE,
	article_number INTEGER NOT NULL,
	headline TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL DEFAULT '',
	word_count INTEGER NOT NULL DEFAULT 0,
	bounding_box JSONB,
	publication_date DATE,
	sentiment_score DOUBLE PRECISION,
	sentiment_label TEXT,
	enrichment_pending BOOLEAN NOT NULL DEFAULT FALSE,
	topic_id INTEGER REFERENCES topics(topic_id) ON DELETE SET NULL
)`,
	`CREATE INDEX IF NOT EXISTS articles_newspaper_idx ON articles (newspaper_id)`,
	`CREATE INDEX IF NOT EXISTS articles_date_idx ON articles (publication_date)`,
	`CREATE TABLE IF NOT EXISTS entities (
	id UUID PRIMARY KEY,
	article_id UUID NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
	entity_text TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	start_char INTEGER NOT NULL DEFAULT 0,
	end_char INTEGER NOT NULL DEFAULT 0,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS entities_article_idx ON entities (article_id)`,
	`CREATE INDEX IF NOT EXISTS entities_text_idx ON entities (entity_text)`,
	`CREATE TABLE IF NOT EXISTS items (
	id UUID PRIMARY KEY,
	filename TEXT NOT NULL DEFAULT '',
	image_ref TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL DEFAULT '',
	fail_reason TEXT NOT NULL DEFAULT '',
	newspaper_id TEXT NOT NULL DEFAULT '',
	date_unresolved BOOLEAN NOT NULL DEFAULT FALSE,
	manual_date DATE,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	submitted_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
)`,
}

// EnsureSchema creates missing tables and indexes.
func (s *ArchiveStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
