// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mediascope/mediascope/internal/archive"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ArchiveStoreConfig controls the Postgres connection pool.
type ArchiveStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// ArchiveStore persists newspapers, articles, entities and topics.
type ArchiveStore struct {
	pool pgxPool
}

// NewArchiveStore creates a Postgres-backed ArchiveStore.
func NewArchiveStore(ctx context.Context, cfg ArchiveStoreConfig) (*ArchiveStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ArchiveStore{pool: pool}, nil
}

// NewArchiveStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArchiveStoreWithPool(pool pgxPool) (*ArchiveStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ArchiveStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ArchiveStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertNewspaper replaces any newspaper occupying the same
// (publication_date, page_number) slot and installs the new article set in
// one transaction.
func (s *ArchiveStore) UpsertNewspaper(ctx context.Context, paper archive.Newspaper, articles []archive.Article) (archive.Newspaper, error) {
	if paper.ID == "" {
		return archive.Newspaper{}, fmt.Errorf("newspaper id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return archive.Newspaper{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if paper.PublicationDate != nil {
		var existingID string
		err := tx.QueryRow(ctx,
			`SELECT id FROM newspapers WHERE publication_date = $1 AND page_number = $2`,
			*paper.PublicationDate, paper.PageNumber,
		).Scan(&existingID)
		switch {
		case err == nil:
			// Reprocessing keeps the original newspaper ID.
			paper.ID = existingID
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return archive.Newspaper{}, fmt.Errorf("lookup newspaper slot: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM articles WHERE newspaper_id = $1`, paper.ID); err != nil {
		return archive.Newspaper{}, fmt.Errorf("clear prior articles: %w", err)
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO newspapers (
	id, publication_date, date_source, date_unresolved, page_number,
	section, image_ref, original_image_ref, segmentation_empty, processed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	publication_date = EXCLUDED.publication_date,
	date_source = EXCLUDED.date_source,
	date_unresolved = EXCLUDED.date_unresolved,
	page_number = EXCLUDED.page_number,
	section = EXCLUDED.section,
	image_ref = EXCLUDED.image_ref,
	original_image_ref = EXCLUDED.original_image_ref,
	segmentation_empty = EXCLUDED.segmentation_empty,
	processed_at = EXCLUDED.processed_at`,
		paper.ID, paper.PublicationDate, string(paper.DateSource), paper.DateUnresolved,
		paper.PageNumber, paper.Section, paper.ImageRef, paper.OriginalImageRef,
		paper.SegmentationEmpty, paper.ProcessedAt,
	); err != nil {
		return archive.Newspaper{}, fmt.Errorf("upsert newspaper: %w", err)
	}

	for i := range articles {
		a := articles[i]
		a.NewspaperID = paper.ID
		a.PublicationDate = paper.PublicationDate
		if err := insertArticle(ctx, tx, a); err != nil {
			return archive.Newspaper{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return archive.Newspaper{}, fmt.Errorf("commit upsert: %w", err)
	}
	return s.GetNewspaper(ctx, paper.ID)
}

func insertArticle(ctx context.Context, tx pgx.Tx, a archive.Article) error {
	var bbox []byte
	if a.BoundingBox != nil {
		var err error
		bbox, err = json.Marshal(a.BoundingBox)
		if err != nil {
			return fmt.Errorf("marshal bounding box: %w", err)
		}
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO articles (
	id, newspaper_id, article_number, headline, content, word_count,
	bounding_box, publication_date, sentiment_score, sentiment_label,
	enrichment_pending, topic_id
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.NewspaperID, a.ArticleNumber, a.Headline, a.Content, a.WordCount,
		bbox, a.PublicationDate, a.SentimentScore, nullableLabel(a.SentimentLabel),
		a.EnrichmentPending, a.TopicID,
	); err != nil {
		return fmt.Errorf("insert article: %w", err)
	}
	for _, e := range a.Entities {
		if _, err := tx.Exec(ctx, `
INSERT INTO entities (id, article_id, entity_text, entity_type, start_char, end_char, confidence)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, a.ID, e.Text, string(e.Type), e.StartChar, e.EndChar, e.Confidence,
		); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	return nil
}

// GetNewspaper fetches one newspaper with derived aggregates.
func (s *ArchiveStore) GetNewspaper(ctx context.Context, newspaperID string) (archive.Newspaper, error) {
	row := s.pool.QueryRow(ctx, `
SELECT n.id, n.publication_date, n.date_source, n.date_unresolved, n.page_number,
	n.section, n.image_ref, n.original_image_ref, n.segmentation_empty, n.processed_at,
	(SELECT COUNT(*) FROM articles a WHERE a.newspaper_id = n.id),
	(SELECT AVG(a.sentiment_score) FROM articles a WHERE a.newspaper_id = n.id)
FROM newspapers n WHERE n.id = $1`, newspaperID)

	var paper archive.Newspaper
	var source string
	err := row.Scan(
		&paper.ID, &paper.PublicationDate, &source, &paper.DateUnresolved,
		&paper.PageNumber, &paper.Section, &paper.ImageRef, &paper.OriginalImageRef,
		&paper.SegmentationEmpty, &paper.ProcessedAt,
		&paper.ArticleCount, &paper.AvgSentiment,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return archive.Newspaper{}, fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	if err != nil {
		return archive.Newspaper{}, fmt.Errorf("get newspaper: %w", err)
	}
	paper.DateSource = archive.DateSource(source)
	return paper, nil
}

// DeleteNewspaper removes a newspaper; articles and entities cascade.
func (s *ArchiveStore) DeleteNewspaper(ctx context.Context, newspaperID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM newspapers WHERE id = $1`, newspaperID)
	if err != nil {
		return fmt.Errorf("delete newspaper: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	return nil
}

// CorrectPublicationDate sets a manual date and cascades it to child articles.
func (s *ArchiveStore) CorrectPublicationDate(ctx context.Context, newspaperID string, date time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin correction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE newspapers
SET publication_date = $2, date_source = $3, date_unresolved = FALSE
WHERE id = $1`,
		newspaperID, date, string(archive.DateSourceManual))
	if err != nil {
		return fmt.Errorf("correct publication date: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE articles SET publication_date = $2 WHERE newspaper_id = $1`,
		newspaperID, date,
	); err != nil {
		return fmt.Errorf("cascade publication date: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit correction: %w", err)
	}
	return nil
}

// ListArticles returns a newspaper's articles with entities, in reading order.
func (s *ArchiveStore) ListArticles(ctx context.Context, newspaperID string) ([]archive.Article, error) {
	rows, err := s.pool.Query(ctx, articleSelect+`
WHERE newspaper_id = $1 ORDER BY article_number`, newspaperID)
	if err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntities(ctx, articles); err != nil {
		return nil, err
	}
	return articles, nil
}

// ListPendingEnrichment returns articles awaiting another enrichment pass.
func (s *ArchiveStore) ListPendingEnrichment(ctx context.Context, limit int) ([]archive.Article, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, articleSelect+`
WHERE enrichment_pending ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending enrichment: %w", err)
	}
	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadEntities(ctx, articles); err != nil {
		return nil, err
	}
	return articles, nil
}

const articleSelect = `
SELECT id, newspaper_id, article_number, headline, content, word_count,
	bounding_box, publication_date, sentiment_score, sentiment_label,
	enrichment_pending, topic_id
FROM articles`

func scanArticles(rows pgx.Rows) ([]archive.Article, error) {
	defer rows.Close()
	var out []archive.Article
	for rows.Next() {
		var a archive.Article
		var bbox []byte
		var label *string
		if err := rows.Scan(
			&a.ID, &a.NewspaperID, &a.ArticleNumber, &a.Headline, &a.Content,
			&a.WordCount, &bbox, &a.PublicationDate, &a.SentimentScore, &label,
			&a.EnrichmentPending, &a.TopicID,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		if len(bbox) > 0 {
			var box archive.BoundingBox
			if err := json.Unmarshal(bbox, &box); err != nil {
				return nil, fmt.Errorf("unmarshal bounding box: %w", err)
			}
			a.BoundingBox = &box
		}
		if label != nil {
			a.SentimentLabel = archive.SentimentLabel(*label)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

func (s *ArchiveStore) loadEntities(ctx context.Context, articles []archive.Article) error {
	if len(articles) == 0 {
		return nil
	}
	ids := make([]string, len(articles))
	byID := make(map[string]int, len(articles))
	for i, a := range articles {
		ids[i] = a.ID
		byID[a.ID] = i
	}
	rows, err := s.pool.Query(ctx, `
SELECT id, article_id, entity_text, entity_type, start_char, end_char, confidence
FROM entities WHERE article_id = ANY($1) ORDER BY article_id, start_char`, ids)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e archive.Entity
		var typ string
		if err := rows.Scan(&e.ID, &e.ArticleID, &e.Text, &typ, &e.StartChar, &e.EndChar, &e.Confidence); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		e.Type = archive.EntityType(typ)
		if i, ok := byID[e.ArticleID]; ok {
			articles[i].Entities = append(articles[i].Entities, e)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}
	return nil
}

// UpdateArticleEnrichment stores the enrichment output of one article.
func (s *ArchiveStore) UpdateArticleEnrichment(ctx context.Context, article archive.Article) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin enrichment update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE articles
SET sentiment_score = $2, sentiment_label = $3, enrichment_pending = $4
WHERE id = $1`,
		article.ID, article.SentimentScore, nullableLabel(article.SentimentLabel), article.EnrichmentPending)
	if err != nil {
		return fmt.Errorf("update article enrichment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("article %s: %w", article.ID, archive.ErrNotFound)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entities WHERE article_id = $1`, article.ID); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	for _, e := range article.Entities {
		if _, err := tx.Exec(ctx, `
INSERT INTO entities (id, article_id, entity_text, entity_type, start_char, end_char, confidence)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.ID, article.ID, e.Text, string(e.Type), e.StartChar, e.EndChar, e.Confidence,
		); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit enrichment update: %w", err)
	}
	return nil
}

// ListCorpus returns every article's clustering text.
func (s *ArchiveStore) ListCorpus(ctx context.Context) ([]archive.TopicDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, headline || E'\n' || content FROM articles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list corpus: %w", err)
	}
	defer rows.Close()
	var out []archive.TopicDocument
	for rows.Next() {
		var doc archive.TopicDocument
		if err := rows.Scan(&doc.ArticleID, &doc.Text); err != nil {
			return nil, fmt.Errorf("scan corpus row: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corpus: %w", err)
	}
	return out, nil
}

// ReplaceTopics swaps the registry and every article assignment atomically.
func (s *ArchiveStore) ReplaceTopics(ctx context.Context, topics []archive.TopicDefinition, assignments map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin topic replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `UPDATE articles SET topic_id = NULL WHERE topic_id IS NOT NULL`); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM topics`); err != nil {
		return fmt.Errorf("clear topics: %w", err)
	}
	for _, def := range topics {
		keywords, err := json.Marshal(def.Keywords)
		if err != nil {
			return fmt.Errorf("marshal keywords: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO topics (topic_id, name, keywords) VALUES ($1,$2,$3)`,
			def.ID, def.Name, keywords,
		); err != nil {
			return fmt.Errorf("insert topic: %w", err)
		}
	}
	for articleID, topicID := range assignments {
		if _, err := tx.Exec(ctx,
			`UPDATE articles SET topic_id = $2 WHERE id = $1`,
			articleID, topicID,
		); err != nil {
			return fmt.Errorf("assign topic: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit topic replace: %w", err)
	}
	return nil
}

// ListTopics returns the registry with live article counts.
func (s *ArchiveStore) ListTopics(ctx context.Context) ([]archive.Topic, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.topic_id, t.name, t.keywords, COUNT(a.id)
FROM topics t
LEFT JOIN articles a ON a.topic_id = t.topic_id
GROUP BY t.topic_id, t.name, t.keywords
ORDER BY t.topic_id`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()
	var out []archive.Topic
	for rows.Next() {
		var t archive.Topic
		var keywords []byte
		if err := rows.Scan(&t.ID, &t.Name, &keywords, &t.ArticleCount); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		if len(keywords) > 0 {
			if err := json.Unmarshal(keywords, &t.Keywords); err != nil {
				return nil, fmt.Errorf("unmarshal keywords: %w", err)
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topics: %w", err)
	}
	return out, nil
}

func nullableLabel(label archive.SentimentLabel) *string {
	if label == "" {
		return nil
	}
	s := string(label)
	return &s
}
