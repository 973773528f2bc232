package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/mediascope/mediascope/internal/archive"
)

// MatchCountsByDate counts matching dated articles per publication day.
func (s *ArchiveStore) MatchCountsByDate(ctx context.Context, q archive.FrequencyQuery) ([]archive.DateCount, error) {
	builder := psql.
		Select("a.publication_date", "COUNT(*)", "AVG(a.sentiment_score)").
		From("articles a").
		Where("a.publication_date IS NOT NULL").
		GroupBy("a.publication_date").
		OrderBy("a.publication_date")
	builder = dateRange(builder, "a.publication_date", q.Start, q.End)
	if q.Keyword != "" {
		pattern := "%" + q.Keyword + "%"
		builder = builder.Where(sq.Or{
			sq.ILike{"a.headline": pattern},
			sq.ILike{"a.content": pattern},
		})
	} else {
		builder = builder.Where(
			"EXISTS (SELECT 1 FROM entities e WHERE e.article_id = a.id AND LOWER(e.entity_text) = LOWER(?))",
			q.Entity,
		)
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build frequency query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query frequency: %w", err)
	}
	defer rows.Close()
	var out []archive.DateCount
	for rows.Next() {
		var dc archive.DateCount
		if err := rows.Scan(&dc.Date, &dc.Count, &dc.AvgSentiment); err != nil {
			return nil, fmt.Errorf("scan frequency row: %w", err)
		}
		out = append(out, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate frequency rows: %w", err)
	}
	return out, nil
}

// CooccurrenceCounts counts distinct articles mentioning both entities of a
// pair. The self-join keeps each pair in one canonical order.
func (s *ArchiveStore) CooccurrenceCounts(ctx context.Context, types []archive.EntityType, start, end time.Time) ([]archive.PairCount, error) {
	builder := psql.
		Select("e1.entity_text", "e2.entity_text", "COUNT(DISTINCT e1.article_id)").
		From("entities e1").
		Join("entities e2 ON e2.article_id = e1.article_id AND e1.entity_text < e2.entity_text").
		Join("articles a ON a.id = e1.article_id").
		Where("a.publication_date IS NOT NULL").
		GroupBy("e1.entity_text", "e2.entity_text").
		OrderBy("COUNT(DISTINCT e1.article_id) DESC", "e1.entity_text", "e2.entity_text")
	builder = dateRange(builder, "a.publication_date", start, end)
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		builder = builder.Where(sq.Eq{"e1.entity_type": names}).Where(sq.Eq{"e2.entity_type": names})
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build cooccurrence query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query cooccurrence: %w", err)
	}
	defer rows.Close()
	var out []archive.PairCount
	for rows.Next() {
		var pc archive.PairCount
		if err := rows.Scan(&pc.EntityA, &pc.EntityB, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan cooccurrence row: %w", err)
		}
		out = append(out, pc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cooccurrence rows: %w", err)
	}
	return out, nil
}

// TopicDistribution counts dated, assigned articles per topic.
func (s *ArchiveStore) TopicDistribution(ctx context.Context, start, end time.Time) ([]archive.TopicCount, error) {
	builder := psql.
		Select("a.topic_id", "COALESCE(t.name, '')", "COUNT(*)", "AVG(a.sentiment_score)").
		From("articles a").
		LeftJoin("topics t ON t.topic_id = a.topic_id").
		Where("a.topic_id IS NOT NULL").
		Where("a.publication_date IS NOT NULL").
		GroupBy("a.topic_id", "t.name").
		OrderBy("COUNT(*) DESC", "t.name")
	builder = dateRange(builder, "a.publication_date", start, end)
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build topic distribution query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query topic distribution: %w", err)
	}
	defer rows.Close()
	var out []archive.TopicCount
	for rows.Next() {
		var tc archive.TopicCount
		if err := rows.Scan(&tc.TopicID, &tc.Name, &tc.Count, &tc.AvgSentiment); err != nil {
			return nil, fmt.Errorf("scan topic distribution row: %w", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic distribution rows: %w", err)
	}
	return out, nil
}

// SentimentByLabel aggregates scored, dated articles per label.
func (s *ArchiveStore) SentimentByLabel(ctx context.Context, start, end time.Time) ([]archive.LabelStat, error) {
	builder := psql.
		Select("a.sentiment_label", "COUNT(*)", "AVG(a.sentiment_score)").
		From("articles a").
		Where("a.sentiment_score IS NOT NULL").
		Where("a.sentiment_label IS NOT NULL").
		Where("a.publication_date IS NOT NULL").
		GroupBy("a.sentiment_label").
		OrderBy("a.sentiment_label")
	builder = dateRange(builder, "a.publication_date", start, end)
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sentiment query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query sentiment: %w", err)
	}
	defer rows.Close()
	var out []archive.LabelStat
	for rows.Next() {
		var stat archive.LabelStat
		var label string
		if err := rows.Scan(&label, &stat.Count, &stat.AvgScore); err != nil {
			return nil, fmt.Errorf("scan sentiment row: %w", err)
		}
		stat.Label = archive.SentimentLabel(label)
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sentiment rows: %w", err)
	}
	return out, nil
}

// TopEntities ranks entities by mention count across the date range.
func (s *ArchiveStore) TopEntities(ctx context.Context, q archive.TopEntitiesQuery) ([]archive.EntityStat, error) {
	builder := psql.
		Select("e.entity_text", "e.entity_type", "COUNT(*)",
			"COUNT(DISTINCT a.newspaper_id)", "AVG(a.sentiment_score)").
		From("entities e").
		Join("articles a ON a.id = e.article_id").
		Where("a.publication_date IS NOT NULL").
		GroupBy("e.entity_text", "e.entity_type").
		OrderBy("COUNT(*) DESC", "e.entity_text")
	builder = dateRange(builder, "a.publication_date", q.Start, q.End)
	if q.Type != "" {
		builder = builder.Where(sq.Eq{"e.entity_type": string(q.Type)})
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build top entities query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query top entities: %w", err)
	}
	defer rows.Close()
	out, err := scanEntityStats(rows)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanEntityStats(rows pgx.Rows) ([]archive.EntityStat, error) {
	defer rows.Close()
	var out []archive.EntityStat
	for rows.Next() {
		var stat archive.EntityStat
		var typ string
		if err := rows.Scan(&stat.Text, &typ, &stat.Mentions, &stat.NewspaperCount, &stat.AvgSentiment); err != nil {
			return nil, fmt.Errorf("scan entity stat: %w", err)
		}
		stat.Type = archive.EntityType(typ)
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entity stats: %w", err)
	}
	return out, nil
}

func dateRange(builder sq.SelectBuilder, column string, start, end time.Time) sq.SelectBuilder {
	if !start.IsZero() {
		builder = builder.Where(sq.GtOrEq{column: start})
	}
	if !end.IsZero() {
		builder = builder.Where(sq.LtOrEq{column: end})
	}
	return builder
}
