// Package analytics aggregates archive read primitives into the trend,
// co-occurrence, topic and sentiment reports served by the API.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/mediascope/mediascope/internal/archive"
)

// Engine computes reports over an AnalyticsSource. It holds no state beyond
// its source and never mutates the archive.
type Engine struct {
	source archive.AnalyticsSource
}

// New constructs an Engine.
func New(source archive.AnalyticsSource) *Engine {
	return &Engine{source: source}
}

// FrequencyRequest selects a trend series.
type FrequencyRequest struct {
	Keyword     string
	Entity      string
	Start       time.Time
	End         time.Time
	Granularity archive.Granularity
}

// TrendPoint is one time bucket of a frequency series. Buckets with no
// matches are present with a zero count so consumers can plot gaps.
type TrendPoint struct {
	Bucket       string   `json:"bucket"`
	Count        int      `json:"count"`
	AvgSentiment *float64 `json:"avg_sentiment,omitempty"`
}

// FrequencyResult is a zero-filled trend series; Total equals the sum of all
// bucket counts.
type FrequencyResult struct {
	Term        string              `json:"term"`
	Granularity archive.Granularity `json:"granularity"`
	Total       int                 `json:"total"`
	Points      []TrendPoint        `json:"points"`
}

// Frequency reports how often a keyword or entity appears per time bucket.
func (e *Engine) Frequency(ctx context.Context, req FrequencyRequest) (FrequencyResult, error) {
	if (req.Keyword == "") == (req.Entity == "") {
		return FrequencyResult{}, fmt.Errorf("exactly one of keyword or entity is required")
	}
	granularity := req.Granularity
	if granularity == "" {
		granularity = archive.GranularityDay
	}
	counts, err := e.source.MatchCountsByDate(ctx, archive.FrequencyQuery{
		Keyword: req.Keyword,
		Entity:  req.Entity,
		Start:   req.Start,
		End:     req.End,
	})
	if err != nil {
		return FrequencyResult{}, fmt.Errorf("match counts: %w", err)
	}
	term := req.Keyword
	if term == "" {
		term = req.Entity
	}
	result := FrequencyResult{Term: term, Granularity: granularity}
	if len(counts) == 0 && (req.Start.IsZero() || req.End.IsZero()) {
		result.Points = []TrendPoint{}
		return result, nil
	}

	start, end := req.Start, req.End
	if start.IsZero() {
		start = counts[0].Date
	}
	if end.IsZero() {
		end = counts[len(counts)-1].Date
	}

	type accum struct {
		count  int
		sum    float64
		scored int
	}
	byBucket := make(map[string]*accum)
	for _, dc := range counts {
		key := bucketKey(dc.Date, granularity)
		a := byBucket[key]
		if a == nil {
			a = &accum{}
			byBucket[key] = a
		}
		a.count += dc.Count
		if dc.AvgSentiment != nil {
			// Per-day averages are recombined weighted by match count.
			a.sum += *dc.AvgSentiment * float64(dc.Count)
			a.scored += dc.Count
		}
	}

	for _, key := range bucketRange(start, end, granularity) {
		point := TrendPoint{Bucket: key}
		if a, ok := byBucket[key]; ok {
			point.Count = a.count
			if a.scored > 0 {
				avg := a.sum / float64(a.scored)
				point.AvgSentiment = &avg
			}
			result.Total += a.count
		}
		result.Points = append(result.Points, point)
	}
	return result, nil
}

// CooccurrenceRequest filters the entity pair report.
type CooccurrenceRequest struct {
	Types    []archive.EntityType
	Start    time.Time
	End      time.Time
	MinCount int
	Limit    int
}

// Cooccurrence lists entity pairs appearing in the same articles, most
// frequent first.
func (e *Engine) Cooccurrence(ctx context.Context, req CooccurrenceRequest) ([]archive.PairCount, error) {
	pairs, err := e.source.CooccurrenceCounts(ctx, req.Types, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("cooccurrence counts: %w", err)
	}
	minCount := req.MinCount
	if minCount < 2 {
		minCount = 2
	}
	out := make([]archive.PairCount, 0, len(pairs))
	for _, p := range pairs {
		if p.Count < minCount {
			continue
		}
		out = append(out, p)
		if req.Limit > 0 && len(out) >= req.Limit {
			break
		}
	}
	return out, nil
}

// TopicShare is one topic's slice of the distribution.
type TopicShare struct {
	TopicID      int      `json:"topic_id"`
	Name         string   `json:"name"`
	Count        int      `json:"count"`
	Percent      float64  `json:"percent"`
	AvgSentiment *float64 `json:"avg_sentiment,omitempty"`
}

// TopicDistribution reports each topic's share of assigned articles in the
// range. Percentages are of the assigned total, not the whole archive.
func (e *Engine) TopicDistribution(ctx context.Context, start, end time.Time) ([]TopicShare, error) {
	counts, err := e.source.TopicDistribution(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("topic distribution: %w", err)
	}
	total := 0
	for _, tc := range counts {
		total += tc.Count
	}
	out := make([]TopicShare, 0, len(counts))
	for _, tc := range counts {
		share := TopicShare{
			TopicID:      tc.TopicID,
			Name:         tc.Name,
			Count:        tc.Count,
			AvgSentiment: tc.AvgSentiment,
		}
		if total > 0 {
			share.Percent = float64(tc.Count) / float64(total) * 100
		}
		out = append(out, share)
	}
	return out, nil
}

// SentimentOverview summarizes the scored corpus per label.
type SentimentOverview struct {
	Total  int              `json:"total"`
	Labels []SentimentSlice `json:"labels"`
}

// SentimentSlice is one label's share of the scored corpus.
type SentimentSlice struct {
	Label    archive.SentimentLabel `json:"label"`
	Count    int                    `json:"count"`
	Percent  float64                `json:"percent"`
	AvgScore *float64               `json:"avg_score,omitempty"`
}

// Sentiment reports label counts, shares and average scores for the range.
func (e *Engine) Sentiment(ctx context.Context, start, end time.Time) (SentimentOverview, error) {
	stats, err := e.source.SentimentByLabel(ctx, start, end)
	if err != nil {
		return SentimentOverview{}, fmt.Errorf("sentiment by label: %w", err)
	}
	overview := SentimentOverview{Labels: make([]SentimentSlice, 0, len(stats))}
	for _, stat := range stats {
		overview.Total += stat.Count
	}
	for _, stat := range stats {
		slice := SentimentSlice{Label: stat.Label, Count: stat.Count, AvgScore: stat.AvgScore}
		if overview.Total > 0 {
			slice.Percent = float64(stat.Count) / float64(overview.Total) * 100
		}
		overview.Labels = append(overview.Labels, slice)
	}
	return overview, nil
}

// TopEntities lists the most mentioned entities in the range.
func (e *Engine) TopEntities(ctx context.Context, q archive.TopEntitiesQuery) ([]archive.EntityStat, error) {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	stats, err := e.source.TopEntities(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("top entities: %w", err)
	}
	return stats, nil
}

// bucketKey formats a date into its granularity bucket label.
func bucketKey(t time.Time, g archive.Granularity) string {
	switch g {
	case archive.GranularityMonth:
		return t.Format("2006-01")
	case archive.GranularityYear:
		return t.Format("2006")
	default:
		return t.Format("2006-01-02")
	}
}

// bucketRange enumerates every bucket label between start and end inclusive.
func bucketRange(start, end time.Time, g archive.Granularity) []string {
	start = start.UTC()
	end = end.UTC()
	var out []string
	switch g {
	case archive.GranularityMonth:
		cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
		last := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
		for !cur.After(last) {
			out = append(out, cur.Format("2006-01"))
			cur = cur.AddDate(0, 1, 0)
		}
	case archive.GranularityYear:
		for y := start.Year(); y <= end.Year(); y++ {
			out = append(out, fmt.Sprintf("%04d", y))
		}
	default:
		cur := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
		for !cur.After(last) {
			out = append(out, cur.Format("2006-01-02"))
			cur = cur.AddDate(0, 0, 1)
		}
	}
	return out
}
