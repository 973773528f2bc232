package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediascope/mediascope/internal/archive"
)

// ArchiveStore keeps the newspaper/article/topic collections in process
// memory. It backs local development and the unit tests.
type ArchiveStore struct {
	mu       sync.RWMutex
	papers   map[string]archive.Newspaper
	articles map[string]archive.Article // keyed by article ID
	topics   map[int]archive.Topic
}

// NewArchiveStore constructs an empty ArchiveStore.
func NewArchiveStore() *ArchiveStore {
	return &ArchiveStore{
		papers:   make(map[string]archive.Newspaper),
		articles: make(map[string]archive.Article),
		topics:   make(map[int]archive.Topic),
	}
}

// UpsertNewspaper replaces any newspaper occupying the same identity and
// installs the new article set.
func (s *ArchiveStore) UpsertNewspaper(_ context.Context, paper archive.Newspaper, articles []archive.Article) (archive.Newspaper, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevID := s.findConflict(paper)
	if prevID != "" && prevID != paper.ID {
		// Reprocessing the same page keeps the original newspaper ID so
		// external references stay valid.
		paper.ID = prevID
	}
	if paper.ID == "" {
		return archive.Newspaper{}, fmt.Errorf("upsert newspaper: empty id")
	}
	s.deleteArticlesOf(paper.ID)

	for i := range articles {
		a := articles[i]
		a.NewspaperID = paper.ID
		a.PublicationDate = paper.PublicationDate
		s.articles[a.ID] = a
	}
	s.papers[paper.ID] = paper
	return s.decorate(paper), nil
}

// findConflict returns the ID of an existing newspaper with the same
// (publication_date, page_number), or the paper's own ID when it already
// exists. Uniqueness only applies once the date is resolved.
func (s *ArchiveStore) findConflict(paper archive.Newspaper) string {
	if _, ok := s.papers[paper.ID]; ok {
		return paper.ID
	}
	if paper.PublicationDate == nil {
		return ""
	}
	for id, existing := range s.papers {
		if existing.PublicationDate == nil {
			continue
		}
		if sameDay(*existing.PublicationDate, *paper.PublicationDate) && existing.PageNumber == paper.PageNumber {
			return id
		}
	}
	return ""
}

// GetNewspaper fetches one newspaper with derived fields populated.
func (s *ArchiveStore) GetNewspaper(_ context.Context, newspaperID string) (archive.Newspaper, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paper, ok := s.papers[newspaperID]
	if !ok {
		return archive.Newspaper{}, fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	return s.decorate(paper), nil
}

// DeleteNewspaper removes the newspaper together with its articles.
func (s *ArchiveStore) DeleteNewspaper(_ context.Context, newspaperID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.papers[newspaperID]; !ok {
		return fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	s.deleteArticlesOf(newspaperID)
	delete(s.papers, newspaperID)
	return nil
}

// CorrectPublicationDate sets the manual date and cascades to child articles.
func (s *ArchiveStore) CorrectPublicationDate(_ context.Context, newspaperID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	paper, ok := s.papers[newspaperID]
	if !ok {
		return fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	for id, existing := range s.papers {
		if id == newspaperID || existing.PublicationDate == nil {
			continue
		}
		if sameDay(*existing.PublicationDate, date) && existing.PageNumber == paper.PageNumber {
			return fmt.Errorf("newspaper %s: date %s page %d already occupied by %s",
				newspaperID, date.Format("2006-01-02"), paper.PageNumber, id)
		}
	}
	d := date
	paper.PublicationDate = &d
	paper.DateSource = archive.DateSourceManual
	paper.DateUnresolved = false
	s.papers[newspaperID] = paper
	for id, a := range s.articles {
		if a.NewspaperID == newspaperID {
			a.PublicationDate = &d
			s.articles[id] = a
		}
	}
	return nil
}

// ListArticles returns the articles of a newspaper in reading order.
func (s *ArchiveStore) ListArticles(_ context.Context, newspaperID string) ([]archive.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.papers[newspaperID]; !ok {
		return nil, fmt.Errorf("newspaper %s: %w", newspaperID, archive.ErrNotFound)
	}
	var out []archive.Article
	for _, a := range s.articles {
		if a.NewspaperID == newspaperID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArticleNumber < out[j].ArticleNumber })
	return out, nil
}

// ListPendingEnrichment returns up to limit articles flagged for another
// enrichment pass.
func (s *ArchiveStore) ListPendingEnrichment(_ context.Context, limit int) ([]archive.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []archive.Article
	for _, a := range s.articles {
		if a.EnrichmentPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// UpdateArticleEnrichment stores the enrichment output of one article.
func (s *ArchiveStore) UpdateArticleEnrichment(_ context.Context, article archive.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.articles[article.ID]
	if !ok {
		return fmt.Errorf("article %s: %w", article.ID, archive.ErrNotFound)
	}
	existing.SentimentScore = article.SentimentScore
	existing.SentimentLabel = article.SentimentLabel
	existing.EnrichmentPending = article.EnrichmentPending
	existing.Entities = article.Entities
	s.articles[article.ID] = existing
	return nil
}

// ListCorpus returns every article's clustering text.
func (s *ArchiveStore) ListCorpus(_ context.Context) ([]archive.TopicDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.TopicDocument, 0, len(s.articles))
	for _, a := range s.articles {
		out = append(out, archive.TopicDocument{ArticleID: a.ID, Text: a.Headline + "\n" + a.Content})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArticleID < out[j].ArticleID })
	return out, nil
}

// ReplaceTopics swaps the registry and every article's assignment at once.
func (s *ArchiveStore) ReplaceTopics(_ context.Context, topics []archive.TopicDefinition, assignments map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = make(map[int]archive.Topic, len(topics))
	for _, def := range topics {
		s.topics[def.ID] = archive.Topic{ID: def.ID, Name: def.Name, Keywords: def.Keywords}
	}
	for id, a := range s.articles {
		if topicID, ok := assignments[id]; ok {
			t := topicID
			a.TopicID = &t
		} else {
			a.TopicID = nil
		}
		s.articles[id] = a
	}
	return nil
}

// ListTopics returns the registry with live article counts.
func (s *ArchiveStore) ListTopics(_ context.Context) ([]archive.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int]int)
	for _, a := range s.articles {
		if a.TopicID != nil {
			counts[*a.TopicID]++
		}
	}
	out := make([]archive.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		t.ArticleCount = counts[t.ID]
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MatchCountsByDate counts matching dated articles per publication day.
func (s *ArchiveStore) MatchCountsByDate(_ context.Context, q archive.FrequencyQuery) ([]archive.DateCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type bucket struct {
		count  int
		sum    float64
		scored int
	}
	buckets := make(map[time.Time]*bucket)
	for _, a := range s.articles {
		if a.PublicationDate == nil || !inRange(*a.PublicationDate, q.Start, q.End) {
			continue
		}
		if !s.matches(a, q) {
			continue
		}
		day := truncateDay(*a.PublicationDate)
		b := buckets[day]
		if b == nil {
			b = &bucket{}
			buckets[day] = b
		}
		b.count++
		if a.SentimentScore != nil {
			b.sum += *a.SentimentScore
			b.scored++
		}
	}
	out := make([]archive.DateCount, 0, len(buckets))
	for day, b := range buckets {
		dc := archive.DateCount{Date: day, Count: b.count}
		if b.scored > 0 {
			avg := b.sum / float64(b.scored)
			dc.AvgSentiment = &avg
		}
		out = append(out, dc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *ArchiveStore) matches(a archive.Article, q archive.FrequencyQuery) bool {
	if q.Keyword != "" {
		needle := strings.ToLower(q.Keyword)
		return strings.Contains(strings.ToLower(a.Headline), needle) ||
			strings.Contains(strings.ToLower(a.Content), needle)
	}
	for _, e := range a.Entities {
		if strings.EqualFold(e.Text, q.Entity) {
			return true
		}
	}
	return false
}

// CooccurrenceCounts counts articles mentioning both entities of a pair.
func (s *ArchiveStore) CooccurrenceCounts(_ context.Context, types []archive.EntityType, start, end time.Time) ([]archive.PairCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[archive.EntityType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}
	pairs := make(map[[2]string]int)
	for _, a := range s.articles {
		if a.PublicationDate == nil || !inRange(*a.PublicationDate, start, end) {
			continue
		}
		seen := make(map[string]bool)
		for _, e := range a.Entities {
			if len(wanted) > 0 && !wanted[e.Type] {
				continue
			}
			seen[e.Text] = true
		}
		names := make([]string, 0, len(seen))
		for n := range seen {
			names = append(names, n)
		}
		sort.Strings(names)
		for i := 0; i < len(names); i++ {
			for j := i + 1; j < len(names); j++ {
				pairs[[2]string{names[i], names[j]}]++
			}
		}
	}
	out := make([]archive.PairCount, 0, len(pairs))
	for pair, count := range pairs {
		out = append(out, archive.PairCount{EntityA: pair[0], EntityB: pair[1], Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if out[i].EntityA != out[j].EntityA {
			return out[i].EntityA < out[j].EntityA
		}
		return out[i].EntityB < out[j].EntityB
	})
	return out, nil
}

// TopicDistribution counts dated, assigned articles per topic.
func (s *ArchiveStore) TopicDistribution(_ context.Context, start, end time.Time) ([]archive.TopicCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type bucket struct {
		count  int
		sum    float64
		scored int
	}
	buckets := make(map[int]*bucket)
	for _, a := range s.articles {
		if a.TopicID == nil || a.PublicationDate == nil || !inRange(*a.PublicationDate, start, end) {
			continue
		}
		b := buckets[*a.TopicID]
		if b == nil {
			b = &bucket{}
			buckets[*a.TopicID] = b
		}
		b.count++
		if a.SentimentScore != nil {
			b.sum += *a.SentimentScore
			b.scored++
		}
	}
	out := make([]archive.TopicCount, 0, len(buckets))
	for topicID, b := range buckets {
		tc := archive.TopicCount{TopicID: topicID, Name: s.topics[topicID].Name, Count: b.count}
		if b.scored > 0 {
			avg := b.sum / float64(b.scored)
			tc.AvgSentiment = &avg
		}
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SentimentByLabel aggregates scored, dated articles per label.
func (s *ArchiveStore) SentimentByLabel(_ context.Context, start, end time.Time) ([]archive.LabelStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type bucket struct {
		count int
		sum   float64
	}
	buckets := make(map[archive.SentimentLabel]*bucket)
	for _, a := range s.articles {
		if a.SentimentScore == nil || a.SentimentLabel == "" {
			continue
		}
		if a.PublicationDate == nil || !inRange(*a.PublicationDate, start, end) {
			continue
		}
		b := buckets[a.SentimentLabel]
		if b == nil {
			b = &bucket{}
			buckets[a.SentimentLabel] = b
		}
		b.count++
		b.sum += *a.SentimentScore
	}
	out := make([]archive.LabelStat, 0, len(buckets))
	for label, b := range buckets {
		avg := b.sum / float64(b.count)
		out = append(out, archive.LabelStat{Label: label, Count: b.count, AvgScore: &avg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// TopEntities ranks entities by mention count across the date range.
func (s *ArchiveStore) TopEntities(_ context.Context, q archive.TopEntitiesQuery) ([]archive.EntityStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type key struct {
		text string
		typ  archive.EntityType
	}
	type bucket struct {
		mentions int
		papers   map[string]bool
		sum      float64
		scored   int
	}
	buckets := make(map[key]*bucket)
	for _, a := range s.articles {
		if a.PublicationDate == nil || !inRange(*a.PublicationDate, q.Start, q.End) {
			continue
		}
		for _, e := range a.Entities {
			if q.Type != "" && e.Type != q.Type {
				continue
			}
			k := key{text: e.Text, typ: e.Type}
			b := buckets[k]
			if b == nil {
				b = &bucket{papers: make(map[string]bool)}
				buckets[k] = b
			}
			b.mentions++
			b.papers[a.NewspaperID] = true
			if a.SentimentScore != nil {
				b.sum += *a.SentimentScore
				b.scored++
			}
		}
	}
	out := make([]archive.EntityStat, 0, len(buckets))
	for k, b := range buckets {
		stat := archive.EntityStat{
			Text:           k.text,
			Type:           k.typ,
			Mentions:       b.mentions,
			NewspaperCount: len(b.papers),
		}
		if b.scored > 0 {
			avg := b.sum / float64(b.scored)
			stat.AvgSentiment = &avg
		}
		out = append(out, stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mentions != out[j].Mentions {
			return out[i].Mentions > out[j].Mentions
		}
		return out[i].Text < out[j].Text
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *ArchiveStore) deleteArticlesOf(newspaperID string) {
	for id, a := range s.articles {
		if a.NewspaperID == newspaperID {
			delete(s.articles, id)
		}
	}
}

// decorate fills the derived ArticleCount and AvgSentiment fields.
func (s *ArchiveStore) decorate(paper archive.Newspaper) archive.Newspaper {
	var count, scored int
	var sum float64
	for _, a := range s.articles {
		if a.NewspaperID != paper.ID {
			continue
		}
		count++
		if a.SentimentScore != nil {
			sum += *a.SentimentScore
			scored++
		}
	}
	paper.ArticleCount = count
	if scored > 0 {
		avg := sum / float64(scored)
		paper.AvgSentiment = &avg
	} else {
		paper.AvgSentiment = nil
	}
	return paper
}

func sameDay(a, b time.Time) bool {
	return truncateDay(a).Equal(truncateDay(b))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func inRange(t, start, end time.Time) bool {
	day := truncateDay(t)
	if !start.IsZero() && day.Before(truncateDay(start)) {
		return false
	}
	if !end.IsZero() && day.After(truncateDay(end)) {
		return false
	}
	return true
}
