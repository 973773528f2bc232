// Package segment turns recognized page text plus layout hints into discrete
// article records.
package segment

import (
	"sort"
	"strings"

	"github.com/mediascope/mediascope/internal/archive"
)

// Segmented is one story assembled from layout regions, ordered by
// article number starting at 1.
type Segmented struct {
	ArticleNumber int
	Headline      string
	Content       string
	WordCount     int
	BoundingBox   *archive.BoundingBox
}

// Segmenter groups layout regions into story blocks using heading cues.
type Segmenter struct {
	// headingConfidenceMin gates which regions may start a new article.
	headingConfidenceMin float64
}

// Config tunes the segmenter.
type Config struct {
	HeadingConfidenceMin float64
}

// New constructs a Segmenter.
func New(cfg Config) *Segmenter {
	min := cfg.HeadingConfidenceMin
	if min <= 0 {
		min = 0.5
	}
	return &Segmenter{headingConfidenceMin: min}
}

// Segment orders the page's regions into reading order and groups them into
// articles. A region with no confidently-detected heading merges into the
// preceding article's content; leading headingless regions fold into the
// first article. Zero articles is a valid outcome, not an error.
func (s *Segmenter) Segment(page archive.RecognizedPage) []Segmented {
	regions := readingOrder(page.Regions)

	var articles []Segmented
	var current *Segmented

	for _, r := range regions {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		if s.startsArticle(r) {
			if current != nil {
				articles = append(articles, *current)
			}
			box := r.Box
			current = &Segmented{
				Headline:    firstLine(text),
				Content:     strings.TrimSpace(rest(text)),
				BoundingBox: &box,
			}
			continue
		}
		if current == nil {
			// Page text before any heading: open an untitled article so
			// the content is not dropped.
			box := r.Box
			current = &Segmented{
				Headline:    firstLine(text),
				Content:     strings.TrimSpace(rest(text)),
				BoundingBox: &box,
			}
			continue
		}
		if current.Content == "" {
			current.Content = text
		} else {
			current.Content += "\n\n" + text
		}
		extendBox(current.BoundingBox, r.Box)
	}
	if current != nil {
		articles = append(articles, *current)
	}

	for i := range articles {
		articles[i].ArticleNumber = i + 1
		articles[i].WordCount = len(strings.Fields(articles[i].Content))
	}
	return articles
}

func (s *Segmenter) startsArticle(r archive.LayoutRegion) bool {
	return r.Heading && r.HeadingConfidence >= s.headingConfidenceMin
}

// readingOrder sorts top-to-bottom, then left-to-right, as reported by the
// layout hints.
func readingOrder(regions []archive.LayoutRegion) []archive.LayoutRegion {
	out := make([]archive.LayoutRegion, len(regions))
	copy(out, regions)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Box.Y != out[j].Box.Y {
			return out[i].Box.Y < out[j].Box.Y
		}
		return out[i].Box.X < out[j].Box.X
	})
	return out
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func rest(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return text[idx+1:]
	}
	return ""
}

func extendBox(dst *archive.BoundingBox, add archive.BoundingBox) {
	if dst == nil {
		return
	}
	right := max(dst.X+dst.Width, add.X+add.Width)
	bottom := max(dst.Y+dst.Height, add.Y+add.Height)
	if add.X < dst.X {
		dst.X = add.X
	}
	if add.Y < dst.Y {
		dst.Y = add.Y
	}
	dst.Width = right - dst.X
	dst.Height = bottom - dst.Y
}
