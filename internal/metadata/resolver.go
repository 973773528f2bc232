// Package metadata derives publication dates and page numbers for scanned
// pages using an ordered fallback chain.
package metadata

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mediascope/mediascope/internal/archive"
)

// Resolution is a successfully derived publication date tagged with the
// strategy that produced it.
type Resolution struct {
	Date   time.Time
	Source archive.DateSource
}

// Input carries everything the chain may consult.
type Input struct {
	Filename       string
	RecognizedText string
	// Manual, when set, short-circuits the chain with source "manual".
	Manual *time.Time
}

// Filename date layouts tried in order. Each pattern pairs a regexp with the
// time layout parsing its capture.
var filenamePatterns = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`(\d{4}-\d{2}-\d{2})`), "2006-01-02"},
	{regexp.MustCompile(`(\d{4}_\d{2}_\d{2})`), "2006_01_02"},
	{regexp.MustCompile(`(\d{2}-\d{2}-\d{4})`), "02-01-2006"},
	{regexp.MustCompile(`(\d{8})`), "20060102"},
}

// Date expressions recognized inside OCR text, tried in order.
var (
	textMonthDayYear = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2}),?\s+(\d{4})\b`)
	textDayMonthYear = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(January|February|March|April|May|June|July|August|September|October|November|December),?\s+(\d{4})\b`)
	textISO          = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)

	pageFromFilename = regexp.MustCompile(`(?i)(?:page|pg|p)[-_ ]?(\d{1,3})`)
	pageFromText     = regexp.MustCompile(`(?i)\bpage\s+(\d{1,3})\b`)
)

// Resolver runs the strategy chain. It is stateless: identical input always
// yields an identical resolution, which idempotent reprocessing relies on.
type Resolver struct{}

// New constructs a Resolver.
func New() *Resolver {
	return &Resolver{}
}

// Resolve applies the ordered chain, first success wins. The second return
// is false when every strategy failed and the newspaper must be flagged
// date_unresolved.
func (r *Resolver) Resolve(in Input) (Resolution, bool) {
	type strategy func(Input) (Resolution, bool)
	chain := []strategy{manualDate, filenameDate, recognizedTextDate}
	for _, s := range chain {
		if res, ok := s(in); ok {
			return res, true
		}
	}
	return Resolution{}, false
}

// PageNumber derives the page ordinal, preferring the filename, then the
// recognized text, defaulting to 1.
func (r *Resolver) PageNumber(in Input) int {
	if m := pageFromFilename.FindStringSubmatch(in.Filename); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := pageFromText.FindStringSubmatch(in.RecognizedText); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	return 1
}

func manualDate(in Input) (Resolution, bool) {
	if in.Manual == nil {
		return Resolution{}, false
	}
	return Resolution{Date: dateOnly(*in.Manual), Source: archive.DateSourceManual}, true
}

func filenameDate(in Input) (Resolution, bool) {
	name := strings.TrimSuffix(in.Filename, extension(in.Filename))
	for _, p := range filenamePatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		t, err := time.Parse(p.layout, m[1])
		if err != nil || !plausibleYear(t) {
			continue
		}
		return Resolution{Date: dateOnly(t), Source: archive.DateSourceFilename}, true
	}
	return Resolution{}, false
}

func recognizedTextDate(in Input) (Resolution, bool) {
	if m := textMonthDayYear.FindStringSubmatch(in.RecognizedText); m != nil {
		if t, ok := buildDate(m[3], m[1], m[2]); ok {
			return Resolution{Date: t, Source: archive.DateSourceRecognized}, true
		}
	}
	if m := textDayMonthYear.FindStringSubmatch(in.RecognizedText); m != nil {
		if t, ok := buildDate(m[3], m[2], m[1]); ok {
			return Resolution{Date: t, Source: archive.DateSourceRecognized}, true
		}
	}
	if m := textISO.FindStringSubmatch(in.RecognizedText); m != nil {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil && plausibleYear(t) {
			return Resolution{Date: dateOnly(t), Source: archive.DateSourceRecognized}, true
		}
	}
	return Resolution{}, false
}

func buildDate(yearStr, monthName, dayStr string) (time.Time, bool) {
	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dayStr)
	if err != nil {
		return time.Time{}, false
	}
	month, err := time.Parse("January", normalizeMonth(monthName))
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(year, month.Month(), day, 0, 0, 0, 0, time.UTC)
	// Reject rollovers like February 30 and implausible years.
	if t.Day() != day || !plausibleYear(t) {
		return time.Time{}, false
	}
	return t, true
}

func normalizeMonth(m string) string {
	if m == "" {
		return m
	}
	return strings.ToUpper(m[:1]) + strings.ToLower(m[1:])
}

func plausibleYear(t time.Time) bool {
	return t.Year() >= 1800 && t.Year() <= 2100
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func extension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[idx:]
}
