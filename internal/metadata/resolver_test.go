package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediascope/mediascope/internal/archive"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestResolveManualWins(t *testing.T) {
	t.Parallel()

	manual := time.Date(1922, time.March, 4, 13, 45, 0, 0, time.UTC)
	res, ok := New().Resolve(Input{
		Filename:       "tribune_1930-01-01_p2.jpg",
		RecognizedText: "Published January 1, 1931",
		Manual:         &manual,
	})
	require.True(t, ok)
	require.Equal(t, archive.DateSourceManual, res.Source)
	require.Equal(t, date(1922, time.March, 4), res.Date)
}

func TestResolveFilenamePatterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		filename string
		want     time.Time
	}{
		{"iso dashes", "herald_1905-07-19_page3.png", date(1905, time.July, 19)},
		{"underscores", "scan_1918_11_11.tiff", date(1918, time.November, 11)},
		{"day first", "gazette-25-12-1899.jpg", date(1899, time.December, 25)},
		{"compact", "19230601_morning_edition.jpg", date(1923, time.June, 1)},
	}
	r := New()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, ok := r.Resolve(Input{Filename: tc.filename})
			require.True(t, ok, "expected a filename date for %s", tc.filename)
			require.Equal(t, archive.DateSourceFilename, res.Source)
			require.Equal(t, tc.want, res.Date)
		})
	}
}

func TestResolveFilenameRejectsImplausibleYear(t *testing.T) {
	t.Parallel()

	_, ok := New().Resolve(Input{Filename: "scan_0001-01-01.jpg"})
	require.False(t, ok)
}

func TestResolveRecognizedText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		text string
		want time.Time
	}{
		{"month day year", "THE DAILY HERALD\nSaturday, June 14, 1913\nPrice 2d", date(1913, time.June, 14)},
		{"day month year", "EVENING STANDARD 3 October 1921", date(1921, time.October, 3)},
		{"iso in text", "archival ref 1950-02-28 box 12", date(1950, time.February, 28)},
	}
	r := New()
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res, ok := r.Resolve(Input{Filename: "scan.jpg", RecognizedText: tc.text})
			require.True(t, ok)
			require.Equal(t, archive.DateSourceRecognized, res.Source)
			require.Equal(t, tc.want, res.Date)
		})
	}
}

func TestResolveRejectsRolloverDates(t *testing.T) {
	t.Parallel()

	_, ok := New().Resolve(Input{Filename: "scan.jpg", RecognizedText: "February 30, 1920"})
	require.False(t, ok)
}

func TestResolveExhaustedChain(t *testing.T) {
	t.Parallel()

	_, ok := New().Resolve(Input{Filename: "frontpage.jpg", RecognizedText: "no dates here"})
	require.False(t, ok)
}

func TestPageNumber(t *testing.T) {
	t.Parallel()

	r := New()
	require.Equal(t, 7, r.PageNumber(Input{Filename: "herald_1905-07-19_page7.png"}))
	require.Equal(t, 12, r.PageNumber(Input{Filename: "herald_pg_12.png"}))
	require.Equal(t, 4, r.PageNumber(Input{Filename: "scan.jpg", RecognizedText: "continued on Page 4"}))
	require.Equal(t, 1, r.PageNumber(Input{Filename: "scan.jpg", RecognizedText: "no ordinal"}))
}
