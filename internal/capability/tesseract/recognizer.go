// Package tesseract provides a local OCR-backed text-recognition capability
// for offline runs, using the Tesseract engine.
package tesseract

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/mediascope/mediascope/internal/archive"
)

const capabilityName = "text-recognition"

// Recognizer implements archive.TextRecognizer with a local Tesseract
// engine. Tesseract reports no layout-region geometry here, so regions are
// synthesized from paragraph breaks with heuristic heading detection.
type Recognizer struct {
	language string

	// gosseract clients are not safe for concurrent use.
	mu sync.Mutex
}

var _ archive.TextRecognizer = (*Recognizer)(nil)

// Config tunes the local engine.
type Config struct {
	Language string
}

// New constructs a Recognizer.
func New(cfg Config) *Recognizer {
	lang := cfg.Language
	if lang == "" {
		lang = "eng"
	}
	return &Recognizer{language: lang}
}

// Recognize runs OCR over the page image.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) (archive.RecognizedPage, error) {
	if err := ctx.Err(); err != nil {
		return archive.RecognizedPage{}, fmt.Errorf("recognize: %w", err)
	}
	if len(image) == 0 {
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindPermanent, fmt.Errorf("empty image"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(r.language); err != nil {
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindPermanent, fmt.Errorf("set language: %w", err))
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindPermanent, fmt.Errorf("set image: %w", err))
	}
	text, err := client.Text()
	if err != nil {
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindTransient, fmt.Errorf("ocr: %w", err))
	}

	return archive.RecognizedPage{
		Text:    text,
		Regions: regionsFromText(text),
	}, nil
}

// regionsFromText splits OCR output into paragraph regions. Short, mostly
// uppercase single-line paragraphs are flagged as probable headlines. The Y
// coordinate preserves paragraph order so the segmenter's reading-order sort
// is stable.
func regionsFromText(text string) []archive.LayoutRegion {
	paragraphs := strings.Split(text, "\n\n")
	var regions []archive.LayoutRegion
	y := 0
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		heading, confidence := headingLikelihood(p)
		regions = append(regions, archive.LayoutRegion{
			Text:              p,
			Heading:           heading,
			HeadingConfidence: confidence,
			Box:               archive.BoundingBox{X: 0, Y: y, Width: 1000, Height: 10},
		})
		y += 10
	}
	return regions
}

func headingLikelihood(paragraph string) (bool, float64) {
	if strings.Contains(paragraph, "\n") || len(paragraph) > 80 {
		return false, 0
	}
	letters, upper := 0, 0
	for _, r := range paragraph {
		if r >= 'a' && r <= 'z' {
			letters++
		}
		if r >= 'A' && r <= 'Z' {
			letters++
			upper++
		}
	}
	if letters == 0 {
		return false, 0
	}
	ratio := float64(upper) / float64(letters)
	if ratio >= 0.7 {
		return true, ratio
	}
	return false, ratio
}
