// Package gemini adapts a hosted vision-model API into the text-recognition
// capability.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mediascope/mediascope/internal/archive"
)

const capabilityName = "text-recognition"

// Config holds the connection parameters for the vision endpoint.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// Recognizer implements archive.TextRecognizer over an HTTP vision model.
// It carries no business logic: it translates the pipeline's types into the
// model's request shape and classifies failures into the three error kinds.
type Recognizer struct {
	endpoint   string
	model      string
	apiKey     string
	httpClient *http.Client
}

var _ archive.TextRecognizer = (*Recognizer)(nil)

// New builds a Recognizer from configuration.
func New(cfg Config) *Recognizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Recognizer{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type request struct {
	Model    string `json:"model"`
	MimeType string `json:"mime_type"`
	Image    string `json:"image"`
}

type response struct {
	Text    string `json:"text"`
	Regions []struct {
		Text              string  `json:"text"`
		Heading           bool    `json:"heading"`
		HeadingConfidence float64 `json:"heading_confidence"`
		Box               struct {
			X      int `json:"x"`
			Y      int `json:"y"`
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"box"`
	} `json:"regions"`
}

// Recognize sends the page image for recognition and returns the text plus
// per-region layout hints.
func (r *Recognizer) Recognize(ctx context.Context, image []byte) (archive.RecognizedPage, error) {
	if len(image) == 0 {
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindPermanent, fmt.Errorf("empty image"))
	}

	body, err := json.Marshal(request{
		Model:    r.model,
		MimeType: "image/jpeg",
		Image:    base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return archive.RecognizedPage{}, fmt.Errorf("marshal recognition request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return archive.RecognizedPage{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return archive.RecognizedPage{}, fmt.Errorf("recognition call: %w", ctx.Err())
		}
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName,
			archive.ClassifyHTTPStatus(resp.StatusCode),
			fmt.Errorf("recognition error %s: %s", resp.Status, strings.TrimSpace(string(payload))),
		)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return archive.RecognizedPage{}, archive.NewCapabilityError(
			capabilityName, archive.KindTransient, fmt.Errorf("decode response: %w", err))
	}

	page := archive.RecognizedPage{Text: out.Text}
	for _, reg := range out.Regions {
		page.Regions = append(page.Regions, archive.LayoutRegion{
			Text:              reg.Text,
			Heading:           reg.Heading,
			HeadingConfidence: reg.HeadingConfidence,
			Box: archive.BoundingBox{
				X:      reg.Box.X,
				Y:      reg.Box.Y,
				Width:  reg.Box.Width,
				Height: reg.Box.Height,
			},
		})
	}
	return page, nil
}
