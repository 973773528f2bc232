package nlp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mediascope/mediascope/internal/archive"
)

// Extractor implements archive.EntityExtractor over the sidecar's NER
// endpoint.
type Extractor struct {
	client *Client
}

var _ archive.EntityExtractor = (*Extractor)(nil)

// NewExtractor wires the shared client.
func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

type entitiesRequest struct {
	Text string `json:"text"`
}

type entitiesResponse struct {
	Entities []struct {
		Text       string  `json:"text"`
		Type       string  `json:"type"`
		StartChar  int     `json:"start_char"`
		EndChar    int     `json:"end_char"`
		Confidence float64 `json:"confidence"`
	} `json:"entities"`
}

// Extract lists named mentions in the text.
func (e *Extractor) Extract(ctx context.Context, text string) ([]archive.EntityMention, error) {
	if text == "" {
		return nil, nil
	}
	var out entitiesResponse
	err := e.client.post(ctx, e.client.httpClient, "/v1/entities", entitiesRequest{Text: text}, &out)
	if err != nil {
		return nil, classify("entity-extraction", ctx, err)
	}
	mentions := make([]archive.EntityMention, 0, len(out.Entities))
	for _, ent := range out.Entities {
		mentions = append(mentions, archive.EntityMention{
			Text:       ent.Text,
			Type:       ent.Type,
			StartChar:  ent.StartChar,
			EndChar:    ent.EndChar,
			Confidence: ent.Confidence,
		})
	}
	return mentions, nil
}

// classify folds an HTTP-layer failure into the three-way capability error
// taxonomy. Context endings pass through untouched so retry policies can
// distinguish caller cancellation from upstream trouble.
func classify(capability string, ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s call: %w", capability, ctx.Err())
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return archive.NewCapabilityError(capability, archive.ClassifyHTTPStatus(statusErr.status), err)
	}
	return archive.NewCapabilityError(capability, archive.KindTransient, err)
}
