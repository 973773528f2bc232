package nlp

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/mediascope/mediascope/internal/archive"
)

// The classifier truncates long articles the same way the backing model
// does, keeping scores stable across reprocessing.
const sentimentMaxChars = 1000

// Classifier implements archive.SentimentClassifier over the sidecar's
// sentiment endpoint.
type Classifier struct {
	client *Client
}

var _ archive.SentimentClassifier = (*Classifier)(nil)

// NewClassifier wires the shared client.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

type sentimentRequest struct {
	Text string `json:"text"`
}

type sentimentResponse struct {
	Score float64 `json:"score"`
}

// Classify scores the text in [-1, 1].
func (c *Classifier) Classify(ctx context.Context, text string) (float64, error) {
	text = truncate(text, sentimentMaxChars)
	var out sentimentResponse
	err := c.client.post(ctx, c.client.httpClient, "/v1/sentiment", sentimentRequest{Text: text}, &out)
	if err != nil {
		return 0, classify("sentiment-classification", ctx, err)
	}
	if out.Score < -1 || out.Score > 1 {
		return 0, archive.NewCapabilityError(
			"sentiment-classification",
			archive.KindPermanent,
			fmt.Errorf("score %f outside [-1,1]", out.Score),
		)
	}
	return out.Score, nil
}

// truncate cuts text to at most n bytes without splitting a rune.
func truncate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}
