package nlp

import (
	"context"

	"github.com/mediascope/mediascope/internal/archive"
)

// Assigner implements archive.TopicAssigner over the sidecar's batch
// clustering endpoint.
type Assigner struct {
	client *Client
}

var _ archive.TopicAssigner = (*Assigner)(nil)

// NewAssigner wires the shared client.
func NewAssigner(client *Client) *Assigner {
	return &Assigner{client: client}
}

type topicsRequest struct {
	Documents []topicDocument `json:"documents"`
}

type topicDocument struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type topicsResponse struct {
	Topics []struct {
		ID       int      `json:"id"`
		Name     string   `json:"name"`
		Keywords []string `json:"keywords"`
	} `json:"topics"`
	Assignments map[string]int `json:"assignments"`
}

// AssignTopics clusters the whole corpus in one call. Uses the long-call
// HTTP client since clustering scales with corpus size.
func (a *Assigner) AssignTopics(ctx context.Context, corpus []archive.TopicDocument) (archive.TopicBatch, error) {
	docs := make([]topicDocument, 0, len(corpus))
	for _, d := range corpus {
		docs = append(docs, topicDocument{ID: d.ArticleID, Text: d.Text})
	}
	var out topicsResponse
	err := a.client.post(ctx, a.client.topicHTTP, "/v1/topics", topicsRequest{Documents: docs}, &out)
	if err != nil {
		return archive.TopicBatch{}, classify("topic-assignment", ctx, err)
	}

	batch := archive.TopicBatch{Assignments: out.Assignments}
	if batch.Assignments == nil {
		batch.Assignments = map[string]int{}
	}
	for _, t := range out.Topics {
		batch.Topics = append(batch.Topics, archive.TopicDefinition{
			ID:       t.ID,
			Name:     t.Name,
			Keywords: t.Keywords,
		})
	}
	return batch, nil
}
