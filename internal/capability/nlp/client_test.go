package nlp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/mediascope/mediascope/internal/archive"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "secret", Timeout: 5 * time.Second})
}

func TestExtractorParsesMentions(t *testing.T) {
	var gotAuth, gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path

		var req struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "Lloyd George spoke in London.", req.Text)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"entities": []map[string]any{
				{"text": "Lloyd George", "type": "PERSON", "start_char": 0, "end_char": 12, "confidence": 0.97},
				{"text": "London", "type": "GPE", "start_char": 22, "end_char": 28, "confidence": 0.94},
			},
		})
	})

	mentions, err := NewExtractor(client).Extract(context.Background(), "Lloyd George spoke in London.")
	require.NoError(t, err)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "/v1/entities", gotPath)
	require.Len(t, mentions, 2)
	require.Equal(t, archive.EntityMention{Text: "Lloyd George", Type: "PERSON", EndChar: 12, Confidence: 0.97}, mentions[0])
}

func TestExtractorEmptyTextSkipsCall(t *testing.T) {
	called := false
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) { called = true })

	mentions, err := NewExtractor(client).Extract(context.Background(), "")
	require.NoError(t, err)
	require.Nil(t, mentions)
	require.False(t, called)
}

func TestExtractorClassifiesHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   archive.ErrorKind
	}{
		{http.StatusTooManyRequests, archive.KindRateLimited},
		{http.StatusUnprocessableEntity, archive.KindPermanent},
		{http.StatusInternalServerError, archive.KindTransient},
	}
	for _, tc := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := NewExtractor(client).Extract(context.Background(), "some text")
		require.Error(t, err)
		require.Equal(t, tc.kind, archive.ErrorKindOf(err), "status %d", tc.status)
	}
}

func TestExtractorContextCancellationPassesThrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(client).Extract(ctx, "some text")
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, archive.IsRateLimited(err))
}

func TestClassifierScoresText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/sentiment", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": -0.42})
	})

	score, err := NewClassifier(client).Classify(context.Background(), "the strike dragged on")
	require.NoError(t, err)
	require.InDelta(t, -0.42, score, 1e-9)
}

func TestClassifierTruncatesLongText(t *testing.T) {
	var gotLen int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotLen = len(req.Text)
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": 0})
	})

	_, err := NewClassifier(client).Classify(context.Background(), strings.Repeat("a", 5000))
	require.NoError(t, err)
	require.Equal(t, sentimentMaxChars, gotLen)
}

func TestClassifierTruncatesOnRuneBoundary(t *testing.T) {
	var got string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got = req.Text
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": 0})
	})

	// 400 three-byte runes put the byte limit mid-rune.
	_, err := NewClassifier(client).Classify(context.Background(), strings.Repeat("世", 400))
	require.NoError(t, err)
	require.True(t, utf8.ValidString(got))
	require.LessOrEqual(t, len(got), sentimentMaxChars)
	require.Equal(t, sentimentMaxChars-1, len(got))
}

func TestClassifierRejectsOutOfRangeScore(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]float64{"score": 3.5})
	})

	_, err := NewClassifier(client).Classify(context.Background(), "text")
	require.Error(t, err)
	require.True(t, archive.IsPermanent(err))
}

func TestAssignerRoundtrip(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/topics", r.URL.Path)

		var req struct {
			Documents []struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			} `json:"documents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Documents, 2)
		require.Equal(t, "art-1", req.Documents[0].ID)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"topics": []map[string]any{
				{"id": 1, "name": "industry", "keywords": []string{"coal", "strike"}},
			},
			"assignments": map[string]int{"art-1": 1},
		})
	})

	batch, err := NewAssigner(client).AssignTopics(context.Background(), []archive.TopicDocument{
		{ArticleID: "art-1", Text: "coal strike"},
		{ArticleID: "art-2", Text: "harvest"},
	})
	require.NoError(t, err)
	require.Len(t, batch.Topics, 1)
	require.Equal(t, "industry", batch.Topics[0].Name)
	require.Equal(t, map[string]int{"art-1": 1}, batch.Assignments)
}

func TestAssignerNilAssignmentsBecomeEmptyMap(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"topics": []any{}})
	})

	batch, err := NewAssigner(client).AssignTopics(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, batch.Assignments)
	require.Empty(t, batch.Assignments)
}
