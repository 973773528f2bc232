package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediascope/mediascope/internal/archive"
)

func newTestRecognizer(t *testing.T, handler http.HandlerFunc) *Recognizer {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Endpoint: srv.URL, Model: "vision-1", APIKey: "secret", Timeout: 5 * time.Second})
}

func TestRecognizeParsesRegions(t *testing.T) {
	image := []byte("page image bytes")
	recognizer := newTestRecognizer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			MimeType string `json:"mime_type"`
			Image    string `json:"image"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "vision-1", req.Model)
		require.Equal(t, "image/jpeg", req.MimeType)
		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		require.Equal(t, image, decoded)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"text": "COAL STRIKE\nThe miners remained out.",
			"regions": []map[string]any{
				{
					"text": "COAL STRIKE", "heading": true, "heading_confidence": 0.93,
					"box": map[string]int{"x": 10, "y": 5, "width": 300, "height": 40},
				},
				{
					"text": "The miners remained out.",
					"box":  map[string]int{"x": 10, "y": 50, "width": 300, "height": 120},
				},
			},
		})
	})

	page, err := recognizer.Recognize(context.Background(), image)
	require.NoError(t, err)
	require.Equal(t, "COAL STRIKE\nThe miners remained out.", page.Text)
	require.Len(t, page.Regions, 2)
	require.True(t, page.Regions[0].Heading)
	require.InDelta(t, 0.93, page.Regions[0].HeadingConfidence, 1e-9)
	require.Equal(t, archive.BoundingBox{X: 10, Y: 5, Width: 300, Height: 40}, page.Regions[0].Box)
}

func TestRecognizeEmptyImageIsPermanent(t *testing.T) {
	recognizer := New(Config{Endpoint: "http://unused", Model: "vision-1"})
	_, err := recognizer.Recognize(context.Background(), nil)
	require.Error(t, err)
	require.True(t, archive.IsPermanent(err))
}

func TestRecognizeClassifiesHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   archive.ErrorKind
	}{
		{http.StatusTooManyRequests, archive.KindRateLimited},
		{http.StatusBadRequest, archive.KindPermanent},
		{http.StatusBadGateway, archive.KindTransient},
	}
	for _, tc := range cases {
		recognizer := newTestRecognizer(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := recognizer.Recognize(context.Background(), []byte("img"))
		require.Error(t, err)
		require.Equal(t, tc.kind, archive.ErrorKindOf(err), "status %d", tc.status)
	}
}

func TestRecognizeMalformedResponseIsTransient(t *testing.T) {
	recognizer := newTestRecognizer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})
	_, err := recognizer.Recognize(context.Background(), []byte("img"))
	require.Error(t, err)
	require.Equal(t, archive.KindTransient, archive.ErrorKindOf(err))
}

func TestRecognizeContextCancellation(t *testing.T) {
	recognizer := newTestRecognizer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := recognizer.Recognize(ctx, []byte("img"))
	require.ErrorIs(t, err, context.Canceled)
}
