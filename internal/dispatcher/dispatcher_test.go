package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mediascope/mediascope/internal/archive"
	blobmemory "github.com/mediascope/mediascope/internal/blob/memory"
	"github.com/mediascope/mediascope/internal/clock/system"
	"github.com/mediascope/mediascope/internal/enrich"
	"github.com/mediascope/mediascope/internal/hash/sha256"
	"github.com/mediascope/mediascope/internal/metadata"
	queuememory "github.com/mediascope/mediascope/internal/queue/memory"
	"github.com/mediascope/mediascope/internal/segment"
	storememory "github.com/mediascope/mediascope/internal/store/memory"
	"github.com/mediascope/mediascope/internal/worker"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%02d", g.n), nil
}

type passthroughPre struct{}

func (passthroughPre) Normalize(_ context.Context, raw []byte) (archive.NormalizedImage, error) {
	return archive.NormalizedImage{Original: raw, Normalized: raw, ContentType: "image/jpeg"}, nil
}

type staticRecognizer struct{}

func (staticRecognizer) Recognize(_ context.Context, _ []byte) (archive.RecognizedPage, error) {
	return archive.RecognizedPage{
		Text: "COAL STRIKE\nThe miners remained out.",
		Regions: []archive.LayoutRegion{
			{Text: "COAL STRIKE", Heading: true, HeadingConfidence: 0.9, Box: archive.BoundingBox{Width: 10, Height: 10}},
			{Text: "The miners remained out.", Box: archive.BoundingBox{Y: 20, Width: 10, Height: 10}},
		},
	}, nil
}

type neutralExtractor struct{}

func (neutralExtractor) Extract(_ context.Context, _ string) ([]archive.EntityMention, error) {
	return nil, nil
}

type neutralClassifier struct{}

func (neutralClassifier) Classify(_ context.Context, _ string) (float64, error) {
	return 0, nil
}

type openGate struct{}

func (openGate) Wait(_ context.Context, _ string) error { return nil }
func (openGate) Freeze(_ string, _ time.Duration)       {}

func newTestWorkers(t *testing.T, queue archive.Queue, items *storememory.ItemStore, blobs archive.BlobStore, count int) []*worker.Worker {
	t.Helper()
	store := storememory.NewArchiveStore()
	ids := &seqIDs{}
	retry := archive.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
	enricher := enrich.New(neutralExtractor{}, neutralClassifier{}, openGate{}, retry, ids,
		enrich.Config{Parallelism: 1, Thresholds: archive.SentimentThresholds{Positive: 0.1, Negative: -0.1}}, nil)

	workers := make([]*worker.Worker, 0, count)
	for i := 0; i < count; i++ {
		workers = append(workers, worker.New(worker.Deps{
			Queue:      queue,
			Items:      items,
			Store:      store,
			Blobs:      blobs,
			Hasher:     sha256.New(),
			Clock:      system.New(),
			IDGen:      ids,
			Pre:        passthroughPre{},
			Recognizer: staticRecognizer{},
			Gate:       openGate{},
			Retry:      retry,
			Resolver:   metadata.New(),
			Segmenter:  segment.New(segment.Config{}),
			Enricher:   enricher,
		}, worker.Config{}, nil))
	}
	return workers
}

func seedItem(t *testing.T, items *storememory.ItemStore, blobs archive.BlobStore, id, filename string) {
	t.Helper()
	uri, err := blobs.PutObject(context.Background(), "uploads/"+id+".jpg", "image/jpeg", strings.NewReader("raw"))
	require.NoError(t, err)
	require.NoError(t, items.CreateItem(context.Background(), archive.Item{
		ID:        id,
		Filename:  filename,
		ImageRef:  uri,
		Status:    archive.ItemStatusUploaded,
		Submitted: time.Now().UTC(),
	}))
}

func TestDispatcherDrainsQueue(t *testing.T) {
	queue := queuememory.NewQueue(8)
	t.Cleanup(queue.Close)
	items := storememory.NewItemStore()

	blobs := blobmemory.NewBlobStore()
	workers := newTestWorkers(t, queue, items, blobs, 2)
	d := New(queue, workers)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	ids := map[string]string{
		"item-1": "scan_1920-06-01.jpg",
		"item-2": "scan_1920-06-02.jpg",
		"item-3": "scan_1920-06-03.jpg",
	}
	for id, filename := range ids {
		seedItem(t, items, blobs, id, filename)
		require.NoError(t, d.Enqueue(ctx, archive.QueueItem{ItemID: id}))
	}

	require.Eventually(t, func() bool {
		for id := range ids {
			item, err := items.GetItem(context.Background(), id)
			if err != nil || item.Status != archive.ItemStatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after cancellation")
	}
}

func TestEnqueueWrapsQueueErrors(t *testing.T) {
	queue := queuememory.NewQueue(0)
	t.Cleanup(queue.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(queue, nil)
	err := d.Enqueue(ctx, archive.QueueItem{ItemID: "item-1"})
	require.ErrorContains(t, err, "queue enqueue")
	require.ErrorIs(t, err, context.Canceled)
}
