package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/analytics"
	"github.com/mediascope/mediascope/internal/archive"
	"github.com/mediascope/mediascope/internal/config"
	"github.com/mediascope/mediascope/internal/dispatcher"
	"github.com/mediascope/mediascope/internal/enrich"
	"github.com/mediascope/mediascope/internal/topics"
)

const (
	maxUploadBytes = 64 << 20
	enqueueTimeout = 5 * time.Second
	dateLayout     = "2006-01-02"
)

// Deps bundles the collaborators the Server needs.
type Deps struct {
	Items      archive.ItemStore
	Store      archive.Store
	Blobs      archive.BlobStore
	Dispatcher *dispatcher.Dispatcher
	Engine     *analytics.Engine
	Topics     *topics.Assigner
	Enricher   *enrich.Coordinator
	IDGen      archive.IDGenerator
	Clock      archive.Clock
	// Metrics serves GET /metrics; usually promhttp.Handler().
	Metrics http.Handler
	// Ready reports downstream readiness for GET /readyz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/items", func(r chi.Router) {
			r.Post("/", s.uploadItem)
			r.Post("/bulk", s.uploadBulk)
			r.Route("/{item_id}", func(r chi.Router) {
				r.Post("/process", s.processItem)
				r.Get("/status", s.itemStatus)
				r.Post("/cancel", s.cancelItem)
			})
		})
		r.Route("/newspapers/{newspaper_id}", func(r chi.Router) {
			r.Get("/", s.getNewspaper)
			r.Delete("/", s.deleteNewspaper)
			r.Get("/articles", s.listArticles)
			r.Post("/date", s.correctDate)
		})
		r.Route("/topics", func(r chi.Router) {
			r.Get("/", s.listTopics)
			r.Post("/rebuild", s.rebuildTopics)
		})
		r.Post("/enrichment/retry", s.retryEnrichment)
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/frequency", s.frequency)
			r.Get("/cooccurrence", s.cooccurrence)
			r.Get("/topics", s.topicDistribution)
			r.Get("/sentiment", s.sentiment)
			r.Get("/top-entities", s.topEntities)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// uploadItem accepts one page image as multipart field "image" and registers
// it in uploaded state. Processing starts only on an explicit process call.
func (s *Server) uploadItem(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file is required")
		return
	}
	defer func() { _ = file.Close() }()

	item, err := s.registerUpload(r.Context(), file, header)
	if err != nil {
		s.logger.Error("upload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"item_id": item.ID,
		"status":  string(item.Status),
	})
}

// uploadBulk accepts many page images under the multipart field "images".
// Files are registered independently; one bad file does not reject the rest.
func (s *Server) uploadBulk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if r.MultipartForm == nil {
		writeError(w, http.StatusBadRequest, "images are required")
		return
	}
	files := r.MultipartForm.File["images"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "images are required")
		return
	}
	if len(files) > s.cfg.Pipeline.BulkMaxItems {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("too many files: limit is %d", s.cfg.Pipeline.BulkMaxItems))
		return
	}

	type bulkResult struct {
		Filename string `json:"filename"`
		ItemID   string `json:"item_id,omitempty"`
		Error    string `json:"error,omitempty"`
	}
	results := make([]bulkResult, 0, len(files))
	for _, header := range files {
		res := bulkResult{Filename: header.Filename}
		file, err := header.Open()
		if err != nil {
			res.Error = "unreadable file"
			results = append(results, res)
			continue
		}
		item, err := s.registerUpload(r.Context(), file, header)
		_ = file.Close()
		if err != nil {
			s.logger.Warn("bulk upload entry failed",
				zap.String("filename", header.Filename), zap.Error(err))
			res.Error = "upload failed"
		} else {
			res.ItemID = item.ID
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": results})
}

func (s *Server) registerUpload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (archive.Item, error) {
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return archive.Item{}, fmt.Errorf("read upload: %w", err)
	}
	itemID, err := s.deps.IDGen.NewID()
	if err != nil {
		return archive.Item{}, fmt.Errorf("generate item id: %w", err)
	}
	path := fmt.Sprintf("originals/%s/%s", itemID, header.Filename)
	uri, err := s.deps.Blobs.PutObject(ctx, path, header.Header.Get("Content-Type"), bytes.NewReader(data))
	if err != nil {
		return archive.Item{}, fmt.Errorf("store original: %w", err)
	}
	item := archive.Item{
		ID:        itemID,
		Filename:  header.Filename,
		ImageRef:  uri,
		Status:    archive.ItemStatusUploaded,
		Submitted: s.deps.Clock.Now(),
	}
	if err := s.deps.Items.CreateItem(ctx, item); err != nil {
		return archive.Item{}, fmt.Errorf("create item: %w", err)
	}
	return item, nil
}

type processRequest struct {
	// PublicationDate, when present, overrides date resolution for this run.
	PublicationDate string `json:"publication_date"`
}

// processItem enqueues an uploaded (or previously finished) item for a
// pipeline run. Items already processing are rejected.
func (s *Server) processItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	item, err := s.deps.Items.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if item.Status == archive.ItemStatusProcessing {
		writeError(w, http.StatusConflict, "item is already processing")
		return
	}

	var req processRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.PublicationDate != "" {
		date, err := time.Parse(dateLayout, req.PublicationDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "publication_date must be YYYY-MM-DD")
			return
		}
		if err := s.deps.Items.UpdateItem(r.Context(), itemID, archive.ItemUpdate{ManualDate: &date}); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to record manual date")
			return
		}
	}

	queueCtx, cancel := context.WithTimeout(r.Context(), enqueueTimeout)
	defer cancel()
	qi := archive.QueueItem{
		ItemID:    itemID,
		Attempt:   1,
		Submitted: s.deps.Clock.Now().Unix(),
	}
	if err := s.deps.Dispatcher.Enqueue(queueCtx, qi); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "enqueue failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"item_id": itemID, "status": "queued"})
}

func (s *Server) itemStatus(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	item, err := s.deps.Items.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

// cancelItem requests cooperative cancellation; the worker honors it at the
// next stage boundary. Terminal items cannot be cancelled.
func (s *Server) cancelItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	item, err := s.deps.Items.GetItem(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	switch item.Status {
	case archive.ItemStatusCompleted, archive.ItemStatusFailed:
		writeError(w, http.StatusConflict, "item already finished")
		return
	}
	if err := s.deps.Items.RequestCancel(r.Context(), itemID); err != nil {
		writeError(w, http.StatusInternalServerError, "cancel failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"item_id": itemID, "status": "cancel_requested"})
}

func (s *Server) getNewspaper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "newspaper_id")
	paper, err := s.deps.Store.GetNewspaper(r.Context(), id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "newspaper not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"newspaper": paper})
}

func (s *Server) deleteNewspaper(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "newspaper_id")
	if err := s.deps.Store.DeleteNewspaper(r.Context(), id); err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "newspaper not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"newspaper_id": id, "status": "deleted"})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "newspaper_id")
	articles, err := s.deps.Store.ListArticles(r.Context(), id)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "newspaper not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": articles})
}

type correctDateRequest struct {
	Date string `json:"date"`
}

// correctDate sets a manual publication date and cascades it to the
// newspaper's articles.
func (s *Server) correctDate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "newspaper_id")
	var req correctDateRequest
	if err := decodeJSON(r, &req); err != nil || req.Date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	if err := s.deps.Store.CorrectPublicationDate(r.Context(), id, date); err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			writeError(w, http.StatusNotFound, "newspaper not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"newspaper_id": id,
		"date":         date.Format(dateLayout),
	})
}

func (s *Server) listTopics(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Store.ListTopics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list topics failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": list})
}

// rebuildTopics reclusters the whole corpus synchronously. The batch call can
// run for minutes, so the handler bypasses the router timeout budget via the
// assigner's own context handling.
func (s *Server) rebuildTopics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Topics == nil {
		writeError(w, http.StatusServiceUnavailable, "topic assignment not configured")
		return
	}
	result, err := s.deps.Topics.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("topic rebuild failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "topic rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// retryEnrichment re-runs enrichment for articles flagged pending.
func (s *Server) retryEnrichment(w http.ResponseWriter, r *http.Request) {
	if s.deps.Enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment not configured")
		return
	}
	limit := queryInt(r, "limit", 100)
	updated, err := s.deps.Enricher.Reenrich(r.Context(), s.deps.Store, limit)
	if err != nil {
		s.logger.Error("enrichment retry failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "enrichment retry failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}
