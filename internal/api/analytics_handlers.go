package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediascope/mediascope/internal/analytics"
	"github.com/mediascope/mediascope/internal/archive"
)

// frequency handles GET /v1/analytics/frequency?keyword=|entity=&granularity=&start=&end=.
func (s *Server) frequency(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	entity := strings.TrimSpace(r.URL.Query().Get("entity"))
	if (keyword == "") == (entity == "") {
		writeError(w, http.StatusBadRequest, "exactly one of keyword or entity is required")
		return
	}
	granularity, ok := parseGranularity(r.URL.Query().Get("granularity"))
	if !ok {
		writeError(w, http.StatusBadRequest, "granularity must be day, month or year")
		return
	}
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := s.deps.Engine.Frequency(r.Context(), analytics.FrequencyRequest{
		Keyword:     keyword,
		Entity:      entity,
		Start:       start,
		End:         end,
		Granularity: granularity,
	})
	if err != nil {
		s.logger.Error("frequency query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "frequency query failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// cooccurrence handles GET /v1/analytics/cooccurrence?types=&min_count=&limit=&start=&end=.
func (s *Server) cooccurrence(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var types []archive.EntityType
	if raw := strings.TrimSpace(r.URL.Query().Get("types")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			types = append(types, archive.NormalizeEntityType(strings.ToUpper(strings.TrimSpace(part))))
		}
	}
	pairs, err := s.deps.Engine.Cooccurrence(r.Context(), analytics.CooccurrenceRequest{
		Types:    types,
		Start:    start,
		End:      end,
		MinCount: queryInt(r, "min_count", 2),
		Limit:    queryInt(r, "limit", 50),
	})
	if err != nil {
		s.logger.Error("cooccurrence query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "cooccurrence query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}

// topicDistribution handles GET /v1/analytics/topics?start=&end=.
func (s *Server) topicDistribution(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shares, err := s.deps.Engine.TopicDistribution(r.Context(), start, end)
	if err != nil {
		s.logger.Error("topic distribution query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "topic distribution query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": shares})
}

// sentiment handles GET /v1/analytics/sentiment?start=&end=.
func (s *Server) sentiment(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	overview, err := s.deps.Engine.Sentiment(r.Context(), start, end)
	if err != nil {
		s.logger.Error("sentiment query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "sentiment query failed")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// topEntities handles GET /v1/analytics/top-entities?type=&limit=&start=&end=.
func (s *Server) topEntities(w http.ResponseWriter, r *http.Request) {
	start, end, err := parseDateRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var entityType archive.EntityType
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		entityType = archive.NormalizeEntityType(strings.ToUpper(raw))
	}
	stats, err := s.deps.Engine.TopEntities(r.Context(), archive.TopEntitiesQuery{
		Type:  entityType,
		Start: start,
		End:   end,
		Limit: queryInt(r, "limit", 20),
	})
	if err != nil {
		s.logger.Error("top entities query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "top entities query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": stats})
}

func parseGranularity(raw string) (archive.Granularity, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "day":
		return archive.GranularityDay, true
	case "month":
		return archive.GranularityMonth, true
	case "year":
		return archive.GranularityYear, true
	default:
		return "", false
	}
}

func parseDateRange(r *http.Request) (time.Time, time.Time, error) {
	start, err := parseDateParam(r, "start")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseDateParam(r, "end")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

func parseDateParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, &paramError{name: name}
	}
	return t, nil
}

type paramError struct{ name string }

func (e *paramError) Error() string { return e.name + " must be YYYY-MM-DD" }

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
