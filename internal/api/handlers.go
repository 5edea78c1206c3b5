package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/intake"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

type scrapeURL struct {
	URL      string  `json:"url"`
	Selector *string `json:"selector"`
	UseCache *bool   `json:"use_cache"`
}

type scrapeRequest struct {
	URLs    []scrapeURL `json:"urls"`
	Stealth bool        `json:"stealth"`
	Timeout *int        `json:"timeout"`
}

type scrapeResponse struct {
	RequestIDs []string `json:"request_ids"`
}

type responseURL struct {
	URL      string  `json:"url"`
	Selector *string `json:"selector,omitempty"`
}

type resultResponse struct {
	RequestID   string      `json:"request_id"`
	URL         responseURL `json:"url"`
	ProcessedAt *time.Time  `json:"processed_at"`
	Content     *string     `json:"content"`
	Errors      *string     `json:"errors"`
	Processed   bool        `json:"processed"`
	Selector    *string     `json:"selector"`
}

func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	batch, err := toBatch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := s.service.Submit(r.Context(), batch)
	if err != nil {
		if intake.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("scrape submission failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit scrape request")
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{RequestIDs: ids})
}

func toBatch(req scrapeRequest) (intake.Batch, error) {
	batch := intake.Batch{
		Items:   make([]intake.Item, len(req.URLs)),
		Stealth: req.Stealth,
	}
	if req.Timeout != nil {
		if *req.Timeout <= 0 {
			return intake.Batch{}, &intake.ValidationError{Field: "timeout", Reason: "must be positive"}
		}
		batch.TimeoutMs = *req.Timeout
	}
	for i, u := range req.URLs {
		item := intake.Item{URL: u.URL, UseCache: true}
		if u.Selector != nil {
			item.Selector = *u.Selector
		}
		if u.UseCache != nil {
			item.UseCache = *u.UseCache
		}
		batch.Items[i] = item
	}
	return batch, nil
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "request_id")
	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()

	rec, err := s.service.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, scrape.ErrNotFound) {
			s.logger.Warn("result not found", zap.String("request_id", id))
			writeError(w, http.StatusNotFound, "Result not found")
			return
		}
		s.logger.Error("result lookup failed", zap.String("request_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load result")
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(rec))
}

func toResultResponse(rec scrape.Result) resultResponse {
	var selector *string
	if rec.Selector != "" {
		selector = scrape.StringPtr(rec.Selector)
	}
	return resultResponse{
		RequestID:   rec.RequestID,
		URL:         responseURL{URL: rec.URL, Selector: selector},
		ProcessedAt: rec.ProcessedAt,
		Content:     rec.Content,
		Errors:      rec.Errors,
		Processed:   rec.Processed,
		Selector:    selector,
	}
}
