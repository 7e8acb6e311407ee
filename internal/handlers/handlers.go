// Package handlers serves the plain-text search endpoint used by the bundled
// web page.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/AvengeMedia/dankseek/internal/log"
	"github.com/AvengeMedia/dankseek/internal/model"
)

// MaxQueryBytes bounds the request body of a raw search.
const MaxQueryBytes = 64 * 1024

type Searcher interface {
	Top(ctx context.Context, query string, n int) ([]model.Result, error)
}

type Handler struct {
	searcher Searcher
	limit    int
}

// New returns a Handler answering with at most limit results.
func New(searcher Searcher, limit int) *Handler {
	return &Handler{
		searcher: searcher,
		limit:    limit,
	}
}

// SearchRaw ranks the request body as a query and writes the top results as
// a JSON array of [path, score] pairs.
func (h *Handler) SearchRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxQueryBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "query too large", http.StatusRequestEntityTooLarge)
			return
		}
		log.Errorf("could not read search body: %v", err)
		http.Error(w, "500", http.StatusInternalServerError)
		return
	}
	if !utf8.Valid(body) {
		http.Error(w, "query must be valid UTF-8", http.StatusBadRequest)
		return
	}

	query := string(body)
	log.Debugf("search query: %q", query)

	results, err := h.searcher.Top(r.Context(), query, h.limit)
	if err != nil {
		log.Errorf("search failed: %v", err)
		http.Error(w, "500", http.StatusInternalServerError)
		return
	}

	for _, res := range results {
		log.Debugf("%s | rank: %g", res.Path, res.Score)
	}

	if results == nil {
		results = []model.Result{}
	}

	data, err := json.Marshal(results)
	if err != nil {
		log.Errorf("could not encode search results: %v", err)
		http.Error(w, "500", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Debugf("could not write search response: %v", err)
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		log.Debugf("could not write health response: %v", err)
	}
}
