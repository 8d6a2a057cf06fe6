package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/amirhf/vibesearch/models"
	"github.com/amirhf/vibesearch/search"
)

const searchFailedMessage = "An error occurred during the search process."

type Handler struct {
	svc *search.Service
}

func NewHandler(svc *search.Service) *Handler {
	return &Handler{svc: svc}
}

// SearchGet serves GET /search?query=...&top_k=5.
func (h *Handler) SearchGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topK := search.DefaultTopK
	if raw := strings.TrimSpace(q.Get("top_k")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Top K must be a positive integer.")
			return
		}
		topK = n
	}
	h.search(w, r, q.Get("query"), topK)
}

// SearchPost serves POST /search with a JSON SearchRequest body.
func (h *Handler) SearchPost(w http.ResponseWriter, r *http.Request) {
	req := models.SearchRequest{TopK: search.DefaultTopK}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	h.search(w, r, req.Query, req.TopK)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, query string, topK int) {
	matches, err := h.svc.Search(r.Context(), query, topK)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message)
			return
		}
		writeError(w, http.StatusInternalServerError, searchFailedMessage)
		return
	}
	writeJSON(w, http.StatusOK, models.SearchResponse{Results: models.Items(matches)})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, models.ErrorResponse{Detail: detail})
}
