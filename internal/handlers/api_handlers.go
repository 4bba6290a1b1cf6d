package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"chat-relay/internal/blob"
	"chat-relay/internal/database"
	"chat-relay/internal/models"
	"chat-relay/pkg/logger"

	"github.com/go-chi/chi/v5"
)

const defaultHistoryLimit = 20

// APIHandlers serves the history, search and upload routes.
type APIHandlers struct {
	store database.MessageStore
	blobs *blob.Store
}

func NewAPIHandlers(store database.MessageStore, blobs *blob.Store) *APIHandlers {
	return &APIHandlers{
		store: store,
		blobs: blobs,
	}
}

// History returns a page of room history, oldest to newest. The cursor is
// a millisecond timestamp and is parsed as int64; comparing it as text
// would misorder multi-digit values.
func (h *APIHandlers) History(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	before := time.Now().UnixMilli()
	if v := r.URL.Query().Get("beforeTimestamp"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			before = parsed
		}
	}

	messages, err := h.store.Range(r.Context(), roomID, limit, before)
	if err != nil {
		logger.Error("History query error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	writeMessages(w, messages)
}

// Search returns text messages matching q, newest first. A missing or
// empty q short-circuits to an empty array without touching the store.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	q := r.URL.Query().Get("q")

	if q == "" {
		writeMessages(w, nil)
		return
	}

	messages, err := h.store.Search(r.Context(), roomID, q)
	if err != nil {
		logger.Error("Search query error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}

	writeMessages(w, messages)
}

// Upload streams the request body into the blob store and responds with
// the public URL of the stored file.
func (h *APIHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = fmt.Sprintf("file-%d", time.Now().UnixMilli())
	}

	saved, err := h.blobs.Save(filename, r.Body)
	if err != nil {
		logger.Error("Upload failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("upload failed"))
		return
	}

	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
	}
	fileURL := fmt.Sprintf("%s://%s/uploads/%s", scheme, r.Host, url.PathEscape(saved))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"url": fileURL})
}

// ServeUpload byte-serves one stored file with extension-based content
// type inference.
func (h *APIHandlers) ServeUpload(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	f, err := h.blobs.Open(name)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", blob.ContentTypeFor(name))
	io.Copy(w, f)
}

func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func writeMessages(w http.ResponseWriter, messages []*models.Message) {
	if messages == nil {
		messages = []*models.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
