package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gptworkdesk/workdesk"
	"github.com/gptworkdesk/workdesk/metrics"
	"github.com/gptworkdesk/workdesk/retrieval"
	"github.com/gptworkdesk/workdesk/session"
)

// maxUploadBytes bounds a multipart upload.
const maxUploadBytes = 100 << 20

type handler struct {
	engine workdesk.Engine
}

func newHandler(e workdesk.Engine) *handler {
	return &handler{engine: e}
}

// newRouter wires routes and the middleware chain:
// recovery -> cors -> auth -> logging -> routes.
func newRouter(e workdesk.Engine, apiKey, corsOrigins string) http.Handler {
	h := newHandler(e)
	r := chi.NewRouter()
	r.Use(recoveryMiddleware)
	r.Use(corsMiddleware(corsOrigins))
	r.Use(authMiddleware(apiKey))
	r.Use(logMiddleware)

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/stats", h.handleStats)

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", h.handleListDocuments)
		r.Post("/", h.handleIngest)
		r.Post("/process", h.handleProcess)
		r.Get("/{id}", h.handleGetDocument)
		r.Delete("/{id}", h.handleDeleteDocument)
	})

	r.Post("/search", h.handleSearch)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.handleListSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/contexts", h.handleGetContexts)
			r.Put("/contexts", h.handleSaveContexts)
			r.Post("/contexts", h.handleAttach)
			r.Delete("/contexts", h.handleClearContexts)
			r.Delete("/contexts/{documentID}", h.handleRemoveContext)
			r.Get("/summary", h.handleSummary)
			r.Post("/chat", h.handleChat)
			r.Get("/history", h.handleHistory)
		})
	})
	return r
}

// POST /documents/process
// Extracts a multipart upload and returns the processed document without
// storing it.
func (h *handler) handleProcess(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	up, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.engine.Process(ctx, up.data, up.name, up.mimeType)
	if err != nil {
		writeEngineError(w, "process", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// POST /documents
// Multipart upload with optional chunk_size, overlap, embed and force fields.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	up, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts, err := ingestOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.engine.Ingest(ctx, up.data, up.name, up.mimeType, opts...)
	if err != nil {
		writeEngineError(w, "ingest", err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func ingestOptions(r *http.Request) ([]workdesk.IngestOption, error) {
	var opts []workdesk.IngestOption
	if v := r.FormValue("chunk_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("invalid chunk_size %q", v)
		}
		overlap := 0
		if o := r.FormValue("overlap"); o != "" {
			if overlap, err = strconv.Atoi(o); err != nil || overlap < 0 || overlap >= size {
				return nil, fmt.Errorf("invalid overlap %q", o)
			}
		}
		opts = append(opts, workdesk.WithChunking(size, overlap))
	}
	if v := r.FormValue("embed"); v != "" {
		embed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid embed %q", v)
		}
		opts = append(opts, workdesk.WithEmbeddings(embed))
	}
	if force, _ := strconv.ParseBool(r.FormValue("force")); force {
		opts = append(opts, workdesk.WithForce())
	}
	return opts, nil
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeEngineError(w, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
	})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeEngineError(w, "get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		writeEngineError(w, "delete document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return 0, false
	}
	return id, true
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		Query     string  `json:"query"`
		Limit     int     `json:"limit,omitempty"`
		WeightVec float64 `json:"weight_vector,omitempty"`
		WeightFTS float64 `json:"weight_fts,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	// Bound parameters.
	if req.Limit < 0 || req.Limit > 100 {
		req.Limit = 0 // use default
	}
	var opts []workdesk.SearchOption
	if req.Limit > 0 {
		opts = append(opts, workdesk.WithMaxResults(req.Limit))
	}
	if req.WeightVec > 0 || req.WeightFTS > 0 {
		opts = append(opts, workdesk.WithWeights(req.WeightVec, req.WeightFTS))
	}

	resp, err := h.engine.Search(ctx, req.Query, opts...)
	if err != nil {
		writeEngineError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /sessions
func (h *handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	all, err := h.engine.Sessions().ListAll(r.Context())
	if err != nil {
		writeEngineError(w, "list sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": all})
}

// GET /sessions/{sessionID}/contexts
func (h *handler) handleGetContexts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	docs, err := h.engine.Sessions().Get(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"contexts":   docs,
	})
}

// PUT /sessions/{sessionID}/contexts
// Replaces the session's document contexts with the JSON array in the body.
func (h *handler) handleSaveContexts(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var docs []session.DocumentContext
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxUploadBytes)).Decode(&docs); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: expected an array of document contexts")
		return
	}
	for _, d := range docs {
		if d.ID == "" {
			writeError(w, http.StatusBadRequest, "every document context needs an id")
			return
		}
	}
	if err := h.engine.Sessions().Save(r.Context(), sessionID, docs); err != nil {
		writeEngineError(w, "save session", err)
		return
	}
	h.handleGetContexts(w, r)
}

// POST /sessions/{sessionID}/contexts
// Processes a multipart upload and attaches it to the session.
func (h *handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	up, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dc, err := h.engine.AttachDocument(ctx, chi.URLParam(r, "sessionID"), up.data, up.name, up.mimeType)
	if err != nil {
		writeEngineError(w, "attach document", err)
		return
	}
	writeJSON(w, http.StatusCreated, dc)
}

// DELETE /sessions/{sessionID}/contexts
func (h *handler) handleClearContexts(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Sessions().Clear(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeEngineError(w, "clear session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// DELETE /sessions/{sessionID}/contexts/{documentID}
func (h *handler) handleRemoveContext(w http.ResponseWriter, r *http.Request) {
	err := h.engine.Sessions().Remove(r.Context(), chi.URLParam(r, "sessionID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeEngineError(w, "remove context", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// GET /sessions/{sessionID}/summary
func (h *handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Injector().BuildSummary(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(w, "build summary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// POST /sessions/{sessionID}/chat
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	reply, err := h.engine.Chat(ctx, chi.URLParam(r, "sessionID"), req.Message)
	if err != nil {
		writeEngineError(w, "chat", err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// GET /sessions/{sessionID}/history?limit=N
func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	logs, err := h.engine.ChatHistory(r.Context(), chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		writeEngineError(w, "chat history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": logs})
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		writeEngineError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type upload struct {
	data     []byte
	name     string
	mimeType string
}

// readUpload reads the "file" part of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, fmt.Errorf("invalid request: expected multipart form with a 'file' field")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("missing 'file' field")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	return &upload{
		data: data,
		// Sanitise filename to prevent path traversal.
		name:     filepath.Base(header.Filename),
		mimeType: header.Header.Get("Content-Type"),
	}, nil
}

// statusOf maps engine errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, workdesk.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, workdesk.ErrProcessingFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workdesk.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, workdesk.ErrEmptyMessage),
		errors.Is(err, session.ErrEmptySessionID),
		errors.Is(err, retrieval.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, workdesk.ErrLLMUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeEngineError logs err and writes it with the mapped status. Server
// errors get a generic message; client errors carry the error text.
func writeEngineError(w http.ResponseWriter, op string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" error", "error", err)
		writeError(w, status, op+" failed")
		return
	}
	slog.Warn(op+" rejected", "status", status, "error", err)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
