package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
	"github.com/livetemplate/tinkerpen/internal/workspace"
)

// maxRequestBodySize limits the size of incoming request bodies (1MB)
const maxRequestBodySize = 1 << 20

// ErrGenerationGone is reported for preview generations that were replaced.
var ErrGenerationGone = errors.New("preview generation superseded")

// documentBody is the PUT /api/documents/{id} payload.
type documentBody struct {
	Content *string `json:"content"`
}

// APIHandler serves the REST endpoints over a workspace.
type APIHandler struct {
	ws     *workspace.Workspace
	logger *zap.Logger
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(ws *workspace.Workspace, logger *zap.Logger) *APIHandler {
	return &APIHandler{ws: ws, logger: logger.Named("api")}
}

// Routes mounts the handler under /api.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/documents", h.listDocuments)
	r.Get("/documents/{id}", h.getDocument)
	r.Put("/documents/{id}", h.putDocument)
	r.Get("/console", h.getConsole)
	r.Delete("/console", h.clearConsole)
	r.Get("/export", h.export)
	r.Get("/settings", h.getSettings)
}

func (h *APIHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	active, _ := h.ws.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": h.ws.Documents(),
		"activeId":  active.ID,
	})
}

func (h *APIHandler) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.ws.Documents().Find(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, tinkerpen.ErrDocumentNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// putDocument goes through the same debounce as keystrokes.
func (h *APIHandler) putDocument(w http.ResponseWriter, r *http.Request) {
	var body documentBody
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := dec.Decode(&body); err != nil || body.Content == nil {
		writeJSONError(w, http.StatusBadRequest, "body must be {\"content\": string}")
		return
	}

	id := chi.URLParam(r, "id")
	err := h.ws.Edit("", id, *body.Content)
	switch {
	case errors.Is(err, tinkerpen.ErrDocumentNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, workspace.ErrClosed):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		h.logger.Warn("edit failed", zap.String("document", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "edit failed")
		return
	}

	doc, _ := h.ws.Documents().Find(id)
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *APIHandler) getConsole(w http.ResponseWriter, r *http.Request) {
	var generation uint64
	if inst := h.ws.Preview(); inst != nil {
		generation = inst.Generation()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"generation": generation,
		"records":    consoleData(h.ws.Console()),
	})
}

func (h *APIHandler) clearConsole(w http.ResponseWriter, r *http.Request) {
	h.ws.ClearConsole()
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) export(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="index.html"`)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, h.ws.Export())
}

func (h *APIHandler) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ws.Settings())
}

// PreviewHandler serves sandbox instances by generation.
type PreviewHandler struct {
	ws *workspace.Workspace
}

func (h *PreviewHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	generation, err := strconv.ParseUint(chi.URLParam(r, "generation"), 10, 64)
	if err != nil {
		http.Error(w, "invalid generation", http.StatusBadRequest)
		return
	}

	inst, ok := h.ws.Instance(generation)
	if !ok {
		if current := h.ws.Preview(); current != nil && generation < current.Generation() {
			http.Error(w, ErrGenerationGone.Error(), http.StatusGone)
			return
		}
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, inst.HTML())
}
