package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ronai/codegate/internal/audit"
	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/events"
	"github.com/ronai/codegate/internal/export"
)

// recordTimeout bounds audit and event writes after a response is computed.
const recordTimeout = 5 * time.Second

// ExecutionRequest is the body of both execution routes.
type ExecutionRequest struct {
	Code *string `json:"code"`
}

// ExportRequest is the body of the export route.
type ExportRequest struct {
	ComponentName string   `json:"componentName"`
	Code          *string  `json:"code"`
	TargetPages   []string `json:"targetPages"`
}

// ExportResponse reports where a component was written.
type ExportResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// Handler contains all HTTP handlers.
type Handler struct {
	config *config.Config
	deps   Deps
}

// NewHandler creates a new handler.
func NewHandler(cfg *config.Config, deps Deps) *Handler {
	return &Handler{config: cfg, deps: deps}
}

// HealthCheck handles health check requests.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "codegate",
		"mode":    string(h.config.Sandbox.Mode),
	})
}

// ExecuteCode runs a program through the screened pipeline.
func (h *Handler) ExecuteCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.decodeExecution(w, r)
	if !ok {
		return
	}

	start := time.Now()
	res := h.deps.Runner.ExecuteCode(r.Context(), code)
	h.record(r, audit.FromScreened(code, res, time.Since(start)))

	writeJSON(w, http.StatusOK, res)
}

// ExecutePython runs a program through the capture pipeline. The route
// keeps its historical name for existing clients.
func (h *Handler) ExecutePython(w http.ResponseWriter, r *http.Request) {
	code, ok := h.decodeExecution(w, r)
	if !ok {
		return
	}

	start := time.Now()
	res := h.deps.Runner.ExecuteScript(r.Context(), code)
	h.record(r, audit.FromCapture(code, res, time.Since(start)))

	writeJSON(w, http.StatusOK, res)
}

// ExportComponent writes a component file.
func (h *Handler) ExportComponent(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ComponentName == "" || req.Code == nil {
		errorResponse(w, "componentName and code are required", http.StatusBadRequest)
		return
	}
	if h.deps.Exporter == nil {
		errorResponse(w, "component export is not configured", http.StatusInternalServerError)
		return
	}

	path, err := h.deps.Exporter.Export(req.ComponentName, *req.Code)
	if errors.Is(err, export.ErrInvalidName) {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	log.Printf("Exported component %s to %s (pages: %v)", req.ComponentName, path, req.TargetPages)
	writeJSON(w, http.StatusOK, ExportResponse{Success: true, Path: path})
}

// TestGemini checks connectivity to the generative backend.
func (h *Handler) TestGemini(w http.ResponseWriter, r *http.Request) {
	if h.deps.Generator == nil {
		errorResponse(w, "Gemini service module not loaded.", http.StatusInternalServerError)
		return
	}

	text, err := h.deps.Generator.Generate(r.Context(), r.URL.Query().Get("mode"))
	if err != nil {
		log.Printf("Error in test gemini endpoint: %v", err)
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}

// ListExecutions returns recent audit records.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		errorResponse(w, "execution audit is disabled", http.StatusNotFound)
		return
	}

	filter := audit.Filter{
		Pipeline: r.URL.Query().Get("pipeline"),
		Limit:    parseIntQuery(r, "limit", audit.DefaultLimit),
	}

	records, err := h.deps.Store.List(r.Context(), filter)
	if err != nil {
		log.Printf("Failed to list executions: %v", err)
		errorResponse(w, "failed to list executions", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []audit.Execution{}
	}

	writeJSON(w, http.StatusOK, records)
}

// decodeExecution reads an ExecutionRequest and returns its code.
func (h *Handler) decodeExecution(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req ExecutionRequest
	if !h.decode(w, r, &req) {
		return "", false
	}
	if req.Code == nil {
		errorResponse(w, "code is required", http.StatusBadRequest)
		return "", false
	}
	return *req.Code, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if limit := h.config.Server.MaxBodyBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorResponse(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		errorResponse(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// record stores the audit record and announces it. Failures are logged
// and never change the response.
func (h *Handler) record(r *http.Request, e *audit.Execution) {
	e.RemoteAddr = r.RemoteAddr
	if h.deps.Store == nil && h.deps.Publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), recordTimeout)
	defer cancel()

	if h.deps.Store != nil {
		if err := h.deps.Store.Record(ctx, e); err != nil {
			log.Printf("Failed to record execution %s: %v", e.ID, err)
		}
	}
	if h.deps.Publisher != nil {
		if err := h.deps.Publisher.PublishExecution(ctx, events.NewExecutionEvent(e)); err != nil {
			log.Printf("Failed to publish execution %s: %v", e.ID, err)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse sends an error response.
func errorResponse(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"detail": message})
}

func parseIntQuery(r *http.Request, key string, def int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return def
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return parsed
}
