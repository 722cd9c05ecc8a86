// Package api exposes the controller's monitoring surface: a WebSocket hub
// streaming per-tick state and an HTTP JSON API over the run history, plus
// a fault-injection passthrough to the plant simulator.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/mbarbier/steamboiler/internal/boiler"
	"github.com/mbarbier/steamboiler/internal/protocol"
	"github.com/mbarbier/steamboiler/internal/report"
	"github.com/mbarbier/steamboiler/internal/store"
)

// Injector forwards a fault-injection directive to the plant.
type Injector interface {
	SendInject(r *http.Request, directive protocol.Inject) error
}

// HealthChecker reports transport health for the status endpoint.
type HealthChecker interface {
	IsConnected() bool
}

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	RunID          string          `json:"run_id"`
	Controller     boiler.Snapshot `json:"controller"`
	RedisConnected *bool           `json:"redis_connected,omitempty"`
	Clients        int             `json:"ws_clients"`
}

// Handler holds the dependencies for HTTP request handling. Injector and
// Health may be nil; sim mode has no transport and leaves Health nil.
type Handler struct {
	Store    *store.Store
	Hub      *Hub
	RunID    string
	Pumps    int
	Status   func() boiler.Snapshot
	Injector Injector
	Health   HealthChecker
}

// RegisterRoutes adds all API routes to the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", h.getStatus)
	mux.HandleFunc("GET /api/runs", h.listRuns)
	mux.HandleFunc("GET /api/runs/{id}/ticks", h.getTicks)
	mux.HandleFunc("GET /api/runs/{id}/events", h.getEvents)
	mux.HandleFunc("GET /api/runs/{id}/report.csv", h.exportCSV)
	mux.HandleFunc("GET /api/runs/{id}/report.json", h.exportJSON)
	mux.HandleFunc("GET /api/runs/{id}/report.pdf", h.exportPDF)
	mux.HandleFunc("POST /api/inject", h.postInject)
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		RunID:   h.RunID,
		Clients: h.Hub.ClientCount(),
	}
	if h.Status != nil {
		resp.Controller = h.Status()
	}
	if h.Health != nil {
		connected := h.Health.IsConnected()
		resp.RedisConnected = &connected
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Store.ListRuns()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("list runs: %v", err)})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getTicks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.runExists(w, id) {
		return
	}
	ticks, err := h.Store.QueryTicks(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("query ticks: %v", err)})
		return
	}
	if ticks == nil {
		ticks = []store.Tick{}
	}
	writeJSON(w, http.StatusOK, ticks)
}

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.runExists(w, id) {
		return
	}
	events, err := h.Store.QueryEvents(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("query events: %v", err)})
		return
	}
	if events == nil {
		events = []store.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.runExists(w, id) {
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", id))
	if err := report.ExportCSV(w, h.Store, id); err != nil {
		log.Printf("api: export csv %s: %v", id, err)
	}
}

func (h *Handler) exportJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.runExists(w, id) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := report.ExportJSON(w, h.Store, id); err != nil {
		log.Printf("api: export json %s: %v", id, err)
	}
}

func (h *Handler) exportPDF(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.runExists(w, id) {
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.pdf", id))
	if err := report.ExportPDF(w, h.Store, id); err != nil {
		log.Printf("api: export pdf %s: %v", id, err)
	}
}

func (h *Handler) postInject(w http.ResponseWriter, r *http.Request) {
	if h.Injector == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no plant attached"})
		return
	}

	var directive protocol.Inject
	if err := json.NewDecoder(r.Body).Decode(&directive); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	bundle := protocol.BuildInject(protocol.Source{Service: "boiler_api", Instance: "api", Version: "1.0.0"}, directive)
	if err := protocol.Validate(bundle, h.Pumps); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if err := h.Injector.SendInject(r, directive); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("send inject: %v", err)})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// runExists 404s unknown run ids and reports whether to continue.
func (h *Handler) runExists(w http.ResponseWriter, id string) bool {
	run, err := h.Store.GetRun(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": fmt.Sprintf("get run: %v", err)})
		return false
	}
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}
