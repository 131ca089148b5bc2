package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Tutortoise/produce-detector/cycle"
	"github.com/Tutortoise/produce-detector/history"
	"github.com/Tutortoise/produce-detector/models"
	"github.com/Tutortoise/produce-detector/render"
)

const maxDecisionsLimit = 500

// decisionLister is the read side of the history store.
type decisionLister interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// statusServer exposes the loop state read-only. It never touches the engine.
type statusServer struct {
	metrics *cycle.Metrics
	table   models.LabelTable
	lcd     *render.GridDisplay
	panel   *render.MemoryPanel
	history decisionLister
}

type MetricsResponse struct {
	cycle.Snapshot
	Version string `json:"version"`
	GitSHA  string `json:"git_sha"`
}

type DecisionResponse struct {
	CycleID  string    `json:"cycle_id"`
	Index    int       `json:"index"`
	Label    string    `json:"label,omitempty"`
	Price    string    `json:"price,omitempty"`
	Score    float32   `json:"score"`
	Detected bool      `json:"detected"`
	Message  string    `json:"message"`
	Scores   []float32 `json:"scores"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *statusServer) routes() *mux.Router {
	r := mux.NewRouter()
	s.addMonitoringRoutes(r)
	return r
}

func (s *statusServer) addMonitoringRoutes(r *mux.Router) {
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/decision", s.handleDecision).Methods("GET")
	r.HandleFunc("/decisions", s.handleDecisions).Methods("GET")
	r.HandleFunc("/lcd", s.handleLCD).Methods("GET")
	r.HandleFunc("/panel.png", s.handlePanel).Methods("GET")
}

func (s *statusServer) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, MetricsResponse{
		Snapshot: s.metrics.Snapshot(),
		Version:  Version,
		GitSHA:   GitSHA,
	})
}

func (s *statusServer) handleDecision(w http.ResponseWriter, _ *http.Request) {
	snap := s.metrics.Snapshot()
	if snap.Cycles == 0 {
		sendErrorResponse(w, "no_cycle", "No cycle has completed yet", http.StatusNotFound)
		return
	}

	d := snap.LastDecision
	resp := DecisionResponse{
		CycleID:  snap.LastCycleID,
		Index:    d.Index,
		Score:    d.Score,
		Detected: d.Detected,
		Message:  render.MsgNoDetection,
		Scores:   snap.LastScores,
	}
	if c, ok := s.table.At(d.Index); ok {
		resp.Label = c.Label
		resp.Price = c.Price
		if d.Detected && d.Index != s.table.Background {
			resp.Message = fmt.Sprintf(render.MsgDetected, c.Label)
		}
	}
	sendJSON(w, resp)
}

func (s *statusServer) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		sendErrorResponse(w, "history_disabled", "Decision history is not enabled", http.StatusNotFound)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxDecisionsLimit {
			sendErrorResponse(w, "invalid_request", fmt.Sprintf("limit must be between 1 and %d", maxDecisionsLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		sendErrorResponse(w, "history_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	sendJSON(w, map[string]interface{}{"decisions": records})
}

func (s *statusServer) handleLCD(w http.ResponseWriter, _ *http.Request) {
	if s.lcd == nil {
		sendErrorResponse(w, "lcd_disabled", "No LCD is configured", http.StatusNotFound)
		return
	}
	sendJSON(w, map[string]interface{}{"rows": s.lcd.Lines()})
}

func (s *statusServer) handlePanel(w http.ResponseWriter, _ *http.Request) {
	if s.panel == nil {
		sendErrorResponse(w, "panel_disabled", "The status panel is not enabled", http.StatusNotFound)
		return
	}
	png := s.panel.Latest()
	if png == nil {
		sendErrorResponse(w, "no_panel", "No panel has been rendered yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Handler:      h,
		Addr:         addr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

func sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
