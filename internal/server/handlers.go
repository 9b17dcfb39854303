package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"mtdguard/internal/correlation"
	"mtdguard/internal/telemetry"
	"mtdguard/internal/threat"
)

const deviceHeader = "X-Device-ID"

var (
	errMissingDevice = errors.New("missing " + deviceHeader + " header")
	errEmptyBatch    = errors.New("empty batch")
)

type errorResponse struct {
	Error string `json:"error"`
}

type ingestResponse struct {
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Errors   []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body, err := s.readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// admit checks the device header and charges n events to the device's
// budget. It writes the error response itself.
func (s *Server) admit(w http.ResponseWriter, r *http.Request, n int) (string, bool) {
	device := r.Header.Get(deviceHeader)
	if device == "" {
		writeError(w, http.StatusBadRequest, errMissingDevice)
		return "", false
	}
	if !s.limiter.AllowN(device, n) {
		writeError(w, http.StatusTooManyRequests, fmt.Errorf("rate limit exceeded for device %s", device))
		return "", false
	}
	return device, true
}

func ensureID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func (s *Server) handleSms(w http.ResponseWriter, r *http.Request) {
	var ev telemetry.SmsEvent
	if err := s.decode(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	device, ok := s.admit(w, r, 1)
	if !ok {
		return
	}
	ev.DeviceID = device
	ev.ID = ensureID(ev.ID)
	if err := telemetry.Validate(ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.AnalyzeSms(r.Context(), ev))
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var ev telemetry.CallEvent
	if err := s.decode(w, r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	device, ok := s.admit(w, r, 1)
	if !ok {
		return
	}
	ev.DeviceID = device
	ev.ID = ensureID(ev.ID)
	if err := telemetry.Validate(ev); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.analyzer.AnalyzeCall(r.Context(), ev))
}

type appBatchResponse struct {
	Count    int                   `json:"count"`
	Verdicts []correlation.Verdict `json:"verdicts"`
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	var batch []telemetry.AppInstallEvent
	if err := s.decode(w, r, &batch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(batch) == 0 {
		writeError(w, http.StatusBadRequest, errEmptyBatch)
		return
	}
	if len(batch) > s.cfg.MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("batch of %d exceeds limit %d", len(batch), s.cfg.MaxBatchSize))
		return
	}
	device, ok := s.admit(w, r, len(batch))
	if !ok {
		return
	}

	events := make([]telemetry.Event, 0, len(batch))
	for i := range batch {
		batch[i].DeviceID = device
		batch[i].ID = ensureID(batch[i].ID)
		if err := telemetry.Validate(batch[i]); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("event %d: %w", i, err))
			return
		}
		events = append(events, batch[i])
	}

	verdicts := s.analyzer.AnalyzeBatch(r.Context(), events)
	writeJSON(w, http.StatusOK, appBatchResponse{Count: len(verdicts), Verdicts: verdicts})
}

// handleAddIndicators accepts a single indicator object or an array of them.
func (s *Server) handleAddIndicators(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var inputs []threat.IndicatorInput
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &inputs)
	} else {
		var one threat.IndicatorInput
		err = json.Unmarshal(trimmed, &one)
		inputs = append(inputs, one)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, errEmptyBatch)
		return
	}

	resp := ingestResponse{}
	for i, in := range inputs {
		if err := threat.ValidateInput(in); err != nil {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("indicator %d: %v", i, err))
			continue
		}
		if s.store.AddIndicator(r.Context(), in.Type, in.Value, in.IndicatorMeta) {
			resp.Accepted++
		} else {
			resp.Rejected++
			resp.Errors = append(resp.Errors, fmt.Sprintf("indicator %d: not stored", i))
		}
	}

	status := http.StatusOK
	if resp.Accepted == 0 {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleIndicatorStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats(r.Context()))
}

func (s *Server) handleGetIndicator(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if _, ok := threat.ParseIndicatorType(vars["type"]); !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown indicator type %q", vars["type"]))
		return
	}
	rec, ok := s.store.QueryIndicator(r.Context(), vars["type"], vars["value"])
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("indicator %s %s not found", vars["type"], vars["value"]))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleTechniques(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.analyzer.Catalog().All())
}

func (s *Server) handleTechnique(w http.ResponseWriter, r *http.Request) {
	// Unlisted ids get the Unknown record so clients can render any id a
	// verdict carried.
	writeJSON(w, http.StatusOK, s.analyzer.Catalog().Describe(mux.Vars(r)["id"]))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"indicators": s.store.Stats(r.Context()).Total,
	})
}
