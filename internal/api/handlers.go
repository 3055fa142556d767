package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/septivank/water-flow-monitor/internal/apperr"
	"github.com/septivank/water-flow-monitor/internal/auth"
	"github.com/septivank/water-flow-monitor/internal/db"
	"github.com/septivank/water-flow-monitor/internal/events"
	"github.com/septivank/water-flow-monitor/internal/service"
	"go.uber.org/zap"
)

// Service is the application layer behind the REST API
type Service interface {
	ListSensors(ctx context.Context) ([]db.Sensor, error)
	UpdateSensorThreshold(ctx context.Context, sensorID int64, maxThreshold float64) (*db.Sensor, error)
	ListReadings(ctx context.Context, rangeToken string) ([]db.Reading, error)
	RecordReading(ctx context.Context, source string, sensorID int64, flowRate float64, at time.Time) (*db.Reading, error)
	CurrentValve(ctx context.Context) (*db.ValveState, error)
	ToggleValve(ctx context.Context, isOpen bool, actor *string) (*db.ValveState, error)
	EmergencyShutdown(ctx context.Context, actor *string) (*db.ValveState, error)
	ListLeakEvents(ctx context.Context) ([]db.LeakEvent, error)
	ActiveLeak(ctx context.Context) (*db.LeakEvent, error)
	CreateLeakEvent(ctx context.Context, sensorID int64, flowRate float64, severity string) (*db.LeakEvent, error)
	ResolveLeak(ctx context.Context, id int64, actor *string) (*db.LeakEvent, error)
	CurrentSettings(ctx context.Context) (*db.SystemSettings, error)
	UpdateSettings(ctx context.Context, continuousFlow int, nightFlow bool, actor *string) (*db.SystemSettings, error)
}

// Handler serves the REST resources
type Handler struct {
	svc     Service
	logger  *zap.Logger
	timeout time.Duration
}

// NewHandler creates a handler with a per-request timeout
func NewHandler(svc Service, logger *zap.Logger, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Handler{svc: svc, logger: logger, timeout: timeout}
}

type thresholdRequest struct {
	MaxThreshold events.Decimal `json:"maxThreshold"`
}

type readingRequest struct {
	SensorID int64          `json:"sensorId"`
	FlowRate events.Decimal `json:"flowRate"`
}

type valveRequest struct {
	IsOpen *bool `json:"isOpen"`
}

type leakRequest struct {
	SensorID int64          `json:"sensorId"`
	FlowRate events.Decimal `json:"flowRate"`
	Severity string         `json:"severity"`
}

type settingsRequest struct {
	ContinuousFlowThreshold int  `json:"continuousFlowThreshold"`
	NightFlowMonitoring     bool `json:"nightFlowMonitoring"`
}

// RegisterRoutes mounts the /api resources on r
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sensors", h.handleSensorsList)
		r.With(auth.RequireActor).Put("/sensors/{id}", h.handleSensorUpdate)

		r.Get("/sensor-readings", h.handleReadingsList)
		r.Post("/sensor-readings", h.handleReadingCreate)

		r.Get("/valve-status/current", h.handleValveCurrent)
		r.With(auth.RequireActor).Post("/valve-status", h.handleValveUpdate)
		r.With(auth.RequireActor).Post("/valve-status/emergency-shutdown", h.handleEmergencyShutdown)

		r.Get("/leak-events", h.handleLeakList)
		r.Get("/leak-events/active", h.handleLeakActive)
		r.Post("/leak-events", h.handleLeakCreate)
		r.With(auth.RequireActor).Post("/leak-events/{id}/resolve", h.handleLeakResolve)

		r.Get("/system-settings", h.handleSettingsGet)
		r.With(auth.RequireActor).Put("/system-settings", h.handleSettingsUpdate)
	})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid body: %v: %w", err, apperr.ErrValidation)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", chi.URLParam(r, "id"), apperr.ErrValidation)
	}
	return id, nil
}

func (h *Handler) handleSensorsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sensors, err := h.svc.ListSensors(ctx)
	if err != nil {
		h.writeError(w, r, err, "", "Failed to fetch sensors")
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func (h *Handler) handleSensorUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	var req thresholdRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	sensor, err := h.svc.UpdateSensorThreshold(ctx, id, float64(req.MaxThreshold))
	if err != nil {
		h.writeError(w, r, err, "Sensor not found", "Failed to update sensor threshold")
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (h *Handler) handleReadingsList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	readings, err := h.svc.ListReadings(ctx, r.URL.Query().Get("timeRange"))
	if err != nil {
		h.writeError(w, r, err, "", "Failed to fetch sensor readings")
		return
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *Handler) handleReadingCreate(w http.ResponseWriter, r *http.Request) {
	var req readingRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	reading, err := h.svc.RecordReading(ctx, service.SourceAPI, req.SensorID, float64(req.FlowRate), time.Time{})
	if err != nil {
		h.writeError(w, r, err, "Sensor not found", "Failed to add sensor reading")
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (h *Handler) handleValveCurrent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	state, err := h.svc.CurrentValve(ctx)
	if err != nil {
		h.writeError(w, r, err, "", "Failed to fetch valve status")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleValveUpdate(w http.ResponseWriter, r *http.Request) {
	var req valveRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	if req.IsOpen == nil {
		h.writeError(w, r, fmt.Errorf("isOpen is required: %w", apperr.ErrValidation), "", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	state, err := h.svc.ToggleValve(ctx, *req.IsOpen, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err, "", "Failed to update valve status")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleEmergencyShutdown(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	state, err := h.svc.EmergencyShutdown(ctx, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err, "", "Failed to shut down valve")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleLeakList(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	list, err := h.svc.ListLeakEvents(ctx)
	if err != nil {
		h.writeError(w, r, err, "", "Failed to fetch leak events")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleLeakActive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	event, err := h.svc.ActiveLeak(ctx)
	if err != nil {
		h.writeError(w, r, err, "", "Failed to fetch active leak event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) handleLeakCreate(w http.ResponseWriter, r *http.Request) {
	var req leakRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	event, err := h.svc.CreateLeakEvent(ctx, req.SensorID, float64(req.FlowRate), req.Severity)
	if err != nil {
		h.writeError(w, r, err, "Sensor not found", "Failed to create leak event")
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) handleLeakResolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	event, err := h.svc.ResolveLeak(ctx, id, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err, "Leak event not found", "Failed to resolve leak event")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	settings, err := h.svc.CurrentSettings(ctx)
	if err != nil {
		h.writeError(w, r, err, "", "Failed to fetch system settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err, "", "")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	settings, err := h.svc.UpdateSettings(ctx, req.ContinuousFlowThreshold, req.NightFlowMonitoring, auth.ActorFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err, "", "Failed to update system settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
