// Package api exposes the local mapping API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mapring/coordinator"
	"mapring/logger"
	"mapring/mapping"
	"mapring/pending"
	"mapring/utils"
)

// Service is the node-local mapping API.
type Service interface {
	ID() string
	Register(ctx context.Context, platformID uint8, className string) (*coordinator.Registration, error)
	RegisterMapping(ctx context.Context, item mapping.Item) (*coordinator.Registration, error)
	Resolve(platformID uint8, typeID int32) (string, bool)
	AwaitMapping(platformID uint8, typeID int32) *pending.Future
	Snapshot() []mapping.Item
	Err() error
}

type Options struct {
	// WaitTimeout caps how long a request blocks on the cluster. Default 15s.
	WaitTimeout time.Duration
	Gatherer    prometheus.Gatherer
	Logger      *zap.Logger
}

type handler struct {
	svc     Service
	timeout time.Duration
	log     *zap.Logger
}

// MappingDTO is the JSON shape of a binding.
type MappingDTO struct {
	PlatformID uint8  `json:"platform_id"`
	TypeID     int32  `json:"type_id"`
	ClassName  string `json:"class_name"`
}

type registerRequest struct {
	PlatformID uint8 `json:"platform_id"`
	// TypeID is derived from ClassName when omitted.
	TypeID    *int32 `json:"type_id,omitempty"`
	ClassName string `json:"class_name"`
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	RequestID        string `json:"request_id,omitempty"`
}

func NewRouter(svc Service, opts Options) http.Handler {
	h := &handler{svc: svc, timeout: opts.WaitTimeout, log: opts.Logger}
	if h.timeout <= 0 {
		h.timeout = 15 * time.Second
	}
	if h.log == nil {
		h.log = logger.Named("api")
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/mappings", func(r chi.Router) {
		r.Post("/", h.register)
		r.Get("/", h.list)
		r.Get("/{platform}/{typeID}", h.resolve)
		r.Get("/{platform}/{typeID}/await", h.await)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Err(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "faulted", "node": h.svc.ID(), "error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": h.svc.ID()})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !readJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		reg *coordinator.Registration
		err error
	)
	if req.TypeID == nil {
		reg, err = h.svc.Register(ctx, req.PlatformID, req.ClassName)
	} else {
		reg, err = h.svc.RegisterMapping(ctx, mapping.Item{
			PlatformID: req.PlatformID, TypeID: *req.TypeID, ClassName: req.ClassName,
		})
	}
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	if r.URL.Query().Get("wait") == "false" && !reg.Bound() {
		writeJSON(w, http.StatusAccepted, toDTO(reg.Item))
		return
	}
	name, err := reg.Wait(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MappingDTO{PlatformID: reg.Item.PlatformID, TypeID: reg.Item.TypeID, ClassName: name})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	items := h.svc.Snapshot()
	out := make([]MappingDTO, 0, len(items))
	for _, it := range items {
		out = append(out, toDTO(it))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) resolve(w http.ResponseWriter, r *http.Request) {
	platform, typeID, ok := keyParams(w, r)
	if !ok {
		return
	}
	name, found := h.svc.Resolve(platform, typeID)
	if !found {
		writeError(w, r, http.StatusNotFound, "not_found", "no accepted mapping for this key")
		return
	}
	writeJSON(w, http.StatusOK, MappingDTO{PlatformID: platform, TypeID: typeID, ClassName: name})
}

func (h *handler) await(w http.ResponseWriter, r *http.Request) {
	platform, typeID, ok := keyParams(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	name, err := h.svc.AwaitMapping(platform, typeID).Wait(ctx)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MappingDTO{PlatformID: platform, TypeID: typeID, ClassName: name})
}

func keyParams(w http.ResponseWriter, r *http.Request) (uint8, int32, bool) {
	platform, err := utils.ParsePlatform(chi.URLParam(r, "platform"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_platform", err.Error())
		return 0, 0, false
	}
	typeID, err := utils.ParseTypeID(chi.URLParam(r, "typeID"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_type_id", err.Error())
		return 0, 0, false
	}
	return platform, typeID, true
}

func toDTO(it mapping.Item) MappingDTO {
	return MappingDTO{PlatformID: it.PlatformID, TypeID: it.TypeID, ClassName: it.ClassName}
}

// StatusFor maps protocol errors to HTTP status codes.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, mapping.ErrInvalidItem):
		return http.StatusBadRequest, "invalid_mapping"
	case errors.Is(err, mapping.ErrMappingConflict):
		return http.StatusConflict, "mapping_conflict"
	case errors.Is(err, mapping.ErrMappingTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "mapping_timeout"
	case errors.Is(err, mapping.ErrInvariantViolation):
		return http.StatusInternalServerError, "invariant_violation"
	case errors.Is(err, mapping.ErrStopped):
		return http.StatusServiceUnavailable, "stopped"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	writeError(w, r, status, code, err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, desc string) {
	writeJSON(w, status, apiError{Error: code, ErrorDescription: desc, RequestID: middleware.GetReqID(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// readJSON limits the body to 1MB and tolerates unknown fields.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if !strings.Contains(ct, "application/json") {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "malformed json body")
		return false
	}
	return true
}
