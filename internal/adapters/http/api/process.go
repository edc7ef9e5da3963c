package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
)

// processRequest mirrors the OpenAPI schema for POST /process.
type processRequest struct {
	DeviceID         string  `json:"device_id" validate:"required,max=128"`
	Start            int64   `json:"start" validate:"gt=0"`
	End              int64   `json:"end" validate:"gtefield=Start"`
	SamplingRateHint float64 `json:"sampling_rate_hint" validate:"gte=0,lte=10000"`
	Async            bool    `json:"async"`
}

func (p processRequest) model() model.ProcessRequest {
	return model.ProcessRequest{
		DeviceID:         p.DeviceID,
		Range:            model.TimeRange{Start: p.Start, End: p.End},
		SamplingRateHint: p.SamplingRateHint,
		Source:           "http",
	}
}

type queuedResponse struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// ProcessHandler handles POST /process.
type ProcessHandler struct {
	deps     Dependencies
	validate *validator.Validate
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(deps Dependencies, v *validator.Validate) *ProcessHandler {
	return &ProcessHandler{deps: deps, validate: v}
}

// HandleProcess runs an invocation synchronously, or queues it when the
// body sets "async". Synchronous store failures answer 503 with the
// summary; partial runs still carry their counts.
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	const op = "api.process"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var body processRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.validate.Struct(body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	req := body.model()

	if body.Async {
		queued, err := h.deps.Trigger(r.Context(), req)
		switch {
		case errors.Is(err, service.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, "backpressure", wrapKind(op, ErrBackpressure, err))
		case errors.Is(err, service.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		case err != nil:
			writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		case !queued:
			writeJSON(w, http.StatusOK, queuedResponse{Status: "duplicate", Duplicate: true})
		default:
			writeJSON(w, http.StatusAccepted, queuedResponse{Status: "queued"})
		}
		return
	}

	sum, err := h.deps.Process(r.Context(), req)
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	case err != nil:
		writeJSON(w, http.StatusServiceUnavailable, sum)
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}
