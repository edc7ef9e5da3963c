package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/okian/tremor/internal/domain/model"
	"github.com/okian/tremor/pkg/metrics"
)

const defaultMaxBodyBytes = 8 << 20

type samplesResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// SamplesHandler handles POST /samples.
type SamplesHandler struct {
	deps     Dependencies
	maxBytes int64
}

// NewSamplesHandler creates a new samples handler.
func NewSamplesHandler(deps Dependencies) *SamplesHandler {
	return &SamplesHandler{deps: deps, maxBytes: defaultMaxBodyBytes}
}

// HandlePostSamples stores one raw record or an array of them. The
// device_id query parameter fills records that omit it; trigger=false
// skips queuing an analysis. Malformed records are counted and dropped.
func (h *SamplesHandler) HandlePostSamples(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_samples"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	trigger := true
	if v := r.URL.Query().Get("trigger"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
			return
		}
		trigger = b
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", wrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	samples, err := model.DecodeRawSamples(r.URL.Query().Get("device_id"), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}

	var resp samplesResponse
	kept := samples[:0]
	for _, s := range samples {
		if m, ok := s.Payload.(model.Malformed); ok {
			metrics.RecordSampleRejected(m.Reason)
			resp.Rejected++
			continue
		}
		if s.DeviceID == "" || s.Timestamp <= 0 {
			metrics.RecordSampleRejected("missing_identity")
			resp.Rejected++
			continue
		}
		kept = append(kept, s)
	}

	n, err := h.deps.Ingest(r.Context(), "http", kept, trigger)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	}
	resp.Accepted = n
	writeJSON(w, http.StatusAccepted, resp)
}
