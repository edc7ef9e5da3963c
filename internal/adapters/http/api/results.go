package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/tremor/internal/adapters/repository"
	service "github.com/okian/tremor/internal/app"
	"github.com/okian/tremor/internal/domain/model"
)

// ResultsHandler handles GET /results.
type ResultsHandler struct {
	deps Dependencies
}

// NewResultsHandler creates a new results handler.
func NewResultsHandler(deps Dependencies) *ResultsHandler {
	return &ResultsHandler{deps: deps}
}

// HandleGetResults handles GET /results?patient_id=|device_id=&start=&end=
// with millisecond bounds, both inclusive.
func (h *ResultsHandler) HandleGetResults(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_results"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	q := r.URL.Query()
	query := service.ResultQuery{PatientID: q.Get("patient_id"), DeviceID: q.Get("device_id")}
	if (query.PatientID == "") == (query.DeviceID == "") {
		writeError(w, http.StatusBadRequest, "bad_request",
			wrapKind(op, ErrBadRequest, errors.New("exactly one of patient_id and device_id is required")))
		return
	}
	start, err := strconv.ParseInt(q.Get("start"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	end, err := strconv.ParseInt(q.Get("end"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
		return
	}
	query.Range = model.TimeRange{Start: start, End: end}

	results, err := h.deps.Results(r.Context(), query)
	switch {
	case errors.Is(err, repository.ErrInvalidRange):
		writeError(w, http.StatusBadRequest, "bad_request", wrapKind(op, ErrBadRequest, err))
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		if results == nil {
			results = []model.AnalysisResult{}
		}
		writeJSON(w, http.StatusOK, results)
	}
}
