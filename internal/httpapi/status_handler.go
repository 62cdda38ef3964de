package httpapi

import (
	"net/http"
	"time"

	"wisefido-ventilation/internal/controller"
	"wisefido-ventilation/internal/occupancy"
	"wisefido-ventilation/internal/sleep"

	"go.uber.org/zap"
)

type StatusSource interface {
	Status() controller.Status
}

type OccupancySummarizer interface {
	Summary(now time.Time) occupancy.PatternSummary
}

type SleepSummarizer interface {
	Summary(now time.Time) sleep.Summary
}

// StatusHandler read-only views; nil sources answer 404
type StatusHandler struct {
	status    StatusSource
	occupancy OccupancySummarizer
	sleep     SleepSummarizer
	logger    *zap.Logger
	now       func() time.Time
}

func NewStatusHandler(status StatusSource, occ OccupancySummarizer, sl SleepSummarizer, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		status:    status,
		occupancy: occ,
		sleep:     sl,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		writeJSON(w, http.StatusNotFound, Fail("controller not available"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.status.Status()))
}

func (h *StatusHandler) OccupancyPatterns(w http.ResponseWriter, r *http.Request) {
	if h.occupancy == nil {
		writeJSON(w, http.StatusNotFound, Fail("occupancy predictor not available"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.occupancy.Summary(h.now())))
}

func (h *StatusHandler) SleepPatterns(w http.ResponseWriter, r *http.Request) {
	if h.sleep == nil {
		writeJSON(w, http.StatusNotFound, Fail("sleep analyzer not available"))
		return
	}
	writeJSON(w, http.StatusOK, Ok(h.sleep.Summary(h.now())))
}
