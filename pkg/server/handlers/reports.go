package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/soundprediction/kpset/pkg/report"
	"github.com/soundprediction/kpset/pkg/server/dto"
)

// ReportHandler serves the run reports of evaluate and predict runs
type ReportHandler struct {
	store *report.Store
}

// NewReportHandler creates a new report handler. A nil store serves no
// reports.
func NewReportHandler(store *report.Store) *ReportHandler {
	return &ReportHandler{store: store}
}

// List handles GET /api/v1/reports. Reports are listed newest first.
func (h *ReportHandler) List(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusOK, dto.ReportListResponse{Reports: []*report.Report{}})
		return
	}
	reports, err := h.store.List(c.Request.Context())
	if err != nil {
		writeError(c, http.StatusInternalServerError, dto.CodeInternal, err.Error())
		return
	}
	if kind := c.Query("kind"); kind != "" {
		filtered := reports[:0]
		for _, r := range reports {
			if string(r.Kind) == kind {
				filtered = append(filtered, r)
			}
		}
		reports = filtered
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	if reports == nil {
		reports = []*report.Report{}
	}
	c.JSON(http.StatusOK, dto.ReportListResponse{Reports: reports, Count: len(reports)})
}

// Get handles GET /api/v1/reports/:run_id
func (h *ReportHandler) Get(c *gin.Context) {
	runID := c.Param("run_id")
	if h.store == nil {
		writeError(c, http.StatusNotFound, dto.CodeNotFound, "report not found: "+runID)
		return
	}
	r, err := h.store.Load(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, report.ErrInvalidRunID) {
			writeError(c, http.StatusBadRequest, dto.CodeInvalidRequest, err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, dto.CodeInternal, err.Error())
		return
	}
	if r == nil {
		writeError(c, http.StatusNotFound, dto.CodeNotFound, "report not found: "+runID)
		return
	}
	c.JSON(http.StatusOK, r)
}
