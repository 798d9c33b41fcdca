package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"TrendWatcher/internal/domain"
	"TrendWatcher/internal/usecase"
	"TrendWatcher/internal/workers"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
)

// IntakeService is the part of the intake use case exposed over HTTP.
type IntakeService interface {
	Create(ctx context.Context, req usecase.CreateRequest) error
	RefreshAll(ctx context.Context) error
}

// RunStore reads run records.
type RunStore interface {
	GetRun(ctx context.Context, id string) (domain.RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
}

// Handler serves the REST endpoints.
type Handler struct {
	intake IntakeService
	runs   RunStore
}

func NewHandler(intake IntakeService, runs RunStore) *Handler {
	return &Handler{intake: intake, runs: runs}
}

// StatusResponse is the envelope used by every non-listing endpoint.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// TrendSummaryRequest is the body of POST /trend-summary.
type TrendSummaryRequest struct {
	Brand        string         `json:"brand"`
	Product      string         `json:"product"`
	EmailID      string         `json:"email_id"`
	Name         string         `json:"name"`
	EmailSubject string         `json:"email_subject"`
	Metadata     map[string]any `json:"metadata"`
}

// RunsResponse is the body of GET /runs.
type RunsResponse struct {
	Runs  []domain.RunRecord `json:"runs"`
	Count int                `json:"count"`
}

func success(message string) StatusResponse {
	return StatusResponse{Status: "success", Message: message}
}

func failure(message string) StatusResponse {
	return StatusResponse{Status: "error", Message: message}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, success("API is working"))
}

func (h *Handler) RefreshTrends(c *gin.Context) {
	if err := h.intake.RefreshAll(c.Request.Context()); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, success("Refresh started in background."))
}

func (h *Handler) CreateTrendSummary(c *gin.Context) {
	var body TrendSummaryRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusBadRequest, failure("Invalid JSON body"))
		return
	}

	err := h.intake.Create(c.Request.Context(), usecase.CreateRequest{
		Brand:    body.Brand,
		Product:  body.Product,
		EmailID:  body.EmailID,
		Name:     body.Name,
		Subject:  body.EmailSubject,
		Metadata: body.Metadata,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, success("Email will be sent shortly"))
}

func (h *Handler) ListRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, failure("limit must be a positive integer"))
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	c.JSON(http.StatusOK, RunsResponse{Runs: runs, Count: len(runs)})
}

func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, failure(verr.Error()))
	case errors.Is(err, domain.ErrDuplicateSubscription):
		c.JSON(http.StatusBadRequest, failure(domain.ErrDuplicateSubscription.Error()))
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, failure("Not found"))
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolStopped):
		c.JSON(http.StatusServiceUnavailable, failure("Server is busy, try again later"))
	default:
		c.JSON(http.StatusInternalServerError, failure("Internal server error"))
	}
}
