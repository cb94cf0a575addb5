// Package api serves run history, alerts and latest readings over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/smukkama/airquality-pipeline/internal/aggregation"
	"github.com/smukkama/airquality-pipeline/internal/database"
	"github.com/smukkama/airquality-pipeline/internal/models"
)

// Store is the read side of the database used by the API
type Store interface {
	PingContext(ctx context.Context) error
	ListRuns(ctx context.Context, limit int) ([]*models.PipelineRun, error)
	GetRun(ctx context.Context, id string) (*models.PipelineRun, error)
	ListAlerts(ctx context.Context, openOnly bool, limit int) ([]*models.AlertEvent, error)
	LatestReadings(ctx context.Context) ([]database.LatestReading, error)
}

// Acknowledger acknowledges alerts
type Acknowledger interface {
	Acknowledge(ctx context.Context, id int64) (*models.AlertEvent, error)
}

// SummaryReader reads daily rollups
type SummaryReader interface {
	Summaries(ctx context.Context, day time.Time) ([]aggregation.Summary, error)
}

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler holds the API dependencies
type Handler struct {
	store     Store
	acker     Acknowledger
	summaries SummaryReader
	logger    *slog.Logger
}

// NewHandler creates a handler. summaries may be nil.
func NewHandler(store Store, acker Acknowledger, summaries SummaryReader, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		acker:     acker,
		summaries: summaries,
		logger:    logger.With("component", "api"),
	}
}

// Router builds the gin engine
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.logger))

	r.GET("/healthz", h.health)

	r.GET("/runs", h.listRuns)
	r.GET("/runs/:id", h.getRun)

	alerts := r.Group("/alerts")
	{
		alerts.GET("", h.listAlerts)
		alerts.POST("/:id/ack", h.acknowledge)
	}

	r.GET("/readings/latest", h.latestReadings)
	if h.summaries != nil {
		r.GET("/summaries/daily", h.dailySummaries)
	}
	return r
}

func (h *Handler) health(c *gin.Context) {
	if err := h.store.PingContext(c.Request.Context()); err != nil {
		h.logger.Error("Health check failed", "error", err)
		fail(c, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	success(c, gin.H{"status": "ok"})
}

func limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, false
	}
	return min(n, maxLimit), true
}

// listRuns handles GET /runs
func (h *Handler) listRuns(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		fail(c, http.StatusBadRequest, "invalid limit")
		return
	}

	runs, err := h.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "Failed to list runs", err)
		return
	}
	success(c, runs)
}

// getRun handles GET /runs/:id
func (h *Handler) getRun(c *gin.Context) {
	run, err := h.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.internalError(c, "Failed to get run", err)
		return
	}
	if run == nil {
		fail(c, http.StatusNotFound, "run not found")
		return
	}
	success(c, run)
}

// listAlerts handles GET /alerts?open=true
func (h *Handler) listAlerts(c *gin.Context) {
	limit, ok := limitParam(c)
	if !ok {
		fail(c, http.StatusBadRequest, "invalid limit")
		return
	}
	openOnly, err := strconv.ParseBool(c.DefaultQuery("open", "false"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid open flag")
		return
	}

	alerts, err := h.store.ListAlerts(c.Request.Context(), openOnly, limit)
	if err != nil {
		h.internalError(c, "Failed to list alerts", err)
		return
	}
	success(c, alerts)
}

// acknowledge handles POST /alerts/:id/ack
func (h *Handler) acknowledge(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid alert id")
		return
	}

	alert, err := h.acker.Acknowledge(c.Request.Context(), id)
	if errors.Is(err, database.ErrAlertNotFound) {
		fail(c, http.StatusNotFound, "alert not found")
		return
	}
	if err != nil {
		h.internalError(c, "Failed to acknowledge alert", err)
		return
	}
	success(c, alert)
}

// latestReadings handles GET /readings/latest
func (h *Handler) latestReadings(c *gin.Context) {
	readings, err := h.store.LatestReadings(c.Request.Context())
	if err != nil {
		h.internalError(c, "Failed to get latest readings", err)
		return
	}
	success(c, readings)
}

// dailySummaries handles GET /summaries/daily?day=2024-05-01
func (h *Handler) dailySummaries(c *gin.Context) {
	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "day must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	rows, err := h.summaries.Summaries(c.Request.Context(), day)
	if err != nil {
		h.internalError(c, "Failed to get daily summaries", err)
		return
	}
	success(c, rows)
}

func (h *Handler) internalError(c *gin.Context, msg string, err error) {
	c.Error(err)
	h.logger.Error(msg, "error", err)
	fail(c, http.StatusInternalServerError, msg)
}
