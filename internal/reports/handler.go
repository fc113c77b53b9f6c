package reports

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/calculations"
	"github.com/structfin/deal-reporting/internal/catalog"
)

// Handler handles HTTP requests for report management and execution
type Handler struct {
	service  *Service
	catalog  *catalog.FieldCatalog
	logger   *zap.Logger
	runner   RunPreviewer
	exporter ResultExporter
}

// RunPreviewer is the execution surface the handler drives. Implemented
// by the engine executor.
type RunPreviewer interface {
	RunReport(ctx context.Context, reportID uuid.UUID, cycle string) (*Result, error)
	PreviewReport(ctx context.Context, reportID uuid.UUID) (*Result, error)
}

// ResultExporter renders a result in a named format onto the response.
type ResultExporter interface {
	Write(c *gin.Context, format string, name string, result *Result) error
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, fieldCatalog *catalog.FieldCatalog, runner RunPreviewer, exporter ResultExporter, logger *zap.Logger) *Handler {
	return &Handler{
		service:  service,
		catalog:  fieldCatalog,
		runner:   runner,
		exporter: exporter,
		logger:   logger,
	}
}

// RegisterRoutes registers report routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	reports := router.Group("/reports")
	{
		reports.POST("", h.createReport)
		reports.GET("", h.listReports)
		reports.GET("/:id", h.getReport)
		reports.PUT("/:id", h.updateReport)
		reports.DELETE("/:id", h.deleteReport)

		reports.POST("/:id/run", h.runReport)
		reports.GET("/:id/preview", h.previewReport)
		reports.GET("/:id/export", h.exportReport)
	}

	router.GET("/fields", h.listFields)
}

// createReport handles POST /api/v1/reports
func (h *Handler) createReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := h.getUserID(c)

	config, err := h.service.CreateReport(c.Request.Context(), userID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to create report")
		return
	}

	c.JSON(http.StatusCreated, config)
}

// listReports handles GET /api/v1/reports
func (h *Handler) listReports(c *gin.Context) {
	var createdBy *uuid.UUID
	if raw := c.Query("created_by"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid created_by"})
			return
		}
		createdBy = &id
	}

	configs, err := h.service.ListReports(c.Request.Context(), createdBy)
	if err != nil {
		h.respondError(c, err, "Failed to list reports")
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": configs, "total": len(configs)})
}

// getReport handles GET /api/v1/reports/:id
func (h *Handler) getReport(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	config, err := h.service.GetReport(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get report")
		return
	}

	c.JSON(http.StatusOK, config)
}

// updateReport handles PUT /api/v1/reports/:id
func (h *Handler) updateReport(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req UpdateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	config, err := h.service.UpdateReport(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, err, "Failed to update report")
		return
	}

	c.JSON(http.StatusOK, config)
}

// deleteReport handles DELETE /api/v1/reports/:id
func (h *Handler) deleteReport(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteReport(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to delete report")
		return
	}

	c.Status(http.StatusNoContent)
}

// runReport handles POST /api/v1/reports/:id/run
func (h *Handler) runReport(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req struct {
		Cycle string `json:"cycle" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.runner.RunReport(c.Request.Context(), id, req.Cycle)
	if err != nil {
		h.respondError(c, err, "Failed to run report")
		return
	}

	c.JSON(http.StatusOK, result)
}

// previewReport handles GET /api/v1/reports/:id/preview
func (h *Handler) previewReport(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	result, err := h.runner.PreviewReport(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to preview report")
		return
	}

	c.JSON(http.StatusOK, result)
}

// exportReport handles GET /api/v1/reports/:id/export
func (h *Handler) exportReport(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	cycle := c.Query("cycle")
	if cycle == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cycle is required"})
		return
	}
	format := c.DefaultQuery("format", "csv")
	switch format {
	case "csv", "excel", "pdf":
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid export format"})
		return
	}

	config, err := h.service.GetReport(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to export report")
		return
	}

	result, err := h.runner.RunReport(c.Request.Context(), id, cycle)
	if err != nil {
		h.respondError(c, err, "Failed to export report")
		return
	}

	if err := h.exporter.Write(c, format, fmt.Sprintf("%s_%s", config.Name, cycle), result); err != nil {
		h.respondError(c, err, "Failed to export report")
		return
	}
}

// listFields handles GET /api/v1/fields
func (h *Handler) listFields(c *gin.Context) {
	if level := c.Query("group_level"); level != "" {
		l := catalog.GroupLevel(level)
		if !l.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid group level"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"fields": h.catalog.FieldsForLevel(l)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fields": h.catalog.Fields()})
}

// respondError maps domain errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error, logMsg string) {
	var invalidInput *calculations.InvalidInputError
	if errors.As(err, &invalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "validation": invalidInput.Result})
		return
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var calcNotFound *calculations.NotFoundError
	if errors.As(err, &calcNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var approval *calculations.ApprovalRequiredError
	if errors.As(err, &approval) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	h.logger.Error(logMsg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report ID"})
		return uuid.Nil, false
	}
	return id, true
}

// getUserID resolves the acting user from the auth proxy header.
func (h *Handler) getUserID(c *gin.Context) uuid.UUID {
	if userIDStr := c.GetHeader("X-User-ID"); userIDStr != "" {
		if id, err := uuid.Parse(userIDStr); err == nil {
			return id
		}
	}
	return uuid.MustParse("00000000-0000-0000-0000-000000000001")
}
