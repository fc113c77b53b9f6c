package calculations

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/structfin/deal-reporting/internal/catalog"
	"github.com/structfin/deal-reporting/internal/expression"
	"github.com/structfin/deal-reporting/internal/sqlcheck"
)

// Handler handles HTTP requests for calculation management
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new calculations handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers calculation routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	calcs := router.Group("/calculations")
	{
		calcs.POST("", h.createCalculation)
		calcs.GET("", h.listCalculations)
		calcs.GET("/available", h.listAvailable)
		calcs.GET("/:id", h.getCalculation)
		calcs.PUT("/:id", h.updateCalculation)
		calcs.DELETE("/:id", h.deleteCalculation)
		calcs.GET("/:id/usage", h.getUsage)
		calcs.POST("/:id/approve", h.approveSystemSql)

		calcs.POST("/validate-expression", h.validateExpression)
		calcs.POST("/validate-sql", h.validateSql)
	}
}

// createCalculation handles POST /api/v1/calculations
func (h *Handler) createCalculation(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := h.getUserID(c)

	calc, err := h.service.CreateCalculation(c.Request.Context(), userID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to create calculation")
		return
	}

	c.JSON(http.StatusCreated, calc)
}

// listCalculations handles GET /api/v1/calculations
func (h *Handler) listCalculations(c *gin.Context) {
	filters := &ListFilters{}
	if level := c.Query("group_level"); level != "" {
		l := catalog.GroupLevel(level)
		filters.GroupLevel = &l
	}
	if calcType := c.Query("type"); calcType != "" {
		t := CalculationType(calcType)
		filters.Type = &t
	}
	filters.ActiveOnly = c.Query("active_only") == "true"

	calcs, err := h.service.ListCalculations(c.Request.Context(), filters)
	if err != nil {
		h.respondError(c, err, "Failed to list calculations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"calculations": calcs, "total": len(calcs)})
}

// listAvailable handles GET /api/v1/calculations/available
func (h *Handler) listAvailable(c *gin.Context) {
	filters := &ListFilters{}
	if level := c.Query("group_level"); level != "" {
		l := catalog.GroupLevel(level)
		filters.GroupLevel = &l
	}

	calcs, err := h.service.ListAvailable(c.Request.Context(), filters)
	if err != nil {
		h.respondError(c, err, "Failed to list available calculations")
		return
	}

	c.JSON(http.StatusOK, gin.H{"calculations": calcs, "total": len(calcs)})
}

// getCalculation handles GET /api/v1/calculations/:id
func (h *Handler) getCalculation(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	calc, err := h.service.GetCalculation(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get calculation")
		return
	}

	c.JSON(http.StatusOK, calc)
}

// updateCalculation handles PUT /api/v1/calculations/:id
func (h *Handler) updateCalculation(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	calc, err := h.service.UpdateCalculation(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, err, "Failed to update calculation")
		return
	}

	c.JSON(http.StatusOK, calc)
}

// deleteCalculation handles DELETE /api/v1/calculations/:id
func (h *Handler) deleteCalculation(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteCalculation(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Failed to delete calculation")
		return
	}

	c.Status(http.StatusNoContent)
}

// getUsage handles GET /api/v1/calculations/:id/usage
func (h *Handler) getUsage(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	usage, err := h.service.GetUsage(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Failed to get calculation usage")
		return
	}

	c.JSON(http.StatusOK, usage)
}

// approveSystemSql handles POST /api/v1/calculations/:id/approve
func (h *Handler) approveSystemSql(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	approverID := h.getUserID(c)

	calc, err := h.service.ApproveSystemSql(c.Request.Context(), id, approverID)
	if err != nil {
		h.respondError(c, err, "Failed to approve calculation")
		return
	}

	c.JSON(http.StatusOK, calc)
}

// validateExpression handles POST /api/v1/calculations/validate-expression
func (h *Handler) validateExpression(c *gin.Context) {
	var req ValidateExpressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.ValidateExpression(c.Request.Context(), &req)
	if err != nil {
		// Advisory validation reports failures in the body, not as a
		// transport error.
		var exprErr *expression.Error
		if errors.As(err, &exprErr) {
			c.JSON(http.StatusOK, gin.H{
				"is_valid":             false,
				"error":                exprErr.Message,
				"undeclared_variables": exprErr.UndeclaredVariables,
			})
			return
		}
		var parseErr *expression.ParseError
		if errors.As(err, &parseErr) {
			c.JSON(http.StatusOK, gin.H{"is_valid": false, "error": parseErr.Error()})
			return
		}
		h.respondError(c, err, "Failed to validate expression")
		return
	}

	c.JSON(http.StatusOK, result)
}

// validateSql handles POST /api/v1/calculations/validate-sql
func (h *Handler) validateSql(c *gin.Context) {
	var req ValidateSqlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.service.ValidateSystemSql(c.Request.Context(), &req)
	c.JSON(http.StatusOK, result)
}

// respondError maps domain errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error, logMsg string) {
	var invalidInput *InvalidInputError
	if errors.As(err, &invalidInput) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "validation": invalidInput.Result})
		return
	}

	var shapeErr *sqlcheck.ShapeError
	if errors.As(err, &shapeErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "sql_errors": shapeErr.Errors})
		return
	}

	var exprErr *expression.Error
	if errors.As(err, &exprErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":                exprErr.Message,
			"undeclared_variables": exprErr.UndeclaredVariables,
		})
		return
	}

	var parseErr *expression.ParseError
	if errors.As(err, &parseErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	var unique *UniquenessError
	if errors.As(err, &unique) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	var inUse *InUseError
	if errors.As(err, &inUse) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "usage": inUse.Usage})
		return
	}

	var cycleErr *expression.CycleError
	if errors.As(err, &cycleErr) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "cycle_path": cycleErr.Path})
		return
	}

	var approval *ApprovalRequiredError
	if errors.As(err, &approval) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.logger.Error(logMsg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid calculation ID"})
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
