package catalog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the entity catalog to the report designer: the deals and
// tranches selectable in a report, and the cycles a run can target.
type Handler struct {
	entities EntityCatalog
	cycles   CycleSource
	logger   *zap.Logger
}

// NewHandler creates a new catalog handler
func NewHandler(entities EntityCatalog, cycles CycleSource, logger *zap.Logger) *Handler {
	return &Handler{
		entities: entities,
		cycles:   cycles,
		logger:   logger,
	}
}

// RegisterRoutes registers catalog routes
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	catalog := router.Group("/catalog")
	{
		catalog.GET("/deals", h.listDeals)
		catalog.GET("/deals/:id", h.getDeal)
		catalog.GET("/deals/:id/tranches", h.listTranches)
		catalog.GET("/cycles", h.listCycles)
	}
}

// listDeals handles GET /api/v1/catalog/deals
func (h *Handler) listDeals(c *gin.Context) {
	deals, err := h.entities.ListDeals(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list deals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deals": deals, "total": len(deals)})
}

// getDeal handles GET /api/v1/catalog/deals/:id
func (h *Handler) getDeal(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	deal, err := h.entities.GetDeal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, deal)
}

// listTranches handles GET /api/v1/catalog/deals/:id/tranches
func (h *Handler) listTranches(c *gin.Context) {
	id, ok := h.parseID(c)
	if !ok {
		return
	}

	tranches, err := h.entities.ListTranches(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list tranches", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tranches": tranches, "total": len(tranches)})
}

// listCycles handles GET /api/v1/catalog/cycles
func (h *Handler) listCycles(c *gin.Context) {
	cycles, err := h.cycles.ListCycles(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list cycles", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cycles": cycles, "total": len(cycles)})
}

func (h *Handler) parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid deal ID"})
		return 0, false
	}
	return id, true
}
