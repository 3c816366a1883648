package handler

import (
	"net/http"

	"pharmstock/internal/middleware"
	"pharmstock/internal/service"
	"pharmstock/pkg/response"

	"github.com/gin-gonic/gin"
)

type SweepHandler struct {
	sweeperService service.SweeperService
}

func NewSweepHandler(sweeperService service.SweeperService) *SweepHandler {
	return &SweepHandler{sweeperService: sweeperService}
}

func (h *SweepHandler) RegisterRoutes(router *gin.RouterGroup) {
	sweep := router.Group("/api")
	{
		sweep.POST("/sweep/run", middleware.RequireRole("admin"), h.RunSweep)
	}
}

// RunSweep triggers one sweep pass on demand
// @Summary      Run expiry sweep
// @Description  Expires overdue reservations and writes off expired lots; safe to run repeatedly
// @Tags         sweep
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.SweepResult}
// @Failure      500  {object}  response.Response
// @Router       /api/sweep/run [post]
func (h *SweepHandler) RunSweep(c *gin.Context) {
	result, err := h.sweeperService.RunSweep(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}
