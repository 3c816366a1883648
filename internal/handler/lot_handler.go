package handler

import (
	"net/http"
	"strconv"

	"pharmstock/internal/middleware"
	"pharmstock/internal/service"
	"pharmstock/pkg/pagination"
	"pharmstock/pkg/response"

	"github.com/gin-gonic/gin"
)

type LotHandler struct {
	lotService service.LotService
}

func NewLotHandler(lotService service.LotService) *LotHandler {
	return &LotHandler{lotService: lotService}
}

func (h *LotHandler) RegisterRoutes(router *gin.RouterGroup) {
	lots := router.Group("/api")
	{
		lots.POST("/stock/allocate", middleware.RequireRole("admin", "manager", "pharmacist"), h.Allocate)
		lots.POST("/stock/receive", middleware.RequireRole("admin", "manager", "pharmacist"), h.ReceiveStock)
		lots.GET("/lots", middleware.RequireRole("admin", "manager", "pharmacist"), h.ListLots)
		lots.GET("/lots/:id/transactions", middleware.RequireRole("admin", "manager", "pharmacist"), h.GetLotTransactions)
		lots.GET("/stock/summary", middleware.RequireRole("admin", "manager", "pharmacist"), h.StockSummary)
	}
}

// Allocate draws a quantity across lots under the requested policy
// @Summary      Allocate stock
// @Description  Draws the requested quantity from unexpired lots in FIFO, FEFO or LIFO order; fails without partial draws when total stock is short
// @Tags         stock
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.AllocateRequest  true  "Allocate Payload"
// @Success      200      {object}  response.Response{data=service.AllocateResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/stock/allocate [post]
func (h *LotHandler) Allocate(c *gin.Context) {
	var req service.AllocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString("userID")

	result, err := h.lotService.Allocate(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ReceiveStock books a receipt into a new or existing lot
// @Summary      Receive stock
// @Description  Creates the lot on first receipt or tops up an existing lot, recording a RECEIPT transaction
// @Tags         stock
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ReceiveStockRequest  true  "Receive Payload"
// @Success      201      {object}  response.Response{data=service.LotResponse}
// @Failure      400      {object}  response.Response
// @Failure      500      {object}  response.Response
// @Router       /api/stock/receive [post]
func (h *LotHandler) ReceiveStock(c *gin.Context) {
	var req service.ReceiveStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString("userID")

	lot, err := h.lotService.ReceiveStock(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, lot))
}

// ListLots returns paginated lots, optionally filtered by drug and location
// @Summary      List lots
// @Tags         stock
// @Security     BearerAuth
// @Produce      json
// @Param        drug_id      query     int  false  "Drug ID filter"
// @Param        location_id  query     int  false  "Location ID filter"
// @Param        page         query     int  false  "Page number (default 1)"
// @Param        limit        query     int  false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Paginated}
// @Failure      500          {object}  response.Response
// @Router       /api/lots [get]
func (h *LotHandler) ListLots(c *gin.Context) {
	params := pagination.Parse(c)
	drugID, _ := strconv.Atoi(c.Query("drug_id"))
	locationID, _ := strconv.Atoi(c.Query("location_id"))

	lots, total, err := h.lotService.ListLots(c.Request.Context(), drugID, locationID, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginated{
		Items: lots,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}

// GetLotTransactions returns the movement history of one lot
// @Summary      Lot transaction history
// @Tags         stock
// @Security     BearerAuth
// @Produce      json
// @Param        id     path      string  true   "Lot ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Paginated}
// @Failure      400    {object}  response.Response
// @Failure      500    {object}  response.Response
// @Router       /api/lots/{id}/transactions [get]
func (h *LotHandler) GetLotTransactions(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Lot ID is missing"))
		return
	}

	params := pagination.Parse(c)

	txs, total, err := h.lotService.GetLotTransactions(c.Request.Context(), id, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginated{
		Items: txs,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}

// StockSummary rolls up usable stock per drug and location
// @Summary      Stock summary
// @Description  On-hand quantity and weighted-average cost over active unexpired lots
// @Tags         stock
// @Security     BearerAuth
// @Produce      json
// @Param        drug_id      query     int  false  "Drug ID filter"
// @Param        location_id  query     int  false  "Location ID filter"
// @Success      200          {object}  response.Response{data=[]service.StockSummaryRow}
// @Failure      500          {object}  response.Response
// @Router       /api/stock/summary [get]
func (h *LotHandler) StockSummary(c *gin.Context) {
	drugID, _ := strconv.Atoi(c.Query("drug_id"))
	locationID, _ := strconv.Atoi(c.Query("location_id"))

	rows, err := h.lotService.StockSummary(c.Request.Context(), drugID, locationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, rows))
}
