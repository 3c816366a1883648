package handler

import (
	"net/http"

	"pharmstock/internal/middleware"
	"pharmstock/internal/service"
	"pharmstock/pkg/pagination"
	"pharmstock/pkg/response"

	"github.com/gin-gonic/gin"
)

type ReservationHandler struct {
	reservationService service.ReservationService
}

func NewReservationHandler(reservationService service.ReservationService) *ReservationHandler {
	return &ReservationHandler{reservationService: reservationService}
}

func (h *ReservationHandler) RegisterRoutes(router *gin.RouterGroup) {
	reservations := router.Group("/api")
	{
		reservations.POST("/reservations", middleware.RequireRole("admin", "manager", "pharmacist"), h.Reserve)
		reservations.GET("/reservations/:id", middleware.RequireRole("admin", "manager", "pharmacist"), h.GetReservation)
		reservations.POST("/reservations/:id/consume", middleware.RequireRole("admin", "manager", "pharmacist"), h.Consume)
		reservations.POST("/reservations/:id/release", middleware.RequireRole("admin", "manager", "pharmacist"), h.Release)
		reservations.GET("/allocations/:id/reservations", middleware.RequireRole("admin", "manager", "pharmacist"), h.ListByAllocation)
	}
}

// Reserve earmarks budget capacity for a pending purchase document
// @Summary      Reserve budget
// @Description  Creates an expiring reservation against a budget allocation; rejected when it would overrun the quarter or total headroom
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.ReserveRequest  true  "Reserve Payload"
// @Success      201      {object}  response.Response{data=service.ReservationResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/reservations [post]
func (h *ReservationHandler) Reserve(c *gin.Context) {
	var req service.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString("userID")

	reservation, err := h.reservationService.Reserve(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, reservation))
}

// GetReservation returns a reservation by ID
// @Summary      Get reservation
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Reservation ID"
// @Success      200  {object}  response.Response{data=service.ReservationResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/reservations/{id} [get]
func (h *ReservationHandler) GetReservation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Reservation ID is missing"))
		return
	}

	reservation, err := h.reservationService.GetReservation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, reservation))
}

// Consume converts a reservation into committed spend
// @Summary      Consume reservation
// @Description  Commits the actual amount against the reservation's quarter and closes the reservation
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Reservation ID"
// @Param        payload  body      service.ConsumeRequest  true  "Consume Payload"
// @Success      200      {object}  response.Response{data=service.ReservationResponse}
// @Failure      400      {object}  response.Response
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Failure      503      {object}  response.Response
// @Router       /api/reservations/{id}/consume [post]
func (h *ReservationHandler) Consume(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Reservation ID is missing"))
		return
	}

	var req service.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString("userID")

	reservation, err := h.reservationService.Consume(c.Request.Context(), userID, id, req.ActualAmount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, reservation))
}

// Release cancels a reservation without spending
// @Summary      Release reservation
// @Description  Closes an active reservation and returns its earmarked capacity to the pool
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                  true  "Reservation ID"
// @Param        payload  body      service.ReleaseRequest  false "Release Payload"
// @Success      200      {object}  response.Response{data=service.ReservationResponse}
// @Failure      404      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/reservations/{id}/release [post]
func (h *ReservationHandler) Release(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Reservation ID is missing"))
		return
	}

	var req service.ReleaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString("userID")

	reservation, err := h.reservationService.Release(c.Request.Context(), userID, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, reservation))
}

// ListByAllocation returns the reservations recorded against one allocation
// @Summary      List reservations by allocation
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        id     path      string  true   "Allocation ID"
// @Param        page   query     int     false  "Page number (default 1)"
// @Param        limit  query     int     false  "Number of items per page (default 20)"
// @Success      200    {object}  response.Response{data=response.Paginated}
// @Failure      500    {object}  response.Response
// @Router       /api/allocations/{id}/reservations [get]
func (h *ReservationHandler) ListByAllocation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Allocation ID is missing"))
		return
	}

	params := pagination.Parse(c)

	reservations, total, err := h.reservationService.ListByAllocation(c.Request.Context(), id, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginated{
		Items: reservations,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}
