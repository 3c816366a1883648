package handler

import (
	"net/http"
	"strconv"

	"pharmstock/internal/middleware"
	"pharmstock/internal/service"
	"pharmstock/pkg/pagination"
	"pharmstock/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type BudgetHandler struct {
	budgetService service.BudgetService
}

func NewBudgetHandler(budgetService service.BudgetService) *BudgetHandler {
	return &BudgetHandler{budgetService: budgetService}
}

func (h *BudgetHandler) RegisterRoutes(router *gin.RouterGroup) {
	budget := router.Group("/api")
	{
		budget.POST("/allocations", middleware.RequireRole("admin", "manager"), h.CreateAllocation)
		budget.GET("/allocations", middleware.RequireRole("admin", "manager", "pharmacist"), h.ListAllocations)
		budget.GET("/allocations/:id", middleware.RequireRole("admin", "manager", "pharmacist"), h.GetAllocation)
		budget.GET("/budget/availability", middleware.RequireRole("admin", "manager", "pharmacist"), h.CheckAvailability)
	}
}

// CreateAllocation registers a yearly budget allocation split into quarters
// @Summary      Create budget allocation
// @Description  Creates a budget allocation for one fiscal year, budget and department with quarterly caps
// @Tags         budget
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateAllocationRequest  true  "Create Allocation Payload"
// @Success      201      {object}  response.Response{data=service.AllocationResponse}
// @Failure      400      {object}  response.Response
// @Failure      500      {object}  response.Response
// @Router       /api/allocations [post]
func (h *BudgetHandler) CreateAllocation(c *gin.Context) {
	var req service.CreateAllocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}

	userID := c.GetString("userID")

	allocation, err := h.budgetService.CreateAllocation(c.Request.Context(), userID, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, allocation))
}

// ListAllocations returns paginated budget allocations
// @Summary      List allocations
// @Description  Retrieves a paginated list of budget allocations, optionally filtered by fiscal year
// @Tags         budget
// @Security     BearerAuth
// @Produce      json
// @Param        fiscal_year  query     int  false  "Fiscal year filter"
// @Param        page         query     int  false  "Page number (default 1)"
// @Param        limit        query     int  false  "Number of items per page (default 20)"
// @Success      200          {object}  response.Response{data=response.Paginated}
// @Failure      500          {object}  response.Response
// @Router       /api/allocations [get]
func (h *BudgetHandler) ListAllocations(c *gin.Context) {
	params := pagination.Parse(c)
	fiscalYear, _ := strconv.Atoi(c.Query("fiscal_year"))

	allocations, total, err := h.budgetService.ListAllocations(c.Request.Context(), fiscalYear, params.Page, params.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Paginated{
		Items: allocations,
		Total: total,
		Page:  params.Page,
		Limit: params.Limit,
	}))
}

// GetAllocation returns one allocation with its live reservation rollup
// @Summary      Get allocation
// @Description  Retrieves a budget allocation by ID including reserved and available amounts
// @Tags         budget
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Allocation ID"
// @Success      200  {object}  response.Response{data=service.AllocationResponse}
// @Failure      404  {object}  response.Response
// @Failure      500  {object}  response.Response
// @Router       /api/allocations/{id} [get]
func (h *BudgetHandler) GetAllocation(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Allocation ID is missing"))
		return
	}

	allocation, err := h.budgetService.GetAllocation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, allocation))
}

// CheckAvailability answers whether an amount fits the remaining budget
// @Summary      Check budget availability
// @Description  Checks whether the requested amount fits within the allocation's unreserved remaining budget
// @Tags         budget
// @Security     BearerAuth
// @Produce      json
// @Param        fiscal_year    query     int     true  "Fiscal year"
// @Param        budget_id      query     int     true  "Budget ID"
// @Param        department_id  query     int     true  "Department ID"
// @Param        amount         query     string  true  "Amount to check"
// @Success      200            {object}  response.Response{data=service.AvailabilityResponse}
// @Failure      400            {object}  response.Response
// @Failure      500            {object}  response.Response
// @Router       /api/budget/availability [get]
func (h *BudgetHandler) CheckAvailability(c *gin.Context) {
	fiscalYear, err := strconv.Atoi(c.Query("fiscal_year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid fiscal_year"))
		return
	}
	budgetID, err := strconv.Atoi(c.Query("budget_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid budget_id"))
		return
	}
	departmentID, err := strconv.Atoi(c.Query("department_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid department_id"))
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid amount"))
		return
	}

	availability, err := h.budgetService.CheckAvailability(c.Request.Context(), fiscalYear, budgetID, departmentID, amount)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, availability))
}
