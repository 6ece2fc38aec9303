package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/fieldwalk/fieldwalk/internal/checklist"
	"github.com/fieldwalk/fieldwalk/internal/workorder"
)

// WorkOrdersHandler manages work orders over the admin API.
type WorkOrdersHandler struct {
	pool       *pgxpool.Pool
	orders     *workorder.Service
	checklists *checklist.Service
	logger     *slog.Logger
}

// NewWorkOrdersHandler creates a work orders handler.
func NewWorkOrdersHandler(log *slog.Logger, pool *pgxpool.Pool,
	orders *workorder.Service, checklists *checklist.Service,
) *WorkOrdersHandler {
	return &WorkOrdersHandler{
		pool:       pool,
		orders:     orders,
		checklists: checklists,
		logger:     log.With(slog.String("handler", "workorders")),
	}
}

// Register mounts the work order routes.
func (h *WorkOrdersHandler) Register(e *echo.Echo) {
	e.POST("/api/workorders", h.Create)
	e.GET("/api/workorders", h.List)
	e.GET("/api/workorders/:id", h.Get)
}

// Create schedules a work order.
func (h *WorkOrdersHandler) Create(c echo.Context) error {
	var req workorder.CreateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	wo, err := h.orders.Create(c.Request().Context(), h.pool, req)
	if err != nil {
		h.logger.Error("create work order failed", slog.Any("error", err))
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, wo)
}

// List returns all work orders, newest first.
func (h *WorkOrdersHandler) List(c echo.Context) error {
	orders, err := h.orders.List(c.Request().Context(), h.pool)
	if err != nil {
		h.logger.Error("list work orders failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "list work orders failed")
	}
	return c.JSON(http.StatusOK, orders)
}

type workOrderDetail struct {
	workorder.WorkOrder
	Checklist *checklistDetail `json:"checklist,omitempty"`
}

type checklistDetail struct {
	checklist.Instance
	Items []checklist.Item `json:"items"`
}

// Get returns a work order with its checklist state when an inspection has started.
func (h *WorkOrdersHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	wo, err := h.orders.Get(ctx, h.pool, c.Param("id"))
	if err != nil {
		if errors.Is(err, workorder.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "work order not found")
		}
		h.logger.Error("get work order failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "get work order failed")
	}

	detail := workOrderDetail{WorkOrder: wo}
	instance, err := h.checklists.InstanceForWorkOrder(ctx, h.pool, wo.ID)
	switch {
	case err == nil:
		items, err := h.checklists.Items(ctx, h.pool, instance.ID)
		if err != nil {
			h.logger.Error("list checklist items failed", slog.Any("error", err))
			return errorJSON(c, http.StatusInternalServerError, "get work order failed")
		}
		detail.Checklist = &checklistDetail{Instance: instance, Items: items}
	case errors.Is(err, checklist.ErrInstanceNotFound):
		// Inspection not started yet.
	default:
		h.logger.Error("load checklist instance failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "get work order failed")
	}

	return c.JSON(http.StatusOK, detail)
}
