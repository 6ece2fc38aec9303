package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/fieldwalk/fieldwalk/internal/checklist"
)

// TemplatesHandler manages checklist templates over the admin API.
type TemplatesHandler struct {
	pool       *pgxpool.Pool
	checklists *checklist.Service
	logger     *slog.Logger
}

// NewTemplatesHandler creates a templates handler.
func NewTemplatesHandler(log *slog.Logger, pool *pgxpool.Pool, checklists *checklist.Service) *TemplatesHandler {
	return &TemplatesHandler{
		pool:       pool,
		checklists: checklists,
		logger:     log.With(slog.String("handler", "templates")),
	}
}

// Register mounts the template routes.
func (h *TemplatesHandler) Register(e *echo.Echo) {
	e.POST("/api/templates", h.Create)
	e.GET("/api/templates", h.List)
	e.GET("/api/templates/:id", h.Get)
}

type createTemplateRequest struct {
	Name  string                          `json:"name"`
	Items []checklist.TemplateItemRequest `json:"items"`
}

// Create creates a checklist template with its ordered items.
func (h *TemplatesHandler) Create(c echo.Context) error {
	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	template, err := h.checklists.CreateTemplate(c.Request().Context(), h.pool, req.Name, req.Items)
	if err != nil {
		h.logger.Error("create template failed", slog.Any("error", err))
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, template)
}

// List returns all templates without items.
func (h *TemplatesHandler) List(c echo.Context) error {
	templates, err := h.checklists.ListTemplates(c.Request().Context(), h.pool)
	if err != nil {
		h.logger.Error("list templates failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "list templates failed")
	}
	return c.JSON(http.StatusOK, templates)
}

// Get returns one template with its items.
func (h *TemplatesHandler) Get(c echo.Context) error {
	template, err := h.checklists.GetTemplate(c.Request().Context(), h.pool, c.Param("id"))
	if err != nil {
		if errors.Is(err, checklist.ErrTemplateNotFound) {
			return errorJSON(c, http.StatusNotFound, "template not found")
		}
		h.logger.Error("get template failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "get template failed")
	}
	return c.JSON(http.StatusOK, template)
}
