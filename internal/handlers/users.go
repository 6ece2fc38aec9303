package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/fieldwalk/fieldwalk/internal/identity"
)

// UsersHandler exposes chat users and role management to the admin API.
type UsersHandler struct {
	pool   *pgxpool.Pool
	users  *identity.Service
	logger *slog.Logger
}

// NewUsersHandler creates a users handler.
func NewUsersHandler(log *slog.Logger, pool *pgxpool.Pool, users *identity.Service) *UsersHandler {
	return &UsersHandler{
		pool:   pool,
		users:  users,
		logger: log.With(slog.String("handler", "users")),
	}
}

// Register mounts the user routes.
func (h *UsersHandler) Register(e *echo.Echo) {
	e.GET("/api/users", h.List)
	e.GET("/api/users/:id", h.Get)
	e.PUT("/api/users/:id/role", h.SetRole)
}

// List returns all known chat users.
func (h *UsersHandler) List(c echo.Context) error {
	users, err := h.users.List(c.Request().Context(), h.pool)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "list users failed")
	}
	return c.JSON(http.StatusOK, users)
}

// Get returns one user by id.
func (h *UsersHandler) Get(c echo.Context) error {
	user, err := h.users.Get(c.Request().Context(), h.pool, c.Param("id"))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "user not found")
		}
		h.logger.Error("get user failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "get user failed")
	}
	return c.JSON(http.StatusOK, user)
}

type setRoleRequest struct {
	Role string `json:"role"`
}

// SetRole promotes or demotes a user, typically customer to inspector.
func (h *UsersHandler) SetRole(c echo.Context) error {
	var req setRoleRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	if !identity.ValidRole(req.Role) {
		return errorJSON(c, http.StatusBadRequest, "unknown role")
	}

	user, err := h.users.SetRole(c.Request().Context(), h.pool, c.Param("id"), req.Role)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "user not found")
		}
		h.logger.Error("set role failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "set role failed")
	}
	return c.JSON(http.StatusOK, user)
}
