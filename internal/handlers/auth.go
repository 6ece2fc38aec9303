package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fieldwalk/fieldwalk/internal/accounts"
	"github.com/fieldwalk/fieldwalk/internal/auth"
	"github.com/fieldwalk/fieldwalk/internal/config"
)

// AuthHandler issues JWTs for admin API accounts.
type AuthHandler struct {
	accounts *accounts.Service
	cfg      config.AuthConfig
	logger   *slog.Logger
}

// NewAuthHandler creates an auth handler.
func NewAuthHandler(log *slog.Logger, accountsService *accounts.Service, cfg config.AuthConfig) *AuthHandler {
	return &AuthHandler{
		accounts: accountsService,
		cfg:      cfg,
		logger:   log.With(slog.String("handler", "auth")),
	}
}

// Register mounts POST /auth/login.
func (h *AuthHandler) Register(e *echo.Echo) {
	e.POST("/auth/login", h.Login)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login verifies credentials and returns a signed token.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	account, err := h.accounts.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			return errorJSON(c, http.StatusUnauthorized, "invalid credentials")
		}
		h.logger.Error("authenticate failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "login failed")
	}

	token, expiresAt, err := auth.GenerateToken(account.ID, account.Role, h.cfg.JWTSecret, h.cfg.JWTExpiry)
	if err != nil {
		h.logger.Error("token generation failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "login failed")
	}

	return c.JSON(http.StatusOK, loginResponse{Token: token, ExpiresAt: expiresAt})
}
