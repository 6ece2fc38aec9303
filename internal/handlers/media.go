package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/fieldwalk/fieldwalk/internal/media"
)

// MediaHandler serves stored media and per-item media listings.
type MediaHandler struct {
	pool   *pgxpool.Pool
	media  *media.Service
	logger *slog.Logger
}

// NewMediaHandler creates a media handler.
func NewMediaHandler(log *slog.Logger, pool *pgxpool.Pool, mediaService *media.Service) *MediaHandler {
	return &MediaHandler{
		pool:   pool,
		media:  mediaService,
		logger: log.With(slog.String("handler", "media")),
	}
}

// Register mounts the media routes.
func (h *MediaHandler) Register(e *echo.Echo) {
	e.GET("/api/items/:id/media", h.ListForItem)
	e.GET("/api/media/:id", h.Get)
	e.GET("/api/media/:id/content", h.Content)
}

// ListForItem returns the media bound to a checklist item.
func (h *MediaHandler) ListForItem(c echo.Context) error {
	assets, err := h.media.ForItem(c.Request().Context(), h.pool, c.Param("id"))
	if err != nil {
		h.logger.Error("list item media failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "list media failed")
	}
	return c.JSON(http.StatusOK, assets)
}

// Get returns media metadata.
func (h *MediaHandler) Get(c echo.Context) error {
	asset, err := h.media.Get(c.Request().Context(), h.pool, c.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "media not found")
		}
		h.logger.Error("get media failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "get media failed")
	}
	return c.JSON(http.StatusOK, asset)
}

// Content streams the stored bytes with the recorded content type.
func (h *MediaHandler) Content(c echo.Context) error {
	reader, asset, err := h.media.Open(c.Request().Context(), h.pool, c.Param("id"))
	if err != nil {
		if errors.Is(err, media.ErrNotFound) {
			return errorJSON(c, http.StatusNotFound, "media not found")
		}
		h.logger.Error("open media failed", slog.Any("error", err))
		return errorJSON(c, http.StatusInternalServerError, "open media failed")
	}
	defer reader.Close()
	return c.Stream(http.StatusOK, asset.MimeType, reader)
}
