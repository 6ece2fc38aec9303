package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/dispatch"
	"github.com/fieldwalk/fieldwalk/internal/workflow"
)

// maxWebhookBody caps webhook payload reads; Cloud API deliveries are small.
const maxWebhookBody = 1 << 20

// WebhookHandler receives provider webhook deliveries, runs them through the
// workflow engine, and hands replies to the dispatcher.
type WebhookHandler struct {
	adapter    channel.Adapter
	engine     *workflow.Engine
	dispatcher *dispatch.Dispatcher
	path       string
	logger     *slog.Logger
}

// NewWebhookHandler creates a webhook handler mounted at path.
func NewWebhookHandler(log *slog.Logger, adapter channel.Adapter, engine *workflow.Engine,
	dispatcher *dispatch.Dispatcher, path string,
) *WebhookHandler {
	return &WebhookHandler{
		adapter:    adapter,
		engine:     engine,
		dispatcher: dispatcher,
		path:       path,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

// Register mounts the verification and delivery endpoints.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET(h.path, h.Verify)
	e.POST(h.path, h.Receive)
}

// Verify answers the provider's GET verification handshake.
func (h *WebhookHandler) Verify(c echo.Context) error {
	challenge, ok := h.adapter.VerifyWebhook(
		c.QueryParam("hub.mode"),
		c.QueryParam("hub.verify_token"),
		c.QueryParam("hub.challenge"),
	)
	if !ok {
		h.logger.Warn("webhook verification failed", slog.String("remote_ip", c.RealIP()))
		return errorJSON(c, http.StatusForbidden, "verification failed")
	}
	h.logger.Info("webhook verified")
	return c.String(http.StatusOK, challenge)
}

// Receive processes a webhook delivery. The provider expects a fast 200, so
// messages are handled on a background goroutine after signature and payload
// checks; retries are safe because processing dedups on the provider message id.
func (h *WebhookHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "unreadable body")
	}

	if !h.adapter.VerifySignature(body, c.Request().Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn("webhook signature rejected", slog.String("remote_ip", c.RealIP()))
		return errorJSON(c, http.StatusForbidden, "invalid signature")
	}

	// Past the signature check the delivery is always acknowledged, even when
	// it cannot be processed; a non-2xx would put the platform into a retry
	// storm for a payload that will never parse.
	messages, err := h.adapter.ParseInbound(body)
	if err != nil {
		h.logger.Warn("webhook payload unreadable, acknowledging anyway", slog.Any("error", err))
		return c.NoContent(http.StatusOK)
	}

	if len(messages) > 0 {
		go h.process(messages)
	}
	return c.NoContent(http.StatusOK)
}

func (h *WebhookHandler) process(messages []channel.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	for _, msg := range messages {
		result, err := h.engine.HandleMessage(ctx, msg)
		if err != nil {
			h.logger.Error("message handling failed",
				slog.String("provider_message_id", msg.ProviderMessageID),
				slog.Any("error", err))
			continue
		}
		if result.Duplicate {
			h.logger.Debug("duplicate delivery dropped",
				slog.String("provider_message_id", msg.ProviderMessageID))
			continue
		}
		h.dispatcher.Deliver(ctx, msg.Channel, result)
	}
}
