package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/logger"
)

type stubAdapter struct {
	verifyToken string
	signatureOK bool
	parsed      []channel.InboundMessage
	parseErr    error
}

func (a *stubAdapter) Type() channel.Type { return channel.TypeWhatsApp }

func (a *stubAdapter) VerifyWebhook(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token == a.verifyToken {
		return challenge, true
	}
	return "", false
}

func (a *stubAdapter) VerifySignature(body []byte, header string) bool { return a.signatureOK }

func (a *stubAdapter) ParseInbound(body []byte) ([]channel.InboundMessage, error) {
	return a.parsed, a.parseErr
}

func (a *stubAdapter) Send(ctx context.Context, to, text string) error { return nil }

func (a *stubAdapter) DownloadMedia(ctx context.Context, ref channel.MediaRef) (io.ReadCloser, channel.MediaRef, error) {
	return nil, ref, nil
}

func newWebhookTest(adapter channel.Adapter) (*WebhookHandler, *echo.Echo) {
	logger.Init("error", "text")
	h := NewWebhookHandler(logger.L, adapter, nil, nil, "/webhook/whatsapp")
	e := echo.New()
	h.Register(e)
	return h, e
}

func TestWebhookVerifyEchoesChallenge(t *testing.T) {
	_, e := newWebhookTest(&stubAdapter{verifyToken: "secret"})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "42", rec.Body.String())
}

func TestWebhookVerifyRejectsBadToken(t *testing.T) {
	_, e := newWebhookTest(&stubAdapter{verifyToken: "secret"})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookReceiveRejectsBadSignature(t *testing.T) {
	_, e := newWebhookTest(&stubAdapter{signatureOK: false})

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookReceiveAcksUnparseablePayload(t *testing.T) {
	// A signed delivery that fails to parse still gets a 200, otherwise the
	// platform retries it forever.
	_, e := newWebhookTest(&stubAdapter{signatureOK: true, parseErr: errors.New("decode webhook payload")})

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookReceiveAcksEmptyDelivery(t *testing.T) {
	// Status-only deliveries parse to zero messages and must still get a 200.
	_, e := newWebhookTest(&stubAdapter{signatureOK: true})

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
