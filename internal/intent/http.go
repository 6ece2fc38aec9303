package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fieldwalk/fieldwalk/internal/config"
)

// HTTPClassifier calls an external classification service over HTTP.
type HTTPClassifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

var _ Classifier = (*HTTPClassifier)(nil)

// NewHTTPClassifier creates a classifier client from config.
func NewHTTPClassifier(log *slog.Logger, cfg config.ClassifierConfig) *HTTPClassifier {
	if log == nil {
		log = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log.With(slog.String("service", "intent")),
	}
}

// Classify posts the request to the classifier's /classify endpoint. Callers
// are expected to degrade to the unknown intent on error.
func (c *HTTPClassifier) Classify(ctx context.Context, req Request) (Intent, error) {
	if c.baseURL == "" {
		return Intent{}, fmt.Errorf("classifier base url not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Intent{}, fmt.Errorf("marshal classify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", bytes.NewReader(body))
	if err != nil {
		return Intent{}, fmt.Errorf("build classify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Intent{}, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Intent{}, fmt.Errorf("classifier status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result Intent
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Intent{}, fmt.Errorf("decode classify response: %w", err)
	}
	if result.Name == "" {
		result.Name = Unknown
	}
	c.logger.Debug("message classified",
		slog.String("intent", result.Name),
		slog.Float64("confidence", result.Confidence))
	return result, nil
}
