// Package whatsapp implements the channel.Adapter for the WhatsApp Business Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldwalk/fieldwalk/internal/channel"
	"github.com/fieldwalk/fieldwalk/internal/config"
)

// Adapter talks to the WhatsApp Cloud API (Graph API).
type Adapter struct {
	cfg    config.WhatsAppConfig
	client *http.Client
	logger *slog.Logger
}

var _ channel.Adapter = (*Adapter)(nil)

// New creates a WhatsApp adapter from config.
func New(log *slog.Logger, cfg config.WhatsAppConfig) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: log.With(slog.String("channel", "whatsapp")),
	}
}

// Type returns the channel type.
func (a *Adapter) Type() channel.Type { return channel.TypeWhatsApp }

// VerifyWebhook handles the hub.challenge verification handshake.
func (a *Adapter) VerifyWebhook(mode, token, challenge string) (string, bool) {
	if mode == "subscribe" && token == a.cfg.VerifyToken {
		return challenge, true
	}
	return "", false
}

// VerifySignature checks the X-Hub-Signature-256 header against the app secret.
// An empty configured secret disables the check (local development).
func (a *Adapter) VerifySignature(body []byte, signatureHeader string) bool {
	if a.cfg.AppSecret == "" {
		return true
	}
	if len(signatureHeader) < 8 || signatureHeader[:7] != "sha256=" {
		return false
	}
	expected := signatureHeader[7:]

	mac := hmac.New(sha256.New, []byte(a.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// ParseInbound extracts text and media messages from a webhook delivery.
// Status callbacks and unsupported message types are skipped.
func (a *Adapter) ParseInbound(body []byte) ([]channel.InboundMessage, error) {
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}

	var messages []channel.InboundMessage
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			senderNames := map[string]string{}
			for _, contact := range change.Value.Contacts {
				senderNames[contact.WaID] = contact.Profile.Name
			}
			for _, msg := range change.Value.Messages {
				inbound := channel.InboundMessage{
					Channel:           channel.TypeWhatsApp,
					ProviderMessageID: msg.ID,
					From:              msg.From,
					SenderName:        senderNames[msg.From],
					Timestamp:         parseTimestamp(msg.Timestamp),
				}
				switch msg.Type {
				case "text":
					if msg.Text == nil {
						continue
					}
					inbound.Text = msg.Text.Body
				case "image":
					if msg.Image == nil {
						continue
					}
					inbound.Text = msg.Image.Caption
					inbound.Media = &channel.MediaRef{
						ProviderID: msg.Image.ID,
						MimeType:   msg.Image.MimeType,
					}
				case "video":
					if msg.Video == nil {
						continue
					}
					inbound.Text = msg.Video.Caption
					inbound.Media = &channel.MediaRef{
						ProviderID: msg.Video.ID,
						MimeType:   msg.Video.MimeType,
					}
				case "document":
					if msg.Document == nil {
						continue
					}
					inbound.Text = msg.Document.Caption
					inbound.Media = &channel.MediaRef{
						ProviderID: msg.Document.ID,
						MimeType:   msg.Document.MimeType,
						Filename:   msg.Document.Filename,
					}
				default:
					a.logger.Debug("skipping unsupported message type",
						slog.String("type", msg.Type), slog.String("message_id", msg.ID))
					continue
				}
				messages = append(messages, inbound)
			}
		}
	}
	return messages, nil
}

// Send delivers a text message via the Cloud API.
func (a *Adapter) Send(ctx context.Context, to, text string) error {
	url := fmt.Sprintf("%s/%s/messages", a.cfg.APIBase, a.cfg.PhoneNumberID)

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// DownloadMedia resolves a media id in two steps: fetch the short-lived
// download URL from the Graph API, then fetch the payload with the same
// bearer token.
func (a *Adapter) DownloadMedia(ctx context.Context, ref channel.MediaRef) (io.ReadCloser, channel.MediaRef, error) {
	metaURL := fmt.Sprintf("%s/%s", a.cfg.APIBase, ref.ProviderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, ref, fmt.Errorf("build media lookup: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, ref, fmt.Errorf("media lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, ref, fmt.Errorf("whatsapp media lookup %d: %s", resp.StatusCode, string(respBody))
	}

	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, ref, fmt.Errorf("decode media lookup: %w", err)
	}
	if meta.MimeType != "" {
		ref.MimeType = meta.MimeType
	}

	dlReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, ref, fmt.Errorf("build media download: %w", err)
	}
	dlReq.Header.Set("Authorization", "Bearer "+a.cfg.AccessToken)

	dlResp, err := a.client.Do(dlReq)
	if err != nil {
		return nil, ref, fmt.Errorf("media download: %w", err)
	}
	if dlResp.StatusCode != http.StatusOK {
		dlResp.Body.Close()
		return nil, ref, fmt.Errorf("whatsapp media download %d", dlResp.StatusCode)
	}
	return dlResp.Body, ref, nil
}

func parseTimestamp(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

// Webhook payload types (Cloud API).

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string      `json:"from"`
	ID        string      `json:"id"`
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Text      *waText     `json:"text,omitempty"`
	Image     *waMedia    `json:"image,omitempty"`
	Video     *waMedia    `json:"video,omitempty"`
	Document  *waDocument `json:"document,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type waDocument struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}
