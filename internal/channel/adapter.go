package channel

import (
	"context"
	"io"
)

// Adapter is one chat transport (WhatsApp today). ParseInbound converts a raw
// webhook body into provider-agnostic messages; Send and DownloadMedia talk to
// the provider's API.
type Adapter interface {
	Type() Type

	// VerifyWebhook handles the provider's GET verification handshake and
	// returns the challenge to echo back.
	VerifyWebhook(mode, token, challenge string) (string, bool)

	// VerifySignature checks the webhook body signature header.
	VerifySignature(body []byte, signatureHeader string) bool

	// ParseInbound extracts inbound messages from a webhook delivery. Payloads
	// without messages (status updates etc.) yield an empty slice.
	ParseInbound(body []byte) ([]InboundMessage, error)

	// Send delivers a text message to the recipient.
	Send(ctx context.Context, to, text string) error

	// DownloadMedia resolves a MediaRef to its payload. The returned MediaRef
	// carries any mime/filename details learned from the provider.
	DownloadMedia(ctx context.Context, ref MediaRef) (io.ReadCloser, MediaRef, error)
}
