// Package channel abstracts chat transports behind a common adapter interface.
package channel

import (
	"strings"
	"time"
)

// Type identifies a chat channel transport.
type Type string

// Known channel types.
const (
	TypeWhatsApp Type = "whatsapp"
)

func (t Type) String() string { return string(t) }

func normalizeType(raw string) Type {
	return Type(strings.ToLower(strings.TrimSpace(raw)))
}

// MediaRef points at a media payload held by the provider. The adapter
// resolves it to bytes via DownloadMedia.
type MediaRef struct {
	ProviderID string
	MimeType   string
	Filename   string
}

// InboundMessage is a provider-agnostic inbound chat message.
type InboundMessage struct {
	Channel           Type
	ProviderMessageID string
	From              string
	SenderName        string
	Text              string
	Media             *MediaRef
	Timestamp         time.Time
}
