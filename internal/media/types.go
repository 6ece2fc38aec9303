// Package media ingests inbound photos and documents, deduplicates them by
// content hash, and binds them to checklist items.
package media

import (
	"io"
	"time"
)

// Asset is a stored media object. ItemID is empty until the asset is bound to
// a checklist item.
type Asset struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	ContentHash string     `json:"contentHash"`
	MimeType    string     `json:"mimeType"`
	SizeBytes   int64      `json:"sizeBytes"`
	StorageKey  string     `json:"storageKey"`
	Filename    string     `json:"filename"`
	ItemID      string     `json:"itemId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	BoundAt     *time.Time `json:"boundAt,omitempty"`
}

// IngestRequest holds an inbound media payload.
type IngestRequest struct {
	UserID   string
	Reader   io.Reader
	MimeType string
	Filename string
}
