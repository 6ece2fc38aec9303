package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/fieldwalk/fieldwalk/internal/db"
	"github.com/fieldwalk/fieldwalk/internal/storage"
)

var (
	ErrNotFound      = errors.New("media not found")
	ErrAssetTooLarge = errors.New("asset too large")
)

// Service ingests and serves media assets.
type Service struct {
	provider storage.Provider
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates a media service. maxBytes caps the size of a single asset.
func NewService(log *slog.Logger, provider storage.Provider, maxBytes int64) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		provider: provider,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

const assetColumns = `id, user_id, content_hash, mime_type, size_bytes, storage_key, filename, item_id, created_at, bound_at`

func scanAsset(row pgx.Row) (Asset, error) {
	var (
		id        pgtype.UUID
		userID    pgtype.UUID
		itemID    pgtype.UUID
		createdAt pgtype.Timestamptz
		boundAt   pgtype.Timestamptz
		a         Asset
	)
	err := row.Scan(&id, &userID, &a.ContentHash, &a.MimeType, &a.SizeBytes,
		&a.StorageKey, &a.Filename, &itemID, &createdAt, &boundAt)
	if err != nil {
		return Asset{}, err
	}
	a.ID = dbpkg.UUIDToString(id)
	a.UserID = dbpkg.UUIDToString(userID)
	a.ItemID = dbpkg.UUIDToString(itemID)
	a.CreatedAt = dbpkg.TimeFromPg(createdAt)
	if boundAt.Valid {
		t := boundAt.Time
		a.BoundAt = &t
	}
	return a, nil
}

// Ingest spools the payload to disk while hashing it, stores the blob under a
// content-addressed key, and records an unbound asset row. The asset is bound
// to a checklist item later via Bind.
func (s *Service) Ingest(ctx context.Context, q dbpkg.Querier, input IngestRequest) (Asset, error) {
	pgUser, err := dbpkg.ParseUUID(input.UserID)
	if err != nil {
		return Asset{}, fmt.Errorf("invalid user id: %w", err)
	}

	contentHash, sizeBytes, tempPath, err := spoolAndHashWithLimit(input.Reader, s.maxBytes)
	if err != nil {
		return Asset{}, err
	}
	defer os.Remove(tempPath)

	ext := extensionFromMime(input.MimeType)
	storageKey := contentHash[:2] + "/" + contentHash + ext

	f, err := os.Open(tempPath)
	if err != nil {
		return Asset{}, fmt.Errorf("reopen spooled asset: %w", err)
	}
	defer f.Close()
	if err := s.provider.Put(ctx, storageKey, f); err != nil {
		return Asset{}, fmt.Errorf("store asset: %w", err)
	}

	row := q.QueryRow(ctx,
		`INSERT INTO media (user_id, content_hash, mime_type, size_bytes, storage_key, filename)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+assetColumns,
		pgUser, contentHash, strings.TrimSpace(input.MimeType), sizeBytes, storageKey,
		strings.TrimSpace(input.Filename),
	)
	asset, err := scanAsset(row)
	if err != nil {
		return Asset{}, fmt.Errorf("record asset: %w", err)
	}

	s.logger.Info("media ingested",
		slog.String("media_id", asset.ID),
		slog.Int64("size_bytes", sizeBytes),
		slog.String("mime", asset.MimeType))
	return asset, nil
}

// Bind attaches an asset to a checklist item. Rebinding an already bound
// asset moves it to the new item (last write wins); the prior binding is
// logged for traceability.
func (s *Service) Bind(ctx context.Context, q dbpkg.Querier, mediaID, itemID string) (Asset, error) {
	pgMedia, err := dbpkg.ParseUUID(mediaID)
	if err != nil {
		return Asset{}, ErrNotFound
	}
	pgItem, err := dbpkg.ParseUUID(itemID)
	if err != nil {
		return Asset{}, fmt.Errorf("invalid item id: %w", err)
	}

	prior, err := s.Get(ctx, q, mediaID)
	if err != nil {
		return Asset{}, err
	}

	row := q.QueryRow(ctx,
		`UPDATE media SET item_id = $2, bound_at = now() WHERE id = $1 RETURNING `+assetColumns,
		pgMedia, pgItem,
	)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, fmt.Errorf("bind asset: %w", err)
	}

	if prior.ItemID != "" && prior.ItemID != itemID {
		s.logger.Info("media rebound",
			slog.String("media_id", mediaID),
			slog.String("previous_item_id", prior.ItemID),
			slog.String("item_id", itemID))
	}
	return asset, nil
}

// Get returns an asset by ID.
func (s *Service) Get(ctx context.Context, q dbpkg.Querier, mediaID string) (Asset, error) {
	pgID, err := dbpkg.ParseUUID(mediaID)
	if err != nil {
		return Asset{}, ErrNotFound
	}
	row := q.QueryRow(ctx, `SELECT `+assetColumns+` FROM media WHERE id = $1`, pgID)
	asset, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, fmt.Errorf("load asset: %w", err)
	}
	return asset, nil
}

// ForItem returns the assets bound to a checklist item, oldest first.
func (s *Service) ForItem(ctx context.Context, q dbpkg.Querier, itemID string) ([]Asset, error) {
	pgID, err := dbpkg.ParseUUID(itemID)
	if err != nil {
		return nil, fmt.Errorf("invalid item id: %w", err)
	}
	rows, err := q.Query(ctx, `SELECT `+assetColumns+` FROM media WHERE item_id = $1 ORDER BY created_at`, pgID)
	if err != nil {
		return nil, fmt.Errorf("list item media: %w", err)
	}
	defer rows.Close()

	var assets []Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// Open returns a reader for the stored blob of an asset.
func (s *Service) Open(ctx context.Context, q dbpkg.Querier, mediaID string) (io.ReadCloser, Asset, error) {
	asset, err := s.Get(ctx, q, mediaID)
	if err != nil {
		return nil, Asset{}, err
	}
	rc, err := s.provider.Open(ctx, asset.StorageKey)
	if err != nil {
		return nil, Asset{}, fmt.Errorf("open asset blob: %w", err)
	}
	return rc, asset, nil
}

func extensionFromMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}

func spoolAndHashWithLimit(reader io.Reader, maxBytes int64) (string, int64, string, error) {
	if reader == nil {
		return "", 0, "", fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, "", fmt.Errorf("max bytes must be greater than 0")
	}
	tempFile, err := os.CreateTemp("", "fieldwalk-media-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, "", fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, "", fmt.Errorf("asset payload is empty")
	}
	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}
