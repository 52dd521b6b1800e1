package images

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/jtbnz/razor-library-sub001/pkg/observability"
)

// Service runs the upload pipeline: validate, store the original, hand
// resize work to the external requester, record asset rows
type Service struct {
	db        *sql.DB
	validator *Validator
	blobs     BlobStore
	requester DerivativeRequester
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewService creates an image service. metrics may be nil.
func NewService(db *sql.DB, blobs BlobStore, requester DerivativeRequester, metrics *observability.Metrics, logger *observability.Logger) *Service {
	return &Service{
		db:        db,
		validator: NewValidator(),
		blobs:     blobs,
		requester: requester,
		metrics:   metrics,
		logger:    logger,
	}
}

// Upload validates and stores a photo for an item owned by the account.
// Validation failures surface as *ValidationError before any blob or
// derivative work happens. Derivative request failures are logged, not
// fatal: the original is already safe and the renditions can be rebuilt.
func (s *Service) Upload(ctx context.Context, accountID, itemID int64, r io.Reader) (*Asset, error) {
	var one int
	ownerCheck := `SELECT 1 FROM items WHERE id = $1 AND owner_id = $2`
	err := s.db.QueryRowContext(ctx, ownerCheck, itemID, accountID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify item: %w", err)
	}

	data, contentType, err := s.validator.Validate(r)
	if err != nil {
		s.observeValidation(contentType, err)
		return nil, err
	}
	s.observeValidation(contentType, nil)
	if s.metrics != nil {
		s.metrics.UploadBytesTotal.Add(float64(len(data)))
	}

	hash := sha256.Sum256(data)
	checksum := hex.EncodeToString(hash[:])

	uploadID := uuid.New().String()
	ext := Extension(contentType)
	originalKey := blobKey(itemID, uploadID, VariantOriginal, ext)

	if err := s.blobs.Put(ctx, originalKey, bytes.NewReader(data), contentType); err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}

	asset := &Asset{
		ItemID:      itemID,
		Variant:     VariantOriginal,
		StorageKey:  originalKey,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Checksum:    checksum,
	}
	if err := s.insertAsset(ctx, asset); err != nil {
		return nil, err
	}

	s.requestDerivative(ctx, itemID, uploadID, originalKey, contentType, ext, VariantDisplay, MaxDimension)
	s.requestDerivative(ctx, itemID, uploadID, originalKey, contentType, ext, VariantThumb, ThumbDimension)

	return asset, nil
}

func blobKey(itemID int64, uploadID string, variant Variant, ext string) string {
	return fmt.Sprintf("items/%d/%s/%s.%s", itemID, uploadID, variant, ext)
}

func (s *Service) insertAsset(ctx context.Context, asset *Asset) error {
	query := `
		INSERT INTO image_assets (item_id, variant, storage_key, content_type, size_bytes, checksum)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRowContext(ctx, query,
		asset.ItemID, asset.Variant, asset.StorageKey, asset.ContentType,
		asset.SizeBytes, asset.Checksum,
	).Scan(&asset.ID, &asset.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record asset: %w", err)
	}
	return nil
}

func (s *Service) requestDerivative(ctx context.Context, itemID int64, uploadID, sourceKey, contentType, ext string, variant Variant, maxDim int) {
	start := time.Now()
	targetKey := blobKey(itemID, uploadID, variant, ext)

	err := s.requester.Request(ctx, DerivativeRequest{
		SourceKey:    sourceKey,
		TargetKey:    targetKey,
		ContentType:  contentType,
		MaxDimension: maxDim,
	})
	if s.metrics != nil {
		s.metrics.DerivativeDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if s.logger != nil {
			s.logger.WithError(err).WithField("storage_key", targetKey).
				Warn("derivative request failed")
		}
		return
	}

	asset := &Asset{
		ItemID:      itemID,
		Variant:     variant,
		StorageKey:  targetKey,
		ContentType: contentType,
	}
	if err := s.insertAsset(ctx, asset); err != nil && s.logger != nil {
		s.logger.WithError(err).WithField("storage_key", targetKey).
			Warn("failed to record derivative")
	}
}

func (s *Service) observeValidation(contentType string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "rejected"
	}
	if contentType == "" {
		contentType = "unknown"
	}
	s.metrics.UploadValidationsTotal.WithLabelValues(contentType, outcome).Inc()
}

// ListByItem returns all asset rows for an item owned by the account
func (s *Service) ListByItem(ctx context.Context, accountID, itemID int64) ([]*Asset, error) {
	query := `
		SELECT a.id, a.item_id, a.variant, a.storage_key, a.content_type,
		       a.size_bytes, a.checksum, a.created_at
		FROM image_assets a
		JOIN items i ON i.id = a.item_id
		WHERE a.item_id = $1 AND i.owner_id = $2
		ORDER BY a.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, itemID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset := &Asset{}
		err := rows.Scan(&asset.ID, &asset.ItemID, &asset.Variant, &asset.StorageKey,
			&asset.ContentType, &asset.SizeBytes, &asset.Checksum, &asset.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// Open streams the bytes of one asset owned by the account
func (s *Service) Open(ctx context.Context, accountID, assetID int64) (io.ReadCloser, *Asset, error) {
	query := `
		SELECT a.id, a.item_id, a.variant, a.storage_key, a.content_type,
		       a.size_bytes, a.checksum, a.created_at
		FROM image_assets a
		JOIN items i ON i.id = a.item_id
		WHERE a.id = $1 AND i.owner_id = $2
	`

	asset := &Asset{}
	err := s.db.QueryRowContext(ctx, query, assetID, accountID).
		Scan(&asset.ID, &asset.ItemID, &asset.Variant, &asset.StorageKey,
			&asset.ContentType, &asset.SizeBytes, &asset.Checksum, &asset.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get asset: %w", err)
	}

	body, err := s.blobs.Get(ctx, asset.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return body, asset, nil
}

// Delete removes one asset row and its blob
func (s *Service) Delete(ctx context.Context, accountID, assetID int64) error {
	var storageKey string
	query := `
		SELECT a.storage_key
		FROM image_assets a
		JOIN items i ON i.id = a.item_id
		WHERE a.id = $1 AND i.owner_id = $2
	`
	err := s.db.QueryRowContext(ctx, query, assetID, accountID).Scan(&storageKey)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get asset: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM image_assets WHERE id = $1`, assetID); err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if err := s.blobs.Delete(ctx, storageKey); err != nil && s.logger != nil {
		// Row is gone; orphaned blobs are swept later
		s.logger.WithError(err).WithField("storage_key", storageKey).
			Warn("failed to delete blob")
	}
	return nil
}
