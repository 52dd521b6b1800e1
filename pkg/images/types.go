package images

import (
	"errors"
	"fmt"
	"time"
)

// Variant identifies which rendition of an upload an asset row describes
type Variant string

const (
	VariantOriginal Variant = "original"
	VariantDisplay  Variant = "display" // resized to fit MaxDimension
	VariantThumb    Variant = "thumb"   // resized to fit ThumbDimension
)

// Default rendition bounds, in pixels on the longest edge
const (
	MaxDimension   = 1200
	ThumbDimension = 300
)

// MaxUploadBytes is the hard cap on accepted upload size
const MaxUploadBytes = 10 << 20 // 10MB

// Asset is one stored rendition of an item photo
type Asset struct {
	ID          int64     `json:"id"`
	ItemID      int64     `json:"item_id"`
	Variant     Variant   `json:"variant"`
	StorageKey  string    `json:"storage_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Checksum    string    `json:"checksum"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidationError rejects an upload before any storage or derivative work
// happens. The message is safe to return to the client.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload: %s", e.Reason)
}

// IsValidationError reports whether err is an upload validation failure
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrNotFound is returned when an asset does not exist
var ErrNotFound = errors.New("image asset not found")
