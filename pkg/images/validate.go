package images

import (
	"fmt"
	"io"
	"net/http"
)

// allowedTypes maps accepted sniffed content types to file extensions
var allowedTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// Validator checks uploads against the size cap and content-type allow list
// before any bytes reach storage or the derivative pipeline
type Validator struct {
	MaxBytes int64
}

// NewValidator creates a validator with the default size cap
func NewValidator() *Validator {
	return &Validator{MaxBytes: MaxUploadBytes}
}

// Validate reads the upload into memory, enforcing the size cap while
// reading, and sniffs the content type from the actual bytes. The declared
// Content-Type header is ignored: only the payload decides.
func (v *Validator) Validate(r io.Reader) ([]byte, string, error) {
	// Read one byte past the cap so oversized uploads are detected without
	// buffering the whole thing.
	data, err := io.ReadAll(io.LimitReader(r, v.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > v.MaxBytes {
		return nil, "", &ValidationError{
			Reason: fmt.Sprintf("file exceeds %d byte limit", v.MaxBytes),
		}
	}
	if len(data) == 0 {
		return nil, "", &ValidationError{Reason: "empty file"}
	}

	contentType := http.DetectContentType(data)
	if _, ok := allowedTypes[contentType]; !ok {
		return nil, "", &ValidationError{
			Reason: fmt.Sprintf("unsupported content type %q, want jpeg, png, webp or gif", contentType),
		}
	}
	return data, contentType, nil
}

// Extension returns the canonical file extension for an accepted content type
func Extension(contentType string) string {
	return allowedTypes[contentType]
}
