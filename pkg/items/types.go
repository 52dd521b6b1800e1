package items

import (
	"errors"
	"time"
)

// Kind discriminates the trackable item variants
type Kind string

const (
	KindRazor Kind = "razor"
	KindBlade Kind = "blade"
	KindBrush Kind = "brush"
)

// Valid reports whether k is a known item kind
func (k Kind) Valid() bool {
	switch k {
	case KindRazor, KindBlade, KindBrush:
		return true
	}
	return false
}

// RazorAttrs holds razor-specific attributes
type RazorAttrs struct {
	Brand  string `json:"brand,omitempty"`
	Model  string `json:"model,omitempty"`
	Format string `json:"format,omitempty"` // e.g. "DE", "SE", "straight"
}

// BladeAttrs holds blade-specific attributes. The razor assignment is a weak
// reference kept outside this struct (a real column) so razor deletion can
// clear it without touching blade history.
type BladeAttrs struct {
	Brand string `json:"brand,omitempty"`
	Model string `json:"model,omitempty"`
}

// BrushAttrs holds brush-specific attributes
type BrushAttrs struct {
	Brand  string `json:"brand,omitempty"`
	KnotMM int    `json:"knot_mm,omitempty"`
	Fiber  string `json:"fiber,omitempty"` // e.g. "badger", "boar", "synthetic"
	LoftMM int    `json:"loft_mm,omitempty"`
}

// Item is a trackable piece of equipment owned by an account. Exactly one of
// the attrs pointers matches Kind; the others are nil.
type Item struct {
	ID      int64  `json:"id"`
	OwnerID int64  `json:"owner_id"`
	Kind    Kind   `json:"kind"`
	Name    string `json:"name"`

	Razor *RazorAttrs `json:"razor,omitempty"`
	Blade *BladeAttrs `json:"blade,omitempty"`
	Brush *BrushAttrs `json:"brush,omitempty"`

	// AssignedRazorID is set only for blades currently loaded in a razor.
	// Relation only, not ownership: it never affects the usage counter.
	AssignedRazorID *int64 `json:"assigned_razor_id,omitempty"`

	Counter *UsageCounter `json:"counter,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageCounter is the authoritative consumption counter for one item
type UsageCounter struct {
	ItemID    int64     `json:"item_id"`
	Count     int       `json:"count"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CounterResult is returned from every successful counter mutation so the
// client can reconcile its optimistic display with the authoritative value
type CounterResult struct {
	NewCount int   `json:"count"`
	Version  int64 `json:"version"`
}

var (
	// ErrNotFound is returned when the item does not exist or is not owned
	// by the requesting account
	ErrNotFound = errors.New("item not found")

	// ErrConflict is returned when expectedVersion does not match the stored
	// version; nothing was written
	ErrConflict = errors.New("counter version conflict")
)
