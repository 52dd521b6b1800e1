package items

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresService persists trackable items in PostgreSQL. Kind-specific
// attributes live in a JSONB column; the blade razor assignment is a real
// column so it can be cleared when a razor is deleted.
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new item service
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

// marshalAttrs serializes the kind-matching attribute struct
func marshalAttrs(item *Item) ([]byte, error) {
	var attrs interface{}
	switch item.Kind {
	case KindRazor:
		attrs = item.Razor
	case KindBlade:
		attrs = item.Blade
	case KindBrush:
		attrs = item.Brush
	default:
		return nil, fmt.Errorf("unknown item kind: %s", item.Kind)
	}
	if attrs == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return data, nil
}

// unmarshalAttrs populates the kind-matching attribute struct
func unmarshalAttrs(item *Item, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var dest interface{}
	switch item.Kind {
	case KindRazor:
		item.Razor = &RazorAttrs{}
		dest = item.Razor
	case KindBlade:
		item.Blade = &BladeAttrs{}
		dest = item.Blade
	case KindBrush:
		item.Brush = &BrushAttrs{}
		dest = item.Brush
	default:
		return fmt.Errorf("unknown item kind: %s", item.Kind)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to unmarshal attributes: %w", err)
	}
	return nil
}

// Create inserts an item and its zero-valued usage counter in one
// transaction, so no item ever exists without a counter
func (s *PostgresService) Create(ctx context.Context, item *Item) (*Item, error) {
	attrs, err := marshalAttrs(item)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO items (owner_id, kind, name, attributes, assigned_razor_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err = tx.QueryRowContext(ctx, query,
		item.OwnerID, item.Kind, item.Name, attrs, item.AssignedRazorID,
	).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}

	counterQuery := `
		INSERT INTO usage_counters (item_id, count, version)
		VALUES ($1, 0, 0)
		RETURNING item_id, count, version, updated_at
	`
	counter := &UsageCounter{}
	err = tx.QueryRowContext(ctx, counterQuery, item.ID).
		Scan(&counter.ItemID, &counter.Count, &counter.Version, &counter.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter: %w", err)
	}
	item.Counter = counter

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return item, nil
}

const itemColumns = `
	i.id, i.owner_id, i.kind, i.name, i.attributes, i.assigned_razor_id,
	i.created_at, i.updated_at, uc.count, uc.version, uc.updated_at
`

func scanItem(scanner interface {
	Scan(dest ...interface{}) error
}) (*Item, error) {
	item := &Item{Counter: &UsageCounter{}}
	var attrs []byte
	err := scanner.Scan(
		&item.ID, &item.OwnerID, &item.Kind, &item.Name, &attrs,
		&item.AssignedRazorID, &item.CreatedAt, &item.UpdatedAt,
		&item.Counter.Count, &item.Counter.Version, &item.Counter.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan item: %w", err)
	}
	item.Counter.ItemID = item.ID
	if err := unmarshalAttrs(item, attrs); err != nil {
		return nil, err
	}
	return item, nil
}

// Get retrieves one item with its counter, scoped to the owning account
func (s *PostgresService) Get(ctx context.Context, accountID, itemID int64) (*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items i
		JOIN usage_counters uc ON uc.item_id = i.id
		WHERE i.id = $1 AND i.owner_id = $2
	`
	return scanItem(s.db.QueryRowContext(ctx, query, itemID, accountID))
}

// ListByOwner returns all items for an account, newest first
func (s *PostgresService) ListByOwner(ctx context.Context, accountID int64) ([]*Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items i
		JOIN usage_counters uc ON uc.item_id = i.id
		WHERE i.owner_id = $1
		ORDER BY i.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var result []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

// Rename updates the display name
func (s *PostgresService) Rename(ctx context.Context, accountID, itemID int64, name string) error {
	query := `
		UPDATE items SET name = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3
	`

	res, err := s.db.ExecContext(ctx, query, name, itemID, accountID)
	if err != nil {
		return fmt.Errorf("failed to rename item: %w", err)
	}
	return requireRow(res)
}

// AssignBlade sets or clears a blade's razor assignment. The assignment is
// relation only: the blade's usage counter is untouched by design of the
// update (usage_counters is not referenced at all).
func (s *PostgresService) AssignBlade(ctx context.Context, accountID, bladeID int64, razorID *int64) error {
	if razorID != nil {
		// The target must be a razor owned by the same account
		var one int
		check := `SELECT 1 FROM items WHERE id = $1 AND owner_id = $2 AND kind = $3`
		err := s.db.QueryRowContext(ctx, check, *razorID, accountID, KindRazor).Scan(&one)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to verify razor: %w", err)
		}
	}

	query := `
		UPDATE items SET assigned_razor_id = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND kind = $4
	`

	res, err := s.db.ExecContext(ctx, query, razorID, bladeID, accountID, KindBlade)
	if err != nil {
		return fmt.Errorf("failed to assign blade: %w", err)
	}
	return requireRow(res)
}

// Delete removes an item, its counter, and its image records. Deleting a
// razor clears any blade assignments pointing at it; the blades and their
// counters survive unchanged.
func (s *PostgresService) Delete(ctx context.Context, accountID, itemID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Weak reference: blades pointing at a deleted razor are unassigned,
	// never deleted.
	unassign := `UPDATE items SET assigned_razor_id = NULL WHERE assigned_razor_id = $1`
	if _, err := tx.ExecContext(ctx, unassign, itemID); err != nil {
		return fmt.Errorf("failed to clear blade assignments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM image_assets WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("failed to delete image records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM usage_counters WHERE item_id = $1`, itemID); err != nil {
		return fmt.Errorf("failed to delete counter: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = $1 AND owner_id = $2`, itemID, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// requireRow converts a zero-row update into ErrNotFound
func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
