package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const entityColumns = `kind, id, status, data, created_at, updated_at`

// Create inserts a new row with a generated id
func (s *PostgresStore) Create(ctx context.Context, kind, status string, data map[string]any) (*Entity, error) {
	payload, err := json.Marshal(stripReserved(data))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s data: %w", kind, err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO entities (kind, id, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+entityColumns,
		kind, uuid.NewString(), status, payload)

	e, err := scanEntity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	return e, nil
}

// Get retrieves a row by kind and id
func (s *PostgresStore) Get(ctx context.Context, kind, id string) (*Entity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE kind = $1 AND id = $2
	`, kind, id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", kind, err)
	}
	return e, nil
}

// List returns every row of kind, oldest first
func (s *PostgresStore) List(ctx context.Context, kind string) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM entities
		WHERE kind = $1
		ORDER BY created_at ASC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", kind, err)
	}
	return out, nil
}

// UpdateData replaces the row's data. Status is not touched.
func (s *PostgresStore) UpdateData(ctx context.Context, kind, id string, data map[string]any) (*Entity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	payload, err := json.Marshal(stripReserved(data))
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s data: %w", kind, err)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE entities
		SET data = $1, updated_at = NOW()
		WHERE kind = $2 AND id = $3
		RETURNING `+entityColumns,
		payload, kind, id)

	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", kind, err)
	}
	return e, nil
}

// Delete removes the row
func (s *PostgresStore) Delete(ctx context.Context, kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE kind = $1 AND id = $2`, kind, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// GetEntityState returns the row's current status
func (s *PostgresStore) GetEntityState(ctx context.Context, kind, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM entities WHERE kind = $1 AND id = $2
	`, kind, id).Scan(&status)

	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s status: %w", kind, err)
	}
	return status, nil
}

// SetEntityState sets status to next if it still equals expected. The
// condition is part of the UPDATE, so two concurrent transitions from the
// same state cannot both succeed.
func (s *PostgresStore) SetEntityState(ctx context.Context, kind, id, expected, next string) (*Entity, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE entities
		SET status = $1, updated_at = NOW()
		WHERE kind = $2 AND id = $3 AND status = $4
		RETURNING `+entityColumns,
		next, kind, id, expected)

	e, err := scanEntity(row)
	if err == nil {
		return e, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to update %s status: %w", kind, err)
	}

	// Zero rows: either the row is gone or its status moved on.
	current, err := s.GetEntityState(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%s %s is %q, expected %q: %w", kind, id, current, expected, ErrStateConflict)
}

func scanEntity(row interface{ Scan(...any) error }) (*Entity, error) {
	var (
		e       Entity
		payload []byte
	)
	if err := row.Scan(&e.Kind, &e.ID, &e.Status, &payload, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}

	e.Data = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &e.Data); err != nil {
			return nil, fmt.Errorf("invalid data for %s %s: %w", e.Kind, e.ID, err)
		}
	}
	return &e, nil
}
