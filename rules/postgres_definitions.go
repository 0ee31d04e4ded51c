package rules

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresDefinitionStore implements DefinitionStore backed by PostgreSQL.
// The rule_definitions table is created by the store package migrations.
type PostgresDefinitionStore struct {
	db *sql.DB
}

// NewPostgresDefinitionStore creates a PostgreSQL-backed DefinitionStore
func NewPostgresDefinitionStore(db *sql.DB) *PostgresDefinitionStore {
	return &PostgresDefinitionStore{db: db}
}

const definitionColumns = `id, name, rule_type, entity, field, priority, enabled, severity,
	expression, message, depends_on, created_at, updated_at`

// Add inserts a new definition
func (s *PostgresDefinitionStore) Add(ctx context.Context, def *RuleDefinition) error {
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_definitions (`+definitionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, def.ID, def.Name, def.Type.String(), def.Entity, def.Field, def.Priority, def.Enabled,
		def.Severity.String(), def.Expression, def.Message, pq.Array(def.DependsOn),
		def.CreatedAt, def.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("rule definition %s: %w", def.ID, ErrDefinitionExists)
	}
	if err != nil {
		return fmt.Errorf("failed to insert rule definition: %w", err)
	}
	return nil
}

// Get retrieves a definition by id
func (s *PostgresDefinitionStore) Get(ctx context.Context, id string) (*RuleDefinition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		WHERE id = $1
	`, id)

	def, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule definition %s: %w", id, ErrDefinitionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule definition: %w", err)
	}
	return def, nil
}

// List returns all definitions ordered by creation time
func (s *PostgresDefinitionStore) List(ctx context.Context) ([]*RuleDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+definitionColumns+`
		FROM rule_definitions
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rule definitions: %w", err)
	}
	defer rows.Close()

	var defs []*RuleDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule definition: %w", err)
		}
		defs = append(defs, def)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rule definitions: %w", err)
	}
	return defs, nil
}

// Update modifies an existing definition
func (s *PostgresDefinitionStore) Update(ctx context.Context, def *RuleDefinition) error {
	def.UpdatedAt = time.Now()

	err := s.db.QueryRowContext(ctx, `
		UPDATE rule_definitions
		SET name = $1, rule_type = $2, entity = $3, field = $4, priority = $5, enabled = $6,
			severity = $7, expression = $8, message = $9, depends_on = $10, updated_at = $11
		WHERE id = $12
		RETURNING created_at
	`, def.Name, def.Type.String(), def.Entity, def.Field, def.Priority, def.Enabled,
		def.Severity.String(), def.Expression, def.Message, pq.Array(def.DependsOn),
		def.UpdatedAt, def.ID).Scan(&def.CreatedAt)

	if err == sql.ErrNoRows {
		return fmt.Errorf("rule definition %s: %w", def.ID, ErrDefinitionNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule definition: %w", err)
	}
	return nil
}

// Delete removes a definition
func (s *PostgresDefinitionStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rule_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule definition %s: %w", id, ErrDefinitionNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*RuleDefinition, error) {
	var (
		def      RuleDefinition
		ruleType string
		severity string
		deps     []string
	)
	err := row.Scan(&def.ID, &def.Name, &ruleType, &def.Entity, &def.Field, &def.Priority,
		&def.Enabled, &severity, &def.Expression, &def.Message, pq.Array(&deps),
		&def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if def.Type, err = ParseRuleType(ruleType); err != nil {
		return nil, err
	}
	if def.Severity, err = ParseSeverity(severity); err != nil {
		return nil, err
	}
	def.DependsOn = deps
	return &def, nil
}
