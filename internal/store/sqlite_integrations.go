package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
	"github.com/oklog/ulid/v2"
)

const integrationColumns = `id, type, name, config, is_active, last_sync_at, last_sync_status,
	last_sync_error, created_at, updated_at`

const mappingColumns = `id, integration_id, metric_id, query, aggregation_method, value_field,
	transformation_rules, is_active, created_at, updated_at`

// GetIntegrationByType retrieves the integration of type t.
func (s *SQLiteStore) GetIntegrationByType(ctx context.Context, t types.IntegrationType) (*types.Integration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+integrationColumns+` FROM integrations WHERE type = ?`, t)
	in, err := scanIntegration(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan integration: %w", err)
	}
	return in, nil
}

// SaveIntegration upserts by type. Sync state of an existing row is kept.
func (s *SQLiteStore) SaveIntegration(ctx context.Context, in types.Integration) (*types.Integration, error) {
	cfg := in.Config
	if cfg == nil {
		cfg = types.IntegrationConfig{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal integration config: %w", err)
	}

	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (id, type, name, config, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(type) DO UPDATE SET
			name = excluded.name,
			config = excluded.config,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, ulid.Make().String(), in.Type, in.Name, string(data), boolInt(in.IsActive), now, now)
	if err != nil {
		return nil, mapWriteError("save integration", err)
	}

	return s.GetIntegrationByType(ctx, in.Type)
}

// UpdateIntegrationSync records the outcome of the latest sync run.
func (s *SQLiteStore) UpdateIntegrationSync(ctx context.Context, id string, status types.SyncStatus, at time.Time, errMsg *string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE integrations
		SET last_sync_at = ?, last_sync_status = ?, last_sync_error = ?, updated_at = ?
		WHERE id = ?
	`, formatTime(at), status, errMsg, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update integration sync: %w", err)
	}
	return checkAffected(res)
}

func scanIntegration(scanner interface{ Scan(...any) error }) (*types.Integration, error) {
	var in types.Integration
	var configJSON string
	var active int
	var lastSyncAt, lastSyncStatus, lastSyncError sql.NullString
	var createdAt, updatedAt string

	err := scanner.Scan(&in.ID, &in.Type, &in.Name, &configJSON, &active,
		&lastSyncAt, &lastSyncStatus, &lastSyncError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &in.Config); err != nil {
		return nil, fmt.Errorf("parse integration config: %w", err)
	}
	in.IsActive = active != 0
	in.LastSyncAt = parseNullTime(lastSyncAt)
	if lastSyncStatus.Valid {
		st := types.SyncStatus(lastSyncStatus.String)
		in.LastSyncStatus = &st
	}
	in.LastSyncError = nullString(lastSyncError)
	in.CreatedAt = parseTime(createdAt)
	in.UpdatedAt = parseTime(updatedAt)
	return &in, nil
}

// ListMappings returns every mapping of an integration.
func (s *SQLiteStore) ListMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error) {
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM integration_mappings
		WHERE integration_id = ? ORDER BY created_at, id`, integrationID)
}

// ListActiveMappings returns the active mappings of an integration in creation order.
func (s *SQLiteStore) ListActiveMappings(ctx context.Context, integrationID string) ([]types.IntegrationMapping, error) {
	return s.queryMappings(ctx, `SELECT `+mappingColumns+` FROM integration_mappings
		WHERE integration_id = ? AND is_active = 1 ORDER BY created_at, id`, integrationID)
}

func (s *SQLiteStore) queryMappings(ctx context.Context, query string, args ...any) ([]types.IntegrationMapping, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mappings: %w", err)
	}
	defer rows.Close()

	mappings := []types.IntegrationMapping{}
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		mappings = append(mappings, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return mappings, nil
}

// GetMapping retrieves a mapping by ID.
func (s *SQLiteStore) GetMapping(ctx context.Context, id string) (*types.IntegrationMapping, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mappingColumns+` FROM integration_mappings WHERE id = ?`, id)
	m, err := scanMapping(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan mapping: %w", err)
	}
	return m, nil
}

// CreateMapping inserts a mapping. Unknown integration or metric IDs yield
// ErrInvalidReference.
func (s *SQLiteStore) CreateMapping(ctx context.Context, m types.IntegrationMapping) (*types.IntegrationMapping, error) {
	rules, err := marshalRules(m.TransformationRules)
	if err != nil {
		return nil, err
	}

	now := parseTime(formatTime(s.now()))
	m.ID = ulid.Make().String()
	m.CreatedAt, m.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_mappings (`+mappingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.IntegrationID, m.MetricID, m.Query, m.AggregationMethod, m.ValueField,
		rules, boolInt(m.IsActive), formatTime(now), formatTime(now))
	if err != nil {
		return nil, mapWriteError("insert mapping", err)
	}
	return &m, nil
}

// UpdateMapping replaces the mutable fields of an existing mapping.
func (s *SQLiteStore) UpdateMapping(ctx context.Context, m types.IntegrationMapping) (*types.IntegrationMapping, error) {
	rules, err := marshalRules(m.TransformationRules)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE integration_mappings
		SET metric_id = ?, query = ?, aggregation_method = ?, value_field = ?,
		    transformation_rules = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, m.MetricID, m.Query, m.AggregationMethod, m.ValueField, rules, boolInt(m.IsActive),
		formatTime(s.now()), m.ID)
	if err != nil {
		return nil, mapWriteError("update mapping", err)
	}
	if err := checkAffected(res); err != nil {
		return nil, err
	}
	return s.GetMapping(ctx, m.ID)
}

// DeleteMapping removes a mapping.
func (s *SQLiteStore) DeleteMapping(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM integration_mappings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mapping: %w", err)
	}
	return checkAffected(res)
}

func marshalRules(r *types.TransformationRules) (sql.NullString, error) {
	if r == nil || (r.DivideBy == nil && r.MultiplyBy == nil) {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal transformation rules: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanMapping(scanner interface{ Scan(...any) error }) (*types.IntegrationMapping, error) {
	var m types.IntegrationMapping
	var rules sql.NullString
	var active int
	var createdAt, updatedAt string

	err := scanner.Scan(&m.ID, &m.IntegrationID, &m.MetricID, &m.Query, &m.AggregationMethod,
		&m.ValueField, &rules, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if rules.Valid && rules.String != "" {
		var r types.TransformationRules
		if err := json.Unmarshal([]byte(rules.String), &r); err != nil {
			return nil, fmt.Errorf("parse transformation rules: %w", err)
		}
		m.TransformationRules = &r
	}
	m.IsActive = active != 0
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}
