package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyperengineering/pillars/internal/types"
	"github.com/oklog/ulid/v2"
)

const pillarColumns = `id, name, description, green_threshold, yellow_threshold, sort_order, created_at, updated_at`

const metricColumns = `id, pillar_id, name, description, metric_type, data_source,
	current_value, target_value, previous_value, green_threshold, yellow_threshold,
	comparison_mode, cadence, format, unit, sort_order, created_at, updated_at`

// CreatePillar inserts a pillar. Missing thresholds take the defaults.
func (s *SQLiteStore) CreatePillar(ctx context.Context, in types.NewPillar) (*types.Pillar, error) {
	// Round-trip through the stored format so the result equals a later read.
	now := parseTime(formatTime(s.now()))
	p := types.Pillar{
		ID:          ulid.Make().String(),
		Name:        in.Name,
		Description: in.Description,
		Thresholds:  types.DefaultThresholds,
		SortOrder:   in.SortOrder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Thresholds != nil {
		p.Thresholds = *in.Thresholds
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pillars (`+pillarColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.Thresholds.Green, p.Thresholds.Yellow, p.SortOrder,
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, mapWriteError("insert pillar", err)
	}
	return &p, nil
}

// GetPillar retrieves a pillar by ID.
func (s *SQLiteStore) GetPillar(ctx context.Context, id string) (*types.Pillar, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pillarColumns+` FROM pillars WHERE id = ?`, id)
	p, err := scanPillar(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan pillar: %w", err)
	}
	return p, nil
}

// ListPillars returns every pillar in display order.
func (s *SQLiteStore) ListPillars(ctx context.Context) ([]types.Pillar, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pillarColumns+` FROM pillars ORDER BY sort_order, name`)
	if err != nil {
		return nil, fmt.Errorf("query pillars: %w", err)
	}
	defer rows.Close()

	pillars := []types.Pillar{}
	for rows.Next() {
		p, err := scanPillar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pillar: %w", err)
		}
		pillars = append(pillars, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pillars: %w", err)
	}
	return pillars, nil
}

func scanPillar(scanner interface{ Scan(...any) error }) (*types.Pillar, error) {
	var p types.Pillar
	var createdAt, updatedAt string
	err := scanner.Scan(&p.ID, &p.Name, &p.Description, &p.Thresholds.Green, &p.Thresholds.Yellow,
		&p.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// CreateMetric inserts a metric under an existing pillar.
func (s *SQLiteStore) CreateMetric(ctx context.Context, in types.NewMetric) (*types.Metric, error) {
	now := parseTime(formatTime(s.now()))
	m := types.Metric{
		ID:             ulid.Make().String(),
		PillarID:       in.PillarID,
		Name:           in.Name,
		Description:    in.Description,
		MetricType:     in.MetricType,
		DataSource:     in.DataSource,
		CurrentValue:   in.CurrentValue,
		TargetValue:    in.TargetValue,
		Thresholds:     types.DefaultThresholds,
		ComparisonMode: in.ComparisonMode,
		Cadence:        in.Cadence,
		Format:         in.Format,
		Unit:           in.Unit,
		SortOrder:      in.SortOrder,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Thresholds != nil {
		m.Thresholds = *in.Thresholds
	}
	if m.MetricType == "" {
		m.MetricType = types.MetricKeyResult
	}
	if m.DataSource == "" {
		m.DataSource = types.SourceManual
	}
	if m.ComparisonMode == "" {
		m.ComparisonMode = types.ModeAtOrAbove
	}
	if m.Cadence == "" {
		m.Cadence = types.CadenceMonthly
	}
	if m.Format == "" {
		m.Format = types.FormatNumber
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics (`+metricColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.PillarID, m.Name, m.Description, m.MetricType, m.DataSource,
		m.CurrentValue, m.TargetValue, m.Thresholds.Green, m.Thresholds.Yellow,
		m.ComparisonMode, m.Cadence, m.Format, m.Unit, m.SortOrder,
		formatTime(now), formatTime(now))
	if err != nil {
		return nil, mapWriteError("insert metric", err)
	}
	return &m, nil
}

// GetMetric retrieves a metric by ID.
func (s *SQLiteStore) GetMetric(ctx context.Context, id string) (*types.Metric, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+metricColumns+` FROM metrics WHERE id = ?`, id)
	m, err := scanMetric(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan metric: %w", err)
	}
	return m, nil
}

// ListMetrics returns metrics for pillarID, or all metrics when it is empty.
func (s *SQLiteStore) ListMetrics(ctx context.Context, pillarID string) ([]types.Metric, error) {
	query := `SELECT ` + metricColumns + ` FROM metrics`
	var args []any
	if pillarID != "" {
		query += ` WHERE pillar_id = ?`
		args = append(args, pillarID)
	}
	query += ` ORDER BY sort_order, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	metrics := []types.Metric{}
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metric: %w", err)
		}
		metrics = append(metrics, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics: %w", err)
	}
	return metrics, nil
}

// UpdateMetricValue writes a new current value, shifting the old one into
// previous_value. SQLite evaluates the SET list against the old row.
func (s *SQLiteStore) UpdateMetricValue(ctx context.Context, id string, value float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE metrics
		SET previous_value = current_value, current_value = ?, updated_at = ?
		WHERE id = ?
	`, value, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("update metric value: %w", err)
	}
	return checkAffected(res)
}

func scanMetric(scanner interface{ Scan(...any) error }) (*types.Metric, error) {
	var m types.Metric
	var previous sql.NullFloat64
	var createdAt, updatedAt string

	err := scanner.Scan(
		&m.ID, &m.PillarID, &m.Name, &m.Description, &m.MetricType, &m.DataSource,
		&m.CurrentValue, &m.TargetValue, &previous, &m.Thresholds.Green, &m.Thresholds.Yellow,
		&m.ComparisonMode, &m.Cadence, &m.Format, &m.Unit, &m.SortOrder, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if previous.Valid {
		v := previous.Float64
		m.PreviousValue = &v
	}
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	return &m, nil
}
