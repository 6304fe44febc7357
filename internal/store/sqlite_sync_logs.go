package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hyperengineering/pillars/internal/types"
	"github.com/oklog/ulid/v2"
)

const syncLogColumns = `id, integration_id, status, started_at, completed_at, records_fetched,
	records_updated, mappings_failed, values_discarded, error_message`

// CreateSyncLog opens a running sync log.
func (s *SQLiteStore) CreateSyncLog(ctx context.Context, integrationID string, startedAt time.Time) (*types.SyncLog, error) {
	log := types.SyncLog{
		ID:            ulid.Make().String(),
		IntegrationID: integrationID,
		Status:        types.SyncRunning,
		StartedAt:     parseTime(formatTime(startedAt)),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_logs (id, integration_id, status, started_at)
		VALUES (?, ?, ?, ?)
	`, log.ID, log.IntegrationID, log.Status, formatTime(startedAt))
	if err != nil {
		return nil, mapWriteError("insert sync log", err)
	}
	return &log, nil
}

// CompleteSyncLog writes the terminal state of a running log. A log can be
// completed once; later attempts return ErrAlreadyCompleted.
func (s *SQLiteStore) CompleteSyncLog(ctx context.Context, id string, c types.SyncCompletion) error {
	var errMsg *string
	if c.ErrorMessage != "" {
		errMsg = &c.ErrorMessage
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_logs
		SET status = ?, completed_at = ?, records_fetched = ?, records_updated = ?,
		    mappings_failed = ?, values_discarded = ?, error_message = ?
		WHERE id = ? AND status = 'running'
	`, c.Status, formatTime(c.CompletedAt), c.RecordsFetched, c.RecordsUpdated,
		c.MappingsFailed, c.ValuesDiscarded, errMsg, id)
	if err != nil {
		return fmt.Errorf("complete sync log: %w", err)
	}

	if err := checkAffected(res); err != nil {
		var exists int
		qerr := s.db.QueryRowContext(ctx, `SELECT 1 FROM sync_logs WHERE id = ?`, id).Scan(&exists)
		if qerr == nil {
			return ErrAlreadyCompleted
		}
		return err
	}
	return nil
}

// ListSyncLogs returns the most recent logs of an integration, newest first.
func (s *SQLiteStore) ListSyncLogs(ctx context.Context, integrationID string, limit int) ([]types.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+syncLogColumns+`
		FROM sync_logs
		WHERE integration_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	defer rows.Close()

	logs := []types.SyncLog{}
	for rows.Next() {
		var l types.SyncLog
		var startedAt string
		var completedAt, errMsg sql.NullString
		if err := rows.Scan(&l.ID, &l.IntegrationID, &l.Status, &startedAt, &completedAt,
			&l.RecordsFetched, &l.RecordsUpdated, &l.MappingsFailed, &l.ValuesDiscarded, &errMsg); err != nil {
			return nil, fmt.Errorf("scan sync log: %w", err)
		}
		l.StartedAt = parseTime(startedAt)
		l.CompletedAt = parseNullTime(completedAt)
		l.ErrorMessage = nullString(errMsg)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync logs: %w", err)
	}
	return logs, nil
}
