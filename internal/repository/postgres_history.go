package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wisefido-ventilation/internal/models"

	"go.uber.org/zap"
)

const occupancySchema = `
CREATE TABLE IF NOT EXISTS occupancy_history (
	id           BIGSERIAL PRIMARY KEY,
	recorded_at  TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	people_count INTEGER NOT NULL DEFAULT 0
)`

// PostgresOccupancyHistory occupancy_history table
type PostgresOccupancyHistory struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresOccupancyHistory creates the repository
func NewPostgresOccupancyHistory(db *sql.DB, logger *zap.Logger) *PostgresOccupancyHistory {
	return &PostgresOccupancyHistory{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the table if needed
func (r *PostgresOccupancyHistory) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, occupancySchema); err != nil {
		return fmt.Errorf("failed to create occupancy_history: %w", err)
	}
	return nil
}

func (r *PostgresOccupancyHistory) Append(ctx context.Context, rec models.OccupancyRecord) error {
	query := `
		INSERT INTO occupancy_history (recorded_at, status, people_count)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, rec.Timestamp, string(rec.Status), rec.PeopleCount); err != nil {
		return fmt.Errorf("failed to insert occupancy record: %w", err)
	}
	return nil
}

func (r *PostgresOccupancyHistory) LoadAll(ctx context.Context) ([]models.OccupancyRecord, error) {
	query := `
		SELECT recorded_at, status, people_count
		FROM occupancy_history
		ORDER BY recorded_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy history: %w", err)
	}
	defer rows.Close()

	var records []models.OccupancyRecord
	for rows.Next() {
		var (
			ts     time.Time
			status string
			count  int
		)
		if err := rows.Scan(&ts, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan occupancy record: %w", err)
		}
		st, ok := models.ParseOccupancyStatus(status)
		if !ok {
			r.logger.Warn("Skipping occupancy record with unknown status", zap.String("status", status))
			continue
		}
		records = append(records, models.OccupancyRecord{Timestamp: ts, Status: st, PeopleCount: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate occupancy history: %w", err)
	}
	return records, nil
}

func (r *PostgresOccupancyHistory) LastModified(ctx context.Context) (time.Time, error) {
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(recorded_at) FROM occupancy_history`).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("failed to query last occupancy record: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}
	return last.Time, nil
}
