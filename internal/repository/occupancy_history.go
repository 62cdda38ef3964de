package repository

import (
	"context"
	"time"

	"wisefido-ventilation/internal/models"
)

// OccupancyHistory append-only occupancy log
type OccupancyHistory interface {
	Append(ctx context.Context, rec models.OccupancyRecord) error
	LoadAll(ctx context.Context) ([]models.OccupancyRecord, error)
	// LastModified time of the newest write; zero time when the log is empty
	LastModified(ctx context.Context) (time.Time, error)
}
