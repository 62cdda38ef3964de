package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"wisefido-ventilation/internal/models"

	"go.uber.org/zap"
)

var csvHeader = []string{"timestamp", "status", "people_count"}

// CSVOccupancyHistory timestamp,status,people_count rows in a single file
type CSVOccupancyHistory struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewCSVOccupancyHistory creates the parent directory; the file is created on first append
func NewCSVOccupancyHistory(path string, logger *zap.Logger) (*CSVOccupancyHistory, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}
	return &CSVOccupancyHistory{path: path, logger: logger}, nil
}

func (h *CSVOccupancyHistory) Append(ctx context.Context, rec models.OccupancyRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	writeHeader := false
	if st, err := os.Stat(h.path); err != nil || st.Size() == 0 {
		writeHeader = true
	}

	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write history header: %w", err)
		}
	}
	row := []string{
		rec.Timestamp.Format(time.RFC3339),
		string(rec.Status),
		strconv.Itoa(rec.PeopleCount),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("failed to write history row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (h *CSVOccupancyHistory) LoadAll(ctx context.Context) ([]models.OccupancyRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var records []models.OccupancyRecord
	skipped := 0
	for line := 1; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if line == 1 && len(row) > 0 && row[0] == csvHeader[0] {
			continue
		}
		rec, ok := parseRow(row)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		h.logger.Warn("Skipped malformed occupancy history rows",
			zap.String("path", h.path),
			zap.Int("skipped", skipped),
		)
	}
	return records, nil
}

func (h *CSVOccupancyHistory) LastModified(ctx context.Context) (time.Time, error) {
	st, err := os.Stat(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to stat history file: %w", err)
	}
	return st.ModTime(), nil
}

func parseRow(row []string) (models.OccupancyRecord, bool) {
	if len(row) < 2 {
		return models.OccupancyRecord{}, false
	}
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		// older rows were written without a zone
		ts, err = time.ParseInLocation("2006-01-02 15:04:05", row[0], time.Local)
		if err != nil {
			return models.OccupancyRecord{}, false
		}
	}
	status, ok := models.ParseOccupancyStatus(row[1])
	if !ok {
		return models.OccupancyRecord{}, false
	}
	count := 0
	if len(row) > 2 && row[2] != "" {
		if count, err = strconv.Atoi(row[2]); err != nil {
			return models.OccupancyRecord{}, false
		}
	}
	return models.OccupancyRecord{Timestamp: ts, Status: status, PeopleCount: count}, true
}
