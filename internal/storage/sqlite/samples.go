package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/aircast-dev/aircast/pkg/logger"
)

// SampleStorage handles storage of channel metrics samples
type SampleStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSampleStorage creates a new SQLite sample storage
func NewSampleStorage(db *sql.DB, log *logger.Logger) (*SampleStorage, error) {
	storage := &SampleStorage{
		db:     db,
		logger: log.Named("sqlite-samples"),
	}
	if err := storage.initDB(); err != nil {
		return nil, fmt.Errorf("failed to initialize sample storage: %w", err)
	}
	return storage, nil
}

// initDB initializes the database tables
func (s *SampleStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS channel_samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel_id TEXT NOT NULL,
			channel_state TEXT NOT NULL,
			viewer_count INTEGER NOT NULL,
			producer_state TEXT NOT NULL,
			segment_id TEXT,
			segment_position REAL NOT NULL DEFAULT 0,
			dropped_frames INTEGER NOT NULL DEFAULT 0,
			queued_frames INTEGER NOT NULL DEFAULT 0,
			station_time REAL NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create channel_samples table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_samples_channel_id ON channel_samples(channel_id)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_station_time ON channel_samples(station_time)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_created_at ON channel_samples(created_at)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create sample index: %w", err)
		}
	}
	return nil
}

// StoreSample stores a sample record
func (s *SampleStorage) StoreSample(record *SampleRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO channel_samples
		(channel_id, channel_state, viewer_count, producer_state, segment_id, segment_position, dropped_frames, queued_frames, station_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ChannelID,
		record.ChannelState,
		record.ViewerCount,
		record.ProducerState,
		record.SegmentID,
		record.SegmentPosition,
		record.DroppedFrames,
		record.QueuedFrames,
		record.StationTime,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert sample: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// GetRecentSamples returns recent samples for a channel, newest first
func (s *SampleStorage) GetRecentSamples(channelID string, limit int) ([]*SampleRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, channel_id, channel_state, viewer_count, producer_state, segment_id, segment_position, dropped_frames, queued_frames, station_time, created_at
		FROM channel_samples
		WHERE channel_id = ?
		ORDER BY station_time DESC
		LIMIT ?`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent samples: %w", err)
	}
	defer rows.Close()

	return s.scanSampleRows(rows)
}

// GetSamplesByStationTimeRange returns samples within a station time range
func (s *SampleStorage) GetSamplesByStationTimeRange(channelID string, start, end float64) ([]*SampleRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, channel_id, channel_state, viewer_count, producer_state, segment_id, segment_position, dropped_frames, queued_frames, station_time, created_at
		FROM channel_samples
		WHERE channel_id = ? AND station_time BETWEEN ? AND ?
		ORDER BY station_time DESC`,
		channelID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples by time range: %w", err)
	}
	defer rows.Close()

	return s.scanSampleRows(rows)
}

// scanSampleRows scans database rows into SampleRecord structs
func (s *SampleStorage) scanSampleRows(rows *sql.Rows) ([]*SampleRecord, error) {
	var records []*SampleRecord
	for rows.Next() {
		var record SampleRecord
		var segmentID sql.NullString
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.ChannelID,
			&record.ChannelState,
			&record.ViewerCount,
			&record.ProducerState,
			&segmentID,
			&record.SegmentPosition,
			&record.DroppedFrames,
			&record.QueuedFrames,
			&record.StationTime,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}

		var err error
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		if segmentID.Valid {
			record.SegmentID = segmentID.String
		}

		records = append(records, &record)
	}
	return records, rows.Err()
}
