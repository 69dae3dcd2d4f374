package sqlite

import "time"

// SampleRecord is one persisted channel metrics sample.
type SampleRecord struct {
	ID              int64
	ChannelID       string
	ChannelState    string
	ViewerCount     int
	ProducerState   string
	SegmentID       string
	SegmentPosition float64
	DroppedFrames   int64
	QueuedFrames    int64
	StationTime     float64
	CreatedAt       time.Time
}
