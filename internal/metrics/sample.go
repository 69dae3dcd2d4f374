// Package metrics samples and publishes channel runtime state.
package metrics

// ChannelMetricsSample is a value snapshot of one channel's runtime state.
// Created fresh on every publish cycle and never mutated afterwards.
type ChannelMetricsSample struct {
	ChannelID       string  `json:"channel_id"`
	ChannelState    string  `json:"channel_state"`
	ViewerCount     int     `json:"viewer_count"`
	ProducerState   string  `json:"producer_state"`
	SegmentID       string  `json:"segment_id,omitempty"`
	SegmentPosition float64 `json:"segment_position"`
	DroppedFrames   int64   `json:"dropped_frames"`
	QueuedFrames    int64   `json:"queued_frames"`
	StationTime     float64 `json:"station_time"`
}
