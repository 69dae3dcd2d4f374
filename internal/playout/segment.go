package playout

import "fmt"

// SegmentKind tags what a segment carries.
type SegmentKind string

const (
	SegmentKindContent SegmentKind = "content"
	SegmentKindFiller  SegmentKind = "filler"
)

// ContentSegment is one playable unit of programming, anchored in station
// time. Immutable once constructed; owned by the producer playing it and
// referenced (never mutated) by metrics.
type ContentSegment struct {
	ID       string
	Start    float64 // station seconds
	End      float64 // station seconds, strictly after Start
	Kind     SegmentKind
	Metadata map[string]string
}

// NewContentSegment builds a segment and enforces End > Start.
func NewContentSegment(id string, start, end float64, kind SegmentKind, metadata map[string]string) (ContentSegment, error) {
	if end <= start {
		return ContentSegment{}, fmt.Errorf("segment %q: end time %v must be after start time %v", id, end, start)
	}
	return ContentSegment{
		ID:       id,
		Start:    start,
		End:      end,
		Kind:     kind,
		Metadata: metadata,
	}, nil
}

// Duration returns the segment length in seconds.
func (s ContentSegment) Duration() float64 {
	return s.End - s.Start
}

// Source returns the playable input for this segment: the "source" metadata
// entry when present, otherwise the content id.
func (s ContentSegment) Source() string {
	if src, ok := s.Metadata["source"]; ok && src != "" {
		return src
	}
	return s.ID
}

// validatePlan checks that a playout plan is non-empty, each segment is
// well-formed, and segments are chronologically ordered without overlap.
func validatePlan(segments []ContentSegment) error {
	if len(segments) == 0 {
		return fmt.Errorf("playout plan is empty")
	}
	for i, seg := range segments {
		if seg.End <= seg.Start {
			return fmt.Errorf("segment %q: end time %v must be after start time %v", seg.ID, seg.End, seg.Start)
		}
		if i > 0 && seg.Start < segments[i-1].End {
			return fmt.Errorf("segment %q starts at %v before previous segment %q ends at %v",
				seg.ID, seg.Start, segments[i-1].ID, segments[i-1].End)
		}
	}
	return nil
}
