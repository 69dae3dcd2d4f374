// Package schedule holds the scheduling collaborators of the channel
// runtime. The runtime consumes playout plans and channel modes; it never
// computes programming logic itself.
package schedule

import (
	"fmt"
	"math"

	"github.com/aircast-dev/aircast/internal/config"
	"github.com/aircast-dev/aircast/internal/playout"
)

// Channel operating modes reported by the program director.
const (
	ModeNormal = "normal"
	// ModePinned keeps the producer alive even with zero viewers.
	ModePinned = "pinned"
)

// Resolver returns the ordered playout plan for a channel at a given
// station time.
type Resolver interface {
	PlayoutPlanNow(channelID string, at float64) ([]playout.ContentSegment, error)
}

// Director reports a channel's current operating mode. Read-only to the
// runtime core.
type Director interface {
	ChannelMode(channelID string) string
}

// StaticResolver derives playout plans from the configured programme
// rotation of each channel. The rotation repeats from station time zero;
// a plan is one full cycle anchored so the requested instant falls at the
// correct offset into the current programme.
type StaticResolver struct {
	channels map[string][]config.ProgrammeConfig
}

// NewStaticResolver builds a resolver from channel configuration.
func NewStaticResolver(channels []config.ChannelConfig) *StaticResolver {
	m := make(map[string][]config.ProgrammeConfig, len(channels))
	for _, ch := range channels {
		m[ch.ID] = ch.Programmes
	}
	return &StaticResolver{channels: m}
}

// PlayoutPlanNow lays one rotation cycle onto station time around at.
func (r *StaticResolver) PlayoutPlanNow(channelID string, at float64) ([]playout.ContentSegment, error) {
	programmes, ok := r.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("no schedule for channel %q", channelID)
	}
	if len(programmes) == 0 {
		return nil, fmt.Errorf("channel %q has an empty rotation", channelID)
	}

	total := 0.0
	for _, p := range programmes {
		total += p.DurationSec
	}

	// Position within the rotation, and the index of the programme the
	// requested instant falls into.
	elapsed := math.Mod(at, total)
	if elapsed < 0 {
		elapsed += total
	}
	index := 0
	for elapsed >= programmes[index].DurationSec {
		elapsed -= programmes[index].DurationSec
		index++
	}

	// One full cycle starting at the current programme, anchored so that
	// at falls elapsed seconds into the first entry.
	plan := make([]playout.ContentSegment, 0, len(programmes))
	cursor := at - elapsed
	for i := 0; i < len(programmes); i++ {
		p := programmes[(index+i)%len(programmes)]
		kind := playout.SegmentKindContent
		if p.Kind == "filler" {
			kind = playout.SegmentKindFiller
		}
		seg, err := playout.NewContentSegment(p.ID, cursor, cursor+p.DurationSec, kind, map[string]string{
			"source": p.Source,
		})
		if err != nil {
			return nil, fmt.Errorf("programme %q: %w", p.ID, err)
		}
		plan = append(plan, seg)
		cursor += p.DurationSec
	}
	return plan, nil
}

// StaticDirector reports per-channel modes from configuration, defaulting
// to normal.
type StaticDirector struct {
	modes map[string]string
}

// NewStaticDirector builds a director from channel configuration.
func NewStaticDirector(channels []config.ChannelConfig) *StaticDirector {
	modes := make(map[string]string, len(channels))
	for _, ch := range channels {
		modes[ch.ID] = ch.Mode
	}
	return &StaticDirector{modes: modes}
}

// ChannelMode returns the configured mode for the channel.
func (d *StaticDirector) ChannelMode(channelID string) string {
	if mode, ok := d.modes[channelID]; ok && mode != "" {
		return mode
	}
	return ModeNormal
}
