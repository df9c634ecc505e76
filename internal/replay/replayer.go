// Package replay re-runs journal events through a rate limiter on a
// virtual clock. Events keep their recorded spacing, so a journal from a
// live gateway answers what-if questions offline: a different algorithm
// or a tighter tier can be tried against yesterday's traffic in seconds.
package replay

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pavankpdev/rate-limiting-implementation/internal/admission"
	"github.com/pavankpdev/rate-limiting-implementation/internal/clock"
	"github.com/pavankpdev/rate-limiting-implementation/internal/journal"
	"github.com/pavankpdev/rate-limiting-implementation/internal/limiter"
)

// Replayer replays journal events through a rate limiter at a
// configurable speed. The limiter must share the replayer's virtual
// clock or the recorded gaps mean nothing to it.
type Replayer struct {
	events  []admission.Event
	limiter *limiter.Limiter
	tier    limiter.Tier
	clock   *clock.Virtual
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
}

// Result captures the outcome of replaying a single event.
type Result struct {
	Event    admission.Event  `json:"event"`
	Decision limiter.Decision `json:"decision"`
	Time     time.Time        `json:"time"` // virtual time when the decision was made
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalEvents  int                        `json:"total_events"`
	Matched      int                        `json:"matched"`
	Replayed     int                        `json:"replayed"`
	Allowed      int                        `json:"allowed"`
	Denied       int                        `json:"denied"`
	Duration     time.Duration              `json:"duration"`      // virtual time span
	WallDuration time.Duration              `json:"wall_duration"` // actual wall clock time
	PerIdentity  map[string]IdentitySummary `json:"per_identity"`
}

// IdentitySummary has per-identity stats.
type IdentitySummary struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// New creates a replayer that checks every matched event against tier.
func New(lim *limiter.Limiter, tier limiter.Tier, vc *clock.Virtual, speed float64, filter Filter) *Replayer {
	if speed < 0 {
		speed = 0
	}
	return &Replayer{
		limiter: lim,
		tier:    tier,
		clock:   vc,
		speed:   speed,
		filter:  filter,
	}
}

// Load reads journal events from an NDJSON reader.
func (r *Replayer) Load(reader io.Reader) error {
	events, err := journal.Load(reader)
	if err != nil {
		return fmt.Errorf("loading events: %w", err)
	}
	r.events = events
	return nil
}

// LoadEvents sets the events directly.
func (r *Replayer) LoadEvents(events []admission.Event) {
	r.events = make([]admission.Event, len(events))
	copy(r.events, events)
}

// Run replays all loaded events through the limiter. The callback is
// called for each replayed event with its decision. Returns a summary of
// the replay.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.events) == 0 {
		return nil, fmt.Errorf("no events loaded")
	}

	// Events from concurrent flows can land in the journal slightly out
	// of order; replay in timestamp order.
	sorted := make([]admission.Event, len(r.events))
	copy(sorted, r.events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var matched []admission.Event
	for _, e := range sorted {
		if r.filter.Match(e) {
			matched = append(matched, e)
		}
	}

	summary := &Summary{
		TotalEvents: len(sorted),
		Matched:     len(matched),
		PerIdentity: make(map[string]IdentitySummary),
	}
	if len(matched) == 0 {
		return summary, nil
	}

	wallStart := time.Now()
	baseTime := matched[0].Time

	for i, e := range matched {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		// Advance the virtual clock to match the event's recorded offset.
		if i > 0 {
			gap := e.Time.Sub(matched[i-1].Time)
			if gap > 0 {
				if r.speed > 0 {
					scaledGap := time.Duration(float64(gap) / r.speed)
					if scaledGap > time.Millisecond {
						select {
						case <-ctx.Done():
							return summary, ctx.Err()
						case <-time.After(scaledGap):
						}
					}
				}
				r.clock.Advance(gap)
			}
		}

		decision := r.limiter.Check(ctx, e.Identity, r.tier)
		result := Result{
			Event:    e,
			Decision: decision,
			Time:     r.clock.Now(),
		}

		summary.Replayed++
		is := summary.PerIdentity[e.Identity]
		if decision.Allowed {
			summary.Allowed++
			is.Allowed++
		} else {
			summary.Denied++
			is.Denied++
		}
		summary.PerIdentity[e.Identity] = is

		if cb != nil {
			cb(result)
		}
	}

	summary.Duration = matched[len(matched)-1].Time.Sub(baseTime)
	summary.WallDuration = time.Since(wallStart)

	return summary, nil
}
