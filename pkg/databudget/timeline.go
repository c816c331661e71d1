package databudget

import (
	"math"
	"sort"
	"time"

	"github.com/payback159/cubesatbudget/pkg/models"
)

// Window is a downlink contact during which the backlog drains at RateBps.
type Window struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	RateBps float64   `json:"rate_bps"`
}

// TimelinePoint is the storage state at the end of a simulation step.
type TimelinePoint struct {
	At           time.Time `json:"at"`
	BacklogBytes float64   `json:"backlog_bytes"`
	InContact    bool      `json:"in_contact"`
}

// Timeline is the outcome of Simulate.
type Timeline struct {
	Points           []TimelinePoint `json:"points"`
	PeakBacklogBytes float64         `json:"peak_backlog_bytes"`
	OverflowAt       *time.Time      `json:"overflow_at,omitempty"`
	GeneratedBytes   float64         `json:"generated_bytes"`
	DownlinkedBytes  float64         `json:"downlinked_bytes"`
	DroppedBytes     float64         `json:"dropped_bytes"`
}

// TimelineStep is the resolution of Simulate.
const TimelineStep = time.Minute

// MaxContactsPerDay bounds UniformWindows to one contact per simulation step.
const MaxContactsPerDay = int(24 * time.Hour / TimelineStep)

// UniformWindows spreads passesPerDay contacts of passDuration evenly over
// each day of the horizon. Fractional passes are rounded down. Above
// MaxContactsPerDay the contacts are merged into MaxContactsPerDay longer
// windows carrying the same daily contact time.
func UniformWindows(start time.Time, horizon time.Duration, passesPerDay float64, passDuration time.Duration, rateBps float64) []Window {
	if !(passesPerDay >= 1) || math.IsInf(passesPerDay, 1) || passDuration <= 0 {
		return nil
	}
	n := MaxContactsPerDay
	if passesPerDay <= float64(MaxContactsPerDay) {
		n = int(passesPerDay)
	}
	spacing := 24 * time.Hour / time.Duration(n)
	if merged := math.Floor(passesPerDay) * float64(passDuration) / float64(n); merged >= float64(spacing) {
		passDuration = spacing
	} else {
		passDuration = time.Duration(merged)
	}
	var windows []Window
	end := start.Add(horizon)
	for t := start.Add((spacing - passDuration) / 2); t.Before(end); t = t.Add(spacing) {
		windows = append(windows, Window{Start: t, End: t.Add(passDuration), RateBps: rateBps})
	}
	return windows
}

// Simulate steps the backlog forward over horizon. Payload data accumulates
// continuously at the duty-cycled rate, contacts drain it concurrently, and
// anything beyond the storage capacity is dropped.
func Simulate(p models.DataBudgetParameters, start time.Time, horizon time.Duration, windows []Window) (Timeline, error) {
	if err := Validate(p); err != nil {
		return Timeline{}, err
	}
	if horizon <= 0 {
		return Timeline{}, models.InvalidParameter("horizon", horizon.String(), "must be greater than zero")
	}

	ws := append([]Window(nil), windows...)
	sort.Slice(ws, func(i, j int) bool { return ws[i].Start.Before(ws[j].Start) })

	genBps := EffectiveGenerationBps(p)
	backlog := p.CurrentBacklogBytes
	tl := Timeline{PeakBacklogBytes: backlog}
	steps := int((horizon + TimelineStep - 1) / TimelineStep)
	tl.Points = make([]TimelinePoint, 0, steps)

	wi := 0
	for i := 0; i < steps; i++ {
		from := start.Add(time.Duration(i) * TimelineStep)
		to := from.Add(TimelineStep)
		if end := start.Add(horizon); to.After(end) {
			to = end
		}
		dt := to.Sub(from).Seconds()

		gen := genBps * dt / 8
		tl.GeneratedBytes += gen
		backlog += gen

		for wi < len(ws) && !ws[wi].End.After(from) {
			wi++
		}
		var down float64
		inContact := false
		for j := wi; j < len(ws) && ws[j].Start.Before(to); j++ {
			overlap := minTime(ws[j].End, to).Sub(maxTime(ws[j].Start, from)).Seconds()
			if overlap > 0 {
				inContact = true
				down += ws[j].RateBps * overlap / 8
			}
		}
		if down > backlog {
			down = backlog
		}
		backlog -= down
		tl.DownlinkedBytes += down

		if backlog > p.StorageCapacityBytes {
			tl.DroppedBytes += backlog - p.StorageCapacityBytes
			backlog = p.StorageCapacityBytes
			if tl.OverflowAt == nil {
				at := to
				tl.OverflowAt = &at
			}
		}
		if backlog > tl.PeakBacklogBytes {
			tl.PeakBacklogBytes = backlog
		}
		tl.Points = append(tl.Points, TimelinePoint{At: to, BacklogBytes: backlog, InContact: inContact})
	}
	return tl, nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
