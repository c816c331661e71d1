// Package passes predicts ground station contacts from a TLE with SGP4 and
// reduces them to the figures the link and data budgets need.
package passes

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// ErrInvalidTLE is returned for element sets that fail the format checks.
var ErrInvalidTLE = errors.New("invalid TLE")

const (
	coarseStep = 30 * time.Second
	fineStep   = time.Second
	minPassDur = 10 * time.Second

	// DefaultHorizon is the prediction window when none is given.
	DefaultHorizon = 24 * time.Hour
	// MaxHorizon bounds the coarse scan.
	MaxHorizon = 14 * 24 * time.Hour
)

// TLE is a two-line element set with an optional name line.
type TLE struct {
	Name  string `json:"name,omitempty"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// Station is a ground station position. Latitude and longitude are in
// degrees, altitude in metres.
type Station struct {
	LatitudeDeg  float64 `json:"latitude_deg" yaml:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg" yaml:"longitude_deg"`
	AltitudeM    float64 `json:"altitude_m" yaml:"altitude_m"`
}

// Request holds the parameters for a pass prediction.
type Request struct {
	TLE             TLE
	Station         Station
	Start           time.Time
	Horizon         time.Duration
	MinElevationDeg float64
}

// Pass is a single contact above the minimum elevation.
type Pass struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationS       float64   `json:"duration_s"`
	MaxElevationDeg float64   `json:"max_elevation_deg"`
	MaxElevationAt  time.Time `json:"max_elevation_at"`
	MinRangeKm      float64   `json:"min_range_km"`
	MaxRangeKm      float64   `json:"max_range_km"`
}

// ParseTLE reads a two- or three-line element set.
func ParseTLE(r io.Reader) (TLE, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if l := strings.TrimRight(sc.Text(), " \r"); strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if err := sc.Err(); err != nil {
		return TLE{}, fmt.Errorf("read TLE: %w", err)
	}

	var t TLE
	switch len(lines) {
	case 2:
		t = TLE{Line1: lines[0], Line2: lines[1]}
	case 3:
		t = TLE{Name: strings.TrimSpace(strings.TrimPrefix(lines[0], "0 ")), Line1: lines[1], Line2: lines[2]}
	default:
		return TLE{}, fmt.Errorf("%w: expected 2 or 3 lines, got %d", ErrInvalidTLE, len(lines))
	}
	if err := t.Validate(); err != nil {
		return TLE{}, err
	}
	return t, nil
}

// Validate performs the format checks go-satellite relies on; it calls
// log.Fatal on malformed input.
func (t TLE) Validate() error {
	l1 := strings.TrimSpace(t.Line1)
	l2 := strings.TrimSpace(t.Line2)
	if len(l1) != 69 {
		return fmt.Errorf("%w: line1 length %d, expected 69", ErrInvalidTLE, len(l1))
	}
	if len(l2) != 69 {
		return fmt.Errorf("%w: line2 length %d, expected 69", ErrInvalidTLE, len(l2))
	}
	if l1[0] != '1' {
		return fmt.Errorf("%w: line1 must start with '1', got '%c'", ErrInvalidTLE, l1[0])
	}
	if l2[0] != '2' {
		return fmt.Errorf("%w: line2 must start with '2', got '%c'", ErrInvalidTLE, l2[0])
	}
	if l1[2:7] != l2[2:7] {
		return fmt.Errorf("%w: catalogue numbers differ (%s, %s)", ErrInvalidTLE, l1[2:7], l2[2:7])
	}
	return nil
}

func (s Station) validate() error {
	switch {
	case math.IsNaN(s.LatitudeDeg) || s.LatitudeDeg < -90 || s.LatitudeDeg > 90:
		return fmt.Errorf("latitude %v out of range [-90, 90]", s.LatitudeDeg)
	case math.IsNaN(s.LongitudeDeg) || s.LongitudeDeg < -180 || s.LongitudeDeg > 180:
		return fmt.Errorf("longitude %v out of range [-180, 180]", s.LongitudeDeg)
	case math.IsNaN(s.AltitudeM) || math.IsInf(s.AltitudeM, 0):
		return fmt.Errorf("altitude %v must be finite", s.AltitudeM)
	}
	return nil
}

type propagator struct {
	sat satellite.Satellite
	obs satellite.LatLong
	alt float64
}

func newPropagator(t TLE, s Station) (*propagator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(strings.TrimSpace(t.Line1), strings.TrimSpace(t.Line2), satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &propagator{
		sat: sat,
		obs: satellite.LatLong{
			Latitude:  s.LatitudeDeg * math.Pi / 180,
			Longitude: s.LongitudeDeg * math.Pi / 180,
		},
		alt: s.AltitudeM / 1000,
	}, nil
}

// lookAt returns elevation in degrees and slant range in km at t.
func (p *propagator) lookAt(t time.Time) (float64, float64, error) {
	t = t.UTC()
	pos, _ := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	if math.IsNaN(pos.X) || math.IsNaN(pos.Y) || math.IsNaN(pos.Z) ||
		math.IsInf(pos.X, 0) || math.IsInf(pos.Y, 0) || math.IsInf(pos.Z, 0) {
		return 0, 0, fmt.Errorf("sgp4 propagation failed at %s: output is NaN/Inf", t.Format(time.RFC3339))
	}
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	la := satellite.ECIToLookAngles(pos, p.obs, p.alt, jd)
	return la.El * 180 / math.Pi, la.Rg, nil
}

// Predict finds every pass above req.MinElevationDeg between req.Start and
// req.Start+req.Horizon with a coarse scan and a one-second refinement.
func Predict(ctx context.Context, req Request) ([]Pass, error) {
	prop, err := newPropagator(req.TLE, req.Station)
	if err != nil {
		return nil, err
	}
	horizon := req.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	if horizon > MaxHorizon {
		return nil, fmt.Errorf("horizon %s exceeds maximum %s", horizon, MaxHorizon)
	}
	if req.Start.IsZero() {
		req.Start = time.Now().UTC()
	}
	end := req.Start.Add(horizon)

	var passes []Pass
	t := req.Start
	for t.Before(end) {
		if err := ctx.Err(); err != nil {
			return passes, err
		}
		el, _, err := prop.lookAt(t)
		if err != nil {
			return passes, err
		}
		if el < req.MinElevationDeg {
			t = t.Add(coarseStep)
			continue
		}
		pass, setAt := refine(ctx, prop, t, req.Start, end, req.MinElevationDeg)
		if pass != nil && pass.End.Sub(pass.Start) >= minPassDur {
			passes = append(passes, *pass)
		}
		t = setAt.Add(coarseStep)
	}
	return passes, nil
}

// refine scans at one-second resolution from just before a coarse hit to
// the set time. A pass still in view at windowEnd is closed there.
func refine(ctx context.Context, prop *propagator, hit, windowStart, windowEnd time.Time, minElev float64) (*Pass, time.Time) {
	t := hit.Add(-coarseStep)
	if t.Before(windowStart) {
		t = windowStart
	}

	var (
		pass     *Pass
		wasAbove bool
	)
	for ; t.Before(windowEnd); t = t.Add(fineStep) {
		if ctx.Err() != nil {
			break
		}
		el, rg, err := prop.lookAt(t)
		if err != nil {
			continue
		}
		above := el >= minElev
		if above && pass == nil {
			pass = &Pass{Start: t, MaxElevationDeg: el, MaxElevationAt: t, MinRangeKm: rg, MaxRangeKm: rg}
		}
		if above && pass != nil {
			if el > pass.MaxElevationDeg {
				pass.MaxElevationDeg = el
				pass.MaxElevationAt = t
			}
			pass.MinRangeKm = math.Min(pass.MinRangeKm, rg)
			pass.MaxRangeKm = math.Max(pass.MaxRangeKm, rg)
		}
		if !above && wasAbove && pass != nil {
			pass.End = t
			break
		}
		wasAbove = above
	}

	if pass == nil {
		return nil, t
	}
	if pass.End.IsZero() {
		pass.End = t
	}
	pass.DurationS = pass.End.Sub(pass.Start).Seconds()
	return pass, pass.End
}

// Summary condenses a set of passes for the budgets.
type Summary struct {
	Passes          int     `json:"passes"`
	PassesPerDay    float64 `json:"passes_per_day"`
	MeanDurationS   float64 `json:"mean_duration_s"`
	TotalContactS   float64 `json:"total_contact_s"`
	MaxRangeKm      float64 `json:"max_range_km"`
	MinRangeKm      float64 `json:"min_range_km"`
	MaxElevationDeg float64 `json:"max_elevation_deg"`
}

// Summarize averages passes over horizon. MaxRangeKm is the worst-case
// slant range across all passes.
func Summarize(passes []Pass, horizon time.Duration) Summary {
	s := Summary{Passes: len(passes)}
	if len(passes) == 0 || horizon <= 0 {
		return s
	}
	s.MinRangeKm = math.Inf(1)
	for _, p := range passes {
		s.TotalContactS += p.DurationS
		s.MaxRangeKm = math.Max(s.MaxRangeKm, p.MaxRangeKm)
		s.MinRangeKm = math.Min(s.MinRangeKm, p.MinRangeKm)
		s.MaxElevationDeg = math.Max(s.MaxElevationDeg, p.MaxElevationDeg)
	}
	s.MeanDurationS = s.TotalContactS / float64(len(passes))
	s.PassesPerDay = float64(len(passes)) / horizon.Hours() * 24
	return s
}
