package models

import (
	"math"
	"strconv"
)

// DataBudgetParameters holds payload generation, downlink and storage inputs.
// Rates are bit/s, durations seconds, volumes bytes.
type DataBudgetParameters struct {
	GenerationRateBps    float64 `json:"generation_rate_bps" yaml:"generation_rate_bps"`
	DutyCyclePercent     float64 `json:"duty_cycle_percent" yaml:"duty_cycle_percent"`
	DownlinkRateBps      float64 `json:"downlink_rate_bps" yaml:"downlink_rate_bps"`
	PassDurationS        float64 `json:"pass_duration_s" yaml:"pass_duration_s"`
	PassesPerDay         float64 `json:"passes_per_day" yaml:"passes_per_day"`
	StorageCapacityBytes float64 `json:"storage_capacity_bytes" yaml:"storage_capacity_bytes"`
	CurrentBacklogBytes  float64 `json:"current_backlog_bytes" yaml:"current_backlog_bytes"`
	OrbitPeriodS         float64 `json:"orbit_period_s" yaml:"orbit_period_s"`
}

// Quantity is a value that may be unbounded, such as the time to fill
// storage when the backlog never grows.
type Quantity struct {
	Value     float64 `json:"value"`
	Unbounded bool    `json:"unbounded"`
}

// Bounded wraps a finite value.
func Bounded(v float64) Quantity { return Quantity{Value: v} }

// Unbounded is the "never" quantity.
func Unbounded() Quantity { return Quantity{Unbounded: true} }

// Float returns +Inf for an unbounded quantity.
func (q Quantity) Float() float64 {
	if q.Unbounded {
		return math.Inf(1)
	}
	return q.Value
}

// Format renders the value with prec decimals or "never".
func (q Quantity) Format(prec int) string {
	if q.Unbounded {
		return "never"
	}
	return strconv.FormatFloat(q.Value, 'f', prec, 64)
}

// Severity ranks a recommendation
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Recommendation is emitted by a data budget rule that matched.
type Recommendation struct {
	Tag      string   `json:"tag"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// DataBudgetResult is the derived output of one data budget evaluation.
type DataBudgetResult struct {
	DailyGenerationBytes float64          `json:"daily_generation_bytes"`
	DownlinkPerPassBytes float64          `json:"downlink_per_pass_bytes"`
	DailyDownlinkBytes   float64          `json:"daily_downlink_bytes"`
	NetGrowthRateBps     float64          `json:"net_growth_rate_bps"`
	NetGrowthBytesPerDay float64          `json:"net_growth_bytes_per_day"`
	TimeToFillS          Quantity         `json:"time_to_fill_s"`
	TimeToFillOrbits     Quantity         `json:"time_to_fill_orbits"`
	TimeToFillDays       Quantity         `json:"time_to_fill_days"`
	DownlinkUtilization  Quantity         `json:"downlink_utilization_percent"`
	StorageUsedPercent   float64          `json:"storage_used_percent"`
	RequiredPassesPerDay Quantity         `json:"required_passes_per_day"`
	Recommendations      []Recommendation `json:"recommendations"`
}

// DefaultDataParameters returns a modest imaging payload on a UHF downlink.
func DefaultDataParameters() DataBudgetParameters {
	return DataBudgetParameters{
		GenerationRateBps:    1000,
		DutyCyclePercent:     100,
		DownlinkRateBps:      9600,
		PassDurationS:        600,
		PassesPerDay:         4,
		StorageCapacityBytes: 1 << 30,
		CurrentBacklogBytes:  0,
		OrbitPeriodS:         DefaultOrbitPeriodS,
	}
}
