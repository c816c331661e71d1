// Package databudget balances payload data generation against downlink
// capacity and onboard storage.
package databudget

import (
	"math"

	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/units"
)

// Field names used in parameter errors and by the field setters.
const (
	FieldGenerationRate  = "generation_rate"
	FieldDutyCycle       = "duty_cycle"
	FieldDownlinkRate    = "downlink_rate"
	FieldPassDuration    = "pass_duration"
	FieldPassesPerDay    = "passes_per_day"
	FieldStorageCapacity = "storage_capacity"
	FieldCurrentBacklog  = "current_backlog"
	FieldOrbitPeriod     = "orbit_period"
)

// Validate checks every field of p and returns the first violation.
func Validate(p models.DataBudgetParameters) error {
	fields := []struct {
		name     string
		value    float64
		positive bool
	}{
		{FieldGenerationRate, p.GenerationRateBps, true},
		{FieldDownlinkRate, p.DownlinkRateBps, true},
		{FieldStorageCapacity, p.StorageCapacityBytes, true},
		{FieldOrbitPeriod, p.OrbitPeriodS, true},
		{FieldDutyCycle, p.DutyCyclePercent, false},
		{FieldPassDuration, p.PassDurationS, false},
		{FieldPassesPerDay, p.PassesPerDay, false},
		{FieldCurrentBacklog, p.CurrentBacklogBytes, false},
	}
	for _, f := range fields {
		switch {
		case math.IsNaN(f.value) || math.IsInf(f.value, 0):
			return models.InvalidParameter(f.name, f.value, "must be a finite number")
		case f.positive && f.value <= 0:
			return models.InvalidParameter(f.name, f.value, "must be greater than zero")
		case f.value < 0:
			return models.InvalidParameter(f.name, f.value, "must not be negative")
		}
	}
	if p.DutyCyclePercent > 100 {
		return models.InvalidParameter(FieldDutyCycle, p.DutyCyclePercent, "must not exceed 100")
	}
	if p.PassDurationS > units.SecondsPerDay {
		return models.InvalidParameter(FieldPassDuration, p.PassDurationS, "must not exceed one day")
	}
	if p.PassesPerDay*p.PassDurationS > units.SecondsPerDay {
		return models.InvalidParameter(FieldPassesPerDay, p.PassesPerDay, "total contact time exceeds one day")
	}
	return nil
}

// EffectiveGenerationBps is the payload rate averaged over the duty cycle.
func EffectiveGenerationBps(p models.DataBudgetParameters) float64 {
	return p.GenerationRateBps * p.DutyCyclePercent / 100
}

// Compute evaluates the data budget for p and runs rules, in order, against
// the derived metrics.
func Compute(p models.DataBudgetParameters, rules []Rule) (models.DataBudgetResult, error) {
	if err := Validate(p); err != nil {
		return models.DataBudgetResult{}, err
	}

	genBps := EffectiveGenerationBps(p)
	dailyGen := genBps * units.SecondsPerDay / 8
	perPass := p.DownlinkRateBps * p.PassDurationS / 8
	dailyDown := perPass * p.PassesPerDay
	growthBps := genBps - dailyDown*8/units.SecondsPerDay

	res := models.DataBudgetResult{
		DailyGenerationBytes: dailyGen,
		DownlinkPerPassBytes: perPass,
		DailyDownlinkBytes:   dailyDown,
		NetGrowthRateBps:     growthBps,
		NetGrowthBytesPerDay: growthBps * units.SecondsPerDay / 8,
		StorageUsedPercent:   p.CurrentBacklogBytes / p.StorageCapacityBytes * 100,
	}

	ttf := TimeToFill(p.StorageCapacityBytes, p.CurrentBacklogBytes, growthBps)
	res.TimeToFillS = ttf
	if ttf.Unbounded {
		res.TimeToFillOrbits = models.Unbounded()
		res.TimeToFillDays = models.Unbounded()
	} else {
		res.TimeToFillOrbits = models.Bounded(ttf.Value / p.OrbitPeriodS)
		res.TimeToFillDays = models.Bounded(ttf.Value / units.SecondsPerDay)
	}

	res.DownlinkUtilization = ratio(dailyGen, dailyDown, 100)
	res.RequiredPassesPerDay = ratio(dailyGen, perPass, 1)

	res.Recommendations = Evaluate(rules, MetricsOf(p, res))
	return res, nil
}

// TimeToFill returns the seconds until the free storage is consumed at
// growthBps, or unbounded when the backlog does not grow.
func TimeToFill(capacityBytes, backlogBytes, growthBps float64) models.Quantity {
	if growthBps <= 0 {
		return models.Unbounded()
	}
	free := capacityBytes - backlogBytes
	if free <= 0 {
		return models.Bounded(0)
	}
	return models.Bounded(free * 8 / growthBps)
}

// ratio returns num/den*scale; a zero denominator is unbounded unless num is zero too.
func ratio(num, den, scale float64) models.Quantity {
	if den > 0 {
		return models.Bounded(num / den * scale)
	}
	if num == 0 {
		return models.Bounded(0)
	}
	return models.Unbounded()
}
