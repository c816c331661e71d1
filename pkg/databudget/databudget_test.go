package databudget

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/units"
)

// scenarioParams is 500 kB/orbit against a 1 Mbit/s downlink with one
// ten-minute contact per day into 1 GB of storage.
func scenarioParams() models.DataBudgetParameters {
	return models.DataBudgetParameters{
		GenerationRateBps:    units.BytesPerOrbitToBps(500e3, models.DefaultOrbitPeriodS),
		DutyCyclePercent:     100,
		DownlinkRateBps:      1e6,
		PassDurationS:        600,
		PassesPerDay:         1,
		StorageCapacityBytes: 1e9,
		CurrentBacklogBytes:  0,
		OrbitPeriodS:         models.DefaultOrbitPeriodS,
	}
}

func hasTag(recs []models.Recommendation, tag string) bool {
	for _, r := range recs {
		if r.Tag == tag {
			return true
		}
	}
	return false
}

func TestCompute_ScenarioNeverFills(t *testing.T) {
	res, err := Compute(scenarioParams(), DefaultRules())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.DailyDownlinkBytes <= res.DailyGenerationBytes {
		t.Fatalf("expected downlink (%.0f) to exceed generation (%.0f)",
			res.DailyDownlinkBytes, res.DailyGenerationBytes)
	}
	if res.NetGrowthRateBps >= 0 {
		t.Errorf("expected negative growth, got %f", res.NetGrowthRateBps)
	}
	if !res.TimeToFillS.Unbounded || !res.TimeToFillDays.Unbounded || !res.TimeToFillOrbits.Unbounded {
		t.Errorf("expected unbounded time to fill, got %+v", res.TimeToFillS)
	}
	if got := res.TimeToFillS.Format(1); got != "never" {
		t.Errorf("Format: want never, got %q", got)
	}
	if len(res.Recommendations) != 0 {
		t.Errorf("expected no recommendations, got %+v", res.Recommendations)
	}
	// 16 orbits/day at 500 kB each
	if math.Abs(res.DailyGenerationBytes-8e6) > 1 {
		t.Errorf("daily generation: want 8e6, got %f", res.DailyGenerationBytes)
	}
	if math.Abs(res.DailyDownlinkBytes-75e6) > 1e-6 {
		t.Errorf("daily downlink: want 75e6, got %f", res.DailyDownlinkBytes)
	}
}

func TestCompute_NonPositiveGrowthIsUnbounded(t *testing.T) {
	p := scenarioParams()
	for _, gen := range []float64{1, 100, 6944.44} {
		p.GenerationRateBps = gen
		res, err := Compute(p, nil)
		if err != nil {
			t.Fatalf("Compute(%v): %v", gen, err)
		}
		if res.NetGrowthRateBps > 0 {
			continue
		}
		if !res.TimeToFillS.Unbounded {
			t.Errorf("gen %v: growth %f but time to fill %+v", gen, res.NetGrowthRateBps, res.TimeToFillS)
		}
	}
}

func TestCompute_StoragePressure(t *testing.T) {
	p := scenarioParams()
	p.GenerationRateBps = 10e6
	p.StorageCapacityBytes = 1e9
	res, err := Compute(p, DefaultRules())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.TimeToFillS.Unbounded {
		t.Fatal("expected bounded time to fill")
	}
	if res.TimeToFillOrbits.Value >= 1 {
		t.Fatalf("expected under one orbit, got %f", res.TimeToFillOrbits.Value)
	}
	for _, tag := range []string{"storage_pressure", "storage_fill_soon", "increase_downlink", "reduce_generation", "add_passes"} {
		if !hasTag(res.Recommendations, tag) {
			t.Errorf("expected recommendation %q in %+v", tag, res.Recommendations)
		}
	}
	// storage_pressure precedes storage_fill_soon in the default table
	if res.Recommendations[0].Tag != "storage_pressure" || res.Recommendations[0].Severity != models.SeverityCritical {
		t.Errorf("unexpected first recommendation %+v", res.Recommendations[0])
	}
}

func TestCompute_TimeToFill(t *testing.T) {
	p := scenarioParams()
	p.PassesPerDay = 0
	p.GenerationRateBps = 8000
	p.StorageCapacityBytes = 1e6
	p.CurrentBacklogBytes = 4e5
	res, err := Compute(p, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	// 600 kB free at 1000 B/s
	if math.Abs(res.TimeToFillS.Value-600) > 1e-9 {
		t.Errorf("time to fill: want 600 s, got %f", res.TimeToFillS.Value)
	}
	if math.Abs(res.StorageUsedPercent-40) > 1e-9 {
		t.Errorf("storage used: want 40, got %f", res.StorageUsedPercent)
	}
	if !res.DownlinkUtilization.Unbounded {
		t.Errorf("expected unbounded utilization without passes, got %+v", res.DownlinkUtilization)
	}
}

func TestTimeToFill(t *testing.T) {
	tests := []struct {
		name      string
		capacity  float64
		backlog   float64
		growth    float64
		want      float64
		unbounded bool
	}{
		{"shrinking", 100, 0, -8, 0, true},
		{"steady", 100, 0, 0, 0, true},
		{"growing", 100, 0, 8, 100, false},
		{"half full", 100, 50, 8, 50, false},
		{"already full", 100, 100, 8, 0, false},
		{"overfull", 100, 150, 8, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TimeToFill(tt.capacity, tt.backlog, tt.growth)
			if got.Unbounded != tt.unbounded {
				t.Fatalf("unbounded: want %v, got %v", tt.unbounded, got.Unbounded)
			}
			if !tt.unbounded && got.Value != tt.want {
				t.Errorf("want %v, got %v", tt.want, got.Value)
			}
		})
	}
}

func TestCompute_DutyCycle(t *testing.T) {
	p := scenarioParams()
	full, _ := Compute(p, nil)
	p.DutyCyclePercent = 25
	quarter, err := Compute(p, nil)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if math.Abs(quarter.DailyGenerationBytes*4-full.DailyGenerationBytes) > 1e-6 {
		t.Errorf("duty cycle not applied: %f vs %f", quarter.DailyGenerationBytes, full.DailyGenerationBytes)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.DataBudgetParameters)
		field  string
	}{
		{"zero generation", func(p *models.DataBudgetParameters) { p.GenerationRateBps = 0 }, FieldGenerationRate},
		{"zero downlink", func(p *models.DataBudgetParameters) { p.DownlinkRateBps = 0 }, FieldDownlinkRate},
		{"zero storage", func(p *models.DataBudgetParameters) { p.StorageCapacityBytes = 0 }, FieldStorageCapacity},
		{"negative storage", func(p *models.DataBudgetParameters) { p.StorageCapacityBytes = -1 }, FieldStorageCapacity},
		{"zero orbit", func(p *models.DataBudgetParameters) { p.OrbitPeriodS = 0 }, FieldOrbitPeriod},
		{"negative backlog", func(p *models.DataBudgetParameters) { p.CurrentBacklogBytes = -1 }, FieldCurrentBacklog},
		{"duty over 100", func(p *models.DataBudgetParameters) { p.DutyCyclePercent = 101 }, FieldDutyCycle},
		{"NaN passes", func(p *models.DataBudgetParameters) { p.PassesPerDay = math.NaN() }, FieldPassesPerDay},
		{"pass over a day", func(p *models.DataBudgetParameters) { p.PassDurationS = 90000 }, FieldPassDuration},
		{"contact over a day", func(p *models.DataBudgetParameters) { p.PassesPerDay = 200 }, FieldPassesPerDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := scenarioParams()
			tt.mutate(&p)
			err := Validate(p)
			if !errors.Is(err, models.ErrInvalidParameter) {
				t.Fatalf("expected ErrInvalidParameter, got %v", err)
			}
			if got := models.FieldOf(err); got != tt.field {
				t.Errorf("field: want %q, got %q", tt.field, got)
			}
		})
	}

	if err := Validate(scenarioParams()); err != nil {
		t.Errorf("valid parameters rejected: %v", err)
	}
}

// --- rules ---

func TestRuleSpec_Custom(t *testing.T) {
	rules, err := CompileRules([]RuleSpec{{
		Tag:       "busy_downlink",
		Metric:    MetricDownlinkUtilization,
		Op:        ">=",
		Threshold: 5,
		Severity:  "INFO",
		Message:   "utilization {value}% over {threshold}%",
	}})
	if err != nil {
		t.Fatalf("CompileRules: %v", err)
	}
	res, err := Compute(scenarioParams(), rules)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(res.Recommendations) != 1 {
		t.Fatalf("expected one recommendation, got %+v", res.Recommendations)
	}
	rec := res.Recommendations[0]
	if rec.Severity != models.SeverityInfo {
		t.Errorf("severity: got %q", rec.Severity)
	}
	if rec.Message != "utilization 10.7% over 5.0%" {
		t.Errorf("message: got %q", rec.Message)
	}
}

func TestRuleSpec_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec RuleSpec
		want string
	}{
		{"no tag", RuleSpec{Metric: MetricStorageUsed, Op: ">"}, "tag"},
		{"unknown metric", RuleSpec{Tag: "x", Metric: "nope", Op: ">"}, "metric"},
		{"unknown op", RuleSpec{Tag: "x", Metric: MetricStorageUsed, Op: "=="}, "operator"},
		{"unknown severity", RuleSpec{Tag: "x", Metric: MetricStorageUsed, Op: ">", Severity: "fatal"}, "severity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Compile()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	dup := []RuleSpec{
		{Tag: "a", Metric: MetricStorageUsed, Op: ">"},
		{Tag: "a", Metric: MetricStorageUsed, Op: "<"},
	}
	if _, err := CompileRules(dup); err == nil {
		t.Error("expected duplicate tag error")
	}
}

func TestRule_UnboundedNeverBelowThreshold(t *testing.T) {
	m := Metrics{MetricTimeToFillOrbits: math.Inf(1)}
	rule, err := RuleSpec{Tag: "t", Metric: MetricTimeToFillOrbits, Op: "<", Threshold: 1e12}.Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if rule.When(m) {
		t.Error("unbounded time to fill must not fall below a finite threshold")
	}
	if got := rule.Message(m); !strings.Contains(got, "unbounded") {
		t.Errorf("message should render unbounded, got %q", got)
	}
}

func TestDefaultRules_Compile(t *testing.T) {
	if got, want := len(DefaultRules()), len(DefaultRuleSpecs()); got != want {
		t.Errorf("want %d rules, got %d", want, got)
	}
}

// --- timeline ---

func TestUniformWindows(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ws := UniformWindows(start, 48*time.Hour, 4, 10*time.Minute, 9600)
	if len(ws) != 8 {
		t.Fatalf("want 8 windows, got %d", len(ws))
	}
	for i, w := range ws {
		if w.End.Sub(w.Start) != 10*time.Minute {
			t.Errorf("window %d duration %v", i, w.End.Sub(w.Start))
		}
		if i > 0 && ws[i].Start.Sub(ws[i-1].Start) != 6*time.Hour {
			t.Errorf("window %d spacing %v", i, ws[i].Start.Sub(ws[i-1].Start))
		}
	}
	if UniformWindows(start, time.Hour, 0, time.Minute, 1) != nil {
		t.Error("expected no windows for zero passes")
	}
}

func TestUniformWindows_ManyShortPasses(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ws := UniformWindows(start, 24*time.Hour, 1e13, time.Nanosecond, 9600)
	if len(ws) != MaxContactsPerDay {
		t.Fatalf("want %d windows, got %d", MaxContactsPerDay, len(ws))
	}
	var contact time.Duration
	for _, w := range ws {
		contact += w.End.Sub(w.Start)
	}
	// 1e13 passes of 1 ns is 1e4 s of contact per day
	if d := contact - 1e4*time.Second; d < -time.Millisecond || d > time.Millisecond {
		t.Errorf("daily contact: want 10000s, got %v", contact)
	}

	if UniformWindows(start, 24*time.Hour, math.Inf(1), time.Second, 1) != nil {
		t.Error("expected no windows for infinite passes")
	}
	if UniformWindows(start, time.Hour, math.NaN(), time.Minute, 1) != nil {
		t.Error("expected no windows for NaN passes")
	}
}

func TestSimulate_DrainsDuringContacts(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := scenarioParams()
	ws := UniformWindows(start, 24*time.Hour, p.PassesPerDay, 10*time.Minute, p.DownlinkRateBps)

	tl, err := Simulate(p, start, 24*time.Hour, ws)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(tl.Points) != 24*60 {
		t.Fatalf("want %d points, got %d", 24*60, len(tl.Points))
	}
	if tl.OverflowAt != nil || tl.DroppedBytes != 0 {
		t.Errorf("unexpected overflow at %v, dropped %f", tl.OverflowAt, tl.DroppedBytes)
	}
	if math.Abs(tl.GeneratedBytes-8e6) > 1 {
		t.Errorf("generated: want 8e6, got %f", tl.GeneratedBytes)
	}
	// the pass sits mid-day, so half the day's data is onboard and drained
	if tl.DownlinkedBytes <= 0 || tl.DownlinkedBytes > tl.GeneratedBytes {
		t.Errorf("downlinked %f of %f", tl.DownlinkedBytes, tl.GeneratedBytes)
	}
	sawContact := false
	for _, pt := range tl.Points {
		if pt.BacklogBytes < 0 {
			t.Fatalf("negative backlog at %v", pt.At)
		}
		sawContact = sawContact || pt.InContact
	}
	if !sawContact {
		t.Error("no point inside a contact window")
	}
}

func TestSimulate_Overflow(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := scenarioParams()
	p.GenerationRateBps = 8000
	p.StorageCapacityBytes = 30000

	tl, err := Simulate(p, start, 5*time.Minute, nil)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if tl.OverflowAt == nil || !tl.OverflowAt.Equal(start.Add(time.Minute)) {
		t.Fatalf("want overflow after the first minute, got %v", tl.OverflowAt)
	}
	if tl.PeakBacklogBytes != p.StorageCapacityBytes {
		t.Errorf("peak: want %f, got %f", p.StorageCapacityBytes, tl.PeakBacklogBytes)
	}
	// 300 kB generated, 30 kB kept
	if math.Abs(tl.DroppedBytes-270000) > 1e-6 {
		t.Errorf("dropped: want 270000, got %f", tl.DroppedBytes)
	}
}

func TestSimulate_InvalidHorizon(t *testing.T) {
	_, err := Simulate(scenarioParams(), time.Now(), 0, nil)
	if !errors.Is(err, models.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got %v", err)
	}
}
