package databudget

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/payback159/cubesatbudget/pkg/models"
)

// Metric names a rule can test.
const (
	MetricTimeToFillOrbits    = "time_to_fill_orbits"
	MetricTimeToFillDays      = "time_to_fill_days"
	MetricDownlinkUtilization = "downlink_utilization_percent"
	MetricStorageUsed         = "storage_used_percent"
	MetricNetGrowthPerDay     = "net_growth_bytes_per_day"
	MetricRequiredPasses      = "required_passes_per_day"
	MetricPassDeficit         = "pass_deficit"
)

var knownMetrics = map[string]bool{
	MetricTimeToFillOrbits:    true,
	MetricTimeToFillDays:      true,
	MetricDownlinkUtilization: true,
	MetricStorageUsed:         true,
	MetricNetGrowthPerDay:     true,
	MetricRequiredPasses:      true,
	MetricPassDeficit:         true,
}

// Metrics are the derived values rules are evaluated against.
// Unbounded quantities appear as +Inf.
type Metrics map[string]float64

// MetricsOf extracts the rule metrics from a computed result.
func MetricsOf(p models.DataBudgetParameters, r models.DataBudgetResult) Metrics {
	required := r.RequiredPassesPerDay.Float()
	return Metrics{
		MetricTimeToFillOrbits:    r.TimeToFillOrbits.Float(),
		MetricTimeToFillDays:      r.TimeToFillDays.Float(),
		MetricDownlinkUtilization: r.DownlinkUtilization.Float(),
		MetricStorageUsed:         r.StorageUsedPercent,
		MetricNetGrowthPerDay:     r.NetGrowthBytesPerDay,
		MetricRequiredPasses:      required,
		MetricPassDeficit:         required - p.PassesPerDay,
	}
}

// Rule is one tagged predicate/action pair of the recommendation table.
type Rule struct {
	Tag      string
	Severity models.Severity
	When     func(Metrics) bool
	Message  func(Metrics) string
}

// Evaluate runs rules in order and collects a recommendation for every match.
func Evaluate(rules []Rule, m Metrics) []models.Recommendation {
	recs := []models.Recommendation{}
	for _, r := range rules {
		if r.When == nil || !r.When(m) {
			continue
		}
		msg := r.Tag
		if r.Message != nil {
			msg = r.Message(m)
		}
		recs = append(recs, models.Recommendation{Tag: r.Tag, Severity: r.Severity, Message: msg})
	}
	return recs
}

// RuleSpec is the configuration form of a Rule: "when Metric Op Threshold,
// emit Message". Message may reference {value} and {threshold}.
type RuleSpec struct {
	Tag       string  `yaml:"tag" json:"tag"`
	Metric    string  `yaml:"metric" json:"metric"`
	Op        string  `yaml:"op" json:"op"`
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Severity  string  `yaml:"severity" json:"severity"`
	Message   string  `yaml:"message" json:"message"`
}

var comparators = map[string]func(a, b float64) bool{
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
}

// Compile turns the spec into a Rule.
func (s RuleSpec) Compile() (Rule, error) {
	if strings.TrimSpace(s.Tag) == "" {
		return Rule{}, fmt.Errorf("rule tag is required")
	}
	if !knownMetrics[s.Metric] {
		return Rule{}, fmt.Errorf("rule %q: unknown metric %q", s.Tag, s.Metric)
	}
	cmp, ok := comparators[s.Op]
	if !ok {
		return Rule{}, fmt.Errorf("rule %q: unknown operator %q", s.Tag, s.Op)
	}
	sev := models.Severity(strings.ToLower(s.Severity))
	switch sev {
	case models.SeverityInfo, models.SeverityWarning, models.SeverityCritical:
	case "":
		sev = models.SeverityWarning
	default:
		return Rule{}, fmt.Errorf("rule %q: unknown severity %q", s.Tag, s.Severity)
	}

	metric, threshold, text := s.Metric, s.Threshold, s.Message
	if text == "" {
		text = fmt.Sprintf("%s %s {threshold} ({value})", metric, s.Op)
	}
	return Rule{
		Tag:      s.Tag,
		Severity: sev,
		When: func(m Metrics) bool {
			v, ok := m[metric]
			return ok && !math.IsNaN(v) && cmp(v, threshold)
		},
		Message: func(m Metrics) string {
			return strings.NewReplacer(
				"{value}", formatMetric(m[metric]),
				"{threshold}", formatMetric(threshold),
			).Replace(text)
		},
	}, nil
}

// CompileRules compiles specs in order.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Tag] {
			return nil, fmt.Errorf("duplicate rule tag %q", s.Tag)
		}
		seen[s.Tag] = true
		r, err := s.Compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func formatMetric(v float64) string {
	if math.IsInf(v, 0) {
		return "unbounded"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// DefaultRuleSpecs is the stock recommendation table.
func DefaultRuleSpecs() []RuleSpec {
	return []RuleSpec{
		{
			Tag: "storage_exceeded", Metric: MetricStorageUsed, Op: ">=", Threshold: 100,
			Severity: "critical", Message: "Backlog already fills {value}% of storage",
		},
		{
			Tag: "storage_pressure", Metric: MetricTimeToFillOrbits, Op: "<", Threshold: 1,
			Severity: "critical", Message: "Storage fills in {value} orbits (under {threshold}); downlink more often or add storage",
		},
		{
			Tag: "storage_fill_soon", Metric: MetricTimeToFillDays, Op: "<", Threshold: 30,
			Severity: "warning", Message: "Storage will be full in {value} days",
		},
		{
			Tag: "storage_low", Metric: MetricStorageUsed, Op: ">", Threshold: 90,
			Severity: "warning", Message: "Less than 10% storage remaining ({value}% used)",
		},
		{
			Tag: "increase_downlink", Metric: MetricDownlinkUtilization, Op: ">", Threshold: 100,
			Severity: "warning", Message: "Daily generation is {value}% of downlink capacity; increase downlink capacity",
		},
		{
			Tag: "reduce_generation", Metric: MetricDownlinkUtilization, Op: ">", Threshold: 200,
			Severity: "info", Message: "Generation exceeds twice the downlink capacity; consider reducing the payload data rate",
		},
		{
			Tag: "add_passes", Metric: MetricPassDeficit, Op: ">", Threshold: 0,
			Severity: "info", Message: "Add {value} ground station passes per day to keep up with generation",
		},
	}
}

// DefaultRules compiles DefaultRuleSpecs.
func DefaultRules() []Rule {
	rules, err := CompileRules(DefaultRuleSpecs())
	if err != nil {
		panic(err)
	}
	return rules
}
