package linkbudget

import (
	"fmt"
	"math"

	"github.com/payback159/cubesatbudget/pkg/models"
)

// SweepParameter names the input varied by Sweep.
type SweepParameter string

const (
	SweepFrequency SweepParameter = "frequency"
	SweepDistance  SweepParameter = "distance"
	SweepTxPower   SweepParameter = "tx_power"
)

// SweepPoint is the link outcome at one value of the swept parameter.
type SweepPoint struct {
	Value    float64 `json:"value"`
	EbN0DB   float64 `json:"ebn0_db"`
	MarginDB float64 `json:"margin_db"`
}

// Sweep evaluates the margin across [start, stop] in steps of step,
// holding every other parameter of p fixed.
func Sweep(p models.LinkBudgetParameters, param SweepParameter, start, stop, step float64) ([]SweepPoint, error) {
	var set func(*models.LinkBudgetParameters, float64)
	switch param {
	case SweepFrequency:
		set = func(q *models.LinkBudgetParameters, v float64) { q.FrequencyHz = v }
	case SweepDistance:
		set = func(q *models.LinkBudgetParameters, v float64) { q.DistanceM = v }
	case SweepTxPower:
		set = func(q *models.LinkBudgetParameters, v float64) { q.TxPowerDBW = v }
	default:
		return nil, models.InvalidParameter("param", string(param), "must be frequency, distance or tx_power")
	}

	if !(step > 0) || math.IsInf(step, 0) {
		return nil, models.InvalidParameter("step", step, "must be greater than zero")
	}
	if math.IsNaN(start) || math.IsInf(start, 0) {
		return nil, models.InvalidParameter("start", start, "must be a finite number")
	}
	if math.IsNaN(stop) || math.IsInf(stop, 0) {
		return nil, models.InvalidParameter("stop", stop, "must be a finite number")
	}
	if stop < start {
		return nil, models.InvalidParameter("stop", stop, "must not be below start")
	}
	// The point count is bounded as a float before it becomes an int.
	span := math.Floor((stop-start)/step + 1e-9)
	if math.IsInf(span, 0) || span+1 > float64(models.MaxSweepPoints) {
		return nil, models.InvalidParameter("step", step,
			fmt.Sprintf("produces %.0f points (max %d)", span+1, models.MaxSweepPoints))
	}
	n := int(span) + 1

	points := make([]SweepPoint, 0, n)
	for i := 0; i < n; i++ {
		v := start + float64(i)*step
		q := p
		set(&q, v)
		res, err := Compute(q)
		if err != nil {
			return nil, err
		}
		points = append(points, SweepPoint{Value: v, EbN0DB: res.EbN0DB, MarginDB: res.MarginDB})
	}
	return points, nil
}

// ModulationMargin is the link outcome for one modulation.
type ModulationMargin struct {
	Modulation     string  `json:"modulation"`
	BitRateBps     float64 `json:"bit_rate_bps"`
	EbN0DB         float64 `json:"ebn0_db"`
	RequiredEbN0DB float64 `json:"required_ebn0_db"`
	BitErrorRate   float64 `json:"bit_error_rate"`
	MarginDB       float64 `json:"margin_db"`
}

// CompareModulations evaluates p under every supported modulation. With a
// required BER set, each modulation gets its own required Eb/N0.
func CompareModulations(p models.LinkBudgetParameters) ([]ModulationMargin, error) {
	names := SupportedModulations()
	out := make([]ModulationMargin, 0, len(names))
	for _, name := range names {
		q := p
		q.Modulation = name
		res, err := Compute(q)
		if err != nil {
			return nil, err
		}
		out = append(out, ModulationMargin{
			Modulation:     name,
			BitRateBps:     res.BitRateBps,
			EbN0DB:         res.EbN0DB,
			RequiredEbN0DB: res.RequiredEbN0DB,
			BitErrorRate:   res.BitErrorRate,
			MarginDB:       res.MarginDB,
		})
	}
	return out, nil
}
