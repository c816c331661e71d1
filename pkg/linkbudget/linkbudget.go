// Package linkbudget evaluates radio link budgets under an AWGN channel.
// Every function here is a pure function of its inputs.
package linkbudget

import (
	"fmt"
	"math"

	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/units"
)

// Field names used in parameter errors and by the field setters.
const (
	FieldTxPower      = "tx_power"
	FieldTxGain       = "tx_gain"
	FieldRxGain       = "rx_gain"
	FieldFrequency    = "frequency"
	FieldDistance     = "distance"
	FieldNoiseTemp    = "noise_temperature"
	FieldBandwidth    = "bandwidth"
	FieldModulation   = "modulation"
	FieldCodeRate     = "code_rate"
	FieldDataRate     = "data_rate"
	FieldExtraLosses  = "extra_losses"
	FieldRequiredEbN0 = "required_ebn0"
	FieldRequiredBER  = "required_ber"
)

// fsplConstantDB is 20·log10(4π/c), the frequency/distance independent FSPL term.
var fsplConstantDB = 20 * math.Log10(4*math.Pi/units.SpeedOfLight)

// Validate checks every field of p and returns the first violation as a
// *models.ParameterError, or a *models.ModulationError for an unknown scheme.
func Validate(p models.LinkBudgetParameters) error {
	finite := []struct {
		field string
		value float64
	}{
		{FieldTxPower, p.TxPowerDBW},
		{FieldTxGain, p.TxGainDB},
		{FieldRxGain, p.RxGainDB},
		{FieldExtraLosses, p.ExtraLossesDB},
		{FieldRequiredEbN0, p.RequiredEbN0DB},
	}
	for _, f := range finite {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return models.InvalidParameter(f.field, f.value, "must be a finite number")
		}
	}

	positive := []struct {
		field string
		value float64
	}{
		{FieldFrequency, p.FrequencyHz},
		{FieldNoiseTemp, p.NoiseTempK},
		{FieldBandwidth, p.BandwidthHz},
	}
	for _, f := range positive {
		if !(f.value > 0) || math.IsInf(f.value, 0) {
			return models.InvalidParameter(f.field, f.value, "must be greater than zero")
		}
	}

	switch {
	case math.IsNaN(p.DistanceM) || math.IsInf(p.DistanceM, 0):
		return models.InvalidParameter(FieldDistance, p.DistanceM, "must be a finite number")
	case p.DistanceM < 0:
		return models.InvalidParameter(FieldDistance, p.DistanceM, "must not be negative")
	case p.DistanceM == 0:
		return models.InvalidParameter(FieldDistance, p.DistanceM, "must be greater than zero to compute free-space loss")
	}

	if p.ExtraLossesDB < 0 {
		return models.InvalidParameter(FieldExtraLosses, p.ExtraLossesDB, "must not be negative")
	}
	if !(p.CodeRate > 0 && p.CodeRate <= 1) {
		return models.InvalidParameter(FieldCodeRate, p.CodeRate, "must be in (0, 1]")
	}
	if math.IsNaN(p.DataRateBps) || math.IsInf(p.DataRateBps, 0) || p.DataRateBps < 0 {
		return models.InvalidParameter(FieldDataRate, p.DataRateBps, "must be zero (derive from modulation) or positive")
	}
	if p.RequiredBER != 0 && !(p.RequiredBER > 0 && p.RequiredBER < 0.5) {
		return models.InvalidParameter(FieldRequiredBER, p.RequiredBER, "must be zero or in (0, 0.5)")
	}
	if p.Modulation == "" {
		return models.InvalidParameter(FieldModulation, nil, "is required")
	}
	if _, err := LookupModulation(p.Modulation); err != nil {
		return err
	}
	return nil
}

// FreeSpacePathLoss returns the free-space path loss in dB for a frequency
// in Hz and a distance in metres.
func FreeSpacePathLoss(frequencyHz, distanceM float64) float64 {
	return 20*math.Log10(distanceM) + 20*math.Log10(frequencyHz) + fsplConstantDB
}

// NoisePower returns the thermal noise power k·T·B in dBW.
func NoisePower(noiseTempK, bandwidthHz float64) float64 {
	return units.LinearToDB(units.Boltzmann * noiseTempK * bandwidthHz)
}

// BitRate returns the explicit data rate if set, otherwise the rate the
// modulation carries in the bandwidth at one symbol per hertz.
func BitRate(p models.LinkBudgetParameters, m Modulation) float64 {
	if p.DataRateBps > 0 {
		return p.DataRateBps
	}
	return p.BandwidthHz * m.BitsPerSymbol * p.CodeRate
}

// Compute evaluates the link budget for p.
func Compute(p models.LinkBudgetParameters) (models.LinkBudgetResult, error) {
	if err := Validate(p); err != nil {
		return models.LinkBudgetResult{}, err
	}
	mod, err := LookupModulation(p.Modulation)
	if err != nil {
		return models.LinkBudgetResult{}, err
	}

	required := p.RequiredEbN0DB
	if p.RequiredBER > 0 {
		required, err = mod.RequiredEbN0DB(p.RequiredBER)
		if err != nil {
			return models.LinkBudgetResult{}, models.InvalidParameter(FieldRequiredBER, p.RequiredBER, err.Error())
		}
	}

	eirp := p.TxPowerDBW + p.TxGainDB
	pathLoss := FreeSpacePathLoss(p.FrequencyHz, p.DistanceM)
	received := eirp - pathLoss + p.RxGainDB - p.ExtraLossesDB
	noise := NoisePower(p.NoiseTempK, p.BandwidthHz)
	cn := received - noise
	rb := BitRate(p, mod)
	ebn0 := cn + units.LinearToDB(p.BandwidthHz/rb)
	margin := ebn0 - required

	res := models.LinkBudgetResult{
		EIRPDBW:            eirp,
		PathLossDB:         pathLoss,
		ReceivedPowerDBW:   received,
		NoisePowerDBW:      noise,
		CarrierToNoiseDB:   cn,
		CarrierToNoiseDBHz: cn + units.LinearToDB(p.BandwidthHz),
		BitRateBps:         rb,
		EbN0DB:             ebn0,
		BitErrorRate:       mod.BER(ebn0),
		RequiredEbN0DB:     required,
		MarginDB:           margin,
		LinkCloses:         margin >= 0,
	}
	res.Status, res.Hints = assess(p, res)
	return res, nil
}

// assess turns the margin into a status line and, for a negative margin,
// the single-parameter changes that would close the link.
func assess(p models.LinkBudgetParameters, r models.LinkBudgetResult) (string, []string) {
	if r.MarginDB >= 0 {
		return fmt.Sprintf("Link closes with %.1f dB margin", r.MarginDB), nil
	}

	deficit := -r.MarginDB
	hints := []string{
		fmt.Sprintf("Increase transmit power by %.1f dB (to %.2f W)",
			deficit, units.DBWToWatts(p.TxPowerDBW+deficit)),
		fmt.Sprintf("Increase combined antenna gain by %.1f dB", deficit),
		fmt.Sprintf("Reduce bit rate to %.0f bit/s", r.BitRateBps/units.DBToLinear(deficit)),
		fmt.Sprintf("Reduce link distance to %.0f km", p.DistanceM/math.Pow(10, deficit/20)/1000),
	}
	return fmt.Sprintf("Link does not close: %.1f dB short", deficit), hints
}
