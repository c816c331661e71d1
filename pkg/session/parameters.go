package session

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/payback159/cubesatbudget/pkg/databudget"
	"github.com/payback159/cubesatbudget/pkg/linkbudget"
	"github.com/payback159/cubesatbudget/pkg/logging"
	"github.com/payback159/cubesatbudget/pkg/metrics"
	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/passes"
	"github.com/payback159/cubesatbudget/pkg/units"
)

// FieldGenerationPerOrbit sets the generation rate from a data volume per
// orbit in bytes.
const FieldGenerationPerOrbit = "generation_bytes_per_orbit"

// commitLocked applies mutate to a copy of the open project, validates the
// copy and only then replaces the open project. With save-on-edit the copy
// is written to the store first; a failed write leaves everything as it was.
func (s *Session) commitLocked(op string, mutate func(p *models.Project) error) error {
	if s.project == nil {
		return models.ErrNoOpenProject
	}
	next := *s.project
	if err := mutate(&next); err != nil {
		return err
	}
	if err := validateProject(&next); err != nil {
		return err
	}
	if next.Link == s.project.Link && next.Data == s.project.Data {
		return nil
	}
	next.LinkResult, next.DataResult = nil, nil

	if s.saveOnEdit {
		saved := next
		err := s.store.Update(&saved)
		metrics.ObserveProjectOp(op, err)
		logging.LogProjectOperation(op, next.Name, err)
		if err != nil {
			return err
		}
		next.CreatedAt, next.UpdatedAt = saved.CreatedAt, saved.UpdatedAt
		s.dirty = false
	} else {
		s.dirty = true
	}
	s.project = &next
	return nil
}

func (s *Session) GetLink() (models.LinkBudgetParameters, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return models.LinkBudgetParameters{}, models.ErrNoOpenProject
	}
	return s.project.Link, nil
}

// SetLink replaces the link parameters after validating all of them.
func (s *Session) SetLink(p models.LinkBudgetParameters) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.commitLocked("edit_link", func(next *models.Project) error {
		next.Link = p
		return nil
	})
}

func (s *Session) GetData() (models.DataBudgetParameters, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.project == nil {
		return models.DataBudgetParameters{}, models.ErrNoOpenProject
	}
	return s.project.Data, nil
}

// SetData replaces the data budget parameters after validating all of them.
func (s *Session) SetData(p models.DataBudgetParameters) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.commitLocked("edit_data", func(next *models.Project) error {
		next.Data = p
		return nil
	})
}

// SetLinkField parses raw as the value of one link parameter. Transmit
// power accepts a unit suffix ("1 W", "30 dBm", "-3 dBW").
func (s *Session) SetLinkField(field, raw string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.commitLocked("edit_link", func(next *models.Project) error {
		return setLinkField(&next.Link, field, raw)
	})
}

// SetDataField parses raw as the value of one data budget parameter.
func (s *Session) SetDataField(field, raw string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.commitLocked("edit_data", func(next *models.Project) error {
		return setDataField(&next.Data, field, raw)
	})
}

// ApplyPassSummary copies predicted contact statistics into the open
// project: mean pass duration and passes per day into the data budget and
// the worst-case slant range into the link budget.
func (s *Session) ApplyPassSummary(sum passes.Summary) error {
	if sum.Passes == 0 {
		return models.InvalidParameter("passes", 0, "no passes in the prediction window")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.commitLocked("apply_passes", func(next *models.Project) error {
		next.Data.PassDurationS = sum.MeanDurationS
		next.Data.PassesPerDay = sum.PassesPerDay
		next.Link.DistanceM = sum.MaxRangeKm * 1000
		return nil
	})
}

func setLinkField(p *models.LinkBudgetParameters, field, raw string) error {
	if field == linkbudget.FieldModulation {
		p.Modulation = strings.TrimSpace(raw)
		return nil
	}
	if field == linkbudget.FieldTxPower {
		dbw, err := parsePower(raw)
		if err != nil {
			return models.InvalidParameter(field, raw, err.Error())
		}
		p.TxPowerDBW = dbw
		return nil
	}

	targets := map[string]*float64{
		linkbudget.FieldTxGain:       &p.TxGainDB,
		linkbudget.FieldRxGain:       &p.RxGainDB,
		linkbudget.FieldFrequency:    &p.FrequencyHz,
		linkbudget.FieldDistance:     &p.DistanceM,
		linkbudget.FieldNoiseTemp:    &p.NoiseTempK,
		linkbudget.FieldBandwidth:    &p.BandwidthHz,
		linkbudget.FieldCodeRate:     &p.CodeRate,
		linkbudget.FieldDataRate:     &p.DataRateBps,
		linkbudget.FieldExtraLosses:  &p.ExtraLossesDB,
		linkbudget.FieldRequiredEbN0: &p.RequiredEbN0DB,
		linkbudget.FieldRequiredBER:  &p.RequiredBER,
	}
	return setFloat(targets, field, raw)
}

func setDataField(p *models.DataBudgetParameters, field, raw string) error {
	if field == FieldGenerationPerOrbit {
		v, err := parseNumber(field, raw)
		if err != nil {
			return err
		}
		if p.OrbitPeriodS <= 0 {
			return models.InvalidParameter(databudget.FieldOrbitPeriod, p.OrbitPeriodS, "must be greater than zero")
		}
		p.GenerationRateBps = units.BytesPerOrbitToBps(v, p.OrbitPeriodS)
		return nil
	}

	targets := map[string]*float64{
		databudget.FieldGenerationRate:  &p.GenerationRateBps,
		databudget.FieldDutyCycle:       &p.DutyCyclePercent,
		databudget.FieldDownlinkRate:    &p.DownlinkRateBps,
		databudget.FieldPassDuration:    &p.PassDurationS,
		databudget.FieldPassesPerDay:    &p.PassesPerDay,
		databudget.FieldStorageCapacity: &p.StorageCapacityBytes,
		databudget.FieldCurrentBacklog:  &p.CurrentBacklogBytes,
		databudget.FieldOrbitPeriod:     &p.OrbitPeriodS,
	}
	return setFloat(targets, field, raw)
}

func setFloat(targets map[string]*float64, field, raw string) error {
	target, ok := targets[field]
	if !ok {
		return models.InvalidParameter(field, nil, "unknown field")
	}
	v, err := parseNumber(field, raw)
	if err != nil {
		return err
	}
	*target = v
	return nil
}

func parseNumber(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, models.InvalidParameter(field, raw, "must be a number")
	}
	return v, nil
}

// parsePower splits "30 dBm" or "1W" into value and unit and converts to dBW.
// A bare number is dBW.
func parsePower(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	i := strings.LastIndexFunc(raw, func(r rune) bool {
		return unicode.IsDigit(r) || r == '.'
	})
	number, unit := raw[:i+1], raw[i+1:]
	v, err := strconv.ParseFloat(strings.TrimSpace(number), 64)
	if err != nil {
		return 0, errors.New("must be a number with an optional W, dBW or dBm unit")
	}
	u, err := units.ParsePowerUnit(unit)
	if err != nil {
		return 0, err
	}
	return units.ToDBW(v, u)
}
