package linkbudget

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/payback159/cubesatbudget/pkg/models"
	"github.com/payback159/cubesatbudget/pkg/units"
)

// Modulation is a scheme with a closed-form AWGN bit error probability.
type Modulation struct {
	Name          string
	BitsPerSymbol float64
	ber           func(ebn0 float64) float64 // ebn0 is linear
}

// Bisection bounds for solving the required Eb/N0 of a target BER.
const (
	minSolveEbN0DB = -10.0
	maxSolveEbN0DB = 60.0
)

var modulations = map[string]Modulation{
	"BPSK":  {Name: "BPSK", BitsPerSymbol: 1, ber: coherentPSK2},
	"QPSK":  {Name: "QPSK", BitsPerSymbol: 2, ber: coherentPSK2},
	"OQPSK": {Name: "OQPSK", BitsPerSymbol: 2, ber: coherentPSK2},
	"8PSK":  {Name: "8PSK", BitsPerSymbol: 3, ber: mpsk(8)},
	"16QAM": {Name: "16QAM", BitsPerSymbol: 4, ber: mqam(16)},
	"64QAM": {Name: "64QAM", BitsPerSymbol: 6, ber: mqam(64)},
	"FSK":   {Name: "FSK", BitsPerSymbol: 1, ber: noncoherentFSK},
}

// LookupModulation resolves a modulation identifier case-insensitively.
func LookupModulation(name string) (Modulation, error) {
	key := strings.ToUpper(strings.TrimSpace(name))
	key = strings.ReplaceAll(key, "-", "")
	if m, ok := modulations[key]; ok {
		return m, nil
	}
	return Modulation{}, &models.ModulationError{Modulation: name}
}

// SupportedModulations lists the known modulation names in sorted order.
func SupportedModulations() []string {
	names := make([]string, 0, len(modulations))
	for name := range modulations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BER returns the bit error probability at the given Eb/N0 in dB.
func (m Modulation) BER(ebn0DB float64) float64 {
	return m.ber(units.DBToLinear(ebn0DB))
}

// RequiredEbN0DB solves for the Eb/N0 (dB) at which the BER equals target.
func (m Modulation) RequiredEbN0DB(target float64) (float64, error) {
	if !(target > 0 && target < 0.5) {
		return 0, fmt.Errorf("target BER must be in (0, 0.5), got %g", target)
	}
	lo, hi := minSolveEbN0DB, maxSolveEbN0DB
	if m.BER(lo) <= target {
		return lo, nil
	}
	if m.BER(hi) > target {
		return 0, fmt.Errorf("target BER %g not reachable with %s below %.0f dB", target, m.Name, hi)
	}
	for i := 0; i < 100 && hi-lo > 1e-9; i++ {
		mid := (lo + hi) / 2
		if m.BER(mid) > target {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi, nil
}

// Q is the Gaussian tail probability.
func Q(x float64) float64 {
	return 0.5 * math.Erfc(x/math.Sqrt2)
}

func coherentPSK2(ebn0 float64) float64 {
	return Q(math.Sqrt(2 * ebn0))
}

func mpsk(order float64) func(float64) float64 {
	k := math.Log2(order)
	return func(ebn0 float64) float64 {
		return (2 / k) * Q(math.Sqrt(2*k*ebn0)*math.Sin(math.Pi/order))
	}
}

func mqam(order float64) func(float64) float64 {
	k := math.Log2(order)
	coef := (4 / k) * (1 - 1/math.Sqrt(order))
	return func(ebn0 float64) float64 {
		return coef * Q(math.Sqrt(3*k*ebn0/(order-1)))
	}
}

func noncoherentFSK(ebn0 float64) float64 {
	return 0.5 * math.Exp(-ebn0/2)
}
