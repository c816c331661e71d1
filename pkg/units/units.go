package units

import (
	"fmt"
	"math"
	"strings"
)

// Physical constants
const (
	Boltzmann     = 1.380649e-23 // J/K
	SpeedOfLight  = 299792458.0  // m/s
	SecondsPerDay = 86400.0
)

// BoltzmannDBW is Boltzmann's constant in dBW/(K·Hz), about -228.6.
var BoltzmannDBW = LinearToDB(Boltzmann)

// PowerUnit identifies how a transmit power value is expressed.
type PowerUnit string

const (
	Watt PowerUnit = "W"
	DBW  PowerUnit = "dBW"
	DBm  PowerUnit = "dBm"
)

// DBToLinear converts a ratio in decibels to a linear ratio.
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/10)
}

// LinearToDB converts a linear power ratio to decibels.
func LinearToDB(linear float64) float64 {
	return 10 * math.Log10(linear)
}

// WattsToDBW converts watts to dBW.
func WattsToDBW(w float64) float64 {
	return LinearToDB(w)
}

// DBWToWatts converts dBW to watts.
func DBWToWatts(dbw float64) float64 {
	return DBToLinear(dbw)
}

// DBmToDBW converts dBm to dBW.
func DBmToDBW(dbm float64) float64 {
	return dbm - 30
}

// DBWToDBm converts dBW to dBm.
func DBWToDBm(dbw float64) float64 {
	return dbw + 30
}

// Wavelength returns the free-space wavelength in metres for a frequency in Hz.
func Wavelength(frequencyHz float64) float64 {
	return SpeedOfLight / frequencyHz
}

// Frequency returns the frequency in Hz for a free-space wavelength in metres.
func Frequency(wavelengthM float64) float64 {
	return SpeedOfLight / wavelengthM
}

// BytesPerOrbitToBps converts a per-orbit data volume into an average bit rate.
func BytesPerOrbitToBps(bytesPerOrbit, orbitPeriodS float64) float64 {
	if orbitPeriodS <= 0 {
		return 0
	}
	return bytesPerOrbit * 8 / orbitPeriodS
}

// BpsToBytesPerOrbit is the inverse of BytesPerOrbitToBps.
func BpsToBytesPerOrbit(bps, orbitPeriodS float64) float64 {
	return bps * orbitPeriodS / 8
}

// ParsePowerUnit accepts W, dBW and dBm in any letter case.
func ParsePowerUnit(s string) (PowerUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "w", "watt", "watts":
		return Watt, nil
	case "dbw", "":
		return DBW, nil
	case "dbm":
		return DBm, nil
	}
	return "", fmt.Errorf("unknown power unit %q", s)
}

// ToDBW converts a power value in the given unit to dBW.
// Watt values must be positive.
func ToDBW(value float64, unit PowerUnit) (float64, error) {
	switch unit {
	case Watt:
		if value <= 0 {
			return 0, fmt.Errorf("power in watts must be greater than zero, got %g", value)
		}
		return WattsToDBW(value), nil
	case DBW, "":
		return value, nil
	case DBm:
		return DBmToDBW(value), nil
	}
	return 0, fmt.Errorf("unknown power unit %q", unit)
}
