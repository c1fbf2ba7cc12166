package planner

import (
	"fmt"
	"strings"

	"coilwinder/core"
)

// WireType selects the diameter column of the gauge table
type WireType uint8

const (
	Bare WireType = iota
	Magnet
	Stranded
)

func (w WireType) String() string {
	switch w {
	case Bare:
		return "bare"
	case Magnet:
		return "magnet"
	case Stranded:
		return "stranded"
	default:
		return "unknown"
	}
}

// ParseWireType accepts "bare", "magnet" or "stranded" in any case.
// An empty string selects magnet wire.
func ParseWireType(s string) (WireType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bare":
		return Bare, nil
	case "", "magnet":
		return Magnet, nil
	case "stranded":
		return Stranded, nil
	}
	return 0, fmt.Errorf("%w: unknown wire type %q", core.ErrInvalidGeometry, s)
}

const (
	MinAWG = 18
	MaxAWG = 36
)

// Diameters in mm, indexed by awg-MinAWG. Columns: bare, magnet (enamel
// included), stranded (insulation included).
var gaugeTable = [MaxAWG - MinAWG + 1][3]float64{
	{1.024, 1.06, 2.0},  // 18
	{0.912, 0.95, 1.8},  // 19
	{0.812, 0.85, 1.6},  // 20
	{0.723, 0.76, 1.5},  // 21
	{0.644, 0.68, 1.4},  // 22
	{0.573, 0.61, 1.3},  // 23
	{0.511, 0.55, 1.2},  // 24
	{0.455, 0.49, 1.1},  // 25
	{0.405, 0.44, 1.0},  // 26
	{0.361, 0.40, 0.9},  // 27
	{0.321, 0.36, 0.8},  // 28
	{0.286, 0.32, 0.75}, // 29
	{0.255, 0.29, 0.70}, // 30
	{0.227, 0.26, 0.65}, // 31
	{0.202, 0.23, 0.60}, // 32
	{0.180, 0.21, 0.55}, // 33
	{0.160, 0.19, 0.50}, // 34
	{0.143, 0.17, 0.45}, // 35
	{0.127, 0.15, 0.40}, // 36
}

// Diameter returns the wire diameter in mm for a gauge and wire type
func Diameter(awg int, wire WireType) (float64, error) {
	if awg < MinAWG || awg > MaxAWG {
		return 0, fmt.Errorf("%w: AWG %d outside table (%d-%d)", core.ErrInvalidGeometry, awg, MinAWG, MaxAWG)
	}
	if wire > Stranded {
		return 0, fmt.Errorf("%w: unknown wire type %d", core.ErrInvalidGeometry, wire)
	}
	return gaugeTable[awg-MinAWG][wire], nil
}
