package planner

import (
	"fmt"
	"time"

	"coilwinder/core"
)

// SafetyMargin is applied to the theoretical spindle limit
const SafetyMargin = 0.9

// MaxSpindleRPM bounds spindle speed by how fast the traversal can keep up.
// The fastest step rate (1/minStepDelay) sets the guide's linear speed
// (pitch/steps_per_rev per step), and the guide must advance one wire
// diameter per spindle turn. safeRPM is maxRPM reduced by SafetyMargin.
func MaxSpindleRPM(wireDiameterMM float64, g Geometry, minStepDelay time.Duration) (maxRPM, safeRPM float64, err error) {
	if wireDiameterMM <= 0 {
		return 0, 0, fmt.Errorf("%w: wire diameter %.3f mm", core.ErrInvalidGeometry, wireDiameterMM)
	}
	if err := g.validate(); err != nil {
		return 0, 0, err
	}
	if minStepDelay <= 0 {
		return 0, 0, fmt.Errorf("%w: minimum step delay %v", core.ErrInvalidGeometry, minStepDelay)
	}

	stepsPerSecond := 1 / minStepDelay.Seconds()
	linearMMPerSecond := stepsPerSecond * g.LeadPitchMM / float64(g.StepsPerRev)
	maxRPM = linearMMPerSecond / wireDiameterMM * 60
	return maxRPM, maxRPM * SafetyMargin, nil
}
