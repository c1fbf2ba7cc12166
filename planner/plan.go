// Package planner turns wire and bobbin geometry into per-layer turn and
// traversal step counts.
package planner

import (
	"fmt"
	"math"

	"coilwinder/core"
)

const (
	DefaultStepsPerRev = 200  // NEMA17 full steps
	DefaultLeadPitchMM = 1.25 // M8 lead screw
)

// Geometry describes the traversal axis
type Geometry struct {
	StepsPerRev int     // stepper steps per lead screw revolution
	LeadPitchMM float64 // traversal travel per lead screw revolution
}

// DefaultGeometry is the production traversal axis
func DefaultGeometry() Geometry {
	return Geometry{StepsPerRev: DefaultStepsPerRev, LeadPitchMM: DefaultLeadPitchMM}
}

// StepsPerTurn is the traversal step count that advances the guide by one
// wire diameter
func (g Geometry) StepsPerTurn(wireDiameterMM float64) float64 {
	return float64(g.StepsPerRev) * (wireDiameterMM / g.LeadPitchMM)
}

func (g Geometry) validate() error {
	if g.StepsPerRev <= 0 || g.LeadPitchMM <= 0 {
		return fmt.Errorf("%w: steps per rev %d, lead pitch %.3f mm", core.ErrInvalidGeometry, g.StepsPerRev, g.LeadPitchMM)
	}
	return nil
}

// Layer is one axial pass of the wire guide
type Layer struct {
	Number int `json:"layer"` // 1-based
	Turns  int `json:"turns"`
	Steps  int `json:"steps"` // traversal steps for the pass
}

// Odd reports whether the layer carries the extra turn
func (l Layer) Odd() bool {
	return l.Number%2 == 1
}

// Plan is the ordered list of layers for a coil
type Plan struct {
	Layers         []Layer
	RequestedTurns int
	TurnsPerLayer  int     // even-layer turn count; odd layers get one more
	StepsPerTurn   float64 // traversal steps per spindle turn
	WireDiameterMM float64
	SpoolWidthMM   float64
	Geometry       Geometry
}

// Summary is the totals line of a plan
type Summary struct {
	RequestedTurns int `json:"requested_turns"`
	ActualTurns    int `json:"actual_turns"`
	Overrun        int `json:"overrun"`
	LayerCount     int `json:"layer_count"`
	TotalSteps     int `json:"total_steps"`
}

// New plans totalTurns of wire of the given diameter on a spool of the given
// width. The final layer may overshoot; the overshoot is reported by Summary.
func New(totalTurns int, spoolWidthMM, wireDiameterMM float64, g Geometry) (*Plan, error) {
	if totalTurns <= 0 {
		return nil, fmt.Errorf("%w: total turns %d", core.ErrInvalidGeometry, totalTurns)
	}
	if spoolWidthMM <= 0 || wireDiameterMM <= 0 {
		return nil, fmt.Errorf("%w: spool width %.3f mm, wire diameter %.3f mm", core.ErrInvalidGeometry, spoolWidthMM, wireDiameterMM)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}

	perLayer := int(math.Floor(spoolWidthMM / wireDiameterMM))
	if perLayer == 0 {
		return nil, fmt.Errorf("%w: %.3f mm wire does not fit a %.3f mm spool", core.ErrInvalidGeometry, wireDiameterMM, spoolWidthMM)
	}

	p := &Plan{
		RequestedTurns: totalTurns,
		TurnsPerLayer:  perLayer,
		StepsPerTurn:   g.StepsPerTurn(wireDiameterMM),
		WireDiameterMM: wireDiameterMM,
		SpoolWidthMM:   spoolWidthMM,
		Geometry:       g,
	}

	wound := 0
	for n := 1; wound < totalTurns; n++ {
		turns := perLayer
		if n%2 == 1 {
			turns++
		}
		p.Layers = append(p.Layers, Layer{
			Number: n,
			Turns:  turns,
			Steps:  int(math.Round(float64(turns) * p.StepsPerTurn)),
		})
		wound += turns
	}
	return p, nil
}

// ForWire plans by gauge and wire type
func ForWire(totalTurns int, spoolWidthMM float64, awg int, wire WireType, g Geometry) (*Plan, error) {
	d, err := Diameter(awg, wire)
	if err != nil {
		return nil, err
	}
	return New(totalTurns, spoolWidthMM, d, g)
}

// Summary totals the plan
func (p *Plan) Summary() Summary {
	s := Summary{RequestedTurns: p.RequestedTurns, LayerCount: len(p.Layers)}
	for _, l := range p.Layers {
		s.ActualTurns += l.Turns
		s.TotalSteps += l.Steps
	}
	s.Overrun = s.ActualTurns - s.RequestedTurns
	return s
}

// Direction of the traversal for a layer. Layer 1 moves away from home
// (clockwise) and every following layer reverses.
func (p *Plan) Direction(layer int) int {
	if layer%2 == 1 {
		return 1
	}
	return -1
}

// ImpliedTurns converts traversal steps back into spindle turns
func (p *Plan) ImpliedTurns(steps int) float64 {
	if p.StepsPerTurn == 0 {
		return 0
	}
	return float64(steps) / p.StepsPerTurn
}

// TurnsForLayers is the turn count that exactly fills the given number of
// layers
func TurnsForLayers(layers int, spoolWidthMM, wireDiameterMM float64) (int, error) {
	if layers <= 0 || spoolWidthMM <= 0 || wireDiameterMM <= 0 {
		return 0, fmt.Errorf("%w: %d layers of %.3f mm wire on %.3f mm", core.ErrInvalidGeometry, layers, wireDiameterMM, spoolWidthMM)
	}
	perLayer := int(math.Floor(spoolWidthMM / wireDiameterMM))
	if perLayer == 0 {
		return 0, fmt.Errorf("%w: %.3f mm wire does not fit a %.3f mm spool", core.ErrInvalidGeometry, wireDiameterMM, spoolWidthMM)
	}
	// odd layers carry one extra turn
	return layers*perLayer + (layers+1)/2, nil
}
