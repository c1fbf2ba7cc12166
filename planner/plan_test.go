package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/core"
)

func TestDiameterTable(t *testing.T) {
	for awg := MinAWG; awg <= MaxAWG; awg++ {
		for _, wire := range []WireType{Bare, Magnet, Stranded} {
			d1, err := Diameter(awg, wire)
			require.NoError(t, err)
			d2, _ := Diameter(awg, wire)
			assert.Equal(t, d1, d2, "AWG %d %s not deterministic", awg, wire)
			assert.Greater(t, d1, 0.0, "AWG %d %s", awg, wire)
		}
		bare, _ := Diameter(awg, Bare)
		magnet, _ := Diameter(awg, Magnet)
		assert.Greater(t, magnet, bare, "enamel should add to AWG %d", awg)
	}

	d, err := Diameter(20, Magnet)
	require.NoError(t, err)
	assert.Equal(t, 0.85, d)
}

func TestDiameterOutOfTable(t *testing.T) {
	for _, awg := range []int{0, 17, 37, -3} {
		_, err := Diameter(awg, Magnet)
		assert.ErrorIs(t, err, core.ErrInvalidGeometry, "AWG %d", awg)
	}
	_, err := Diameter(20, WireType(9))
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
}

func TestParseWireType(t *testing.T) {
	cases := map[string]WireType{"": Magnet, "magnet": Magnet, "BARE": Bare, " stranded ": Stranded}
	for in, want := range cases {
		got, err := ParseWireType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWireType("litz")
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
}

func TestPlanFirstLayerAWG20(t *testing.T) {
	p, err := ForWire(300, 20.0, 20, Magnet, DefaultGeometry())
	require.NoError(t, err)

	assert.Equal(t, 23, p.TurnsPerLayer)
	assert.InDelta(t, 136.0, p.StepsPerTurn, 1e-9)
	require.NotEmpty(t, p.Layers)
	assert.Equal(t, Layer{Number: 1, Turns: 24, Steps: 3264}, p.Layers[0])
	assert.Equal(t, Layer{Number: 2, Turns: 23, Steps: 3128}, p.Layers[1])

	s := p.Summary()
	assert.Equal(t, 300, s.RequestedTurns)
	assert.Equal(t, 306, s.ActualTurns)
	assert.Equal(t, 6, s.Overrun)
	assert.Equal(t, 13, s.LayerCount)
}

func TestPlanAlternatesAndCovers(t *testing.T) {
	cases := []struct {
		turns    int
		width, d float64
	}{
		{1, 10, 0.5},
		{47, 20, 0.85},
		{1000, 12.5, 0.23},
		{33, 3, 1.06},
		{250, 10, 0.5}, // integral width/diameter
	}
	for _, tc := range cases {
		p, err := New(tc.turns, tc.width, tc.d, DefaultGeometry())
		require.NoError(t, err)

		sum := 0
		for i, l := range p.Layers {
			assert.Equal(t, i+1, l.Number)
			if l.Odd() {
				assert.Equal(t, p.TurnsPerLayer+1, l.Turns)
			} else {
				assert.Equal(t, p.TurnsPerLayer, l.Turns)
			}
			assert.Greater(t, l.Turns, 0)
			assert.GreaterOrEqual(t, l.Steps, 0)
			sum += l.Turns
		}
		assert.GreaterOrEqual(t, sum, tc.turns)
		// Stops as soon as the total is reached
		assert.Less(t, sum-p.Layers[len(p.Layers)-1].Turns, tc.turns)
	}
}

func TestPlanRejectsBadGeometry(t *testing.T) {
	g := DefaultGeometry()
	_, err := New(100, 0, 0.5, g)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = New(100, 10, 0, g)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = New(100, 10, -1, g)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = New(0, 10, 0.5, g)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = New(100, 0.4, 0.5, g)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = New(100, 10, 0.5, Geometry{StepsPerRev: 0, LeadPitchMM: 1.25})
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = ForWire(100, 10, 40, Magnet, g)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
}

func TestPlanDirectionAndImpliedTurns(t *testing.T) {
	p, err := New(10, 5, 0.5, DefaultGeometry())
	require.NoError(t, err)
	assert.Equal(t, 1, p.Direction(1))
	assert.Equal(t, -1, p.Direction(2))
	assert.Equal(t, 1, p.Direction(3))

	// 200 * 0.5/1.25 = 80 steps per turn
	assert.InDelta(t, 2.5, p.ImpliedTurns(200), 1e-9)
}

func TestMaxSpindleRPM(t *testing.T) {
	maxRPM, safeRPM, err := MaxSpindleRPM(0.85, DefaultGeometry(), time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 441.18, maxRPM, 0.01)
	assert.InDelta(t, maxRPM*0.9, safeRPM, 1e-9)

	// Thicker wire needs more guide travel per turn, so the spindle limit drops
	_, thick, err := MaxSpindleRPM(1.06, DefaultGeometry(), time.Millisecond)
	require.NoError(t, err)
	assert.Less(t, thick, safeRPM)

	_, _, err = MaxSpindleRPM(0, DefaultGeometry(), time.Millisecond)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, _, err = MaxSpindleRPM(0.5, DefaultGeometry(), 0)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
}

func TestTurnsForLayers(t *testing.T) {
	// 10 mm bobbin, 0.812 mm wire: 12 turns per even layer
	n, err := TurnsForLayers(2, 10, 0.812)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	p, err := New(n, 10, 0.812, DefaultGeometry())
	require.NoError(t, err)
	assert.Len(t, p.Layers, 2)
	assert.Zero(t, p.Summary().Overrun)

	_, err = TurnsForLayers(0, 10, 0.812)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
	_, err = TurnsForLayers(2, 0.5, 0.812)
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)
}
