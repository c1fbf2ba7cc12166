package jobfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coilwinder/core"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "coil.yaml", `
total_turns: 300
spool_width_mm: 20
awg_size: 20
wire_type: bare
home_first: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 300, cfg.TotalTurns)
	assert.Equal(t, 20.0, cfg.SpoolWidthMM)
	assert.Equal(t, "bare", cfg.WireType)
	assert.True(t, cfg.HomeFirst)
	assert.Equal(t, 20, cfg.SlotsPerRev, "defaults still apply")
}

func TestLoadJSONMatchesYAML(t *testing.T) {
	fromJSON, err := Load(writeFile(t, "coil.json", `{"total_turns": 120, "awg_size": 24}`))
	require.NoError(t, err)
	fromYAML, err := Load(writeFile(t, "coil.yml", "total_turns: 120\nawg_size: 24\n"))
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)
}

func TestLoadRejects(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "total_turns: [1, 2"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "neg.yaml", "total_turns: -5\n"))
	assert.ErrorIs(t, err, core.ErrInvalidGeometry)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
