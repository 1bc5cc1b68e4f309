package writer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stuntman/internal/validation"
)

func TestCriteriaWriterRoundTripWithBackups(t *testing.T) {
	dir := t.TempDir()
	w := NewCriteriaWriter(filepath.Join(dir, "criteria.yaml"))
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.now = func() time.Time { tick = tick.Add(time.Second); return tick }

	presets, err := w.Presets()
	require.NoError(t, err)
	assert.Len(t, presets, 2)

	loose := validation.Criteria{MinTrades: 5, MinWinRate: 0.3, MinProfitFactor: 1, MaxDrawdown: 5000, MinDaysTraded: 1, MaxAvgSlippage: 50}
	require.NoError(t, w.UpdatePreset("Loose", loose))
	require.NoError(t, w.UpdatePreset("paper", loose))

	presets, err = w.Presets()
	require.NoError(t, err)
	got, err := presets.Lookup("loose")
	require.NoError(t, err)
	assert.Equal(t, 5, got.MinTrades)
	assert.Equal(t, "loose", got.Name)

	backups, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)

	require.NoError(t, w.DeletePreset("paper"))
	assert.ErrorIs(t, w.DeletePreset("paper"), ErrPresetNotFound)
	assert.ErrorIs(t, w.UpdatePreset("strict", loose), ErrBuiltinPreset)
	assert.ErrorIs(t, w.DeletePreset("default"), ErrBuiltinPreset)
}

func TestCriteriaWriterRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	require.NoError(t, os.WriteFile(path, []byte("presets: [oops"), 0o644))
	_, err := NewCriteriaWriter(path).Read()
	assert.Error(t, err)
}
