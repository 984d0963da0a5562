package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chessbench/internal/position"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.TargetCount)
	assert.Equal(t, 12, cfg.EvaluatorDepth)
	assert.Equal(t, position.CutoffRange{Min: 10, Max: 40}, cfg.CutoffRange)
	assert.Equal(t, 5, cfg.FlushInterval)
	assert.Equal(t, 5, cfg.MaxEmptyBatches)
	assert.Equal(t, 30*time.Second, cfg.EvaluatorTimeout)
	assert.Equal(t, time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RunConfig)
		field  string
	}{
		{"zero target", func(c *RunConfig) { c.TargetCount = 0 }, "targetCount"},
		{"negative depth", func(c *RunConfig) { c.EvaluatorDepth = -1 }, "evaluatorDepth"},
		{"cutoff min equals max", func(c *RunConfig) { c.CutoffRange = position.CutoffRange{Min: 20, Max: 20} }, "cutoffRange.max"},
		{"cutoff min above max", func(c *RunConfig) { c.CutoffRange = position.CutoffRange{Min: 30, Max: 10} }, "cutoffRange.max"},
		{"zero flush interval", func(c *RunConfig) { c.FlushInterval = 0 }, "flushInterval"},
		{"zero empty batches", func(c *RunConfig) { c.MaxEmptyBatches = 0 }, "maxEmptyBatches"},
		{"fraction above one", func(c *RunConfig) { c.MaxCutoffFraction = 1.5 }, "maxCutoffFraction"},
		{"backoff cap below base", func(c *RunConfig) { c.BackoffMax = time.Millisecond }, "backoffMax"},
		{"empty database", func(c *RunConfig) { c.Database = "" }, "database"},
		{"empty pgn path", func(c *RunConfig) { c.Sources.PGNFiles = []string{""} }, "sources.pgnFiles"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, IsConfigError(err))

			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Contains(t, ce.Field, tt.field)
			assert.NotEmpty(t, ce.Message)
		})
	}
}

func TestValidate_ReportsEveryViolation(t *testing.T) {
	cfg := Default()
	cfg.TargetCount = 0
	cfg.FlushInterval = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targetCount")
	assert.Contains(t, err.Error(), "flushInterval")
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := `
database: bench.db
target_count: 25
evaluator_timeout: 10s
cutoff_range:
  min: 12
  max: 30
backoff_base: 500ms
sources:
  lichess_user: alice
  pgn_files:
    - games/a.pgn
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "bench.db", cfg.Database)
	assert.Equal(t, 25, cfg.TargetCount)
	assert.Equal(t, 10*time.Second, cfg.EvaluatorTimeout)
	assert.Equal(t, position.CutoffRange{Min: 12, Max: 30}, cfg.CutoffRange)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, "alice", cfg.Sources.LichessUser)
	assert.Equal(t, []string{"games/a.pgn"}, cfg.Sources.PGNFiles)

	// untouched keys keep their defaults
	assert.Equal(t, 12, cfg.EvaluatorDepth)
	assert.Equal(t, 5, cfg.FlushInterval)
}

func TestLoad_UnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target: 10\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDecode_EmptyKeepsDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, Decode([]byte("  \n"), &cfg))
	assert.Equal(t, Default(), cfg)
}

func TestComponentConfigs(t *testing.T) {
	cfg := Default()
	cfg.BatchSize = 7
	cfg.EvaluatorDepth = 18
	cfg.RequireExactDepth = true
	cfg.MinMoves = 15

	assert.Equal(t, 7, cfg.QueueConfig().BatchSize)
	assert.Equal(t, cfg.BackoffMax, cfg.QueueConfig().BackoffMax)
	assert.Equal(t, 18, cfg.PredictConfig().Depth)
	assert.True(t, cfg.PredictConfig().RequireExactDepth)
	assert.Equal(t, 15, cfg.PositionOptions().MinMoves)
}

func TestSources_Empty(t *testing.T) {
	assert.True(t, Sources{}.Empty())
	assert.False(t, Sources{ChessComUser: "bob"}.Empty())
}
