package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chessbench/internal/config"
)

// operaMoves is the Opera Game movetext without tags.
const operaMoves = `1. e4 e5 2. Nf3 d6 3. d4 Bg4 4. dxe5 Bxf3 5. Qxf3 dxe5 6. Bc4 Nf6
7. Qb3 Qe7 8. Nc3 c6 9. Bg5 b5 10. Nxb5 cxb5 11. Bxb5+ Nbd7 12. O-O-O Rd8
13. Rxd7 Rxd7 14. Rd1 Qe6 15. Bxd7+ Nxd7 16. Qb8+ Nxb8 17. Rd8# 1-0`

// writePGN writes n copies of the Opera Game, each with its own Lichess
// site URL so every copy gets a distinct game id.
func writePGN(t *testing.T, dir string, n int) string {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "[Event \"Fixture %d\"]\n[Site \"https://lichess.org/opera%d\"]\n[Result \"1-0\"]\n\n%s\n\n", i, i, operaMoves)
	}
	path := filepath.Join(dir, "games.pgn")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// writeConfig writes a run configuration that accepts the short fixture
// games and keeps backoff waits small.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "run.yaml")
	content := `min_moves: 10
cutoff_range:
  min: 5
  max: 8
flush_interval: 1
max_empty_batches: 2
backoff_base: 1ms
backoff_max: 2ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeData(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	assert.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRun_CompletesFromPGN(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bench.db")
	pgn := writePGN(t, dir, 4)
	cfg := writeConfig(t, dir)

	stdout, _, err := execute(t, "run", "--config", cfg, "--db", db, "--pgn", pgn, "--target", "3", "--format", "json")
	require.NoError(t, err)

	data := decodeData(t, stdout)
	assert.Equal(t, "completed", data["state"])
	assert.NotEmpty(t, data["run_id"])

	agg, ok := data["aggregate"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, agg["completed_count"])
	assert.EqualValues(t, 3, agg["target_count"])
	assert.Equal(t, "completed", agg["status"])

	summary, ok := data["summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, summary["completed"])
}

func TestRun_SecondRunSkipsScoredGames(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bench.db")
	pgn := writePGN(t, dir, 4)
	cfg := writeConfig(t, dir)

	_, _, err := execute(t, "run", "--config", cfg, "--db", db, "--pgn", pgn, "--target", "3", "--format", "json")
	require.NoError(t, err)

	stdout, _, err := execute(t, "run", "--config", cfg, "--db", db, "--pgn", pgn, "--target", "3", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "sources exhausted")

	data := decodeData(t, stdout)
	assert.Equal(t, "exhausted", data["state"])
	agg, ok := data["aggregate"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, agg["completed_count"], "only the one unscored game is left")
	assert.Equal(t, "exhausted", agg["status"])
}

func TestRun_TextOutput(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bench.db")
	pgn := writePGN(t, dir, 2)
	cfg := writeConfig(t, dir)

	stdout, _, err := execute(t, "run", "--config", cfg, "--db", db, "--pgn", pgn, "--target", "2")
	require.NoError(t, err)
	assert.Contains(t, stdout, "(completed)")
	assert.Contains(t, stdout, "Predictions  2 of 2, 0 skipped")
	assert.NotContains(t, stdout, "Sources exhausted")
}

func TestRun_ExhaustedTextOutput(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bench.db")
	pgn := writePGN(t, dir, 1)
	cfg := writeConfig(t, dir)

	stdout, _, err := execute(t, "run", "--config", cfg, "--db", db, "--pgn", pgn, "--target", "5")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Sources exhausted")
}

func TestRun_WritesMetricsFile(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "bench.db")
	pgn := writePGN(t, dir, 2)
	cfg := writeConfig(t, dir)
	metricsPath := filepath.Join(dir, "chessbench.prom")

	_, _, err := execute(t, "run", "--config", cfg, "--db", db, "--pgn", pgn, "--target", "2", "--metrics-file", metricsPath)
	require.NoError(t, err)

	content, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "chessbench_predictions_total")
}

func TestRun_RequiresSource(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "run", "--db", filepath.Join(dir, "bench.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "sources")
}

func TestRun_InvalidFlagValue(t *testing.T) {
	dir := t.TempDir()
	pgn := writePGN(t, dir, 1)

	_, _, err := execute(t, "run", "--db", filepath.Join(dir, "bench.db"), "--pgn", pgn, "--target", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, config.IsConfigError(err))
	assert.Contains(t, err.Error(), "targetCount")
}

func TestRun_MissingConfigFile(t *testing.T) {
	dir := t.TempDir()

	_, _, err := execute(t, "run", "--config", filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	cmd, opts := newRunCommand(&RootOptions{Format: "text"})
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", cfgPath,
		"--lichess-user", "DrNykterstein",
		"--cutoff-max", "12",
		"--seed", "42",
	}))

	cfg, err := loadConfig(opts, cmd)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MinMoves, "from file")
	assert.Equal(t, 5, cfg.CutoffRange.Min, "from file")
	assert.Equal(t, 12, cfg.CutoffRange.Max, "flag wins")
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, "DrNykterstein", cfg.Sources.LichessUser)
	assert.Equal(t, config.Default().TargetCount, cfg.TargetCount, "unset flag keeps default")
}

func TestLoadConfig_PGNFlagReplacesFileList(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sources:\n  pgn_files: [a.pgn, b.pgn]\n"), 0o644))

	cmd, opts := newRunCommand(&RootOptions{Format: "text"})
	require.NoError(t, cmd.ParseFlags([]string{"--config", cfgPath, "--pgn", "c.pgn"}))

	cfg, err := loadConfig(opts, cmd)
	require.NoError(t, err)
	assert.Equal(t, []string{"c.pgn"}, cfg.Sources.PGNFiles)
}

func TestBuildSources(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = config.Sources{
		LichessUser:  "alice",
		ChessComUser: "bob",
		PGNFiles:     []string{"x.pgn", "y.pgn"},
	}

	sources := buildSources(cfg, nil)

	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Name()
	}
	assert.Equal(t, []string{"lichess:alice", "chesscom:bob", "pgnfile:x.pgn", "pgnfile:y.pgn"}, names)
}
