package cli

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedDatabase runs a short benchmark and returns the database path.
func seedDatabase(t *testing.T, games, target int) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.Join(dir, "bench.db")
	_, _, err := execute(t, "run", "--config", writeConfig(t, dir), "--db", db,
		"--pgn", writePGN(t, dir, games), "--target", strconv.Itoa(target))
	require.NoError(t, err)
	return db
}

func TestReport_Latest(t *testing.T) {
	db := seedDatabase(t, 3, 3)

	stdout, _, err := execute(t, "report", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "(completed)")
	assert.Contains(t, stdout, "Predictions  3 of 3, 0 skipped")
	assert.Contains(t, stdout, "archetype")
}

func TestReport_ByRunIDJSON(t *testing.T) {
	db := seedDatabase(t, 2, 2)

	stdout, _, err := execute(t, "runs", "--db", db, "--format", "json")
	require.NoError(t, err)
	var listed struct {
		Data []struct {
			RunID string `json:"run_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &listed))
	require.Len(t, listed.Data, 1)
	runID := listed.Data[0].RunID

	stdout, _, err = execute(t, "report", "--db", db, "--run", runID, "--format", "json")
	require.NoError(t, err)
	data := decodeData(t, stdout)
	assert.Equal(t, runID, data["run_id"])
	assert.EqualValues(t, 2, data["completed"])
	assert.EqualValues(t, 2, data["target"])
}

func TestReport_UnknownRun(t *testing.T) {
	db := seedDatabase(t, 1, 1)

	_, _, err := execute(t, "report", "--db", db, "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "run not found: nope")
}

func TestReport_MissingDatabase(t *testing.T) {
	_, _, err := execute(t, "report", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestReport_RequiresDB(t *testing.T) {
	_, _, err := execute(t, "report")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestRuns_Text(t *testing.T) {
	db := seedDatabase(t, 2, 2)

	stdout, _, err := execute(t, "runs", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "2/2")
}

func TestRuns_MissingDatabase(t *testing.T) {
	_, _, err := execute(t, "runs", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
