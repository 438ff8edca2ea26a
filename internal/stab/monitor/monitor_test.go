package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veloframe/steady.video/internal/db"
)

const testMigrationsDir = "../../../migrations"

func seededDB(t *testing.T) (*db.DB, int64) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "monitor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.MigrateUp(testMigrationsDir))

	runID, err := database.StartRun("instance-m", "synth:shake", "")
	require.NoError(t, err)
	frames := []db.FrameRecord{
		{RunID: runID, FrameIndex: 1, State: "initializing", Regime: "static",
			StabilityScore: 1, TimestampNs: time.Now().UnixNano()},
		{RunID: runID, FrameIndex: 2, State: "active", Regime: "camera_shake",
			MotionTX: 4, MotionTY: -2, CorrectiveTX: -3, CorrectiveTY: 1.5,
			StabilityScore: 0.95, TimestampNs: time.Now().UnixNano()},
		{RunID: runID, FrameIndex: 3, State: "active", Regime: "camera_shake",
			MotionTX: -5, MotionTY: 3, CorrectiveTX: 4, CorrectiveTY: -2,
			StabilityScore: 0.93, TimestampNs: time.Now().UnixNano()},
	}
	require.NoError(t, database.InsertFrames(frames))
	require.NoError(t, database.InsertStateChange(db.StateChange{
		RunID: runID, FrameIndex: 0, FromState: "inactive", ToState: "initializing", Reason: "start"}))
	require.NoError(t, database.EndRun(runID))
	return database, runID
}

func TestServerRunsEndpoint(t *testing.T) {
	database, runID := seededDB(t)
	srv := httptest.NewServer(NewServer(database).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var runs []db.Run
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].ID)
	assert.Equal(t, int64(3), runs[0].Frames)
}

func TestServerFramesAndStates(t *testing.T) {
	database, runID := seededDB(t)
	srv := httptest.NewServer(NewServer(database).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/" + strconv.FormatInt(runID, 10) + "/frames")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var frames []db.FrameRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&frames))
	assert.Len(t, frames, 3)

	resp, err = http.Get(srv.URL + "/api/runs/" + strconv.FormatInt(runID, 10) + "/states")
	require.NoError(t, err)
	defer resp.Body.Close()
	var changes []db.StateChange
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&changes))
	require.Len(t, changes, 1)
	assert.Equal(t, "initializing", changes[0].ToState)
}

func TestServerErrors(t *testing.T) {
	database, _ := seededDB(t)
	srv := httptest.NewServer(NewServer(database).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/runs/9999")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/runs/abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/runs?limit=bogus")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerReportPage(t *testing.T) {
	database, runID := seededDB(t)
	srv := httptest.NewServer(NewServer(database).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/" + strconv.FormatInt(runID, 10) + "/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestServerIndexListsRuns(t *testing.T) {
	database, runID := seededDB(t)
	srv := httptest.NewServer(NewServer(database).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readAll(t, resp)
	assert.Contains(t, body, "synth:shake")
	assert.Contains(t, body, "/runs/"+strconv.FormatInt(runID, 10)+"/report")
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}

func TestPlotRunWritesFiles(t *testing.T) {
	database, runID := seededDB(t)
	frames, err := database.FramesForRun(runID)
	require.NoError(t, err)

	tp, err := NewTrajectoryPlotter(t.TempDir())
	require.NoError(t, err)
	files, err := tp.PlotRun(runID, frames)
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		info, err := os.Stat(f)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
}

func TestPlotRunEmpty(t *testing.T) {
	tp, err := NewTrajectoryPlotter(t.TempDir())
	require.NoError(t, err)
	_, err = tp.PlotRun(1, nil)
	assert.Error(t, err)
}

func TestPlotterRejectsEscapingDir(t *testing.T) {
	_, err := NewTrajectoryPlotter("/etc/steady-plots")
	assert.Error(t, err)
}
