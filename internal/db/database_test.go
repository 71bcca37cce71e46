package db

import (
	"database/sql"
	"path/filepath"
	"testing"

	"traction-sim/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func seedRun(t *testing.T, database *Database, name string, samples []models.Sample) *models.Run {
	t.Helper()
	run := &models.Run{Name: name, Model: "brake_force", DT: 1, Ticks: len(samples)}
	require.NoError(t, database.InsertRun(run))
	n, err := database.InsertSampleBatch(run.ID, samples)
	require.NoError(t, err)
	require.Equal(t, int64(len(samples)), n)
	return run
}

func traceSamples() []models.Sample {
	return []models.Sample{
		{Seq: 1, T: 1, Slip: 0.0, Command: 0, TargetSlip: 0.2, Scenario: 6, VehicleSpeed: 80, WheelSpeed: 80, Status: "TRANSIENT"},
		{Seq: 2, T: 2, Slip: 0.075, Command: 0, TargetSlip: 0.2, Scenario: 6, VehicleSpeed: 80, WheelSpeed: 86, Status: "TRANSIENT"},
		{Seq: 3, T: 3, Slip: 0.21, Command: 12.5, TargetSlip: 0.2, Scenario: 6, VehicleSpeed: 80, WheelSpeed: 96.8, Status: "STABLE"},
		{Seq: 4, T: 4, Slip: 0.85, Command: 0, TargetSlip: 0.2, Scenario: 35, VehicleSpeed: 80, WheelSpeed: 148, Status: "FAULT"},
		{Seq: 5, T: 5, Slip: 1.7, Command: 0, TargetSlip: 0.2, Scenario: 35, VehicleSpeed: 80, WheelSpeed: 216, Status: "FAULT"},
	}
}

func TestRunRoundTrip(t *testing.T) {
	database := testDB(t)

	run := &models.Run{Name: "ice test", Model: "brake_force", DT: 2, Ticks: 0, ConfigJSON: `{"dt":2}`}
	require.NoError(t, database.InsertRun(run))
	require.NotZero(t, run.ID)

	got, err := database.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ice test", got.Name)
	assert.Equal(t, 2.0, got.DT)
	assert.Equal(t, `{"dt":2}`, got.ConfigJSON)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, database.UpdateRunTicks(run.ID, 42))
	got, err = database.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Ticks)
}

func TestGetRunMissing(t *testing.T) {
	database := testDB(t)
	_, err := database.GetRun(999)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListRuns(t *testing.T) {
	database := testDB(t)
	seedRun(t, database, "first", nil)
	seedRun(t, database, "second", nil)

	runs, err := database.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	// Newest first.
	assert.Equal(t, "second", runs[0].Name)
	assert.Equal(t, "first", runs[1].Name)
}

func TestSampleBatchAndQuery(t *testing.T) {
	database := testDB(t)
	run := seedRun(t, database, "trace", traceSamples())
	other := seedRun(t, database, "other", traceSamples()[:2])

	all, err := database.GetRunSamples(run.ID)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 1, all[0].Seq)
	assert.Equal(t, run.ID, all[0].RunID)

	byStatus, err := database.QuerySamples(models.SampleQuery{RunID: run.ID, Status: "FAULT"})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	bySlip, err := database.QuerySamples(models.SampleQuery{RunID: run.ID, MinSlip: 0.2, MaxSlip: 1.0})
	require.NoError(t, err)
	require.Len(t, bySlip, 2)
	assert.Equal(t, 3, bySlip[0].Seq)
	assert.Equal(t, 4, bySlip[1].Seq)

	paged, err := database.QuerySamples(models.SampleQuery{RunID: run.ID, Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, 3, paged[0].Seq)

	// Unfiltered queries span runs in (run_id, seq) order.
	everything, err := database.QuerySamples(models.SampleQuery{})
	require.NoError(t, err)
	assert.Len(t, everything, 7)
	assert.Equal(t, other.ID, everything[5].RunID)
}

func TestGetLatestSample(t *testing.T) {
	database := testDB(t)
	run := seedRun(t, database, "trace", traceSamples())

	latest, err := database.GetLatestSample(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Seq)
	assert.Equal(t, 1.7, latest.Slip)

	_, err = database.GetLatestSample(run.ID + 100)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetFaultEvents(t *testing.T) {
	database := testDB(t)
	run := seedRun(t, database, "faulted", traceSamples())
	seedRun(t, database, "clean", traceSamples()[:3])

	faults, err := database.GetFaultEvents(0, 0)
	require.NoError(t, err)
	assert.Len(t, faults, 2)

	faults, err = database.GetFaultEvents(run.ID, 1)
	require.NoError(t, err)
	require.Len(t, faults, 1)
	assert.Equal(t, 4, faults[0].Seq)
}

func TestGetRunSummary(t *testing.T) {
	database := testDB(t)
	run := seedRun(t, database, "trace", traceSamples())

	summary, err := database.GetRunSummary(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalSamples)
	assert.Equal(t, 1.7, summary.MaxSlip)
	assert.Equal(t, 4, summary.FaultSeq)

	empty := seedRun(t, database, "empty", nil)
	_, err = database.GetRunSummary(empty.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetStats(t *testing.T) {
	database := testDB(t)
	seedRun(t, database, "faulted", traceSamples())
	seedRun(t, database, "clean", traceSamples()[:3])

	stats, err := database.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats["total_runs"])
	assert.Equal(t, int64(8), stats["total_samples"])
	assert.Equal(t, int64(2), stats["fault_samples"])
	assert.Equal(t, int64(1), stats["faulted_runs"])
}
