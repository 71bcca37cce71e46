package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"traction-sim/internal/db"
	"traction-sim/internal/models"
	"traction-sim/internal/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewServer(database)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func createSession(t *testing.T, s *Server, body interface{}) session {
	t.Helper()
	rec, env := doJSON(t, s, "POST", "/api/v1/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var sess session
	require.NoError(t, json.Unmarshal(env.Data, &sess))
	return sess
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	rec, env := doJSON(t, s, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestCreateSession(t *testing.T) {
	s := newTestServer(t)

	sess := createSession(t, s, map[string]interface{}{"preset": "brake"})
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "brake_force", sess.Model)
	assert.Equal(t, sim.StateNormal, sess.State)

	// IDs are sequential.
	sess = createSession(t, s, map[string]interface{}{"preset": "friction"})
	assert.Equal(t, "sess-2", sess.ID)
	assert.Equal(t, "friction_limited", sess.Model)
}

func TestCreateSessionRejectsBadRequests(t *testing.T) {
	s := newTestServer(t)

	rec, _ := doJSON(t, s, "POST", "/api/v1/sessions", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, "POST", "/api/v1/sessions", map[string]interface{}{"preset": "warp-drive"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Overrides flow through config validation.
	rec, _ = doJSON(t, s, "POST", "/api/v1/sessions", map[string]interface{}{"preset": "brake", "target_slip": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionTick(t *testing.T) {
	s := newTestServer(t)
	sess := createSession(t, s, map[string]interface{}{"preset": "brake"})

	rec, env := doJSON(t, s, "POST", "/api/v1/sessions/"+sess.ID+"/tick", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var results []sim.TickResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Tick)

	rec, env = doJSON(t, s, "POST", "/api/v1/sessions/"+sess.ID+"/tick", map[string]interface{}{"steps": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 3)
	assert.Equal(t, 4, results[2].Tick)

	rec, _ = doJSON(t, s, "POST", "/api/v1/sessions/"+sess.ID+"/tick", map[string]interface{}{"steps": 5000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The session now carries the last tick result.
	_, env = doJSON(t, s, "GET", "/api/v1/sessions/"+sess.ID, nil)
	var got session
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.NotNil(t, got.Last)
	assert.Equal(t, 4, got.Last.Tick)
}

func TestSessionConcurrentTickAndRead(t *testing.T) {
	s := newTestServer(t)
	sess := createSession(t, s, map[string]interface{}{"preset": "brake", "ground": 6.0})
	base := "/api/v1/sessions/" + sess.ID

	// Ticks mutate the session while other handlers encode it; under the race
	// detector this exercises the snapshot-under-lock path.
	var wg sync.WaitGroup
	hit := func(method, path string) {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			req := httptest.NewRequest(method, path, http.NoBody)
			rec := httptest.NewRecorder()
			s.Router().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code)
		}
	}
	for i := 0; i < 4; i++ {
		wg.Add(3)
		go hit("POST", base+"/tick")
		go hit("GET", base)
		go hit("GET", "/api/v1/sessions")
	}
	wg.Wait()

	_, env := doJSON(t, s, "GET", base, nil)
	var got session
	require.NoError(t, json.Unmarshal(env.Data, &got))
	require.NotNil(t, got.Last)
	// 4 writers x 50 single-step ticks, each serialized under the lock.
	assert.Equal(t, 200, got.Last.Tick)
}

func TestSessionTickMatchesDirectLoop(t *testing.T) {
	s := newTestServer(t)
	sess := createSession(t, s, map[string]interface{}{"preset": "brake", "ground": 6.0})

	_, env := doJSON(t, s, "POST", "/api/v1/sessions/"+sess.ID+"/tick", map[string]interface{}{"steps": 25})
	var results []sim.TickResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 25)

	cfg, err := sim.Preset(sim.PresetBrake)
	require.NoError(t, err)
	cfg.Scenario = 6.0
	loop, err := sim.NewLoop(cfg)
	require.NoError(t, err)

	for i, got := range results {
		assert.Equal(t, loop.Tick(), got, "tick %d diverged", i+1)
	}
}

func TestSessionFaultAndReset(t *testing.T) {
	s := newTestServer(t)
	sess := createSession(t, s, map[string]interface{}{"preset": "brake-latched", "ground": 35.0})

	doJSON(t, s, "POST", "/api/v1/sessions/"+sess.ID+"/tick", map[string]interface{}{"steps": 10})
	_, env := doJSON(t, s, "GET", "/api/v1/sessions/"+sess.ID, nil)
	var got session
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, sim.StateFaulted, got.State)

	rec, env := doJSON(t, s, "POST", "/api/v1/sessions/"+sess.ID+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = session{}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, sim.StateNormal, got.State)
	assert.Nil(t, got.Last)
}

func TestSessionSetters(t *testing.T) {
	s := newTestServer(t)
	sess := createSession(t, s, map[string]interface{}{"preset": "brake"})
	base := "/api/v1/sessions/" + sess.ID

	rec, _ := doJSON(t, s, "PUT", base+"/target", map[string]interface{}{"value": 0.25})
	assert.Equal(t, http.StatusOK, rec.Code)

	// Scenario by catalog name resolves against the session's plant model.
	rec, _ = doJSON(t, s, "PUT", base+"/scenario", map[string]interface{}{"name": "ice"})
	assert.Equal(t, http.StatusOK, rec.Code)

	_, env := doJSON(t, s, "POST", base+"/tick", nil)
	var results []sim.TickResult
	require.NoError(t, json.Unmarshal(env.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, 0.25, results[0].TargetSlip)
	assert.Equal(t, 8.0, results[0].Scenario) // brake-model "ice" trend

	rec, _ = doJSON(t, s, "PUT", base+"/scenario", map[string]interface{}{"name": "lava"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, "PUT", base+"/target", map[string]interface{}{"value": 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, s, "PUT", base+"/throttle", map[string]interface{}{"value": 2.0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionDelete(t *testing.T) {
	s := newTestServer(t)
	sess := createSession(t, s, map[string]interface{}{"preset": "brake"})

	rec, _ := doJSON(t, s, "DELETE", "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = doJSON(t, s, "GET", "/api/v1/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = doJSON(t, s, "DELETE", "/api/v1/sessions/sess-99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteAndQueryRun(t *testing.T) {
	s := newTestServer(t)

	profile := map[string]interface{}{
		"name":     "snow sweep",
		"preset":   "brake",
		"duration": 30,
		"defaults": map[string]interface{}{"ground": 6},
	}
	rec, env := doJSON(t, s, "POST", "/api/v1/runs", profile)
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)

	var created struct {
		Run     models.Run        `json:"run"`
		Summary models.RunSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	require.NotZero(t, created.Run.ID)
	assert.Equal(t, "snow sweep", created.Run.Name)
	assert.Equal(t, 30, created.Run.Ticks)
	assert.Equal(t, 30, created.Summary.TotalSamples)
	assert.Equal(t, -1, created.Summary.FaultSeq)

	base := fmt.Sprintf("/api/v1/runs/%d", created.Run.ID)

	rec, env = doJSON(t, s, "GET", base+"/samples?limit=5&offset=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var samples []models.Sample
	require.NoError(t, json.Unmarshal(env.Data, &samples))
	require.Len(t, samples, 5)
	assert.Equal(t, 6, samples[0].Seq)
	assert.Equal(t, 6.0, samples[0].Scenario)

	rec, env = doJSON(t, s, "GET", base+"/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary models.RunSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 30, summary.TotalSamples)

	rec, env = doJSON(t, s, "GET", "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []models.Run
	require.NoError(t, json.Unmarshal(env.Data, &runs))
	assert.Len(t, runs, 1)

	rec, _ = doJSON(t, s, "GET", "/api/v1/runs/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteRunRejectsInvalidProfile(t *testing.T) {
	s := newTestServer(t)

	rec, env := doJSON(t, s, "POST", "/api/v1/runs", map[string]interface{}{
		"preset":   "brake",
		"duration": -5,
		"defaults": map[string]interface{}{"ground": 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "duration")

	rec, _ = doJSON(t, s, "POST", "/api/v1/runs", map[string]interface{}{
		"duration": 10,
		"defaults": map[string]interface{}{"ground": 0},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code) // no preset or config
}

func TestFaultsEndpoint(t *testing.T) {
	s := newTestServer(t)

	// A latched preset on black ice faults early and records FAULT samples.
	_, env := doJSON(t, s, "POST", "/api/v1/runs", map[string]interface{}{
		"name":     "ice crash",
		"preset":   "brake-latched",
		"duration": 40,
		"defaults": map[string]interface{}{"ground": 35},
	})
	var created struct {
		Run models.Run `json:"run"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, env := doJSON(t, s, "GET", fmt.Sprintf("/api/v1/faults?run_id=%d", created.Run.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var faults []models.Sample
	require.NoError(t, json.Unmarshal(env.Data, &faults))
	require.NotEmpty(t, faults)
	for _, f := range faults {
		assert.Equal(t, "FAULT", f.Status)
		assert.Equal(t, 0.0, f.Command)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	s := newTestServer(t)

	rec, env := doJSON(t, s, "GET", "/api/v1/presets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var presets []sim.LoopConfig
	require.NoError(t, json.Unmarshal(env.Data, &presets))
	assert.Len(t, presets, 3)

	rec, env = doJSON(t, s, "GET", "/api/v1/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var scenarios []models.GroundScenario
	require.NoError(t, json.Unmarshal(env.Data, &scenarios))
	assert.Len(t, scenarios, 10)

	rec, env = doJSON(t, s, "GET", "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.EqualValues(t, 0, stats["total_runs"])
}
