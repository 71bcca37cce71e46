package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"traction-sim/internal/db"
	"traction-sim/internal/models"
	"traction-sim/internal/parser"
	"traction-sim/internal/runner"
	"traction-sim/internal/sim"

	"github.com/gorilla/mux"
)

// maxTickSteps bounds one tick request so a bad client cannot spin the
// server; the original frontend batches 3 physics steps per frame.
const maxTickSteps = 1000

// session is one live simulation loop owned by the server.
type session struct {
	ID        string          `json:"id"`
	Preset    string          `json:"preset,omitempty"`
	Model     string          `json:"model"`
	State     sim.LoopState   `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	Last      *sim.TickResult `json:"last,omitempty"`

	loop *sim.TractionControlLoop
}

// snapshot returns a detached copy safe to encode after s.mu is released.
// Last points at a TickResult that is never written again, so sharing it is
// fine.
func (sess *session) snapshot() session {
	cp := *sess
	cp.loop = nil
	return cp
}

// Server represents the API server
type Server struct {
	db     *db.Database
	router *mux.Router

	mu       sync.Mutex
	sessions map[string]*session
	nextID   int
}

// NewServer creates a new API server
func NewServer(database *db.Database) *Server {
	s := &Server{
		db:       database,
		router:   mux.NewRouter(),
		sessions: make(map[string]*session),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Live session endpoints
	s.router.HandleFunc("/api/v1/sessions", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/api/v1/sessions", s.handleListSessions).Methods("GET")
	s.router.HandleFunc("/api/v1/sessions/{id}", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/api/v1/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	s.router.HandleFunc("/api/v1/sessions/{id}/tick", s.handleTick).Methods("POST")
	s.router.HandleFunc("/api/v1/sessions/{id}/reset", s.handleResetSession).Methods("POST")
	s.router.HandleFunc("/api/v1/sessions/{id}/target", s.handleSetTarget).Methods("PUT")
	s.router.HandleFunc("/api/v1/sessions/{id}/scenario", s.handleSetScenario).Methods("PUT")
	s.router.HandleFunc("/api/v1/sessions/{id}/throttle", s.handleSetThrottle).Methods("PUT")

	// Recorded run endpoints
	s.router.HandleFunc("/api/v1/runs", s.handleExecuteRun).Methods("POST")
	s.router.HandleFunc("/api/v1/runs", s.handleListRuns).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/samples", s.handleRunSamples).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/summary", s.handleRunSummary).Methods("GET")
	s.router.HandleFunc("/api/v1/faults", s.handleFaults).Methods("GET")

	// Catalog and stats endpoints
	s.router.HandleFunc("/api/v1/presets", s.handlePresets).Methods("GET")
	s.router.HandleFunc("/api/v1/scenarios", s.handleScenarios).Methods("GET")
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type createSessionRequest struct {
	Preset   string          `json:"preset,omitempty"`
	Config   *sim.LoopConfig `json:"config,omitempty"`
	Ground   *float64        `json:"ground,omitempty"`
	Target   *float64        `json:"target_slip,omitempty"`
	Throttle *float64        `json:"throttle,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	var (
		cfg sim.LoopConfig
		err error
	)
	switch {
	case req.Config != nil:
		cfg = *req.Config
	case req.Preset != "":
		cfg, err = sim.Preset(req.Preset)
	default:
		respondError(w, http.StatusBadRequest, "preset or config is required")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Ground != nil {
		cfg.Scenario = *req.Ground
	}
	if req.Target != nil {
		cfg.TargetSlip = *req.Target
	}
	if req.Throttle != nil {
		cfg.DriverThrottle = *req.Throttle
	}

	loop, err := sim.NewLoop(cfg)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.nextID++
	sess := &session{
		ID:        fmt.Sprintf("sess-%d", s.nextID),
		Preset:    req.Preset,
		Model:     cfg.Plant.Model,
		State:     loop.State(),
		CreatedAt: time.Now(),
		loop:      loop,
	}
	s.sessions[sess.ID] = sess
	snap := sess.snapshot()
	s.mu.Unlock()

	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	list := make([]session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.State = sess.loop.State()
		list = append(list, sess.snapshot())
	}
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, list)
}

// getSession looks a session up by path ID. The caller must hold s.mu.
func (s *Server) getSession(r *http.Request) (*session, bool) {
	sess, ok := s.sessions[mux.Vars(r)["id"]]
	return sess, ok
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.getSession(r)
	var snap session
	if ok {
		sess.State = sess.loop.State()
		snap = sess.snapshot()
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.getSession(r)
	var id string
	if ok {
		id = sess.ID
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

type tickRequest struct {
	Steps int `json:"steps,omitempty"`
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	steps := req.Steps
	if steps <= 0 {
		steps = 1
	}
	if steps > maxTickSteps {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("steps must be <= %d", maxTickSteps))
		return
	}

	s.mu.Lock()
	sess, ok := s.getSession(r)
	if !ok {
		s.mu.Unlock()
		respondError(w, http.StatusNotFound, "session not found")
		return
	}

	results := make([]sim.TickResult, steps)
	for i := 0; i < steps; i++ {
		results[i] = sess.loop.Tick()
	}
	last := results[len(results)-1]
	sess.Last = &last
	sess.State = sess.loop.State()
	s.mu.Unlock()

	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	sess, ok := s.getSession(r)
	var snap session
	if ok {
		sess.loop.Reset()
		sess.Last = nil
		sess.State = sess.loop.State()
		snap = sess.snapshot()
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type setValueRequest struct {
	Value *float64 `json:"value,omitempty"`
	Name  string   `json:"name,omitempty"` // ground scenario preset name
}

// setSessionValue runs apply against the request's session under the lock.
func (s *Server) setSessionValue(w http.ResponseWriter, r *http.Request, apply func(*session, setValueRequest) error) {
	var req setValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	s.mu.Lock()
	sess, ok := s.getSession(r)
	var (
		err  error
		snap session
	)
	if ok {
		err = apply(sess, req)
		snap = sess.snapshot()
	}
	s.mu.Unlock()

	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetTarget(w http.ResponseWriter, r *http.Request) {
	s.setSessionValue(w, r, func(sess *session, req setValueRequest) error {
		if req.Value == nil || *req.Value <= 0 || *req.Value >= 1 {
			return fmt.Errorf("value must be in (0, 1)")
		}
		sess.loop.SetTargetSlip(*req.Value)
		return nil
	})
}

func (s *Server) handleSetScenario(w http.ResponseWriter, r *http.Request) {
	s.setSessionValue(w, r, func(sess *session, req setValueRequest) error {
		if req.Name != "" {
			sc, ok := models.FindScenario(req.Name, sess.Model)
			if !ok {
				return fmt.Errorf("unknown scenario %q", req.Name)
			}
			sess.loop.SetScenario(sc.Coefficient)
			return nil
		}
		if req.Value == nil || *req.Value < 0 {
			return fmt.Errorf("value must be >= 0")
		}
		sess.loop.SetScenario(*req.Value)
		return nil
	})
}

func (s *Server) handleSetThrottle(w http.ResponseWriter, r *http.Request) {
	s.setSessionValue(w, r, func(sess *session, req setValueRequest) error {
		if req.Value == nil || *req.Value < 0 || *req.Value > 1 {
			return fmt.Errorf("value must be in [0, 1]")
		}
		sess.loop.SetDriverThrottle(*req.Value)
		return nil
	})
}

// handleExecuteRun runs a scenario profile to completion and persists the
// resulting samples as a new run.
func (s *Server) handleExecuteRun(w http.ResponseWriter, r *http.Request) {
	var prof parser.Profile
	if err := json.NewDecoder(r.Body).Decode(&prof); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if errs := parser.ValidateProfile(&prof); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, errs[0])
		return
	}

	loop, cfg, err := runner.BuildLoop(&prof, "")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ticks := runner.Ticks(&prof, cfg.DT)
	samples := runner.Execute(loop, &prof, ticks)

	name := prof.Name
	if name == "" {
		name = cfg.Name
	}
	cfgJSON, _ := json.Marshal(cfg)
	run := models.Run{Name: name, Model: cfg.Plant.Model, DT: cfg.DT, Ticks: len(samples), ConfigJSON: string(cfgJSON)}
	if err := s.db.InsertRun(&run); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if _, err := s.db.InsertSampleBatch(run.ID, samples); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := models.Summarize(run.ID, samples)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"run":     run,
		"summary": summary,
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

func runID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	run, err := s.db.GetRun(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunSamples(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	q := models.SampleQuery{
		RunID:  id,
		Status: r.URL.Query().Get("status"),
		Limit:  1000, // default
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("min_slip"); v != "" {
		q.MinSlip, _ = strconv.ParseFloat(v, 64)
	}
	if v := r.URL.Query().Get("max_slip"); v != "" {
		q.MaxSlip, _ = strconv.ParseFloat(v, 64)
	}

	samples, err := s.db.QuerySamples(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, samples)
}

func (s *Server) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	id, err := runID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	summary, err := s.db.GetRunSummary(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "no samples found for run")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	var id int64
	if v := r.URL.Query().Get("run_id"); v != "" {
		id, _ = strconv.ParseInt(v, 10, 64)
	}

	faults, err := s.db.GetFaultEvents(id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, faults)
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	configs := make([]sim.LoopConfig, 0, len(sim.PresetNames()))
	for _, name := range sim.PresetNames() {
		cfg, err := sim.Preset(name)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		configs = append(configs, cfg)
	}
	respondJSON(w, http.StatusOK, configs)
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, models.AllScenarios())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}
