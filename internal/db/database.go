package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"traction-sim/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		model TEXT NOT NULL,
		dt REAL NOT NULL,
		ticks INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		t REAL NOT NULL,
		slip REAL NOT NULL,
		command REAL NOT NULL,
		target_slip REAL NOT NULL,
		scenario REAL NOT NULL,
		vehicle_speed REAL NOT NULL,
		wheel_speed REAL NOT NULL,
		status TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_samples_run_id ON samples(run_id);
	CREATE INDEX IF NOT EXISTS idx_samples_run_seq ON samples(run_id, seq);
	CREATE INDEX IF NOT EXISTS idx_samples_status ON samples(status);
	CREATE INDEX IF NOT EXISTS idx_samples_slip ON samples(slip);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// InsertRun adds a new run and fills in its ID
func (db *Database) InsertRun(r *models.Run) error {
	query := `INSERT INTO runs (name, model, dt, ticks, config_json) VALUES (?, ?, ?, ?, ?)`
	result, err := db.conn.Exec(query, r.Name, r.Model, r.DT, r.Ticks, r.ConfigJSON)
	if err != nil {
		return err
	}
	r.ID, _ = result.LastInsertId()
	return nil
}

// GetRun retrieves a run by ID
func (db *Database) GetRun(id int64) (*models.Run, error) {
	query := `SELECT id, name, model, dt, ticks, config_json, created_at FROM runs WHERE id = ?`

	var r models.Run
	err := db.conn.QueryRow(query, id).Scan(&r.ID, &r.Name, &r.Model, &r.DT, &r.Ticks, &r.ConfigJSON, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRuns returns all runs, newest first
func (db *Database) ListRuns() ([]models.Run, error) {
	query := `SELECT id, name, model, dt, ticks, config_json, created_at FROM runs ORDER BY created_at DESC, id DESC`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		if err := rows.Scan(&r.ID, &r.Name, &r.Model, &r.DT, &r.Ticks, &r.ConfigJSON, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// UpdateRunTicks records the final tick count of a run
func (db *Database) UpdateRunTicks(runID int64, ticks int) error {
	_, err := db.conn.Exec(`UPDATE runs SET ticks = ? WHERE id = ?`, ticks, runID)
	return err
}

// InsertSampleBatch efficiently inserts a run's samples in one transaction
func (db *Database) InsertSampleBatch(runID int64, samples []models.Sample) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO samples
		(run_id, seq, t, slip, command, target_slip, scenario, vehicle_speed, wheel_speed, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var count int64
	for _, s := range samples {
		_, err := stmt.Exec(
			runID, s.Seq, s.T, s.Slip, s.Command, s.TargetSlip, s.Scenario,
			s.VehicleSpeed, s.WheelSpeed, s.Status,
		)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// QuerySamples retrieves samples based on query parameters
func (db *Database) QuerySamples(q models.SampleQuery) ([]models.Sample, error) {
	var conditions []string
	var args []interface{}

	baseQuery := `
		SELECT id, run_id, seq, t, slip, command, target_slip, scenario,
		       vehicle_speed, wheel_speed, status
		FROM samples
	`

	if q.RunID > 0 {
		conditions = append(conditions, "run_id = ?")
		args = append(args, q.RunID)
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, q.Status)
	}
	if q.MinSlip > 0 {
		conditions = append(conditions, "slip >= ?")
		args = append(args, q.MinSlip)
	}
	if q.MaxSlip > 0 {
		conditions = append(conditions, "slip <= ?")
		args = append(args, q.MaxSlip)
	}

	if len(conditions) > 0 {
		baseQuery += " WHERE " + strings.Join(conditions, " AND ")
	}

	baseQuery += " ORDER BY run_id, seq"

	if q.Limit > 0 {
		baseQuery += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			baseQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(baseQuery, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Sample
	for rows.Next() {
		var s models.Sample
		err := rows.Scan(
			&s.ID, &s.RunID, &s.Seq, &s.T, &s.Slip, &s.Command,
			&s.TargetSlip, &s.Scenario, &s.VehicleSpeed, &s.WheelSpeed, &s.Status,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// GetRunSamples returns a run's full trace in sequence order
func (db *Database) GetRunSamples(runID int64) ([]models.Sample, error) {
	return db.QuerySamples(models.SampleQuery{RunID: runID})
}

// GetLatestSample returns the most recent sample of a run
func (db *Database) GetLatestSample(runID int64) (*models.Sample, error) {
	query := `
		SELECT id, run_id, seq, t, slip, command, target_slip, scenario,
		       vehicle_speed, wheel_speed, status
		FROM samples
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`

	var s models.Sample
	err := db.conn.QueryRow(query, runID).Scan(
		&s.ID, &s.RunID, &s.Seq, &s.T, &s.Slip, &s.Command,
		&s.TargetSlip, &s.Scenario, &s.VehicleSpeed, &s.WheelSpeed, &s.Status,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetFaultEvents returns all FAULT samples, optionally limited to one run
func (db *Database) GetFaultEvents(runID int64, limit int) ([]models.Sample, error) {
	query := `
		SELECT id, run_id, seq, t, slip, command, target_slip, scenario,
		       vehicle_speed, wheel_speed, status
		FROM samples
		WHERE status = 'FAULT'
	`

	var args []interface{}
	if runID > 0 {
		query += " AND run_id = ?"
		args = append(args, runID)
	}

	query += " ORDER BY run_id, seq"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Sample
	for rows.Next() {
		var s models.Sample
		err := rows.Scan(
			&s.ID, &s.RunID, &s.Seq, &s.T, &s.Slip, &s.Command,
			&s.TargetSlip, &s.Scenario, &s.VehicleSpeed, &s.WheelSpeed, &s.Status,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// GetRunSummary aggregates a run's trace into a RunSummary
func (db *Database) GetRunSummary(runID int64) (*models.RunSummary, error) {
	samples, err := db.GetRunSamples(runID)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, sql.ErrNoRows
	}
	summary := models.Summarize(runID, samples)
	return &summary, nil
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"total_runs", "SELECT COUNT(*) FROM runs"},
		{"total_samples", "SELECT COUNT(*) FROM samples"},
		{"fault_samples", "SELECT COUNT(*) FROM samples WHERE status = 'FAULT'"},
		{"faulted_runs", "SELECT COUNT(DISTINCT run_id) FROM samples WHERE status = 'FAULT'"},
	}
	for _, c := range counts {
		var n int64
		if err := db.conn.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	return stats, nil
}
