package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"traction-sim/internal/api"
	"traction-sim/internal/db"
	"traction-sim/internal/models"
	"traction-sim/internal/parser"
	"traction-sim/internal/runner"
	"traction-sim/internal/sim"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	database *db.Database
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "traction-sim",
		Short: "Traction-sim - wheel-slip traction control simulation",
		Long: `A CLI tool for running, recording, and analyzing closed-loop wheel-slip
traction control simulations. Ships a brake-force plant and a friction-limited
torque plant behind one PID slip controller, with SQLite storage and REST API
access.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "traction_sim.db", "Path to SQLite database")

	// Add commands
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(scenariosCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initDB initializes database connection
func initDB() error {
	var err error
	database, err = db.New(dbPath)
	return err
}

// serverCmd starts the REST API server
func serverCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			server := api.NewServer(database)
			addr := fmt.Sprintf(":%d", port)

			fmt.Printf("Traction-sim API server\n")
			fmt.Printf("   Listening on http://localhost%s\n", addr)
			fmt.Printf("   Database: %s\n\n", dbPath)
			fmt.Println("Available endpoints:")
			fmt.Println("  GET    /health")
			fmt.Println("  POST   /api/v1/sessions")
			fmt.Println("  GET    /api/v1/sessions")
			fmt.Println("  GET    /api/v1/sessions/{id}")
			fmt.Println("  DELETE /api/v1/sessions/{id}")
			fmt.Println("  POST   /api/v1/sessions/{id}/tick")
			fmt.Println("  POST   /api/v1/sessions/{id}/reset")
			fmt.Println("  PUT    /api/v1/sessions/{id}/target")
			fmt.Println("  PUT    /api/v1/sessions/{id}/scenario")
			fmt.Println("  PUT    /api/v1/sessions/{id}/throttle")
			fmt.Println("  POST   /api/v1/runs")
			fmt.Println("  GET    /api/v1/runs")
			fmt.Println("  GET    /api/v1/runs/{id}/samples")
			fmt.Println("  GET    /api/v1/runs/{id}/summary")
			fmt.Println("  GET    /api/v1/faults")
			fmt.Println("  GET    /api/v1/presets")
			fmt.Println("  GET    /api/v1/scenarios")
			fmt.Println("  GET    /api/v1/stats")
			fmt.Println()

			return http.ListenAndServe(addr, server.Router())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Server port")
	return cmd
}

// runCmd executes a simulation run and stores its samples
func runCmd() *cobra.Command {
	var (
		preset      string
		profilePath string
		format      string
		name        string
		duration    float64
		ground      float64
		groundName  string
		target      float64
		throttle    float64
		output      string
		noStore     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation and record its samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			var prof parser.Profile
			if profilePath != "" {
				p := parser.NewParser(format)
				var err error
				prof, err = p.ParseFile(profilePath)
				if err != nil {
					return fmt.Errorf("profile error: %w", err)
				}
			}

			if prof.Duration == 0 {
				prof.Duration = duration
			}
			if groundName != "" {
				cfg, err := resolveConfig(&prof, preset)
				if err != nil {
					return err
				}
				sc, ok := models.FindScenario(groundName, cfg.Plant.Model)
				if !ok {
					return fmt.Errorf("unknown ground scenario %q", groundName)
				}
				prof.Defaults.Ground = sc.Coefficient
			} else if cmd.Flags().Changed("ground") {
				prof.Defaults.Ground = ground
			}
			if target > 0 && prof.Defaults.TargetSlip == 0 {
				prof.Defaults.TargetSlip = target
			}
			if throttle > 0 && prof.Defaults.Throttle == 0 {
				prof.Defaults.Throttle = throttle
			}

			if errs := parser.ValidateProfile(&prof); len(errs) > 0 {
				return fmt.Errorf("invalid profile: %s", strings.Join(errs, "; "))
			}

			loop, cfg, err := runner.BuildLoop(&prof, preset)
			if err != nil {
				return err
			}

			ticks := runner.Ticks(&prof, cfg.DT)
			fmt.Printf("Running %s (%s, DT=%g) for %d ticks...\n", cfg.Name, cfg.Plant.Model, cfg.DT, ticks)
			start := time.Now()
			samples := runner.Execute(loop, &prof, ticks)
			elapsed := time.Since(start)

			runName := name
			if runName == "" {
				runName = prof.Name
			}
			if runName == "" {
				runName = cfg.Name
			}

			var summary models.RunSummary
			if noStore {
				summary = models.Summarize(0, samples)
			} else {
				if err := initDB(); err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				defer database.Close()

				cfgJSON, _ := json.Marshal(cfg)
				run := models.Run{Name: runName, Model: cfg.Plant.Model, DT: cfg.DT, Ticks: len(samples), ConfigJSON: string(cfgJSON)}
				if err := database.InsertRun(&run); err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				count, err := database.InsertSampleBatch(run.ID, samples)
				if err != nil {
					return fmt.Errorf("database error: %w", err)
				}
				fmt.Printf("  Stored run %d (%q) with %d samples in %v\n", run.ID, runName, count, elapsed)
				summary = models.Summarize(run.ID, samples)
			}

			printSummary(&summary)

			// Export to file if requested
			if output != "" {
				file, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("error creating output file: %w", err)
				}
				defer file.Close()

				enc := json.NewEncoder(file)
				enc.SetIndent("", "  ")
				enc.Encode(samples)
				fmt.Printf("Samples exported to %s\n", output)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&preset, "preset", "P", sim.PresetBrake, "Loop preset (brake, brake-latched, friction)")
	cmd.Flags().StringVarP(&profilePath, "profile", "f", "", "Scenario profile file")
	cmd.Flags().StringVar(&format, "format", "json", "Profile file format (json, csv)")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Run name")
	cmd.Flags().Float64VarP(&duration, "duration", "d", 200, "Run duration in simulated seconds (ignored when the profile sets one)")
	cmd.Flags().Float64VarP(&ground, "ground", "g", 0, "Ground coefficient (trend or friction)")
	cmd.Flags().StringVar(&groundName, "scenario", "", "Ground scenario preset name (asphalt, rain, ice, dry, wet, ...)")
	cmd.Flags().Float64VarP(&target, "target", "t", 0, "Target slip override")
	cmd.Flags().Float64Var(&throttle, "throttle", 0, "Driver throttle override (friction preset)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Export samples to JSON file")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Skip storing the run in the database")
	return cmd
}

// resolveConfig peeks at the loop config a profile would build, without
// constructing the loop.
func resolveConfig(prof *parser.Profile, fallbackPreset string) (sim.LoopConfig, error) {
	switch {
	case prof.Config != nil:
		return *prof.Config, nil
	case prof.Preset != "":
		return sim.Preset(prof.Preset)
	default:
		return sim.Preset(fallbackPreset)
	}
}

func printSummary(s *models.RunSummary) {
	fmt.Println("Run summary")
	fmt.Println("===========")
	fmt.Printf("  Samples:          %d\n", s.TotalSamples)
	fmt.Printf("  Mean slip:        %.4f\n", s.MeanSlip)
	fmt.Printf("  Max slip:         %.4f\n", s.MaxSlip)
	fmt.Printf("  Slip stddev:      %.4f\n", s.StdDevSlip)
	fmt.Printf("  Above target:     %.1f%%\n", s.AboveTargetFrac*100)
	fmt.Printf("  Max command:      %.2f\n", s.MaxCommand)
	fmt.Printf("  Final speed:      %.2f\n", s.FinalSpeed)
	if s.FaultSeq >= 0 {
		fmt.Printf("  FAULT latched at tick %d\n", s.FaultSeq)
	}
}

// queryCmd queries stored samples
func queryCmd() *cobra.Command {
	var (
		run          int64
		status       string
		minSlip      float64
		maxSlip      float64
		limit        int
		outputFormat string
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query recorded samples",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			q := models.SampleQuery{
				RunID:   run,
				Status:  status,
				MinSlip: minSlip,
				MaxSlip: maxSlip,
				Limit:   limit,
			}

			start := time.Now()
			results, err := database.QuerySamples(q)
			if err != nil {
				return fmt.Errorf("query error: %w", err)
			}
			elapsed := time.Since(start)

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				enc.Encode(results)
			default:
				fmt.Printf("Found %d samples (query time: %v)\n\n", len(results), elapsed)
				for _, r := range results {
					fmt.Printf("[run %d #%04d t=%7.2f] slip: %6.3f | cmd: %8.2f | v: %6.2f | w: %6.2f | %s\n",
						r.RunID, r.Seq, r.T, r.Slip, r.Command, r.VehicleSpeed, r.WheelSpeed, r.Status)
				}
			}

			return nil
		},
	}

	cmd.Flags().Int64VarP(&run, "run", "r", 0, "Filter by run ID")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Filter by status (STABLE, TRANSIENT, SLIPPING, FAULT)")
	cmd.Flags().Float64Var(&minSlip, "min-slip", 0, "Minimum slip")
	cmd.Flags().Float64Var(&maxSlip, "max-slip", 0, "Maximum slip")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum samples to return")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
	return cmd
}

// statsCmd shows database statistics
func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			stats, err := database.GetStats()
			if err != nil {
				return fmt.Errorf("error getting stats: %w", err)
			}

			fmt.Println("Traction-sim statistics")
			fmt.Println("=======================")
			fmt.Printf("  Recorded runs:   %v\n", stats["total_runs"])
			fmt.Printf("  Samples:         %v\n", stats["total_samples"])
			fmt.Printf("  Fault samples:   %v\n", stats["fault_samples"])
			fmt.Printf("  Faulted runs:    %v\n", stats["faulted_runs"])
			fmt.Printf("  Database:        %s\n", dbPath)

			return nil
		},
	}
}

// runsCmd manages recorded runs
func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Recorded run commands",
	}

	// List subcommand
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			runs, err := database.ListRuns()
			if err != nil {
				return fmt.Errorf("error listing runs: %w", err)
			}

			if len(runs) == 0 {
				fmt.Println("No runs found. Use 'traction-sim run' to record one.")
				return nil
			}

			fmt.Printf("%-6s %-24s %-18s %-8s %-8s %s\n", "ID", "Name", "Model", "DT", "Ticks", "Created")
			for _, r := range runs {
				fmt.Printf("%-6d %-24s %-18s %-8g %-8d %s\n",
					r.ID, r.Name, r.Model, r.DT, r.Ticks, r.CreatedAt.Format("2006-01-02 15:04:05"))
			}

			return nil
		},
	}

	// Summary subcommand
	summaryCmd := &cobra.Command{
		Use:   "summary [run_id]",
		Short: "Show a run's slip statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := initDB(); err != nil {
				return fmt.Errorf("database error: %w", err)
			}
			defer database.Close()

			var id int64
			if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			summary, err := database.GetRunSummary(id)
			if err != nil {
				return fmt.Errorf("error getting summary: %w", err)
			}

			printSummary(summary)
			return nil
		},
	}

	cmd.AddCommand(listCmd, summaryCmd)
	return cmd
}

// scenariosCmd lists the shipped ground scenarios and loop presets
func scenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List ground scenarios and loop presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Loop presets:")
			for _, name := range sim.PresetNames() {
				cfg, err := sim.Preset(name)
				if err != nil {
					return err
				}
				fmt.Printf("  %-16s %-18s DT=%-6g Kp=%g Ki=%g Kd=%g\n",
					name, cfg.Plant.Model, cfg.DT, cfg.Controller.Kp, cfg.Controller.Ki, cfg.Controller.Kd)
			}

			fmt.Println("\nGround scenarios:")
			for _, s := range models.AllScenarios() {
				fmt.Printf("  %-12s %-18s %-8g %s\n", s.Name, s.Model, s.Coefficient, s.Description)
			}

			return nil
		},
	}
}
