// stab-replay runs the stabilization pipeline over synthetic scenes,
// records per-frame metrics to sqlite, and renders reports and plots
// from recorded runs.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/veloframe/steady.video/internal/config"
	"github.com/veloframe/steady.video/internal/db"
	"github.com/veloframe/steady.video/internal/stab"
	"github.com/veloframe/steady.video/internal/stab/engine"
	"github.com/veloframe/steady.video/internal/stab/monitor"
	"github.com/veloframe/steady.video/internal/stab/preset"
	"github.com/veloframe/steady.video/internal/stab/report"
	"github.com/veloframe/steady.video/internal/stab/synth"
	"github.com/veloframe/steady.video/internal/version"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	var err error
	switch command {
	case "run":
		err = handleRun(args)
	case "report":
		err = handleReport(args)
	case "plot":
		err = handlePlot(args)
	case "runs":
		err = handleRuns(args)
	case "serve":
		err = handleServe(args)
	case "migrate":
		err = handleMigrate(args)
	case "version":
		fmt.Printf("stab-replay %s\n", version.String())
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`stab-replay - Offline stabilization runner and run inspector

Usage: stab-replay <command> [options]

Commands:
  run        Run a synthetic scenario through the pipeline, recording metrics
  report     Render an HTML report for a recorded run
  plot       Render trajectory and score PNGs for a recorded run
  runs       List recorded runs
  serve      Serve recorded runs over HTTP (JSON API and reports)
  migrate    Apply or roll back database migrations
  version    Show stab-replay version
  help       Show this help message`)
}

func openDB(path, migrationsDir string) (*db.DB, error) {
	database, err := db.NewDB(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.MigrateUp(migrationsDir); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

func handleRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scenario := fs.String("scenario", "shake", "motion scenario: static, shake, pan")
	frames := fs.Int("frames", 300, "number of frames to process")
	width := fs.Int("width", 640, "frame width")
	height := fs.Int("height", 360, "frame height")
	seed := fs.Int64("seed", 1, "scene and script seed")
	dbPath := fs.String("db", "steady.db", "sqlite database path")
	migrationsDir := fs.String("migrations", "migrations", "migrations directory")
	tuningPath := fs.String("tuning", "", "tuning config JSON (optional)")
	presetsPath := fs.String("presets", "", "preset file (optional)")
	presetName := fs.String("preset", "", "named preset to start from")
	notifyURL := fs.String("notify", "", "webhook URL for state change events (optional)")
	verbose := fs.Bool("v", false, "enable diagnostic logging")
	fs.Parse(args)

	if *verbose {
		stab.SetLogWriters(stab.LogWriters{Ops: os.Stderr, Diag: os.Stderr})
	}

	script, ok := synth.ScriptFor(*scenario, *seed)
	if !ok {
		return fmt.Errorf("unknown scenario %q", *scenario)
	}

	tuning := config.EmptyTuningConfig()
	if *tuningPath != "" {
		var err error
		if tuning, err = config.LoadTuningConfig(*tuningPath); err != nil {
			return err
		}
	}

	params := stab.DefaultParams()
	if *presetName != "" {
		store, err := preset.Open(*presetsPath)
		if err != nil {
			return err
		}
		p, ok := store.Get(*presetName)
		if !ok {
			return fmt.Errorf("unknown preset %q (available: %v)", *presetName, store.Names())
		}
		params = p
	}

	database, err := openDB(*dbPath, *migrationsDir)
	if err != nil {
		return err
	}
	defer database.Close()

	eng, err := engine.New(engine.Config{Params: params, Tuning: tuning})
	if err != nil {
		return err
	}

	recorder, err := db.NewRecorder(database, eng.ID(),
		fmt.Sprintf("synth:%s", *scenario), "", tuning.GetMetricsFlushInterval())
	if err != nil {
		return err
	}
	defer recorder.Close()
	if *notifyURL != "" {
		eng.SetRecorder(monitor.NewNotifier(recorder, nil, *notifyURL, eng.ID()))
	} else {
		eng.SetRecorder(recorder)
	}

	if err := eng.Start(); err != nil {
		return err
	}

	scene := synth.NewScene(*width, *height, *seed)
	for i := 0; i < *frames; i++ {
		ox, oy := script(i)
		if _, err := eng.Process(scene.HostFrameAt(ox, oy)); err != nil {
			fmt.Fprintf(os.Stderr, "frame %d: %v\n", i, err)
			if eng.State() == engine.StateFailed {
				break
			}
		}
	}

	m := eng.Metrics()
	fmt.Printf("run %d complete: %d frames, %d failed, %d degraded, final state %s, regime %s, score %.3f\n",
		recorder.RunID(), m.FramesProcessed, m.FramesFailed, m.FramesDegraded,
		m.State, m.Regime, m.StabilityScore)
	return nil
}

func handleReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	dbPath := fs.String("db", "steady.db", "sqlite database path")
	migrationsDir := fs.String("migrations", "migrations", "migrations directory")
	runID := fs.Int64("run", 0, "run ID (0 = most recent)")
	out := fs.String("out", "run_report.html", "output HTML path")
	fs.Parse(args)

	database, err := openDB(*dbPath, *migrationsDir)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := resolveRun(database, *runID)
	if err != nil {
		return err
	}
	frames, err := database.FramesForRun(run.ID)
	if err != nil {
		return err
	}
	if err := report.RenderFile(*out, run, frames); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d frames)\n", *out, len(frames))
	return nil
}

func handlePlot(args []string) error {
	fs := flag.NewFlagSet("plot", flag.ExitOnError)
	dbPath := fs.String("db", "steady.db", "sqlite database path")
	migrationsDir := fs.String("migrations", "migrations", "migrations directory")
	runID := fs.Int64("run", 0, "run ID (0 = most recent)")
	outDir := fs.String("out", "plots", "output directory")
	fs.Parse(args)

	database, err := openDB(*dbPath, *migrationsDir)
	if err != nil {
		return err
	}
	defer database.Close()

	run, err := resolveRun(database, *runID)
	if err != nil {
		return err
	}
	frames, err := database.FramesForRun(run.ID)
	if err != nil {
		return err
	}

	tp, err := monitor.NewTrajectoryPlotter(*outDir)
	if err != nil {
		return err
	}
	files, err := tp.PlotRun(run.ID, frames)
	if err != nil {
		return err
	}
	for _, f := range files {
		fmt.Printf("wrote %s\n", f)
	}
	return nil
}

func handleRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	dbPath := fs.String("db", "steady.db", "sqlite database path")
	migrationsDir := fs.String("migrations", "migrations", "migrations directory")
	limit := fs.Int("limit", 20, "max runs to list")
	fs.Parse(args)

	database, err := openDB(*dbPath, *migrationsDir)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.RecentRuns(*limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Printf("%4d  %s  %-16s  frames=%-6d  %s\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Source, r.Frames, r.InstanceID)
	}
	return nil
}

func handleServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", "steady.db", "sqlite database path")
	migrationsDir := fs.String("migrations", "migrations", "migrations directory")
	addr := fs.String("addr", "localhost:8921", "listen address")
	verbose := fs.Bool("v", false, "enable diagnostic logging")
	fs.Parse(args)

	if *verbose {
		stab.SetLogWriters(stab.LogWriters{Ops: os.Stderr, Diag: os.Stderr})
	}

	database, err := openDB(*dbPath, *migrationsDir)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("serving runs from %s on http://%s\n", *dbPath, *addr)
	return monitor.NewServer(database).ListenAndServe(*addr)
}

func handleMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbPath := fs.String("db", "steady.db", "sqlite database path")
	migrationsDir := fs.String("migrations", "migrations", "migrations directory")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: stab-replay migrate [flags] up|down|status")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	switch fs.Arg(0) {
	case "up":
		return database.MigrateUp(*migrationsDir)
	case "down":
		return database.MigrateDown(*migrationsDir)
	case "status":
		version, dirty, err := database.MigrateVersion(*migrationsDir)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%v\n", version, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", fs.Arg(0))
	}
}

func resolveRun(database *db.DB, runID int64) (db.Run, error) {
	runs, err := database.RecentRuns(100)
	if err != nil {
		return db.Run{}, err
	}
	if len(runs) == 0 {
		return db.Run{}, fmt.Errorf("no recorded runs")
	}
	if runID == 0 {
		return runs[0], nil
	}
	for _, r := range runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return db.Run{}, fmt.Errorf("run %d not found", runID)
}
