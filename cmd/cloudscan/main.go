// Package main is the cloudscan command: it loads or generates a point
// cloud, runs the processing pipeline and writes the analysis report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/cloudscan/internal/config"
	"github.com/banshee-data/cloudscan/internal/fsutil"
	"github.com/banshee-data/cloudscan/internal/ingest"
	"github.com/banshee-data/cloudscan/internal/monitoring"
	"github.com/banshee-data/cloudscan/internal/pipeline"
	"github.com/banshee-data/cloudscan/internal/pointcloud"
	"github.com/banshee-data/cloudscan/internal/pointcloud/metrics"
	"github.com/banshee-data/cloudscan/internal/pointcloud/segment"
	"github.com/banshee-data/cloudscan/internal/reportdb"
	"github.com/banshee-data/cloudscan/internal/security"
	"github.com/banshee-data/cloudscan/internal/version"
)

// Config holds the command-line options.
type Config struct {
	ConfigPath string

	NPoints  int
	Seed     uint64
	ZMin     float64
	ZMax     float64
	NoZMin   bool
	NoZMax   bool
	K        int
	MaxIter  int
	Restarts int
	Init     string
	Workers  int

	Input           string
	RobotID         string
	Output          string
	DBPath          string
	PCDOut          string
	MetricsTextfile string
	OutputRoot      string

	Verbose     bool
	Trace       bool
	ShowVersion bool

	// set records the flags given explicitly; only those override the
	// config file.
	set map[string]bool

	// logs is the diagnostic sink handed to every stage. Nil is silent.
	logs *pointcloud.Logger
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("cloudscan: %v", err)
	}
	if cfg.ShowVersion {
		fmt.Println(version.String())
		return
	}

	lw := pointcloud.LogWriters{Ops: os.Stderr}
	if cfg.Verbose {
		lw.Diag = os.Stderr
	}
	if cfg.Trace {
		lw.Trace = os.Stderr
	}
	cfg.logs = pointcloud.NewLogger(lw)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, fsutil.OSFileSystem{}, os.Stdout); err != nil {
		log.Fatalf("cloudscan: %v", err)
	}
}

func parseFlags(args []string, stderr io.Writer) (Config, error) {
	var cfg Config
	fs := flag.NewFlagSet("cloudscan", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.ConfigPath, "config", "", "Run configuration file (.json, .yaml, .yml)")
	fs.IntVar(&cfg.NPoints, "n", 10000, "Number of points to generate when no -input is given")
	fs.Uint64Var(&cfg.Seed, "seed", pointcloud.DefaultSeed, "Seed for point generation and k-means initialisation")
	fs.Float64Var(&cfg.ZMin, "zmin", -2, "Lower z bound of the filter (inclusive)")
	fs.Float64Var(&cfg.ZMax, "zmax", 5, "Upper z bound of the filter (inclusive)")
	fs.BoolVar(&cfg.NoZMin, "no-zmin", false, "Disable the lower z bound")
	fs.BoolVar(&cfg.NoZMax, "no-zmax", false, "Disable the upper z bound")
	fs.IntVar(&cfg.K, "k", 5, "Number of segments")
	fs.IntVar(&cfg.MaxIter, "max-iter", segment.DefaultMaxIterations, "k-means iteration cap per run")
	fs.IntVar(&cfg.Restarts, "restarts", segment.DefaultRestarts, "Independently seeded k-means runs")
	fs.StringVar(&cfg.Init, "init", config.InitKMeansPlusPlus, "k-means initialisation: kmeans++ or random")
	fs.IntVar(&cfg.Workers, "workers", 0, "Concurrent k-means runs (0 = one per CPU)")
	fs.StringVar(&cfg.Input, "input", "", "Input cloud (.csv sensor samples or .pcd)")
	fs.StringVar(&cfg.RobotID, "robot-id", "", "Keep only CSV rows from this robot_id")
	fs.StringVar(&cfg.Output, "output", "pointcloud_analysis.json", "Report path (.json, .json.gz or .json.zst)")
	fs.StringVar(&cfg.DBPath, "db", "", "Archive the report in this sqlite database")
	fs.StringVar(&cfg.PCDOut, "pcd-out", "", "Write the filtered cloud to this PCD file")
	fs.StringVar(&cfg.MetricsTextfile, "metrics-textfile", "", "Write prometheus metrics to this textfile")
	fs.StringVar(&cfg.OutputRoot, "output-root", "", "Refuse to write any file outside this directory")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable diagnostic logging")
	fs.BoolVar(&cfg.Trace, "trace", false, "Enable per-iteration trace logging")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	cfg.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cfg.set[f.Name] = true })
	return cfg, nil
}

// resolveRunConfig loads the config file, if any, and applies the flags
// given explicitly on top of it.
func resolveRunConfig(cfg Config) (*config.RunConfig, error) {
	rc := config.EmptyRunConfig()
	if cfg.ConfigPath != "" {
		loaded, err := config.LoadRunConfig(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		rc = loaded
	}

	if cfg.set["n"] {
		rc.NPoints = &cfg.NPoints
	}
	if cfg.set["seed"] {
		rc.Seed = &cfg.Seed
	}
	if cfg.set["zmin"] {
		rc.ZMin = &cfg.ZMin
	}
	if cfg.set["zmax"] {
		rc.ZMax = &cfg.ZMax
	}
	if cfg.set["no-zmin"] {
		rc.NoZMin = &cfg.NoZMin
	}
	if cfg.set["no-zmax"] {
		rc.NoZMax = &cfg.NoZMax
	}
	if cfg.set["k"] {
		rc.K = &cfg.K
	}
	if cfg.set["max-iter"] {
		rc.MaxIterations = &cfg.MaxIter
	}
	if cfg.set["restarts"] {
		rc.Restarts = &cfg.Restarts
	}
	if cfg.set["init"] {
		rc.Init = &cfg.Init
	}
	if cfg.set["workers"] {
		rc.Workers = &cfg.Workers
	}
	if cfg.set["robot-id"] {
		rc.RobotID = &cfg.RobotID
	}
	if cfg.set["output"] {
		rc.Output = &cfg.Output
	}

	if err := rc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return rc, nil
}

func newClusterer(rc *config.RunConfig, logs *pointcloud.Logger) *segment.KMeans {
	km := &segment.KMeans{
		MaxIterations: rc.GetMaxIterations(),
		Restarts:      rc.GetRestarts(),
		Seed:          rc.GetSeed(),
		Workers:       rc.GetWorkers(),
		Init:          segment.KMeansPlusPlus{},
		Logs:          logs,
	}
	if rc.GetInit() == config.InitRandom {
		km.Init = segment.RandomPoints{}
	}
	return km
}

func loadCloud(cfg Config, rc *config.RunConfig, fsys fsutil.FileSystem) (*pointcloud.PointCloud, error) {
	if cfg.Input != "" {
		return ingest.ReadFile(fsys, cfg.Input, ingest.CSVOptions{
			SkipErrorRows: rc.GetSkipErrorRows(),
			RobotID:       rc.GetRobotID(),
			DefaultColor:  pointcloud.Color{R: 128, G: 128, B: 128},
			Logs:          cfg.logs,
		})
	}
	gen := pointcloud.DefaultTwoTier()
	gen.Seed = rc.GetSeed()
	cloud, err := pointcloud.Generate(rc.GetNPoints(), gen)
	if err != nil {
		return nil, err
	}
	cfg.logs.Diagf("generated cloud: %d points (seed %d)", cloud.Len(), gen.Seed)
	return cloud, nil
}

func run(ctx context.Context, cfg Config, fsys fsutil.FileSystem, stdout io.Writer) error {
	rc, err := resolveRunConfig(cfg)
	if err != nil {
		return err
	}
	if err := security.CheckOutputs(cfg.OutputRoot,
		rc.GetOutput(), cfg.PCDOut, cfg.DBPath, cfg.MetricsTextfile); err != nil {
		return err
	}

	cloud, err := loadCloud(cfg, rc, fsys)
	if err != nil {
		return fmt.Errorf("load cloud: %w", err)
	}

	proc := pipeline.NewProcessor(newClusterer(rc, cfg.logs))
	proc.Logs = cfg.logs
	proc.MetricsOptions = metrics.Options{DistanceSampleSize: rc.GetDistanceSampleSize()}
	if cfg.MetricsTextfile != "" {
		proc.Monitor = monitoring.New()
	}

	lo, hi := rc.GetZBounds()
	report, procErr := proc.Process(ctx, cloud, pipeline.FilterBounds{ZMin: lo, ZMax: hi}, rc.GetK())
	if cfg.MetricsTextfile != "" {
		if err := proc.Monitor.WriteTextfile(cfg.MetricsTextfile); err != nil {
			cfg.logs.Opsf("%v", err)
		}
	}
	if procErr != nil {
		return procErr
	}

	output := rc.GetOutput()
	if err := pipeline.WriteReportFile(fsys, output, report); err != nil {
		return err
	}

	if cfg.PCDOut != "" {
		if err := ingest.WriteFile(fsys, cfg.PCDOut, report.Filtered); err != nil {
			return fmt.Errorf("write filtered cloud: %w", err)
		}
	}

	fmt.Fprint(stdout, report.Summary())
	fmt.Fprintf(stdout, "Report written to %s\n", output)

	if cfg.DBPath != "" {
		db, err := reportdb.OpenAndMigrate(cfg.DBPath, cfg.logs)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := reportdb.NewReportStore(db).Insert(ctx, report)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Report archived as %s\n", id)
	}
	return nil
}
