package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ngce-pmdm/contour-builder/internal/catalog"
	"github.com/ngce-pmdm/contour-builder/internal/config"
	"github.com/ngce-pmdm/contour-builder/internal/contour"
	"github.com/ngce-pmdm/contour-builder/internal/events"
	"github.com/ngce-pmdm/contour-builder/internal/logging"
	"github.com/ngce-pmdm/contour-builder/internal/metrics"
	"github.com/ngce-pmdm/contour-builder/internal/storage"
	"github.com/ngce-pmdm/contour-builder/internal/util"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "contour-builder [wmx-job-id]",
	Short: "Derive tiled contours from a project's DTM mosaic",
	Long: `Builds contour lines for one project: footprints are buffered into
units, each unit is contoured by a worker pool, and the unit outputs are
merged and projected. Without a job ID the debug project from config is used.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "contour-builder: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.MustLoad()

	closeLog, err := logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level, File: cfg.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog()
	slog.Info("contour builder starting", "version", Version, "git_sha", GitSHA)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-ch:
			slog.Warn("received signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace)
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				slog.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	jobID := cfg.Debug.JobID
	if len(args) > 0 {
		jobID = args[0]
	}

	resolver, recorder, closeCatalog, err := openCatalog(ctx, cfg, len(args) > 0)
	if err != nil {
		return err
	}
	defer closeCatalog()

	job, err := resolver.Resolve(ctx, jobID)
	if err != nil {
		return fmt.Errorf("resolve job %s: %w", jobID, err)
	}

	opts := contour.Options{Recorder: recorder, Version: Version}

	if cfg.Publish.Enabled {
		store, err := storage.NewStore(storage.Config{
			Backend:    cfg.Publish.Backend,
			LocalDir:   cfg.Publish.LocalDir,
			GCSBucket:  cfg.Publish.GCSBucket,
			S3Bucket:   cfg.Publish.S3Bucket,
			S3Endpoint: cfg.Publish.S3Endpoint,
			S3Region:   cfg.Publish.S3Region,
			Prefix:     cfg.Publish.Prefix,
		})
		if err != nil {
			slog.Warn("publishing disabled", "backend", cfg.Publish.Backend, "error", err)
		} else {
			defer store.Close()
			opts.Publisher = contour.NewPublisher(store, cfg.Publish.Backend, cfg.Publish.Prefix,
				storage.ProducerInfo{Name: "contour-builder", Version: Version})
		}
	}

	emitter, err := events.NewEmitter(events.Config{
		Enabled:   cfg.Events.Enabled,
		Endpoint:  cfg.Events.Endpoint,
		BackupDir: cfg.Events.BackupDir,
	})
	if err != nil {
		slog.Warn("run events disabled", "error", err)
	} else {
		defer emitter.Close()
		opts.Emitter = emitter
	}

	b, err := contour.NewBuilder(cfg, jobID, job, opts)
	if err != nil {
		return err
	}
	report := b.Run(ctx)

	if !report.Complete() {
		slog.Warn("contour stage incomplete",
			"dropped", len(report.Dropped),
			"setup_error", report.SetupErr,
			"reconcile_error", report.ReconcileErr,
		)
	}
	return nil
}

// openCatalog returns the CMDR catalog when a job ID was given and a DSN
// is configured. Runs without a job ID use the debug project and never
// touch the catalog.
func openCatalog(ctx context.Context, cfg config.Config, haveJobID bool) (catalog.Resolver, catalog.RunRecorder, func(), error) {
	if haveJobID && cfg.Catalog.PostgresDSN != "" {
		pg, err := catalog.NewPostgresCatalog(ctx, cfg.Catalog.PostgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open catalog: %w", err)
		}
		var rec catalog.RunRecorder = catalog.NoopRecorder{}
		if cfg.Catalog.RecordRuns {
			rec = pg
		}
		return pg, rec, func() { pg.Close() }, nil
	}

	d := cfg.Debug
	wmxID, _ := util.Atoi(d.JobID)
	job := catalog.ProjectJob{
		WMXJobID:   wmxID,
		ProjectID:  d.ProjectID,
		Alias:      d.Alias,
		AliasClean: catalog.CleanAlias(d.Alias),
		State:      d.State,
		Year:       d.Year,
		ParentDir:  d.ParentDir,
		ProjectDir: d.ProjectDir,
	}
	slog.Info("no catalog configured, using debug project", "project", job.ProjectID)
	return catalog.StaticResolver{Job: job}, catalog.NoopRecorder{}, func() {}, nil
}
