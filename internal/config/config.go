package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ngce-pmdm/contour-builder/internal/util"
)

type Config struct {
	Contour ContourConfig `yaml:"contour"`
	Pool    PoolConfig    `yaml:"pool"`
	Paths   PathsConfig   `yaml:"paths"`
	Status  StatusConfig  `yaml:"status"`
	Catalog CatalogConfig `yaml:"catalog"`
	Publish PublishConfig `yaml:"publish"`
	Events  EventsConfig  `yaml:"events"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
	Debug   DebugConfig   `yaml:"debug"`
}

// ContourConfig carries the derivation constants shared by every unit.
type ContourConfig struct {
	Interval          float64 `yaml:"interval"`
	Unit              string  `yaml:"unit"`
	SimplifyTolerance float64 `yaml:"simplify_tolerance"`
	SmoothTolerance   float64 `yaml:"smooth_tolerance"`
	SmoothAlgorithm   string  `yaml:"smooth_algorithm"` // "CHAIKIN" | "MOVING_AVERAGE"

	// Buffer distances in meters.
	ClipMosaicDistance  float64 `yaml:"clip_mosaic_distance"`
	ClipContourDistance float64 `yaml:"clip_contour_distance"`

	SkipFactor int    `yaml:"skip_factor"`
	GDBName    string `yaml:"gdb_name"`
	OCSName    string `yaml:"ocs_name"`
	WMName     string `yaml:"wm_name"`
}

type PoolConfig struct {
	Workers        int           `yaml:"workers"` // 0 = NumCPU - CPUHandicap
	CPUHandicap    int           `yaml:"cpu_handicap"`
	TriesAllowed   int           `yaml:"tries_allowed"`
	RetryBackoffMs int           `yaml:"retry_backoff_ms"`
	UnitTimeout    time.Duration `yaml:"unit_timeout"` // 0 disables
	MaxPasses      int           `yaml:"max_passes"`
}

// PathsConfig names the folders and layers inside a project directory.
type PathsConfig struct {
	DerivedFolder   string `yaml:"derived_folder"`
	PublishedFolder string `yaml:"published_folder"`
	ContourFolder   string `yaml:"contour_folder"`
	ScratchFolder   string `yaml:"scratch_folder"`
	FootprintLayer  string `yaml:"footprint_layer"`
	RefMosaicName   string `yaml:"ref_mosaic_name"`
	MosaicName      string `yaml:"mosaic_name"`
}

type StatusConfig struct {
	Backend string `yaml:"backend"` // "sqlite" | "file" | "none"
	Path    string `yaml:"path"`    // defaults to the contour folder
}

type CatalogConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
	RecordRuns  bool   `yaml:"record_runs"`
}

type PublishConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"` // "local" | "gcs" | "s3"
	LocalDir   string `yaml:"local_dir"`
	GCSBucket  string `yaml:"gcs_bucket"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
	Prefix     string `yaml:"prefix"`
}

type EventsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint"`
	BackupDir string `yaml:"backup_dir"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
}

// DebugConfig is the project used when no job ID is supplied.
type DebugConfig struct {
	JobID      string `yaml:"job_id"`
	ProjectID  string `yaml:"project_id"`
	Alias      string `yaml:"alias"`
	State      string `yaml:"state"`
	Year       int    `yaml:"year"`
	ParentDir  string `yaml:"parent_dir"`
	ProjectDir string `yaml:"project_dir"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Contour: ContourConfig{
			Interval:            2,
			Unit:                "FOOT_US",
			SimplifyTolerance:   0.000001,
			SmoothTolerance:     0.00001,
			SmoothAlgorithm:     "CHAIKIN",
			ClipMosaicDistance:  50,
			ClipContourDistance: 5,
			SkipFactor:          100,
			GDBName:             "Contours",
			OCSName:             "Contours_OCS",
			WMName:              "Contours_WM",
		},
		Pool: PoolConfig{
			CPUHandicap:  1,
			TriesAllowed: 10,
			MaxPasses:    2,
		},
		Paths: PathsConfig{
			DerivedFolder:   "DERIVED",
			PublishedFolder: "PUBLISHED",
			ContourFolder:   "CONTOURS",
			ScratchFolder:   "C01Scratch",
			FootprintLayer:  "DTM_Footprints.shp",
			RefMosaicName:   "ContourPrep.yaml",
			MosaicName:      "DTM_OCS",
		},
		Status: StatusConfig{
			Backend: "sqlite",
		},
		Publish: PublishConfig{
			Backend:  "local",
			LocalDir: "./published",
			Prefix:   "contours/",
		},
		Events: EventsConfig{
			BackupDir: "./state/events",
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "contour_builder",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Debug: DebugConfig{
			JobID:      "1",
			ProjectID:  "OK_SugarCreek_2008",
			Alias:      "Sugar Creek",
			State:      "OK",
			Year:       2008,
			ParentDir:  "/data/NGCE/RasterDatasets",
			ProjectDir: "/data/NGCE/RasterDatasets/OK_SugarCreek_2008",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file
// named by CONTOUR_CONFIG, and environment overrides, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONTOUR_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad is Load for main packages.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	c := &cfg.Contour
	c.Interval = util.ParseFloat(os.Getenv("CONTOUR_INTERVAL"), c.Interval)
	c.Unit = getenvDefault("CONTOUR_UNIT", c.Unit)
	c.SimplifyTolerance = util.ParseFloat(os.Getenv("CONTOUR_SIMPLIFY_TOLERANCE"), c.SimplifyTolerance)
	c.SmoothTolerance = util.ParseFloat(os.Getenv("CONTOUR_SMOOTH_TOLERANCE"), c.SmoothTolerance)
	c.SmoothAlgorithm = getenvDefault("CONTOUR_SMOOTH_ALGORITHM", c.SmoothAlgorithm)
	c.ClipMosaicDistance = util.ParseFloat(os.Getenv("DISTANCE_TO_CLIP_MOSAIC_DATASET"), c.ClipMosaicDistance)
	c.ClipContourDistance = util.ParseFloat(os.Getenv("DISTANCE_TO_CLIP_CONTOURS"), c.ClipContourDistance)
	c.SkipFactor = util.ParseInt(os.Getenv("SKIP_FACTOR"), c.SkipFactor)
	c.GDBName = getenvDefault("CONTOUR_GDB_NAME", c.GDBName)
	c.OCSName = getenvDefault("CONTOUR_NAME_OCS", c.OCSName)
	c.WMName = getenvDefault("CONTOUR_NAME_WM", c.WMName)

	p := &cfg.Pool
	p.Workers = util.ParseInt(os.Getenv("POOL_WORKERS"), p.Workers)
	p.CPUHandicap = util.ParseInt(os.Getenv("CPU_HANDICAP"), p.CPUHandicap)
	p.TriesAllowed = util.ParseInt(os.Getenv("TRIES_ALLOWED"), p.TriesAllowed)
	p.RetryBackoffMs = util.ParseInt(os.Getenv("RETRY_BACKOFF_MS"), p.RetryBackoffMs)
	p.MaxPasses = util.ParseInt(os.Getenv("MAX_PASSES"), p.MaxPasses)
	if v := os.Getenv("UNIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.UnitTimeout = d
		}
	}

	cfg.Status.Backend = getenvDefault("STATUS_BACKEND", cfg.Status.Backend)
	cfg.Status.Path = getenvDefault("STATUS_PATH", cfg.Status.Path)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)
	cfg.Catalog.RecordRuns = parseBool(os.Getenv("CATALOG_RECORD_RUNS"), cfg.Catalog.RecordRuns)

	pub := &cfg.Publish
	pub.Enabled = parseBool(os.Getenv("PUBLISH_ENABLED"), pub.Enabled)
	pub.Backend = getenvDefault("STORAGE_BACKEND", pub.Backend)
	pub.LocalDir = getenvDefault("LOCAL_DIR", pub.LocalDir)
	pub.GCSBucket = getenvDefault("GCS_BUCKET", pub.GCSBucket)
	pub.S3Bucket = getenvDefault("S3_BUCKET", pub.S3Bucket)
	pub.S3Endpoint = getenvDefault("S3_ENDPOINT", pub.S3Endpoint)
	pub.S3Region = getenvDefault("S3_REGION", pub.S3Region)
	pub.Prefix = getenvDefault("STORAGE_PREFIX", pub.Prefix)

	cfg.Events.Enabled = parseBool(os.Getenv("EVENTS_ENABLED"), cfg.Events.Enabled)
	cfg.Events.Endpoint = getenvDefault("EVENTS_ENDPOINT", cfg.Events.Endpoint)
	cfg.Events.BackupDir = getenvDefault("EVENTS_BACKUP_DIR", cfg.Events.BackupDir)

	cfg.Metrics.Enabled = parseBool(os.Getenv("METRICS_ENABLED"), cfg.Metrics.Enabled)
	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.File = getenvDefault("LOG_FILE", cfg.Logging.File)

	cfg.Debug.ProjectDir = getenvDefault("DEBUG_PROJECT_DIR", cfg.Debug.ProjectDir)
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Contour.Interval < 1 {
		return fmt.Errorf("contour interval must be >= 1, got %v", c.Contour.Interval)
	}
	if c.Contour.ClipMosaicDistance < 0 || c.Contour.ClipContourDistance < 0 {
		return fmt.Errorf("clip distances must not be negative")
	}
	if c.Pool.TriesAllowed < 0 {
		return fmt.Errorf("tries allowed must not be negative, got %d", c.Pool.TriesAllowed)
	}
	if c.Pool.MaxPasses < 1 {
		return fmt.Errorf("max passes must be >= 1, got %d", c.Pool.MaxPasses)
	}
	switch c.Contour.SmoothAlgorithm {
	case "CHAIKIN", "MOVING_AVERAGE":
	default:
		return fmt.Errorf("unknown smoothing algorithm: %s", c.Contour.SmoothAlgorithm)
	}
	switch c.Status.Backend {
	case "sqlite", "file", "none":
	default:
		return fmt.Errorf("unknown status backend: %s", c.Status.Backend)
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseBool(v string, def bool) bool {
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}
