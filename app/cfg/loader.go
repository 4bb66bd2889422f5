package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DataDir string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Directory for the SQLite database"`

	// Application configuration
	ProfilesDir  string `long:"profiles-dir" env:"PROFILES_DIR" default:"./profiles" description:"Directory containing analysis profile files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Analysis queue configuration
	WorkerCount      int `long:"worker-count" env:"WORKER_COUNT" default:"4" description:"Number of analysis queue workers"`
	PollInterval     int `long:"poll-interval" env:"POLL_INTERVAL" default:"1" description:"Queue poll interval in seconds"`
	JanitorInterval  int `long:"janitor-interval" env:"JANITOR_INTERVAL" default:"30" description:"Stalled-job and pruning sweep interval in seconds"`
	PreliminaryDelay int `long:"preliminary-delay" env:"PRELIMINARY_DELAY" default:"5" description:"Delay in seconds before preliminary jobs become due"`
	MaxAttempts      int `long:"max-attempts" env:"MAX_ATTEMPTS" default:"2" description:"Maximum attempts per analysis job"`
	StalledAfter     int `long:"stalled-after" env:"STALLED_AFTER" default:"120" description:"Seconds without a heartbeat before a running job is requeued"`
	PruneMaxAge      int `long:"prune-max-age" env:"PRUNE_MAX_AGE" default:"24" description:"Age in hours after which finished jobs are pruned"`
	PruneKeep        int `long:"prune-keep" env:"PRUNE_KEEP" default:"1000" description:"Number of finished jobs to keep regardless of age"`

	// Vector store configuration
	VectorBackend   string `long:"vector-backend" env:"VECTOR_BACKEND" default:"sqlite" description:"Vector store backend (memory or sqlite)"`
	VectorDimension int    `long:"vector-dimension" env:"VECTOR_DIMENSION" default:"384" description:"Embedding dimension"`
	VectorMetric    string `long:"vector-metric" env:"VECTOR_METRIC" default:"cosine" description:"Similarity metric (cosine, l2, innerproduct)"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DataDir:          raw.DataDir,
		ProfilesDir:      raw.ProfilesDir,
		Port:             raw.Port,
		APIAccessKey:     raw.APIAccessKey,
		WorkerCount:      raw.WorkerCount,
		PollInterval:     raw.PollInterval,
		JanitorInterval:  raw.JanitorInterval,
		PreliminaryDelay: raw.PreliminaryDelay,
		MaxAttempts:      raw.MaxAttempts,
		StalledAfter:     raw.StalledAfter,
		PruneMaxAge:      raw.PruneMaxAge,
		PruneKeep:        raw.PruneKeep,
		VectorBackend:    raw.VectorBackend,
		VectorDimension:  raw.VectorDimension,
		VectorMetric:     raw.VectorMetric,
		Timezone:         raw.Timezone,
		Debug:            raw.Debug,
		Version:          GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
