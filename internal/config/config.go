package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"newsportal/internal/domain"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath   string `env:"DB_PATH"   envDefault:"db.sqlite"`
	TimeZone string `env:"TIME_ZONE" envDefault:"UTC"`
	SiteURL  string `env:"SITE_URL"  envDefault:"http://127.0.0.1:8000"`

	DigestSpec      string        `env:"DIGEST_SPEC"       envDefault:"0 8 * * mon"`
	PruneSpec       string        `env:"PRUNE_SPEC"        envDefault:"0 0 * * mon"`
	ExecutionMaxAge time.Duration `env:"EXECUTION_MAX_AGE" envDefault:"168h"`
	JobsFile        string        `env:"JOBS_FILE"`

	Workers         int           `env:"WORKERS"           envDefault:"4"`
	TaskMaxAttempts int           `env:"TASK_MAX_ATTEMPTS" envDefault:"5"`
	TaskLease       time.Duration `env:"TASK_LEASE"        envDefault:"2m"`
	TaskPoll        time.Duration `env:"TASK_POLL"         envDefault:"1s"`
	RecipientRate   time.Duration `env:"RECIPIENT_RATE"    envDefault:"1s"`

	CacheMaxEntries int `env:"CACHE_MAX_ENTRIES" envDefault:"4096"`

	MailProvider          string `env:"MAIL_PROVIDER"           envDefault:"mock"`
	MailFromAddr          string `env:"MAIL_FROM_ADDR"          envDefault:"newsportal@example.com"`
	MailFromName          string `env:"MAIL_FROM_NAME"          envDefault:"NewsPortal"`
	BrevoAPIKey           string `env:"BREVO_API_KEY"`
	GoogleCredentialsJSON string `env:"GOOGLE_CREDENTIALS_JSON"`
}

type jobsFile struct {
	Jobs []domain.JobDefinition `yaml:"jobs"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.SiteURL = strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")

	return cfg, nil
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load location (TIME_ZONE = %s): %w", c.TimeZone, err)
	}

	return loc, nil
}

// JobOverrides reads job definitions from JOBS_FILE keyed by job ID.
// An empty JOBS_FILE yields no overrides.
func (c Config) JobOverrides() (map[string]domain.JobDefinition, error) {
	path := strings.TrimSpace(c.JobsFile)
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	return parseJobOverrides(data)
}

func parseJobOverrides(data []byte) (map[string]domain.JobDefinition, error) {
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse jobs file: %w", err)
	}

	overrides := make(map[string]domain.JobDefinition, len(f.Jobs))
	for _, job := range f.Jobs {
		job.ID = strings.TrimSpace(job.ID)
		if job.ID == "" {
			return nil, fmt.Errorf("job without id (spec = %s)", job.Spec)
		}

		overrides[job.ID] = job
	}

	return overrides, nil
}

// ApplyOverride merges an override into def. Zero-valued override fields keep def's values.
func ApplyOverride(def domain.JobDefinition, overrides map[string]domain.JobDefinition) domain.JobDefinition {
	o, ok := overrides[def.ID]
	if !ok {
		return def
	}

	if spec := strings.TrimSpace(o.Spec); spec != "" {
		def.Spec = spec
	}
	if o.MaxInstances > 0 {
		def.MaxInstances = o.MaxInstances
	}

	return def
}
