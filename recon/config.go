package recon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/rinklab/rinksync/recon/internal/backup"
)

// Config configures the reconciliation engine. Values resolve in order:
// YAML file, then RINKSYNC_* environment overrides, then defaults.
type Config struct {
	// DBPath is the snapshot database location.
	DBPath string `yaml:"db_path" env:"RINKSYNC_DB_PATH"`

	// ObsDBPath is the run event log database. Defaults to
	// observability.db next to the snapshot (separate file to keep event
	// writes off the snapshot's WAL).
	ObsDBPath string `yaml:"obs_db_path" env:"RINKSYNC_OBS_DB_PATH"`

	// ReportsDir, when set, additionally exports each change report as
	// <run_id>.json. The authoritative copy always lives in the snapshot.
	ReportsDir string `yaml:"reports_dir" env:"RINKSYNC_REPORTS_DIR"`

	Backup BackupConfig `yaml:"backup"`
}

// BackupConfig controls pre-run archiving.
type BackupConfig struct {
	// Dir holds the timestamped archives. Defaults to backups/ next to
	// the snapshot.
	Dir string `yaml:"dir" env:"RINKSYNC_BACKUP_DIR"`

	// Retention is how many archives survive pruning. Default 10.
	Retention int `yaml:"retention" env:"RINKSYNC_BACKUP_RETENTION"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join("data", "snapshot.db")
	}
	dataDir := filepath.Dir(c.DBPath)
	if c.ObsDBPath == "" {
		c.ObsDBPath = filepath.Join(dataDir, "observability.db")
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = filepath.Join(dataDir, "backups")
	}
	if c.Backup.Retention <= 0 {
		c.Backup.Retention = backup.DefaultRetention
	}
}

// LoadConfig reads the YAML file at path (skipped when path is empty),
// applies environment overrides, then defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("recon: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("recon: parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("recon: env config: %w", err)
	}
	cfg.defaults()
	return cfg, nil
}
