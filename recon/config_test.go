package recon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("data", "snapshot.db"), cfg.DBPath)
	require.Equal(t, filepath.Join("data", "backups"), cfg.Backup.Dir)
	require.Equal(t, 10, cfg.Backup.Retention)
	require.Equal(t, filepath.Join("data", "observability.db"), cfg.ObsDBPath)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rinksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /var/lib/rinksync/snapshot.db
reports_dir: /var/lib/rinksync/reports
backup:
  retention: 3
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/rinksync/snapshot.db", cfg.DBPath)
	require.Equal(t, "/var/lib/rinksync/reports", cfg.ReportsDir)
	require.Equal(t, 3, cfg.Backup.Retention)
	// Unset values still default relative to the db path.
	require.Equal(t, "/var/lib/rinksync/backups", cfg.Backup.Dir)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	// WHAT: RINKSYNC_* variables beat the YAML file.
	// WHY: Deployment environments override the checked-in config.
	path := filepath.Join(t.TempDir(), "rinksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db_path: from-file.db\n"), 0o644))
	t.Setenv("RINKSYNC_DB_PATH", "from-env.db")
	t.Setenv("RINKSYNC_BACKUP_RETENTION", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "from-env.db", cfg.DBPath)
	require.Equal(t, 7, cfg.Backup.Retention)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
