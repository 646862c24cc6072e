package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.SenderID, cfg.SenderID)
	assert.Equal(t, def.Routing.RouteTimeout, cfg.Routing.RouteTimeout)
	assert.Equal(t, def.Observability.SnapshotAddr, cfg.Observability.SnapshotAddr)
}

func TestLoad_MissingConfigFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), nil)
	assert.NoError(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routingd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sender_id: custom-routingd\nrouting:\n  route_timeout: 30s\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "custom-routingd", cfg.SenderID)
	assert.Equal(t, 30*time.Second, cfg.Routing.RouteTimeout)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routingd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sender_id: from-file\n"), 0o644))

	t.Setenv("MATCHCORE_SENDER_ID", "from-env")
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SenderID)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("sender_id", "", "")
	require.NoError(t, fs.Parse([]string{"--sender_id=from-flag"}))

	t.Setenv("MATCHCORE_SENDER_ID", "from-env")
	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.SenderID)
}

func TestPersistenceConfig_DSN(t *testing.T) {
	p := PersistenceConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/d?sslmode=disable", p.DSN())
}
