package profile

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv() {
	for _, k := range []string{
		"CHATFORGE_MODE", "CHATFORGE_ADDR", "CHATFORGE_PORT",
		"CHATFORGE_DATA", "CHATFORGE_DRIVER", "CHATFORGE_DSN", "CHATFORGE_CONFIG",
	} {
		os.Unsetenv(k)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv()
	defer clearEnv()

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "demo", p.Mode)
	assert.Equal(t, 8910, p.Port)
	assert.Equal(t, "sqlite", p.Driver)
	assert.Equal(t, "./config.yaml", p.ConfigPath)
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv()
	defer clearEnv()

	os.Setenv("CHATFORGE_DRIVER", "postgres")
	os.Setenv("CHATFORGE_PORT", "9100")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "postgres", p.Driver)
	assert.Equal(t, 9100, p.Port)
}

func TestValidateSqliteDefaultsDSN(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Data: dir, Driver: "sqlite"}
	require.NoError(t, p.Validate())
	assert.NotEmpty(t, p.DSN)
}

func TestValidatePostgresRequiresDSN(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Data: dir, Driver: "postgres"}
	err := p.Validate()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	p := &Profile{Mode: "dev", Data: dir, Driver: "mongodb"}
	err := p.Validate()
	assert.Error(t, err)
}

func TestIsDev(t *testing.T) {
	assert.True(t, (&Profile{Mode: "dev"}).IsDev())
	assert.True(t, (&Profile{Mode: "demo"}).IsDev())
	assert.False(t, (&Profile{Mode: "prod"}).IsDev())
}
