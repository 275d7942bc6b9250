// Package profile holds the instance-level launch profile: network
// bindings, storage driver selection, and the handful of settings that
// must be known before the structured YAML config (see package config)
// can even be located.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/rivermint/chatforge/internal/version"
)

// Profile is the configuration needed to start the main server, before
// the structured document (chat providers, MCP servers, facets...) is
// loaded from disk.
type Profile struct {
	Mode        string // demo, dev, prod
	Addr        string
	Port        int
	UNIXSock    string
	Data        string
	Driver      string // postgres, sqlite
	DSN         string
	InstanceURL string
	ConfigPath  string // path to the structured YAML document (see config.Loader.Load)
	RedisURL    string // empty = Policy Cache invalidation pub/sub and Budget tracker are no-ops
	Version     string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv fills in fields left unset by CLI flags from environment variables.
func (p *Profile) FromEnv() {
	if p.Mode == "" {
		p.Mode = getEnvOrDefault("CHATFORGE_MODE", "demo")
	}
	if p.Addr == "" {
		p.Addr = getEnvOrDefault("CHATFORGE_ADDR", "")
	}
	if p.Port == 0 {
		p.Port = getEnvOrDefaultInt("CHATFORGE_PORT", 8910)
	}
	if p.Data == "" {
		p.Data = getEnvOrDefault("CHATFORGE_DATA", "./data")
	}
	if p.Driver == "" {
		p.Driver = getEnvOrDefault("CHATFORGE_DRIVER", "sqlite")
	}
	if p.DSN == "" {
		p.DSN = getEnvOrDefault("CHATFORGE_DSN", "")
	}
	if p.ConfigPath == "" {
		p.ConfigPath = getEnvOrDefault("CHATFORGE_CONFIG", "./config.yaml")
	}
	if p.RedisURL == "" {
		p.RedisURL = getEnvOrDefault("CHATFORGE_REDIS_URL", "")
	}
	if p.Version == "" {
		p.Version = version.GetCurrentVersion(p.Mode)
	}
}

func checkDataDir(dataDir string) (string, error) {
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(dataDir, 0o770); mkErr != nil {
				return "", errors.Wrapf(mkErr, "unable to create data folder %s", dataDir)
			}
			return dataDir, nil
		}
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes Mode/Data/Driver/DSN, creating the data directory
// and deriving a default sqlite DSN when one was not supplied.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "chatforge")
		} else {
			p.Data = "/var/opt/chatforge"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	switch p.Driver {
	case "sqlite":
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("chatforge_%s.db", p.Mode))
		}
	case "postgres":
		if p.DSN == "" {
			return errors.New("postgres driver requires a dsn (database_url)")
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	return nil
}
