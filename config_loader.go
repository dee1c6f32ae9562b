package gdprvault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LoadConfigFromEnvironment reads configuration from GDPR_* environment variables
// and returns a validated Config.
//
// Files in envFiles are loaded first with godotenv; a missing file is skipped and
// variables already set in the process environment win. With no envFiles, a .env in
// the working directory is tried.
//
// Required environment variables:
//   - GDPR_KEY_ALIAS
//   - GDPR_INDEX_KEY_ALIAS
//
// Optional environment variables:
//   - GDPR_RETENTION_YEARS, GDPR_COOLOFF_HOURS
//   - GDPR_KEY_VERSIONS (comma separated), GDPR_CURRENT_KEY_VERSION
//   - GDPR_DB_DIALECT, GDPR_DB_DSN
//   - GDPR_SYSTEM_ACTOR, GDPR_LOG_LEVEL, GDPR_LOG_FORMAT
func LoadConfigFromEnvironment(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg := Config{
		KeyAlias:      os.Getenv(EnvKeyAlias),
		IndexKeyAlias: os.Getenv(EnvIndexKeyAlias),
		DBDialect:     os.Getenv(EnvDBDialect),
		DBDSN:         os.Getenv(EnvDBDSN),
		SystemActor:   os.Getenv(EnvSystemActor),
		LogLevel:      os.Getenv(EnvLogLevel),
		LogFormat:     os.Getenv(EnvLogFormat),
	}

	var err error
	if cfg.RetentionYears, err = envInt(EnvRetentionYears); err != nil {
		return Config{}, err
	}
	if cfg.CooloffHours, err = envInt(EnvCooloffHours); err != nil {
		return Config{}, err
	}
	if cfg.CurrentKeyVersion, err = envInt(EnvCurrentKeyVersion); err != nil {
		return Config{}, err
	}
	if cfg.KeyVersions, err = envInts(EnvKeyVersions); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromFile reads a YAML configuration file and returns a validated Config.
func LoadConfigFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to parse config file: %w", ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML to path.
func SaveConfig(cfg Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func envInt(key string) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfiguration, key, raw)
	}
	return n, nil
}

func envInts(key string) ([]int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a comma separated list of integers, got %q",
				ErrInvalidConfiguration, key, raw)
		}
		out = append(out, n)
	}
	return out, nil
}
