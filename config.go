package gdprvault

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"github.com/hengadev/gdprvault/internal/store"
	"github.com/hengadev/gdprvault/internal/vault"
)

// Config holds the configuration for creating a Service.
//
// This struct contains only data. It can be loaded from the environment, from a YAML
// file, or built in code, and is passed explicitly to New.
//
// Required fields:
//   - KeyAlias: names the PII key material in the secret store
//   - IndexKeyAlias: names the hash-index secret
//
// Optional fields (defaults are applied if empty):
//   - RetentionYears: 15
//   - CooloffHours: 72
//   - CurrentKeyVersion: 1, and KeyVersions: [CurrentKeyVersion]
//   - DBDialect: sqlite3, DBDSN: gdprvault.db
//   - SystemActor: system:retention
//   - LogLevel: info, LogFormat: json
//
// Example usage:
//
//	cfg := gdprvault.Config{
//	    KeyAlias:      "patient-pii",
//	    IndexKeyAlias: "patient-index",
//	    KeyVersions:   []int{1, 2},
//	    CurrentKeyVersion: 2,
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	// RetentionYears is the statutory retention period in calendar years.
	RetentionYears int `yaml:"retention_years"`

	// CooloffHours is how long an approved request stays cancellable.
	CooloffHours int `yaml:"cooloff_hours"`

	// KeyAlias names the PII key. Each version is read from KeyPathTemplate.
	KeyAlias string `yaml:"key_alias"`

	// KeyVersions lists every version still needed to decrypt stored rows.
	KeyVersions []int `yaml:"key_versions"`

	// CurrentKeyVersion is the version new ciphertexts are written with.
	// It must appear in KeyVersions.
	CurrentKeyVersion int `yaml:"current_key_version"`

	// IndexKeyAlias names the secret behind the hash index. It never rotates:
	// changing it orphans every stored index hash.
	IndexKeyAlias string `yaml:"index_key_alias"`

	DBDialect string `yaml:"db_dialect"`
	DBDSN     string `yaml:"db_dsn"`

	// SystemActor is recorded as requester of scheduler-filed requests.
	SystemActor string `yaml:"system_actor"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Validate checks every field, reporting all problems at once, and applies
// defaults to optional fields. Problems are keyed by field name in an errsx.Map
// wrapped under ErrInvalidConfiguration.
func (c *Config) Validate() error {
	c.applyDefaults()

	errs := errsx.Map{}
	if c.RetentionYears < 1 {
		errs.Set("retention_years", fmt.Errorf("must be at least 1, got %d", c.RetentionYears))
	}
	if c.CooloffHours < 1 {
		errs.Set("cooloff_hours", fmt.Errorf("must be at least 1, got %d", c.CooloffHours))
	}
	validateAlias(errs, "key_alias", c.KeyAlias)
	validateAlias(errs, "index_key_alias", c.IndexKeyAlias)
	if c.CurrentKeyVersion < 1 || c.CurrentKeyVersion > vault.MaxKeyVersion {
		errs.Set("current_key_version",
			fmt.Errorf("must be between 1 and %d, got %d", vault.MaxKeyVersion, c.CurrentKeyVersion))
	} else if !slices.Contains(c.KeyVersions, c.CurrentKeyVersion) {
		errs.Set("key_versions", fmt.Errorf("must include the current version %d", c.CurrentKeyVersion))
	}
	for _, v := range c.KeyVersions {
		if v < 1 || v > vault.MaxKeyVersion {
			errs.Set("key_versions", fmt.Errorf("version %d out of range 1..%d", v, vault.MaxKeyVersion))
			break
		}
	}
	if _, err := store.ParseDialect(c.DBDialect); err != nil {
		errs.Set("db_dialect", err)
	}

	if err := errs.AsError(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	return nil
}

// Cooloff is CooloffHours as a duration.
func (c Config) Cooloff() time.Duration {
	return time.Duration(c.CooloffHours) * time.Hour
}

func (c *Config) applyDefaults() {
	if c.RetentionYears == 0 {
		c.RetentionYears = DefaultRetentionYears
	}
	if c.CooloffHours == 0 {
		c.CooloffHours = int(DefaultCooloff / time.Hour)
	}
	if c.CurrentKeyVersion == 0 {
		c.CurrentKeyVersion = DefaultCurrentKeyVersion
	}
	if len(c.KeyVersions) == 0 {
		c.KeyVersions = []int{c.CurrentKeyVersion}
	}
	if c.DBDialect == "" {
		c.DBDialect = DefaultDBDialect
	}
	if c.DBDSN == "" {
		c.DBDSN = DefaultDBDSN
	}
	if c.SystemActor == "" {
		c.SystemActor = DefaultSystemActor
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

func validateAlias(errs errsx.Map, field, alias string) {
	switch {
	case strings.TrimSpace(alias) == "":
		errs.Set(field, "is required")
	case len(alias) > MaxKeyAliasLength:
		errs.Set(field, fmt.Errorf("must be %d characters or less, got %d", MaxKeyAliasLength, len(alias)))
	case strings.ContainsAny(alias, "/ \t\n"):
		errs.Set(field, "must not contain slashes or whitespace")
	}
}
