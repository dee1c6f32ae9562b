package gdprvault

import "time"

// Environment variable names
const (
	// EnvRetentionYears overrides the statutory retention period.
	EnvRetentionYears = "GDPR_RETENTION_YEARS"

	// EnvCooloffHours overrides the cancellation window after approval.
	EnvCooloffHours = "GDPR_COOLOFF_HOURS"

	// EnvKeyAlias names the PII key material in the secret store.
	// Example: "patient-pii"
	EnvKeyAlias = "GDPR_KEY_ALIAS"

	// EnvKeyVersions lists every key version still needed for decryption, comma separated.
	// Example: "1,2"
	EnvKeyVersions = "GDPR_KEY_VERSIONS"

	// EnvCurrentKeyVersion is the version new ciphertexts are written with.
	EnvCurrentKeyVersion = "GDPR_CURRENT_KEY_VERSION"

	// EnvIndexKeyAlias names the secret behind the hash index.
	EnvIndexKeyAlias = "GDPR_INDEX_KEY_ALIAS"

	// EnvDBDialect is "sqlite3" or "postgres".
	EnvDBDialect = "GDPR_DB_DIALECT"

	// EnvDBDSN is the data source name handed to the driver.
	EnvDBDSN = "GDPR_DB_DSN"

	// EnvSystemActor is recorded on scheduler-filed requests.
	EnvSystemActor = "GDPR_SYSTEM_ACTOR"

	// EnvLogLevel and EnvLogFormat tune the production logger.
	EnvLogLevel  = "GDPR_LOG_LEVEL"
	EnvLogFormat = "GDPR_LOG_FORMAT"
)

// Default values
const (
	DefaultRetentionYears    = 15
	DefaultCooloff           = 72 * time.Hour
	DefaultCurrentKeyVersion = 1
	DefaultDBDialect         = "sqlite3"
	DefaultDBDSN             = "gdprvault.db"
	DefaultSystemActor       = "system:retention"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
)

// Storage path templates for secret stores.
const (
	// KeyPathTemplate locates one version of the PII key.
	// Example: "gdprvault/patient-pii/v2"
	KeyPathTemplate = "gdprvault/%s/v%d"

	// IndexKeyPathTemplate locates the hash-index secret.
	// Example: "gdprvault/patient-index/index"
	IndexKeyPathTemplate = "gdprvault/%s/index"
)

// MaxKeyAliasLength bounds key aliases so storage paths stay reasonable.
const MaxKeyAliasLength = 256

// MaskVisibleTail is how many trailing characters Mask leaves readable.
const MaskVisibleTail = 4
