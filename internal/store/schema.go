package store

// The partial unique index on erasure_requests is the store-level half of the
// one-active-request-per-patient guard.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS patients (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	clinic_id           INTEGER NOT NULL,
	mrn                 TEXT NOT NULL,
	birth_date          DATETIME,
	status              TEXT NOT NULL DEFAULT 'active',
	is_deleted          BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at          DATETIME,
	deactivation_reason TEXT,
	created_at          DATETIME NOT NULL,
	UNIQUE (clinic_id, mrn)
);

CREATE TABLE IF NOT EXISTS patient_pii (
	patient_id                INTEGER PRIMARY KEY REFERENCES patients(id),
	clinic_id                 INTEGER NOT NULL,
	first_name                BLOB,
	last_name                 BLOB,
	national_id               BLOB,
	alien_registration_number BLOB,
	phone                     BLOB,
	email                     BLOB,
	address                   BLOB,
	emergency_contact_name    BLOB,
	emergency_contact_phone   BLOB,
	national_id_hash          TEXT,
	phone_hash                TEXT,
	email_hash                TEXT,
	encryption_key_version    INTEGER NOT NULL,
	anonymized_at             DATETIME,
	updated_at                DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patient_pii_national_id_hash ON patient_pii(clinic_id, national_id_hash);
CREATE INDEX IF NOT EXISTS idx_patient_pii_phone_hash ON patient_pii(clinic_id, phone_hash);
CREATE INDEX IF NOT EXISTS idx_patient_pii_email_hash ON patient_pii(clinic_id, email_hash);

CREATE TABLE IF NOT EXISTS encounters (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	clinic_id       INTEGER NOT NULL,
	patient_id      INTEGER NOT NULL REFERENCES patients(id),
	scheduled_start DATETIME NOT NULL,
	actual_start    DATETIME,
	summary         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_encounters_patient ON encounters(clinic_id, patient_id);

CREATE TABLE IF NOT EXISTS clinical_notes (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	clinic_id    INTEGER NOT NULL,
	encounter_id INTEGER NOT NULL REFERENCES encounters(id),
	patient_id   INTEGER NOT NULL REFERENCES patients(id),
	body         TEXT NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS erasure_requests (
	id                  TEXT PRIMARY KEY,
	clinic_id           INTEGER NOT NULL,
	patient_id          INTEGER NOT NULL REFERENCES patients(id),
	requested_by        TEXT NOT NULL,
	method              TEXT NOT NULL,
	legal_basis         TEXT NOT NULL,
	retention_expiry    DATETIME,
	filed_at            DATETIME NOT NULL,
	status              TEXT NOT NULL,
	evaluated_by        TEXT,
	evaluated_at        DATETIME,
	denial_exception    TEXT,
	denial_reason       TEXT,
	cooloff_expires_at  DATETIME,
	cancelled_by        TEXT,
	cancelled_at        DATETIME,
	cancellation_reason TEXT,
	executed_by         TEXT,
	executed_at         DATETIME,
	execution_summary   TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_erasure_requests_active
	ON erasure_requests(patient_id) WHERE status IN ('pending', 'approved');
CREATE INDEX IF NOT EXISTS idx_erasure_requests_status ON erasure_requests(status);
CREATE INDEX IF NOT EXISTS idx_erasure_requests_patient ON erasure_requests(clinic_id, patient_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS patients (
	id                  BIGSERIAL PRIMARY KEY,
	clinic_id           BIGINT NOT NULL,
	mrn                 TEXT NOT NULL,
	birth_date          TIMESTAMPTZ,
	status              TEXT NOT NULL DEFAULT 'active',
	is_deleted          BOOLEAN NOT NULL DEFAULT FALSE,
	deleted_at          TIMESTAMPTZ,
	deactivation_reason TEXT,
	created_at          TIMESTAMPTZ NOT NULL,
	UNIQUE (clinic_id, mrn)
);

CREATE TABLE IF NOT EXISTS patient_pii (
	patient_id                BIGINT PRIMARY KEY REFERENCES patients(id),
	clinic_id                 BIGINT NOT NULL,
	first_name                BYTEA,
	last_name                 BYTEA,
	national_id               BYTEA,
	alien_registration_number BYTEA,
	phone                     BYTEA,
	email                     BYTEA,
	address                   BYTEA,
	emergency_contact_name    BYTEA,
	emergency_contact_phone   BYTEA,
	national_id_hash          TEXT,
	phone_hash                TEXT,
	email_hash                TEXT,
	encryption_key_version    INTEGER NOT NULL,
	anonymized_at             TIMESTAMPTZ,
	updated_at                TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_patient_pii_national_id_hash ON patient_pii(clinic_id, national_id_hash);
CREATE INDEX IF NOT EXISTS idx_patient_pii_phone_hash ON patient_pii(clinic_id, phone_hash);
CREATE INDEX IF NOT EXISTS idx_patient_pii_email_hash ON patient_pii(clinic_id, email_hash);

CREATE TABLE IF NOT EXISTS encounters (
	id              BIGSERIAL PRIMARY KEY,
	clinic_id       BIGINT NOT NULL,
	patient_id      BIGINT NOT NULL REFERENCES patients(id),
	scheduled_start TIMESTAMPTZ NOT NULL,
	actual_start    TIMESTAMPTZ,
	summary         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_encounters_patient ON encounters(clinic_id, patient_id);

CREATE TABLE IF NOT EXISTS clinical_notes (
	id           BIGSERIAL PRIMARY KEY,
	clinic_id    BIGINT NOT NULL,
	encounter_id BIGINT NOT NULL REFERENCES encounters(id),
	patient_id   BIGINT NOT NULL REFERENCES patients(id),
	body         TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS erasure_requests (
	id                  TEXT PRIMARY KEY,
	clinic_id           BIGINT NOT NULL,
	patient_id          BIGINT NOT NULL REFERENCES patients(id),
	requested_by        TEXT NOT NULL,
	method              TEXT NOT NULL,
	legal_basis         TEXT NOT NULL,
	retention_expiry    TIMESTAMPTZ,
	filed_at            TIMESTAMPTZ NOT NULL,
	status              TEXT NOT NULL,
	evaluated_by        TEXT,
	evaluated_at        TIMESTAMPTZ,
	denial_exception    TEXT,
	denial_reason       TEXT,
	cooloff_expires_at  TIMESTAMPTZ,
	cancelled_by        TEXT,
	cancelled_at        TIMESTAMPTZ,
	cancellation_reason TEXT,
	executed_by         TEXT,
	executed_at         TIMESTAMPTZ,
	execution_summary   JSONB
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_erasure_requests_active
	ON erasure_requests(patient_id) WHERE status IN ('pending', 'approved');
CREATE INDEX IF NOT EXISTS idx_erasure_requests_status ON erasure_requests(status);
CREATE INDEX IF NOT EXISTS idx_erasure_requests_patient ON erasure_requests(clinic_id, patient_id);

DO $$
DECLARE
	t TEXT;
BEGIN
	FOREACH t IN ARRAY ARRAY['patients', 'patient_pii', 'encounters', 'clinical_notes', 'erasure_requests'] LOOP
		EXECUTE format('ALTER TABLE %I ENABLE ROW LEVEL SECURITY', t);
		IF NOT EXISTS (SELECT 1 FROM pg_policies WHERE tablename = t AND policyname = 'clinic_isolation') THEN
			EXECUTE format(
				'CREATE POLICY clinic_isolation ON %I USING ('
				'current_setting(''app.system_read'', true) = ''on'' OR '
				'clinic_id = NULLIF(current_setting(''app.current_clinic_id'', true), '''')::bigint)',
				t);
		END IF;
	END LOOP;
END
$$;
`
