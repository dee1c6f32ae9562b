package domain

import "time"

// PatientStatus is the lifecycle status of a patient row.
type PatientStatus string

const (
	PatientActive   PatientStatus = "active"
	PatientInactive PatientStatus = "inactive"
	PatientDeceased PatientStatus = "deceased"
)

// DeactivationReasonErasure marks patients forced inactive by anonymization.
const DeactivationReasonErasure = "gdpr_erasure"

// Patient is the clinic-scoped identity row. It is never physically deleted.
type Patient struct {
	ID                 int64
	ClinicID           int64
	MRN                string
	BirthDate          *time.Time
	Status             PatientStatus
	IsDeleted          bool
	DeletedAt          *time.Time
	DeactivationReason string
	CreatedAt          time.Time
}

// PatientPII holds the encrypted identifying fields of one patient.
// Once AnonymizedAt is set every encrypted field and index hash is nil and stays nil.
type PatientPII struct {
	PatientID               int64
	FirstName               []byte
	LastName                []byte
	NationalID              []byte
	AlienRegistrationNumber []byte
	Phone                   []byte
	Email                   []byte
	Address                 []byte
	EmergencyContactName    []byte
	EmergencyContactPhone   []byte

	NationalIDHash *string
	PhoneHash      *string
	EmailHash      *string

	EncryptionKeyVersion int
	AnonymizedAt         *time.Time
	UpdatedAt            time.Time
}

// IsAnonymized reports whether the identity has been irreversibly erased.
func (p *PatientPII) IsAnonymized() bool {
	return p != nil && p.AnonymizedAt != nil
}

// EncryptedFields returns the column name and value of every encrypted field.
func (p *PatientPII) EncryptedFields() []EncryptedField {
	return []EncryptedField{
		{Column: "first_name", Value: p.FirstName},
		{Column: "last_name", Value: p.LastName},
		{Column: "national_id", Value: p.NationalID},
		{Column: "alien_registration_number", Value: p.AlienRegistrationNumber},
		{Column: "phone", Value: p.Phone},
		{Column: "email", Value: p.Email},
		{Column: "address", Value: p.Address},
		{Column: "emergency_contact_name", Value: p.EmergencyContactName},
		{Column: "emergency_contact_phone", Value: p.EmergencyContactPhone},
	}
}

// EncryptedField pairs a PatientPII column with its ciphertext.
type EncryptedField struct {
	Column string
	Value  []byte
}

// IndexColumns are the hash-index columns kept alongside the ciphertexts.
var IndexColumns = []string{"national_id_hash", "phone_hash", "email_hash"}

// PatientIdentity is the plaintext form of PatientPII as callers see it.
type PatientIdentity struct {
	FirstName               string
	LastName                string
	NationalID              string
	AlienRegistrationNumber string
	Phone                   string
	Email                   string
	Address                 string
	EmergencyContactName    string
	EmergencyContactPhone   string
}
