package vault

import (
	"fmt"

	"github.com/hengadev/errsx"
)

// Argon2Params defines the parameters for Argon2id key derivation.
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
}

// DefaultArgon2Params returns recommended parameters for deriving PII keys.
func DefaultArgon2Params() *Argon2Params {
	return &Argon2Params{
		Memory:      64 * 1024, // 64MB
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
	}
}

// Validate checks if the Argon2 parameters are within acceptable ranges
func (a *Argon2Params) Validate() error {
	errs := errsx.Map{}

	if a.Memory < 8192 {
		errs.Set("memory", fmt.Errorf("memory must be at least 8192 KiB, got %d", a.Memory))
	}
	if a.Iterations < 1 {
		errs.Set("iterations", fmt.Errorf("iterations must be at least 1, got %d", a.Iterations))
	}
	if a.Parallelism < 1 {
		errs.Set("parallelism", fmt.Errorf("parallelism must be at least 1, got %d", a.Parallelism))
	}
	if a.SaltLength < 16 || a.SaltLength > 32 {
		errs.Set("saltLength", fmt.Errorf("salt length must be between 16 and 32 bytes, got %d", a.SaltLength))
	}

	return errs.AsError()
}
