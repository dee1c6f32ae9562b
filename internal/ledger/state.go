package ledger

import "time"

// State is the closed set of request states. Only the types in this file implement it.
type State interface {
	Status() Status
	sealed()
}

// Pending is a filed request awaiting evaluation.
type Pending struct{}

// Approved is an accepted request inside or past its cooling-off window.
type Approved struct {
	EvaluatedBy      string
	EvaluatedAt      time.Time
	CooloffExpiresAt time.Time
}

// Denied is a refused request. Terminal.
type Denied struct {
	EvaluatedBy string
	EvaluatedAt time.Time
	Exception   Exception
	Reason      string
}

// Cancelled is an approved request withdrawn during its cooloff. Terminal.
type Cancelled struct {
	Approved
	CancelledBy string
	CancelledAt time.Time
	Reason      string
}

// Executed is an approved request whose anonymization ran. Terminal.
type Executed struct {
	Approved
	ExecutedBy string
	ExecutedAt time.Time
	Summary    ExecutionSummary
}

func (Pending) Status() Status   { return StatusPending }
func (Approved) Status() Status  { return StatusApproved }
func (Denied) Status() Status    { return StatusDenied }
func (Cancelled) Status() Status { return StatusCancelled }
func (Executed) Status() Status  { return StatusExecuted }

func (Pending) sealed()   {}
func (Approved) sealed()  {}
func (Denied) sealed()    {}
func (Cancelled) sealed() {}
func (Executed) sealed()  {}
