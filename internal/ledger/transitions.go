package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/hengadev/errsx"
	"github.com/hengadev/gdprvault/internal/gdprerr"
)

// Evaluation is the evaluator's decision on a pending request.
type Evaluation struct {
	Decision  Decision
	Evaluator string
	Exception Exception
	Reason    string
}

// Validate reports every malformed field at once.
func (e Evaluation) Validate() error {
	errs := errsx.Map{}
	if strings.TrimSpace(e.Evaluator) == "" {
		errs.Set("evaluator", "evaluator is required")
	}
	switch e.Decision {
	case DecisionApprove:
	case DecisionDeny:
		if !e.Exception.Valid() {
			errs.Set("exception", fmt.Errorf("denial must cite a known exception, got %q", e.Exception))
		}
		if strings.TrimSpace(e.Reason) == "" {
			errs.Set("reason", "denial reason is required")
		}
	default:
		errs.Set("decision", fmt.Errorf("unknown decision %q", e.Decision))
	}
	if err := errs.AsError(); err != nil {
		return gdprerr.NewValidationError(err)
	}
	return nil
}

// Evaluate moves a pending request to approved or denied.
// Approval opens a cooloff window; system-triggered requests get an already
// elapsed window because the statutory wait has run out by definition.
func Evaluate(r Request, ev Evaluation, now time.Time, cooloff time.Duration) (Request, error) {
	if err := ev.Validate(); err != nil {
		return r, err
	}
	switch r.State.(type) {
	case Pending:
	default:
		return r, gdprerr.NewIllegalTransitionError(gdprerr.Evaluate, string(r.Status()))
	}

	next := r
	if ev.Decision == DecisionDeny {
		next.State = Denied{
			EvaluatedBy: ev.Evaluator,
			EvaluatedAt: now,
			Exception:   ev.Exception,
			Reason:      ev.Reason,
		}
		return next, nil
	}

	expires := now.Add(cooloff)
	if r.IsSystemTriggered() {
		expires = now
	}
	next.State = Approved{
		EvaluatedBy:      ev.Evaluator,
		EvaluatedAt:      now,
		CooloffExpiresAt: expires,
	}
	return next, nil
}

// Cancel withdraws an approved request while its cooloff is still running.
// Past the cooloff the decision is final.
func Cancel(r Request, canceller, reason string, now time.Time) (Request, error) {
	errs := errsx.Map{}
	if strings.TrimSpace(canceller) == "" {
		errs.Set("canceller", "canceller is required")
	}
	if strings.TrimSpace(reason) == "" {
		errs.Set("reason", "cancellation reason is required")
	}
	if err := errs.AsError(); err != nil {
		return r, gdprerr.NewValidationError(err)
	}

	approved, ok := r.State.(Approved)
	if !ok {
		return r, gdprerr.NewIllegalTransitionError(gdprerr.Cancel, string(r.Status()))
	}
	if !now.Before(approved.CooloffExpiresAt) {
		return r, gdprerr.NewNotEligibleError(gdprerr.Cancel,
			fmt.Sprintf("cooloff expired at %s", approved.CooloffExpiresAt.Format(time.RFC3339)))
	}

	next := r
	next.State = Cancelled{
		Approved:    approved,
		CancelledBy: canceller,
		CancelledAt: now,
		Reason:      reason,
	}
	return next, nil
}

// CheckExecutable returns the approved state when r may be executed at now.
func CheckExecutable(r Request, now time.Time) (Approved, error) {
	switch s := r.State.(type) {
	case Approved:
		if now.Before(s.CooloffExpiresAt) {
			return Approved{}, gdprerr.NewNotEligibleError(gdprerr.Execute,
				fmt.Sprintf("cooloff runs until %s", s.CooloffExpiresAt.Format(time.RFC3339)))
		}
		return s, nil
	case Executed:
		return Approved{}, gdprerr.NewNotEligibleError(gdprerr.Execute, "request was already executed")
	default:
		return Approved{}, gdprerr.NewNotEligibleError(gdprerr.Execute,
			fmt.Sprintf("request is %s, not approved", r.Status()))
	}
}

// MarkExecuted records a finished anonymization on an executable request.
func MarkExecuted(r Request, actor string, summary ExecutionSummary, now time.Time) (Request, error) {
	approved, err := CheckExecutable(r, now)
	if err != nil {
		return r, err
	}
	next := r
	next.State = Executed{
		Approved:   approved,
		ExecutedBy: actor,
		ExecutedAt: now,
		Summary:    summary,
	}
	return next, nil
}
