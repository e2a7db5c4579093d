package flow

import "fmt"

// RejectionCode enumerates every way the engine refuses an operation. Codes
// are stable API values; callers branch on them to decide between retrying,
// correcting the underlying condition, or surfacing the conflict to a human.
type RejectionCode string

const (
	// RejectVersionConflict: the caller observed stale state. Recoverable
	// by reloading the case and retrying with the fresh version.
	RejectVersionConflict RejectionCode = "version_conflict"
	// RejectInvalidTransition: the requested edge does not exist in the
	// stage registry. A caller bug, surfaced as a hard error.
	RejectInvalidTransition RejectionCode = "invalid_transition"
	// RejectPaymentRequired: dispensing or billing completion attempted
	// before payment was satisfied on a non-emergency case.
	RejectPaymentRequired RejectionCode = "payment_required"
	// RejectIncompleteRecord: consultation cannot end without chief
	// complaint, diagnosis and treatment plan on record.
	RejectIncompleteRecord RejectionCode = "incomplete_record"
	// RejectMissingDepartment: a consultation queue stage needs a resolved
	// department hint.
	RejectMissingDepartment RejectionCode = "missing_department"
	// RejectCaseClosed: the case is in a terminal stage; no further
	// transitions are accepted.
	RejectCaseClosed RejectionCode = "case_closed"
	// RejectNotEmergency: the emergency stage is only reachable for cases
	// flagged as emergencies during triage.
	RejectNotEmergency RejectionCode = "not_emergency"
	// RejectAlreadyClaimed: another actor holds the active claim.
	RejectAlreadyClaimed RejectionCode = "already_claimed"
	// RejectNotClaimHolder: the operation needs the active claim and the
	// requesting actor does not hold it.
	RejectNotClaimHolder RejectionCode = "not_claim_holder"
	// RejectCaseNotFound: no case with the given id exists.
	RejectCaseNotFound RejectionCode = "case_not_found"
	// RejectEmergencyCleared: isEmergency is monotone and may never be
	// cleared once set.
	RejectEmergencyCleared RejectionCode = "emergency_cleared"
)

// Rejection is the typed result returned for every refused operation. It is
// an ordinary error value; the engine never masks a rejection as success and
// never retries internally.
type Rejection struct {
	Code   RejectionCode
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Code)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Detail)
}

func reject(code RejectionCode, format string, args ...interface{}) *Rejection {
	return &Rejection{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	r, ok := err.(*Rejection)
	return r, ok
}
