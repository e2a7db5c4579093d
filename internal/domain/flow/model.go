package flow

import (
	"time"

	"github.com/google/uuid"
)

// Case is the per-patient workflow record tracked by the engine. It maps to
// the flow_case table. All stage mutation goes through Service.Transition;
// the version column is the optimistic-concurrency token and increases by
// exactly one per committed transition.
type Case struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	Stage           Stage      `db:"stage" json:"stage"`
	Version         int        `db:"version" json:"version"`
	IsEmergency     bool       `db:"is_emergency" json:"is_emergency"`
	DepartmentHint  *string    `db:"department_hint" json:"department_hint,omitempty"`
	ClaimHolder     *string    `db:"claim_holder" json:"claim_holder,omitempty"`
	ClaimAcquiredAt *time.Time `db:"claim_acquired_at" json:"claim_acquired_at,omitempty"`
	ChiefComplaint  *string    `db:"chief_complaint" json:"chief_complaint,omitempty"`
	Diagnosis       *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	TreatmentPlan   *string    `db:"treatment_plan" json:"treatment_plan,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// GetVersion returns the current optimistic-concurrency version.
func (c *Case) GetVersion() int { return c.Version }

// SetVersion sets the current optimistic-concurrency version.
func (c *Case) SetVersion(v int) { c.Version = v }

// Claimed reports whether the case has an active claim.
func (c *Case) Claimed() bool { return c.ClaimHolder != nil }

// ClaimedBy reports whether actor holds the active claim.
func (c *Case) ClaimedBy(actor string) bool {
	return c.ClaimHolder != nil && *c.ClaimHolder == actor
}

// consultationComplete reports whether the consultation record carries the
// three signals the completeness gate requires.
func (c *Case) consultationComplete() bool {
	return strSet(c.ChiefComplaint) && strSet(c.Diagnosis) && strSet(c.TreatmentPlan)
}

func strSet(s *string) bool { return s != nil && *s != "" }

// OrderSignals carries the read-only status booleans supplied by the
// ancillary-order collaborators (lab, radiology, pharmacy, billing). The
// engine never queries those systems; callers pass the signals with each
// request.
type OrderSignals struct {
	HasPendingLabWork       bool `json:"has_pending_lab_work"`
	HasPendingRadiologyWork bool `json:"has_pending_radiology_work"`
	HasPendingPharmacyWork  bool `json:"has_pending_pharmacy_work"`
	PaymentSatisfied        bool `json:"payment_satisfied"`
}

// Transition outcomes recorded in the audit log.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
)

// TransitionRecord is an append-only audit entry for one transition attempt,
// committed or rejected. Immutable once written.
type TransitionRecord struct {
	ID        int64          `db:"id" json:"id"`
	CaseID    uuid.UUID      `db:"case_id" json:"case_id"`
	FromStage Stage          `db:"from_stage" json:"from_stage"`
	ToStage   Stage          `db:"to_stage" json:"to_stage"`
	Version   int            `db:"version" json:"version"`
	Actor     string         `db:"actor" json:"actor"`
	Outcome   string         `db:"outcome" json:"outcome"`
	Reason    *RejectionCode `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// ClaimRecord is the audit history of one claim on a case. At most one
// record per case is open (released_at IS NULL) at any time.
type ClaimRecord struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	CaseID     uuid.UUID  `db:"case_id" json:"case_id"`
	Holder     string     `db:"holder" json:"holder"`
	AcquiredAt time.Time  `db:"acquired_at" json:"acquired_at"`
	ReleasedAt *time.Time `db:"released_at" json:"released_at,omitempty"`
	Forced     bool       `db:"forced" json:"forced"`
}
