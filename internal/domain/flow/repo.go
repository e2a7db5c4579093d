package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no case matches the given id.
var ErrNotFound = errors.New("case not found")

// CaseRepository is the persistence collaborator for cases. Implementations
// must make CommitTransition, AcquireClaim and ReleaseClaim atomic: each is
// a single conditional write whose condition and effect cannot interleave
// with another writer on the same case.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id uuid.UUID) (*Case, error)
	ListByStage(ctx context.Context, stage Stage, department *string, limit, offset int) ([]*Case, int, error)

	// CommitTransition applies stage := to and version := expectedVersion+1
	// iff the stored version still equals expectedVersion, optionally
	// clearing the claim in the same write. Returns false when the version
	// check fails.
	CommitTransition(ctx context.Context, id uuid.UUID, expectedVersion int, to Stage, clearClaim bool) (bool, error)

	// UpdateTriage sets the emergency flag and department hint iff the
	// stored version still equals expectedVersion. The version advances by
	// one on success. isEmergency is monotone; repositories never clear it.
	UpdateTriage(ctx context.Context, id uuid.UUID, expectedVersion int, isEmergency bool, departmentHint *string) (bool, error)

	// UpdateConsultation sets the consultation record fields iff the stored
	// version still equals expectedVersion. The version advances by one on
	// success.
	UpdateConsultation(ctx context.Context, id uuid.UUID, expectedVersion int, chiefComplaint, diagnosis, treatmentPlan *string) (bool, error)

	// AcquireClaim records holder as the active claimant iff the case is
	// unclaimed. Returns false when another claim is active.
	AcquireClaim(ctx context.Context, id uuid.UUID, holder string, at time.Time) (bool, error)

	// ReleaseClaim clears the claim iff holder matches the active claimant.
	// Returns false when it does not.
	ReleaseClaim(ctx context.Context, id uuid.UUID, holder string) (bool, error)

	// ForceReleaseClaim clears any active claim unconditionally.
	ForceReleaseClaim(ctx context.Context, id uuid.UUID) error
}

// AuditRepository is the append-only store for transition and claim history.
type AuditRepository interface {
	AppendTransition(ctx context.Context, rec *TransitionRecord) error
	ListTransitions(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*TransitionRecord, int, error)

	OpenClaim(ctx context.Context, rec *ClaimRecord) error
	// CloseClaim stamps released_at (and the forced marker) on the open
	// claim record for the case, if one exists.
	CloseClaim(ctx context.Context, caseID uuid.UUID, releasedAt time.Time, forced bool) error
	ListClaims(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*ClaimRecord, int, error)
}
