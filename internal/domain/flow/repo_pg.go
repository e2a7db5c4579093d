package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

const caseCols = `id, patient_id, stage, version, is_emergency, department_hint,
	claim_holder, claim_acquired_at, chief_complaint, diagnosis, treatment_plan,
	created_at, updated_at`

func scanCase(row pgx.Row) (*Case, error) {
	var c Case
	err := row.Scan(&c.ID, &c.PatientID, &c.Stage, &c.Version, &c.IsEmergency, &c.DepartmentHint,
		&c.ClaimHolder, &c.ClaimAcquiredAt, &c.ChiefComplaint, &c.Diagnosis, &c.TreatmentPlan,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Stage = StageRegistered
	c.Version = 0
	row := r.pool.QueryRow(ctx, `
		INSERT INTO flow_case (id, patient_id, stage, version, is_emergency, department_hint)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		c.ID, c.PatientID, c.Stage, c.Version, c.IsEmergency, c.DepartmentHint)
	return row.Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	return scanCase(r.pool.QueryRow(ctx, `SELECT `+caseCols+` FROM flow_case WHERE id = $1`, id))
}

func (r *caseRepoPG) ListByStage(ctx context.Context, stage Stage, department *string, limit, offset int) ([]*Case, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM flow_case
		WHERE stage = $1 AND ($2::text IS NULL OR department_hint = $2)`,
		stage, department).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+caseCols+` FROM flow_case
		WHERE stage = $1 AND ($2::text IS NULL OR department_hint = $2)
		ORDER BY created_at ASC LIMIT $3 OFFSET $4`,
		stage, department, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// CommitTransition is the engine's compare-and-swap: the version check and
// the stage write happen in one UPDATE, so no other transition can
// interleave between them for the same case.
func (r *caseRepoPG) CommitTransition(ctx context.Context, id uuid.UUID, expectedVersion int, to Stage, clearClaim bool) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE flow_case
		SET stage = $3,
		    version = version + 1,
		    claim_holder = CASE WHEN $4 THEN NULL ELSE claim_holder END,
		    claim_acquired_at = CASE WHEN $4 THEN NULL ELSE claim_acquired_at END,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		id, expectedVersion, to, clearClaim)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *caseRepoPG) UpdateTriage(ctx context.Context, id uuid.UUID, expectedVersion int, isEmergency bool, departmentHint *string) (bool, error) {
	// is_emergency OR $3 keeps the flag monotone at the storage layer.
	tag, err := r.pool.Exec(ctx, `
		UPDATE flow_case
		SET is_emergency = is_emergency OR $3,
		    department_hint = COALESCE($4, department_hint),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		id, expectedVersion, isEmergency, departmentHint)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *caseRepoPG) UpdateConsultation(ctx context.Context, id uuid.UUID, expectedVersion int, chiefComplaint, diagnosis, treatmentPlan *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE flow_case
		SET chief_complaint = COALESCE($3, chief_complaint),
		    diagnosis = COALESCE($4, diagnosis),
		    treatment_plan = COALESCE($5, treatment_plan),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		id, expectedVersion, chiefComplaint, diagnosis, treatmentPlan)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AcquireClaim inserts the claim iff none is active; "WHERE claim_holder IS
// NULL" makes two concurrent claimants race on a single row update, of which
// exactly one wins.
func (r *caseRepoPG) AcquireClaim(ctx context.Context, id uuid.UUID, holder string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE flow_case
		SET claim_holder = $2, claim_acquired_at = $3, updated_at = NOW()
		WHERE id = $1 AND claim_holder IS NULL`,
		id, holder, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *caseRepoPG) ReleaseClaim(ctx context.Context, id uuid.UUID, holder string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE flow_case
		SET claim_holder = NULL, claim_acquired_at = NULL, updated_at = NOW()
		WHERE id = $1 AND claim_holder = $2`,
		id, holder)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *caseRepoPG) ForceReleaseClaim(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE flow_case
		SET claim_holder = NULL, claim_acquired_at = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	return err
}

type auditRepoPG struct{ pool *pgxpool.Pool }

func NewAuditRepoPG(pool *pgxpool.Pool) AuditRepository {
	return &auditRepoPG{pool: pool}
}

const transitionCols = `id, case_id, from_stage, to_stage, version, actor, outcome, reason, created_at`

func (r *auditRepoPG) AppendTransition(ctx context.Context, rec *TransitionRecord) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO transition_record (case_id, from_stage, to_stage, version, actor, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`,
		rec.CaseID, rec.FromStage, rec.ToStage, rec.Version, rec.Actor, rec.Outcome, rec.Reason)
	return row.Scan(&rec.ID, &rec.CreatedAt)
}

func (r *auditRepoPG) ListTransitions(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*TransitionRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transition_record WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+transitionCols+` FROM transition_record
		WHERE case_id = $1 ORDER BY id ASC LIMIT $2 OFFSET $3`,
		caseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*TransitionRecord
	for rows.Next() {
		var t TransitionRecord
		if err := rows.Scan(&t.ID, &t.CaseID, &t.FromStage, &t.ToStage, &t.Version,
			&t.Actor, &t.Outcome, &t.Reason, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &t)
	}
	return items, total, rows.Err()
}

func (r *auditRepoPG) OpenClaim(ctx context.Context, rec *ClaimRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO claim_record (id, case_id, holder, acquired_at)
		VALUES ($1, $2, $3, $4)`,
		rec.ID, rec.CaseID, rec.Holder, rec.AcquiredAt)
	return err
}

func (r *auditRepoPG) CloseClaim(ctx context.Context, caseID uuid.UUID, releasedAt time.Time, forced bool) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE claim_record
		SET released_at = $2, forced = $3
		WHERE case_id = $1 AND released_at IS NULL`,
		caseID, releasedAt, forced)
	return err
}

func (r *auditRepoPG) ListClaims(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*ClaimRecord, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM claim_record WHERE case_id = $1`, caseID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, case_id, holder, acquired_at, released_at, forced
		FROM claim_record
		WHERE case_id = $1 ORDER BY acquired_at ASC LIMIT $2 OFFSET $3`,
		caseID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ClaimRecord
	for rows.Next() {
		var cr ClaimRecord
		if err := rows.Scan(&cr.ID, &cr.CaseID, &cr.Holder, &cr.AcquiredAt, &cr.ReleasedAt, &cr.Forced); err != nil {
			return nil, 0, err
		}
		items = append(items, &cr)
	}
	return items, total, rows.Err()
}
