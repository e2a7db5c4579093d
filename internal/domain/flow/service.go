package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MetricsRecorder receives engine events for the metrics endpoint. A nil-safe
// no-op implementation is used when metrics are not wired.
type MetricsRecorder interface {
	TransitionCommitted(to Stage)
	TransitionRejected(code RejectionCode)
	ClaimAcquired()
	ClaimReleased()
	ClaimContended()
}

type nopMetrics struct{}

func (nopMetrics) TransitionCommitted(Stage)        {}
func (nopMetrics) TransitionRejected(RejectionCode) {}
func (nopMetrics) ClaimAcquired()                   {}
func (nopMetrics) ClaimReleased()                   {}
func (nopMetrics) ClaimContended()                  {}

// Service is the patient flow engine: claim management plus the transition
// coordinator, the only components allowed to mutate case state. It never
// retries internally and never masks a rejection as success; every commit
// and rejection is appended to the audit log.
type Service struct {
	cases   CaseRepository
	audit   AuditRepository
	logger  zerolog.Logger
	metrics MetricsRecorder
	now     func() time.Time
}

func NewService(cases CaseRepository, audit AuditRepository, logger zerolog.Logger) *Service {
	return &Service{
		cases:   cases,
		audit:   audit,
		logger:  logger,
		metrics: nopMetrics{},
		now:     time.Now,
	}
}

// SetMetrics attaches an optional metrics recorder.
func (s *Service) SetMetrics(m MetricsRecorder) {
	if m != nil {
		s.metrics = m
	}
}

// RegisterCase creates a new case at intake: registered stage, version 0,
// unclaimed.
func (s *Service) RegisterCase(ctx context.Context, patientID uuid.UUID, departmentHint *string) (*Case, error) {
	c := &Case{PatientID: patientID, DepartmentHint: departmentHint}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("case_id", c.ID.String()).
		Str("patient_id", patientID.String()).
		Msg("case registered")
	return c, nil
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := s.cases.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, reject(RejectCaseNotFound, "case %s", id)
	}
	return c, err
}

// ListQueue returns the cases waiting in a stage, optionally narrowed to one
// department queue. Claim holders are included so the UI can show
// "unclaimed" versus "assigned".
func (s *Service) ListQueue(ctx context.Context, stage Stage, department *string, limit, offset int) ([]*Case, int, error) {
	if !ValidStage(stage) {
		return nil, 0, reject(RejectInvalidTransition, "unknown stage %q", stage)
	}
	return s.cases.ListByStage(ctx, stage, department, limit, offset)
}

// RecordTriage updates the triage outcome under the version check. The
// emergency flag is monotone: an explicit attempt to clear it is rejected,
// and the storage layer never clears it either.
func (s *Service) RecordTriage(ctx context.Context, caseID uuid.UUID, expectedVersion int, isEmergency *bool, departmentHint *string, actor string) (*Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Version != expectedVersion {
		return nil, reject(RejectVersionConflict, "expected version %d, case is at %d", expectedVersion, c.Version)
	}
	if isEmergency != nil && !*isEmergency && c.IsEmergency {
		return nil, reject(RejectEmergencyCleared, "emergency flag cannot be cleared once set")
	}
	flag := c.IsEmergency
	if isEmergency != nil {
		flag = flag || *isEmergency
	}
	ok, err := s.cases.UpdateTriage(ctx, caseID, expectedVersion, flag, departmentHint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reject(RejectVersionConflict, "case %s changed since version %d", caseID, expectedVersion)
	}
	s.logger.Info().
		Str("case_id", caseID.String()).
		Str("actor", actor).
		Bool("is_emergency", flag).
		Msg("triage recorded")
	return s.GetCase(ctx, caseID)
}

// RecordConsultation updates the consultation record fields (chief
// complaint, diagnosis, treatment plan) under the version check.
func (s *Service) RecordConsultation(ctx context.Context, caseID uuid.UUID, expectedVersion int, chiefComplaint, diagnosis, treatmentPlan *string, actor string) (*Case, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.Version != expectedVersion {
		return nil, reject(RejectVersionConflict, "expected version %d, case is at %d", expectedVersion, c.Version)
	}
	ok, err := s.cases.UpdateConsultation(ctx, caseID, expectedVersion, chiefComplaint, diagnosis, treatmentPlan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reject(RejectVersionConflict, "case %s changed since version %d", caseID, expectedVersion)
	}
	s.logger.Info().
		Str("case_id", caseID.String()).
		Str("actor", actor).
		Msg("consultation recorded")
	return s.GetCase(ctx, caseID)
}

// Claim grants actor the exclusive lease on the case. Exactly one of two
// concurrent claimants succeeds; the other receives AlreadyClaimed.
func (s *Service) Claim(ctx context.Context, caseID uuid.UUID, actor string) (*ClaimRecord, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if IsTerminal(c.Stage) {
		return nil, reject(RejectCaseClosed, "case is %s", c.Stage)
	}
	now := s.now().UTC()
	ok, err := s.cases.AcquireClaim(ctx, caseID, actor, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.ClaimContended()
		return nil, reject(RejectAlreadyClaimed, "case %s has an active claim", caseID)
	}
	rec := &ClaimRecord{CaseID: caseID, Holder: actor, AcquiredAt: now}
	if err := s.audit.OpenClaim(ctx, rec); err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("claim audit append failed")
	}
	s.metrics.ClaimAcquired()
	s.logger.Info().
		Str("case_id", caseID.String()).
		Str("actor", actor).
		Msg("claim acquired")
	return rec, nil
}

// Release clears the claim if actor holds it.
func (s *Service) Release(ctx context.Context, caseID uuid.UUID, actor string) error {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return err
	}
	ok, err := s.cases.ReleaseClaim(ctx, caseID, actor)
	if err != nil {
		return err
	}
	if !ok {
		return reject(RejectNotClaimHolder, "%s does not hold the claim on case %s", actor, caseID)
	}
	if err := s.audit.CloseClaim(ctx, caseID, s.now().UTC(), false); err != nil {
		s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("claim audit close failed")
	}
	s.metrics.ClaimReleased()
	s.logger.Info().
		Str("case_id", caseID.String()).
		Str("actor", actor).
		Msg("claim released")
	return nil
}

// ForceRelease is the administrative override for stale leases. It always
// succeeds for an existing case and is logged distinctly from ordinary
// releases.
func (s *Service) ForceRelease(ctx context.Context, caseID uuid.UUID, actor string) error {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if err := s.cases.ForceReleaseClaim(ctx, caseID); err != nil {
		return err
	}
	if c.Claimed() {
		if err := s.audit.CloseClaim(ctx, caseID, s.now().UTC(), true); err != nil {
			s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("claim audit close failed")
		}
		s.metrics.ClaimReleased()
	}
	s.logger.Warn().
		Str("case_id", caseID.String()).
		Str("actor", actor).
		Msg("claim force-released")
	return nil
}

// PreviewNextStage returns the recommended next stage without mutating
// anything. Read-only; safe for speculative UI calls.
func (s *Service) PreviewNextStage(ctx context.Context, caseID uuid.UUID, sig OrderSignals) (Stage, error) {
	c, err := s.GetCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	return InferNextStage(c, sig), nil
}

// Transition is the optimistic compare-and-swap commit. The version check
// and the stage write execute as one conditional update in the repository,
// so two concurrent calls with the same expected version resolve to exactly
// one commit and one VersionConflict.
func (s *Service) Transition(ctx context.Context, caseID uuid.UUID, expectedVersion int, to Stage, actor string, sig OrderSignals) (int, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if errors.Is(err, ErrNotFound) {
		s.metrics.TransitionRejected(RejectCaseNotFound)
		return 0, reject(RejectCaseNotFound, "case %s", caseID)
	}
	if err != nil {
		return 0, err
	}

	if c.Version != expectedVersion {
		return 0, s.rejectTransition(ctx, c, to, actor,
			reject(RejectVersionConflict, "expected version %d, case is at %d", expectedVersion, c.Version))
	}
	// Terminal stages have no outgoing edges, so this must precede the edge
	// check or a closed case would read as an invalid transition.
	if IsTerminal(c.Stage) {
		return 0, s.rejectTransition(ctx, c, to, actor,
			reject(RejectCaseClosed, "case is %s; no further transitions accepted", c.Stage))
	}
	if !ValidStage(to) || !HasEdge(c.Stage, to) {
		return 0, s.rejectTransition(ctx, c, to, actor,
			reject(RejectInvalidTransition, "no edge %s -> %s", c.Stage, to))
	}
	if requiresClaim(c.Stage, to) && !c.ClaimedBy(actor) {
		return 0, s.rejectTransition(ctx, c, to, actor,
			reject(RejectNotClaimHolder, "%s does not hold the claim on case %s", actor, caseID))
	}
	if gerr := EvaluateGuards(c, to, sig); gerr != nil {
		r, _ := AsRejection(gerr)
		return 0, s.rejectTransition(ctx, c, to, actor, r)
	}

	clearClaim := completesClaim(c.Stage, to)
	ok, err := s.cases.CommitTransition(ctx, caseID, expectedVersion, to, clearClaim)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Another transition committed between our read and the CAS write.
		return 0, s.rejectTransition(ctx, c, to, actor,
			reject(RejectVersionConflict, "case %s changed since version %d", caseID, expectedVersion))
	}

	newVersion := expectedVersion + 1
	if clearClaim && c.Claimed() {
		if err := s.audit.CloseClaim(ctx, caseID, s.now().UTC(), false); err != nil {
			s.logger.Error().Err(err).Str("case_id", caseID.String()).Msg("claim audit close failed")
		}
		s.metrics.ClaimReleased()
	}
	s.appendTransition(ctx, &TransitionRecord{
		CaseID:    caseID,
		FromStage: c.Stage,
		ToStage:   to,
		Version:   newVersion,
		Actor:     actor,
		Outcome:   OutcomeCommitted,
	})
	s.metrics.TransitionCommitted(to)
	s.logger.Info().
		Str("case_id", caseID.String()).
		Str("actor", actor).
		Str("from", string(c.Stage)).
		Str("to", string(to)).
		Int("version", newVersion).
		Msg("transition committed")
	return newVersion, nil
}

// History returns the committed-and-rejected transition audit trail for a
// case, ordered oldest first.
func (s *Service) History(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*TransitionRecord, int, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, 0, err
	}
	return s.audit.ListTransitions(ctx, caseID, limit, offset)
}

// ClaimHistory returns the lease audit trail for a case.
func (s *Service) ClaimHistory(ctx context.Context, caseID uuid.UUID, limit, offset int) ([]*ClaimRecord, int, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, 0, err
	}
	return s.audit.ListClaims(ctx, caseID, limit, offset)
}

// rejectTransition audits and logs a refused transition, then returns the
// rejection unchanged. Rejections are observable, not silent: the stored
// version does not move but the audit trail records the attempt.
func (s *Service) rejectTransition(ctx context.Context, c *Case, to Stage, actor string, r *Rejection) error {
	code := r.Code
	s.appendTransition(ctx, &TransitionRecord{
		CaseID:    c.ID,
		FromStage: c.Stage,
		ToStage:   to,
		Version:   c.Version,
		Actor:     actor,
		Outcome:   OutcomeRejected,
		Reason:    &code,
	})
	s.metrics.TransitionRejected(code)
	s.logger.Warn().
		Str("case_id", c.ID.String()).
		Str("actor", actor).
		Str("from", string(c.Stage)).
		Str("to", string(to)).
		Str("reason", string(code)).
		Msg("transition rejected")
	return r
}

func (s *Service) appendTransition(ctx context.Context, rec *TransitionRecord) {
	if err := s.audit.AppendTransition(ctx, rec); err != nil {
		s.logger.Error().Err(err).
			Str("case_id", rec.CaseID.String()).
			Msg("transition audit append failed")
	}
}
