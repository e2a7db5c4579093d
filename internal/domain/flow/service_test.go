package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repositories --

// mockCaseRepo mirrors the atomicity contract of the SQL implementation:
// every conditional write checks and mutates under one lock, so concurrent
// callers race exactly the way they do against a single UPDATE.
type mockCaseRepo struct {
	mu    sync.Mutex
	store map[uuid.UUID]*Case
}

func newMockCaseRepo() *mockCaseRepo {
	return &mockCaseRepo{store: make(map[uuid.UUID]*Case)}
}

func (m *mockCaseRepo) Create(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.Stage = StageRegistered
	c.Version = 0
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.store[c.ID] = &cp
	return nil
}

func (m *mockCaseRepo) GetByID(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCaseRepo) ListByStage(_ context.Context, stage Stage, department *string, limit, offset int) ([]*Case, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*Case
	for _, c := range m.store {
		if c.Stage != stage {
			continue
		}
		if department != nil && (c.DepartmentHint == nil || *c.DepartmentHint != *department) {
			continue
		}
		cp := *c
		r = append(r, &cp)
	}
	return r, len(r), nil
}

func (m *mockCaseRepo) CommitTransition(_ context.Context, id uuid.UUID, expectedVersion int, to Stage, clearClaim bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok || c.Version != expectedVersion {
		return false, nil
	}
	c.Stage = to
	c.Version++
	if clearClaim {
		c.ClaimHolder = nil
		c.ClaimAcquiredAt = nil
	}
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *mockCaseRepo) UpdateTriage(_ context.Context, id uuid.UUID, expectedVersion int, isEmergency bool, departmentHint *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok || c.Version != expectedVersion {
		return false, nil
	}
	c.IsEmergency = c.IsEmergency || isEmergency
	if departmentHint != nil {
		d := *departmentHint
		c.DepartmentHint = &d
	}
	c.Version++
	return true, nil
}

func (m *mockCaseRepo) UpdateConsultation(_ context.Context, id uuid.UUID, expectedVersion int, chiefComplaint, diagnosis, treatmentPlan *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok || c.Version != expectedVersion {
		return false, nil
	}
	if chiefComplaint != nil {
		c.ChiefComplaint = chiefComplaint
	}
	if diagnosis != nil {
		c.Diagnosis = diagnosis
	}
	if treatmentPlan != nil {
		c.TreatmentPlan = treatmentPlan
	}
	c.Version++
	return true, nil
}

func (m *mockCaseRepo) AcquireClaim(_ context.Context, id uuid.UUID, holder string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok || c.ClaimHolder != nil {
		return false, nil
	}
	c.ClaimHolder = &holder
	c.ClaimAcquiredAt = &at
	return true, nil
}

func (m *mockCaseRepo) ReleaseClaim(_ context.Context, id uuid.UUID, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.store[id]
	if !ok || c.ClaimHolder == nil || *c.ClaimHolder != holder {
		return false, nil
	}
	c.ClaimHolder = nil
	c.ClaimAcquiredAt = nil
	return true, nil
}

func (m *mockCaseRepo) ForceReleaseClaim(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.store[id]; ok {
		c.ClaimHolder = nil
		c.ClaimAcquiredAt = nil
	}
	return nil
}

type mockAuditRepo struct {
	mu          sync.Mutex
	transitions []*TransitionRecord
	claims      []*ClaimRecord
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{}
}

func (m *mockAuditRepo) AppendTransition(_ context.Context, rec *TransitionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.transitions) + 1)
	rec.CreatedAt = time.Now().UTC()
	cp := *rec
	m.transitions = append(m.transitions, &cp)
	return nil
}

func (m *mockAuditRepo) ListTransitions(_ context.Context, caseID uuid.UUID, limit, offset int) ([]*TransitionRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*TransitionRecord
	for _, t := range m.transitions {
		if t.CaseID == caseID {
			cp := *t
			r = append(r, &cp)
		}
	}
	return r, len(r), nil
}

func (m *mockAuditRepo) OpenClaim(_ context.Context, rec *ClaimRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	cp := *rec
	m.claims = append(m.claims, &cp)
	return nil
}

func (m *mockAuditRepo) CloseClaim(_ context.Context, caseID uuid.UUID, releasedAt time.Time, forced bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cr := range m.claims {
		if cr.CaseID == caseID && cr.ReleasedAt == nil {
			t := releasedAt
			cr.ReleasedAt = &t
			cr.Forced = forced
		}
	}
	return nil
}

func (m *mockAuditRepo) ListClaims(_ context.Context, caseID uuid.UUID, limit, offset int) ([]*ClaimRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*ClaimRecord
	for _, cr := range m.claims {
		if cr.CaseID == caseID {
			cp := *cr
			r = append(r, &cp)
		}
	}
	return r, len(r), nil
}

func (m *mockAuditRepo) rejections(caseID uuid.UUID) []*TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r []*TransitionRecord
	for _, t := range m.transitions {
		if t.CaseID == caseID && t.Outcome == OutcomeRejected {
			r = append(r, t)
		}
	}
	return r
}

func newTestService() (*Service, *mockCaseRepo, *mockAuditRepo) {
	cases := newMockCaseRepo()
	audit := newMockAuditRepo()
	return NewService(cases, audit, zerolog.Nop()), cases, audit
}

// registerAt creates a case and walks it through committed transitions to
// the given stage, claiming and completing records as the gates require.
func registerAt(t *testing.T, svc *Service, stage Stage) *Case {
	t.Helper()
	ctx := context.Background()
	dept := "general"
	c, err := svc.RegisterCase(ctx, uuid.New(), &dept)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	path := map[Stage][]Stage{
		StageRegistered:           {},
		StageTriaged:              {StageTriaged},
		StageAwaitingConsultation: {StageTriaged, StageAwaitingConsultation},
		StageInConsultation:       {StageTriaged, StageAwaitingConsultation, StageInConsultation},
		StagePharmacyPending:      {StageTriaged, StageAwaitingConsultation, StageInConsultation, StagePharmacyPending},
		StageBilling:              {StageTriaged, StageAwaitingConsultation, StageInConsultation, StageBilling},
		StageDischarged:           {StageTriaged, StageAwaitingConsultation, StageInConsultation, StageBilling, StageDischarged},
		StageAdmitted:             {StageTriaged, StageAwaitingConsultation, StageInConsultation, StageBilling, StageAdmitted},
	}[stage]
	version := c.Version
	for _, next := range path {
		cur, err := svc.GetCase(ctx, c.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		version = cur.Version
		if requiresClaim(cur.Stage, next) && !cur.ClaimedBy("tester") {
			if _, err := svc.Claim(ctx, c.ID, "tester"); err != nil {
				t.Fatalf("claim before %s -> %s: %v", cur.Stage, next, err)
			}
		}
		if cur.Stage == StageInConsultation && !cur.consultationComplete() {
			updated, err := svc.RecordConsultation(ctx, c.ID, version,
				strPtr("cough"), strPtr("bronchitis"), strPtr("antibiotics"), "tester")
			if err != nil {
				t.Fatalf("consultation: %v", err)
			}
			version = updated.Version
		}
		v, err := svc.Transition(ctx, c.ID, version, next,
			"tester", OrderSignals{PaymentSatisfied: true})
		if err != nil {
			t.Fatalf("transition %s -> %s: %v", cur.Stage, next, err)
		}
		version = v
	}
	out, err := svc.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Stage != stage {
		t.Fatalf("setup: expected stage %s, got %s", stage, out.Stage)
	}
	return out
}

// -- Case lifecycle --

func TestRegisterCase(t *testing.T) {
	svc, _, _ := newTestService()
	dept := "pediatrics"
	c, err := svc.RegisterCase(context.Background(), uuid.New(), &dept)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ID == uuid.Nil {
		t.Error("expected ID to be set")
	}
	if c.Stage != StageRegistered {
		t.Errorf("expected stage registered, got %s", c.Stage)
	}
	if c.Version != 0 {
		t.Errorf("expected version 0, got %d", c.Version)
	}
	if c.Claimed() {
		t.Error("new case must be unclaimed")
	}
}

func TestGetCase_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.GetCase(context.Background(), uuid.New())
	assertRejected(t, err, RejectCaseNotFound)
}

func TestListQueue_UnknownStage(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, err := svc.ListQueue(context.Background(), "waiting_room", nil, 20, 0)
	assertRejected(t, err, RejectInvalidTransition)
}

// -- Triage --

func TestRecordTriage_SetsEmergencyFlag(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	flag := true
	dept := "emergency_medicine"
	updated, err := svc.RecordTriage(ctx, c.ID, 0, &flag, &dept, "nurse-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !updated.IsEmergency {
		t.Error("expected emergency flag set")
	}
	if updated.Version != 1 {
		t.Errorf("triage must advance the version: got %d", updated.Version)
	}
}

func TestRecordTriage_EmergencyFlagMonotone(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	flag := true
	if _, err := svc.RecordTriage(ctx, c.ID, 0, &flag, nil, "nurse-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clear := false
	_, err := svc.RecordTriage(ctx, c.ID, 1, &clear, nil, "nurse-2")
	assertRejected(t, err, RejectEmergencyCleared)

	got, _ := svc.GetCase(ctx, c.ID)
	if !got.IsEmergency {
		t.Error("emergency flag must survive the clear attempt")
	}
}

func TestRecordTriage_StaleVersion(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	dept := "cardiology"
	if _, err := svc.RecordTriage(ctx, c.ID, 0, nil, &dept, "nurse-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err := svc.RecordTriage(ctx, c.ID, 0, nil, &dept, "nurse-2")
	assertRejected(t, err, RejectVersionConflict)
}

// -- Claims --

func TestClaim_Exclusive(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("first claim must succeed: %v", err)
	}
	_, err := svc.Claim(ctx, c.ID, "nurse-2")
	assertRejected(t, err, RejectAlreadyClaimed)
}

func TestClaim_ConcurrentClaimantsExactlyOneWins(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	const claimants = 8
	var wg sync.WaitGroup
	errs := make([]error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Claim(ctx, c.ID, "actor")
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assertRejected(t, err, RejectAlreadyClaimed)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claimant, got %d", wins)
	}
}

func TestClaim_TerminalCase(t *testing.T) {
	svc, _, _ := newTestService()
	c := registerAt(t, svc, StageDischarged)
	_, err := svc.Claim(context.Background(), c.ID, "nurse-1")
	assertRejected(t, err, RejectCaseClosed)
}

func TestRelease_OnlyHolder(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	err := svc.Release(ctx, c.ID, "nurse-2")
	assertRejected(t, err, RejectNotClaimHolder)

	if err := svc.Release(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("holder release must succeed: %v", err)
	}
	claims, _, _ := audit.ListClaims(ctx, c.ID, 20, 0)
	if len(claims) != 1 || claims[0].ReleasedAt == nil || claims[0].Forced {
		t.Error("expected one closed, non-forced claim record")
	}
}

func TestForceRelease(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := svc.ForceRelease(ctx, c.ID, "supervisor"); err != nil {
		t.Fatalf("force release must succeed: %v", err)
	}
	got, _ := svc.GetCase(ctx, c.ID)
	if got.Claimed() {
		t.Error("claim must be cleared")
	}
	claims, _, _ := audit.ListClaims(ctx, c.ID, 20, 0)
	if len(claims) != 1 || claims[0].ReleasedAt == nil || !claims[0].Forced {
		t.Error("expected the claim record to be closed with the forced marker")
	}

	// Idempotent on an unclaimed case.
	if err := svc.ForceRelease(ctx, c.ID, "supervisor"); err != nil {
		t.Fatalf("force release on unclaimed case must succeed: %v", err)
	}
}

// -- Transitions --

func TestTransition_HappyPath(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	v, err := svc.Transition(ctx, c.ID, 0, StageTriaged, "nurse-1", OrderSignals{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Errorf("expected new version 1, got %d", v)
	}
	got, _ := svc.GetCase(ctx, c.ID)
	if got.Stage != StageTriaged {
		t.Errorf("expected stage triaged, got %s", got.Stage)
	}
	if got.Claimed() {
		t.Error("completing triage must release the claim")
	}
	recs, _, _ := audit.ListTransitions(ctx, c.ID, 20, 0)
	if len(recs) != 1 {
		t.Fatalf("expected one audit record, got %d", len(recs))
	}
	if recs[0].Outcome != OutcomeCommitted || recs[0].Version != 1 {
		t.Errorf("unexpected audit record: %+v", recs[0])
	}
}

func TestTransition_InvalidEdge(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	_, err := svc.Transition(ctx, c.ID, 0, StageBilling, "nurse-1", OrderSignals{})
	assertRejected(t, err, RejectInvalidTransition)

	_, err = svc.Transition(ctx, c.ID, 0, "waiting_room", "nurse-1", OrderSignals{})
	assertRejected(t, err, RejectInvalidTransition)
}

func TestTransition_RequiresClaimHolder(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	// Unclaimed.
	_, err := svc.Transition(ctx, c.ID, 0, StageTriaged, "nurse-1", OrderSignals{})
	assertRejected(t, err, RejectNotClaimHolder)

	// Claimed by someone else.
	if _, err := svc.Claim(ctx, c.ID, "nurse-2"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err = svc.Transition(ctx, c.ID, 0, StageTriaged, "nurse-1", OrderSignals{})
	assertRejected(t, err, RejectNotClaimHolder)
}

func TestTransition_StaleVersionRejected(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Transition(ctx, c.ID, 0, StageTriaged, "nurse-1", OrderSignals{}); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	_, err := svc.Transition(ctx, c.ID, 0, StageAwaitingConsultation, "nurse-1", OrderSignals{})
	assertRejected(t, err, RejectVersionConflict)

	// The rejection is auditable and the stored version did not move.
	rej := audit.rejections(c.ID)
	if len(rej) != 1 || *rej[0].Reason != RejectVersionConflict {
		t.Fatalf("expected one version_conflict rejection record, got %+v", rej)
	}
	got, _ := svc.GetCase(ctx, c.ID)
	if got.Version != 1 {
		t.Errorf("rejection must not advance the version: got %d", got.Version)
	}
}

func TestTransition_ConcurrentSameVersionExactlyOneCommits(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	flag := true
	if _, err := svc.RecordTriage(ctx, c.ID, 0, &flag, nil, "nurse-1"); err != nil {
		t.Fatalf("triage: %v", err)
	}
	// Case is at version 1, flagged emergency; escalation to emergency
	// needs no claim, so two actors can race on the same expected version.
	cur, _ := svc.GetCase(ctx, c.ID)
	if cur.Stage != StageRegistered {
		t.Fatalf("setup: %s", cur.Stage)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Transition(ctx, c.ID, 1, StageEmergency, "actor", OrderSignals{})
		}(i)
	}
	wg.Wait()

	commits := 0
	for _, err := range errs {
		if err == nil {
			commits++
			continue
		}
		assertRejected(t, err, RejectVersionConflict)
	}
	if commits != 1 {
		t.Fatalf("expected exactly one commit, got %d", commits)
	}
	got, _ := svc.GetCase(ctx, c.ID)
	if got.Version != 2 {
		t.Errorf("expected version 2 after one commit, got %d", got.Version)
	}
}

func TestTransition_PaymentGate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c := registerAt(t, svc, StageBilling)
	if _, err := svc.Claim(ctx, c.ID, "billing-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := svc.Transition(ctx, c.ID, c.Version, StageDischarged, "billing-1", OrderSignals{PaymentSatisfied: false})
	assertRejected(t, err, RejectPaymentRequired)

	if _, err := svc.Transition(ctx, c.ID, c.Version, StageDischarged, "billing-1", OrderSignals{PaymentSatisfied: true}); err != nil {
		t.Fatalf("paid discharge must commit: %v", err)
	}
}

func TestTransition_EmergencyBypassesPaymentGate(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	c := registerAt(t, svc, StagePharmacyPending)
	flag := true
	updated, err := svc.RecordTriage(ctx, c.ID, c.Version, &flag, nil, "nurse-1")
	if err != nil {
		t.Fatalf("triage: %v", err)
	}
	if _, err := svc.Claim(ctx, c.ID, "pharmacist-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Dispensing completion with payment outstanding commits because the
	// case is flagged as an emergency.
	v, err := svc.Transition(ctx, c.ID, updated.Version, StageBilling, "pharmacist-1", OrderSignals{PaymentSatisfied: false})
	if err != nil {
		t.Fatalf("emergency case must defer payment: %v", err)
	}
	if v != updated.Version+1 {
		t.Errorf("expected version %d, got %d", updated.Version+1, v)
	}
	got, _ := svc.GetCase(ctx, c.ID)
	if got.Stage != StageBilling {
		t.Errorf("expected stage billing, got %s", got.Stage)
	}
}

func TestTransition_TerminalCaseClosed(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	// Closed cases refuse every target, including ones that would otherwise
	// be admissible stages, with case_closed rather than invalid_transition.
	discharged := registerAt(t, svc, StageDischarged)
	for _, to := range []Stage{StageBilling, StageEmergency, StageInConsultation} {
		_, err := svc.Transition(ctx, discharged.ID, discharged.Version, to, "actor", OrderSignals{})
		assertRejected(t, err, RejectCaseClosed)
	}

	admitted := registerAt(t, svc, StageAdmitted)
	_, err := svc.Transition(ctx, admitted.ID, admitted.Version, StageBilling, "actor", OrderSignals{})
	assertRejected(t, err, RejectCaseClosed)
}

func TestTransition_NotFound(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Transition(context.Background(), uuid.New(), 0, StageTriaged, "actor", OrderSignals{})
	assertRejected(t, err, RejectCaseNotFound)
}

func TestTransition_EmergencyEscalationSkipsClaim(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	flag := true
	if _, err := svc.RecordTriage(ctx, c.ID, 0, &flag, nil, "nurse-1"); err != nil {
		t.Fatalf("triage: %v", err)
	}
	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A different actor escalates without holding the claim.
	if _, err := svc.Transition(ctx, c.ID, 1, StageEmergency, "physician-1", OrderSignals{}); err != nil {
		t.Fatalf("emergency escalation must not be claim gated: %v", err)
	}
}

// -- Preview --

func TestPreviewNextStage_ReadOnly(t *testing.T) {
	svc, _, audit := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)

	next, err := svc.PreviewNextStage(ctx, c.ID, OrderSignals{HasPendingLabWork: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != StageLabPending {
		t.Errorf("expected lab_pending, got %s", next)
	}
	got, _ := svc.GetCase(ctx, c.ID)
	if got.Version != 0 || got.Stage != StageRegistered {
		t.Error("preview must not mutate the case")
	}
	recs, _, _ := audit.ListTransitions(ctx, c.ID, 20, 0)
	if len(recs) != 0 {
		t.Error("preview must not be audited")
	}
}

// -- History --

func TestHistory_OrderedOldestFirst(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	c, _ := svc.RegisterCase(ctx, uuid.New(), nil)
	if _, err := svc.Claim(ctx, c.ID, "nurse-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Transition(ctx, c.ID, 0, StageTriaged, "nurse-1", OrderSignals{}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	// A rejected attempt lands in the same log.
	if _, err := svc.Transition(ctx, c.ID, 0, StageAwaitingConsultation, "nurse-1", OrderSignals{}); err == nil {
		t.Fatal("expected a rejection")
	}

	recs, total, err := svc.History(ctx, c.ID, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", total)
	}
	if recs[0].Outcome != OutcomeCommitted || recs[1].Outcome != OutcomeRejected {
		t.Errorf("expected committed then rejected, got %s then %s", recs[0].Outcome, recs[1].Outcome)
	}
}

func TestHistory_UnknownCase(t *testing.T) {
	svc, _, _ := newTestService()
	_, _, err := svc.History(context.Background(), uuid.New(), 20, 0)
	assertRejected(t, err, RejectCaseNotFound)
}
