package flow

// Stage is one node in the closed set of workflow states a case moves
// through on its way from registration to discharge or admission.
type Stage string

const (
	StageRegistered           Stage = "registered"
	StageTriaged              Stage = "triaged"
	StageAwaitingConsultation Stage = "awaiting_consultation"
	StageInConsultation       Stage = "in_consultation"
	StageLabPending           Stage = "lab_pending"
	StageRadiologyPending     Stage = "radiology_pending"
	StagePharmacyPending      Stage = "pharmacy_pending"
	StageBilling              Stage = "billing"
	StageEmergency            Stage = "emergency"
	StageDischarged           Stage = "discharged"
	StageAdmitted             Stage = "admitted"
)

// stageEdges is the directed graph of admissible transitions. The linear
// intake chain runs registered -> triaged -> awaiting_consultation ->
// in_consultation; the ancillary branch stages loop back to the consulting
// physician or advance toward billing. Every non-terminal stage also carries
// an edge to emergency; the emergency gate only lets flagged cases take it.
var stageEdges = map[Stage][]Stage{
	StageRegistered:           {StageTriaged, StageEmergency},
	StageTriaged:              {StageAwaitingConsultation, StageEmergency},
	StageAwaitingConsultation: {StageInConsultation, StageEmergency},
	StageInConsultation: {
		StageLabPending, StageRadiologyPending, StagePharmacyPending,
		StageBilling, StageEmergency,
	},
	StageLabPending: {
		StageInConsultation, StageRadiologyPending, StagePharmacyPending,
		StageBilling, StageEmergency,
	},
	StageRadiologyPending: {
		StageInConsultation, StageLabPending, StagePharmacyPending,
		StageBilling, StageEmergency,
	},
	StagePharmacyPending: {
		StageInConsultation, StageBilling, StageDischarged, StageEmergency,
	},
	StageBilling: {StageDischarged, StageAdmitted, StageEmergency},
	StageEmergency: {
		StageInConsultation, StageLabPending, StageRadiologyPending,
		StagePharmacyPending, StageBilling, StageAdmitted, StageDischarged,
	},
	StageDischarged: {},
	StageAdmitted:   {},
}

// ValidStage reports whether s belongs to the registry's node set.
func ValidStage(s Stage) bool {
	_, ok := stageEdges[s]
	return ok
}

// Edges returns the set of stages reachable from the given stage. The
// returned slice is a copy; callers may not mutate the registry.
func Edges(from Stage) []Stage {
	edges := stageEdges[from]
	out := make([]Stage, len(edges))
	copy(out, edges)
	return out
}

// HasEdge reports whether the directed edge (from, to) exists in the
// registry.
func HasEdge(from, to Stage) bool {
	for _, s := range stageEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the stage closes the case for this engine.
// Ownership of discharged and admitted cases passes to other subsystems.
func IsTerminal(s Stage) bool {
	return s == StageDischarged || s == StageAdmitted
}

// requiresClaim reports whether the transition represents starting or
// completing a unit of staff work, in which case the requesting actor must
// hold the active claim. Triage, consultation, dispensing and billing
// completion are all claimed work.
func requiresClaim(from, to Stage) bool {
	switch {
	case to == StageEmergency:
		// Emergency escalation is never blocked on claim ownership.
		return false
	case to == StageInConsultation:
		return true
	case from == StageRegistered && to == StageTriaged:
		return true
	case from == StageInConsultation, from == StagePharmacyPending, from == StageBilling:
		return true
	}
	return false
}

// completesClaim reports whether a committed transition logically finishes
// the claimed work, releasing the claim on commit. Entering consultation
// starts work, so the claim is retained there.
func completesClaim(from, to Stage) bool {
	if to == StageInConsultation {
		return false
	}
	return requiresClaim(from, to)
}
