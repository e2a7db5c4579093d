package flow

// InferNextStage computes the single recommended next stage for a case from
// its snapshot and the ancillary-order signals. Pure and deterministic, so
// callers may invoke it speculatively (queue previews, UI hints) without
// committing anything.
//
// Priority is fixed and evaluated top-down, first match wins: emergency,
// then lab, radiology, pharmacy, and finally billing or discharge. Resolving
// diagnostics before dispensing mirrors clinical practice.
func InferNextStage(c *Case, sig OrderSignals) Stage {
	if c.IsEmergency && c.Stage != StageEmergency && !IsTerminal(c.Stage) {
		return StageEmergency
	}
	switch {
	case sig.HasPendingLabWork:
		return StageLabPending
	case sig.HasPendingRadiologyWork:
		return StageRadiologyPending
	case sig.HasPendingPharmacyWork:
		return StagePharmacyPending
	case sig.PaymentSatisfied:
		return StageDischarged
	}
	return StageBilling
}
