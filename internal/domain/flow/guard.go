package flow

// EvaluateGuards applies the business rules for moving the case to the
// proposed stage and returns nil (allow) or a *Rejection naming the first
// rule that blocks it. The current stage is read from the snapshot itself,
// so a caller cannot evaluate a stage the case is not actually in. Guards
// are pure: they never mutate the snapshot or the signals, and the
// Transition coordinator is their sole production caller.
func EvaluateGuards(c *Case, to Stage, sig OrderSignals) error {
	from := c.Stage
	if IsTerminal(from) {
		return reject(RejectCaseClosed, "case is %s; no further transitions accepted", from)
	}
	if to == StageEmergency && !c.IsEmergency {
		return reject(RejectNotEmergency, "case is not flagged as an emergency")
	}
	if from == StageInConsultation && !c.consultationComplete() {
		return reject(RejectIncompleteRecord,
			"consultation needs chief complaint, diagnosis and treatment plan before it can end")
	}
	if to == StageAwaitingConsultation && !strSet(c.DepartmentHint) {
		return reject(RejectMissingDepartment, "no department resolved for the consultation queue")
	}
	if paymentGated(from, to) && !sig.PaymentSatisfied && !c.IsEmergency {
		return reject(RejectPaymentRequired, "payment not satisfied; emergency cases may defer")
	}
	return nil
}

// paymentGated reports whether the transition is a dispensing or billing
// completion, the two points where the payment gate applies.
func paymentGated(from, to Stage) bool {
	switch from {
	case StagePharmacyPending:
		return to == StageBilling || to == StageDischarged
	case StageBilling:
		return IsTerminal(to)
	}
	return false
}
