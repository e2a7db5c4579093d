package metrics

import "github.com/alemutu/patientflow/internal/domain/flow"

// The flow service reports engine events through its MetricsRecorder
// interface; these methods satisfy it.

func (m *FlowMetrics) TransitionCommitted(to flow.Stage) {
	m.transitionsCommitted.WithLabelValues(string(to)).Inc()
}

func (m *FlowMetrics) TransitionRejected(code flow.RejectionCode) {
	m.transitionsRejected.WithLabelValues(string(code)).Inc()
}

func (m *FlowMetrics) ClaimAcquired() {
	m.claimsAcquired.Inc()
	m.activeClaims.Inc()
}

func (m *FlowMetrics) ClaimReleased() {
	m.activeClaims.Dec()
}

func (m *FlowMetrics) ClaimContended() {
	m.claimsContended.Inc()
}
