package metrics

// BountyOperation records the outcome of a create or claim flow.
func BountyOperation(operation, outcome string) {
	if !enabled {
		return
	}
	bountyOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// OrphanRecorded records a tracker issue left without a funded bounty.
func OrphanRecorded() {
	if !enabled {
		return
	}
	orphansTotal.Inc()
}

// GateTransition records a verification gate state change.
func GateTransition(from, to string) {
	if !enabled {
		return
	}
	gateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// ProofRecorded records a proof callback result.
func ProofRecorded(result string) {
	if !enabled {
		return
	}
	proofsRecordedTotal.WithLabelValues(result).Inc()
}

// StreamOpened and StreamClosed track open proof streams.
func StreamOpened() {
	if !enabled {
		return
	}
	streamSubscribers.Inc()
}

func StreamClosed() {
	if !enabled {
		return
	}
	streamSubscribers.Dec()
}
