package resilience

// Failure classes recorded in the run ledger.
const (
	FailureTransient = "transient"
	FailurePermanent = "permanent"
)

// ClassifyError labels a failure transient when rerunning may succeed
// (timeouts, network errors) and permanent otherwise (bad geometry,
// malformed input).
func ClassifyError(err error) string {
	if IsTransient(err) {
		return FailureTransient
	}
	return FailurePermanent
}
