package tracker

// CompletionResult is the outcome of a completion policy.
type CompletionResult struct {
	Completion bool
	Success    bool
	ScoreRaw   float64
	ScoreMax   float64
	// Detail is optional policy-specific context sent with COMPLETE.
	Detail any
}

// Policy decides completion from tracked progress. Implementations must be
// pure: no I/O, no dependence on anything but p.
type Policy interface {
	Evaluate(p Progress) CompletionResult
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(p Progress) CompletionResult

// Evaluate implements Policy.
func (f PolicyFunc) Evaluate(p Progress) CompletionResult {
	return f(p)
}
