// Package governance holds the pure decision functions of the policy core.
// Both authorizers take an immutable matrix snapshot and a request and
// return a verdict with a reason; neither touches storage. Persistence and
// audit logging belong to the engine.
package governance

// Outcome is the tri-state result of an authorization check.
type Outcome string

const (
	// AutoApprove: the proposal proceeds without human review.
	AutoApprove Outcome = "AUTO_APPROVE"
	// ReviewRequired: the proposal is escalated to a reviewer (CEO-tier
	// when the reason says so).
	ReviewRequired Outcome = "REVIEW_REQUIRED"
	// Allowed: the task transition may proceed.
	Allowed Outcome = "ALLOWED"
	// Blocked: the task transition is a hard rejection; callers must not
	// apply it.
	Blocked Outcome = "BLOCKED"
)

// Verdict pairs an outcome with a stable, human-readable reason. The reason
// names the rule that decided, never a generic "forbidden"; automated
// remediation keys off it.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

// Proceed reports whether the verdict lets the caller continue.
func (v Verdict) Proceed() bool {
	return v.Outcome == AutoApprove || v.Outcome == Allowed
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
