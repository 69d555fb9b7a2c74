package governance

import (
	"fmt"

	"steward/internal/config"
	"steward/internal/domain"
)

// Proposal types with dedicated rules. Anything else falls through to
// review.
const (
	ProposalCreateTask       = "create_task"
	ProposalEscalate         = "escalate"
	ProposalRequestExpertise = "request_expertise"
	ProposalRejectHandoff    = "reject_handoff"
	ProposalScopeChange      = "scope_change"
)

// CheckProposal decides whether a proposal can be auto-approved. Rules are
// ordered and the first match wins:
//
//  1. CEO gate: proposal_needs_ceo[type] or an explicit
//     requires_ceo_approval flag forces review.
//  2. create_task: two convenience flags, then the create_task allow-set.
//  3. escalate: auto only when escalate_up is set.
//  4. request_expertise: always auto (routing-only, non-binding).
//  5. reject_handoff: auto unless proposal_needs_review flags it.
//  6. scope_change: always review; the matrix cannot soften this.
//  7. unknown types: review.
//
// A nil matrix fails open to review: "no governance, review required".
func CheckProposal(p domain.Proposal, m *config.Matrix) Verdict {
	if m == nil {
		return Verdict{ReviewRequired, "No governance matrix"}
	}

	if m.ProposalNeedsCEO[p.ProposalType] {
		return Verdict{ReviewRequired, fmt.Sprintf("Proposal type '%s' requires CEO approval", p.ProposalType)}
	}
	if p.RequiresCEOApproval {
		return Verdict{ReviewRequired, "Proposal explicitly requires CEO approval"}
	}

	switch p.ProposalType {
	case ProposalCreateTask:
		if m.ProposalAutoApprove["developer_create_qa_task"] && p.FromRole == "developer" && p.TargetRole == "qa" {
			return Verdict{AutoApprove, "Developer can create QA tasks"}
		}
		if m.ProposalAutoApprove["tech_lead_create_developer_task"] && p.FromRole == "tech-lead" && p.TargetRole == "developer" {
			return Verdict{AutoApprove, "Tech Lead can create Developer tasks"}
		}
		if contains(m.TaskPermissions.CreateTask[p.FromRole], p.TargetRole) {
			return Verdict{AutoApprove, fmt.Sprintf("%s can create tasks for %s", p.FromRole, p.TargetRole)}
		}
		return Verdict{ReviewRequired, fmt.Sprintf("%s cannot auto-create tasks for %s", p.FromRole, p.TargetRole)}

	case ProposalEscalate:
		if m.ProposalAutoApprove["escalate_up"] {
			return Verdict{AutoApprove, "Escalations are auto-approved for routing"}
		}
		return Verdict{ReviewRequired, "Escalation requires review"}

	case ProposalRequestExpertise:
		return Verdict{AutoApprove, "Expertise requests are auto-approved for evaluation"}

	case ProposalRejectHandoff:
		if m.ProposalNeedsReview["reject_handoff"] {
			return Verdict{ReviewRequired, "Handoff rejections require review"}
		}
		return Verdict{AutoApprove, "Handoff rejection approved"}

	case ProposalScopeChange:
		return Verdict{ReviewRequired, "Scope changes require CEO approval"}
	}

	return Verdict{ReviewRequired, fmt.Sprintf("Unknown proposal type '%s' requires review", p.ProposalType)}
}
