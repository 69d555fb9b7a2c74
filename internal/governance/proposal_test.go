package governance_test

import (
	"testing"

	"steward/internal/config"
	"steward/internal/domain"
	"steward/internal/governance"
)

func defaultMatrix(t *testing.T) *config.Matrix {
	t.Helper()
	m, err := config.MatrixFromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("parse default matrix: %v", err)
	}
	return m
}

func TestCheckProposalNilMatrix(t *testing.T) {
	v := governance.CheckProposal(domain.Proposal{ProposalType: "create_task", FromRole: "developer"}, nil)
	if v.Outcome != governance.ReviewRequired {
		t.Fatalf("outcome = %s, want REVIEW_REQUIRED", v.Outcome)
	}
	if v.Reason != "No governance matrix" {
		t.Fatalf("reason = %q", v.Reason)
	}
}

func TestCheckProposalRules(t *testing.T) {
	m := defaultMatrix(t)
	cases := []struct {
		name    string
		p       domain.Proposal
		outcome governance.Outcome
		reason  string
	}{
		{
			name:    "developer creates qa task",
			p:       domain.Proposal{ProposalType: "create_task", FromRole: "developer", TargetRole: "qa"},
			outcome: governance.AutoApprove,
			reason:  "Developer can create QA tasks",
		},
		{
			name:    "tech lead creates developer task",
			p:       domain.Proposal{ProposalType: "create_task", FromRole: "tech-lead", TargetRole: "developer"},
			outcome: governance.AutoApprove,
			reason:  "Tech Lead can create Developer tasks",
		},
		{
			name:    "allow set grants orchestrator",
			p:       domain.Proposal{ProposalType: "create_task", FromRole: "orchestrator", TargetRole: "architect"},
			outcome: governance.AutoApprove,
			reason:  "orchestrator can create tasks for architect",
		},
		{
			name:    "unlisted pairing needs review",
			p:       domain.Proposal{ProposalType: "create_task", FromRole: "developer", TargetRole: "architect"},
			outcome: governance.ReviewRequired,
			reason:  "developer cannot auto-create tasks for architect",
		},
		{
			name:    "escalations route automatically",
			p:       domain.Proposal{ProposalType: "escalate", FromRole: "developer"},
			outcome: governance.AutoApprove,
			reason:  "Escalations are auto-approved for routing",
		},
		{
			name:    "expertise requests always pass",
			p:       domain.Proposal{ProposalType: "request_expertise", FromRole: "qa"},
			outcome: governance.AutoApprove,
			reason:  "Expertise requests are auto-approved for evaluation",
		},
		{
			name:    "handoff rejection passes by default",
			p:       domain.Proposal{ProposalType: "reject_handoff", FromRole: "qa"},
			outcome: governance.AutoApprove,
			reason:  "Handoff rejection approved",
		},
		{
			name:    "scope change hits the ceo gate",
			p:       domain.Proposal{ProposalType: "scope_change", FromRole: "tech-lead"},
			outcome: governance.ReviewRequired,
			reason:  "Proposal type 'scope_change' requires CEO approval",
		},
		{
			name:    "explicit ceo flag forces review",
			p:       domain.Proposal{ProposalType: "escalate", FromRole: "developer", RequiresCEOApproval: true},
			outcome: governance.ReviewRequired,
			reason:  "Proposal explicitly requires CEO approval",
		},
		{
			name:    "unknown type falls through to review",
			p:       domain.Proposal{ProposalType: "rewrite_history", FromRole: "developer"},
			outcome: governance.ReviewRequired,
			reason:  "Unknown proposal type 'rewrite_history' requires review",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := governance.CheckProposal(tc.p, m)
			if v.Outcome != tc.outcome {
				t.Fatalf("outcome = %s, want %s (%s)", v.Outcome, tc.outcome, v.Reason)
			}
			if v.Reason != tc.reason {
				t.Fatalf("reason = %q, want %q", v.Reason, tc.reason)
			}
		})
	}
}

func TestCheckProposalScopeChangeCannotBeSoftened(t *testing.T) {
	// Even a matrix with the ceo gate cleared keeps scope changes in review.
	m := defaultMatrix(t)
	m.ProposalNeedsCEO = map[string]bool{}
	v := governance.CheckProposal(domain.Proposal{ProposalType: "scope_change", FromRole: "cto"}, m)
	if v.Outcome != governance.ReviewRequired {
		t.Fatalf("outcome = %s, want REVIEW_REQUIRED", v.Outcome)
	}
	if v.Reason != "Scope changes require CEO approval" {
		t.Fatalf("reason = %q", v.Reason)
	}
}

func TestCheckProposalEscalateWithoutAutoApprove(t *testing.T) {
	m := defaultMatrix(t)
	m.ProposalAutoApprove["escalate_up"] = false
	v := governance.CheckProposal(domain.Proposal{ProposalType: "escalate", FromRole: "developer"}, m)
	if v.Outcome != governance.ReviewRequired {
		t.Fatalf("outcome = %s, want REVIEW_REQUIRED", v.Outcome)
	}
	if v.Reason != "Escalation requires review" {
		t.Fatalf("reason = %q", v.Reason)
	}
}

func TestCheckProposalRejectHandoffFlagged(t *testing.T) {
	m := defaultMatrix(t)
	m.ProposalNeedsReview["reject_handoff"] = true
	v := governance.CheckProposal(domain.Proposal{ProposalType: "reject_handoff", FromRole: "qa"}, m)
	if v.Outcome != governance.ReviewRequired || v.Reason != "Handoff rejections require review" {
		t.Fatalf("got %s: %s", v.Outcome, v.Reason)
	}
}

func TestVerdictProceed(t *testing.T) {
	approved := governance.Verdict{Outcome: governance.AutoApprove}
	if !approved.Proceed() {
		t.Fatal("AUTO_APPROVE should proceed")
	}
	review := governance.Verdict{Outcome: governance.ReviewRequired}
	if review.Proceed() {
		t.Fatal("REVIEW_REQUIRED should not proceed")
	}
}
