// Package handoff validates handoff documents: the markdown artifacts one
// role produces when transferring responsibility for finished work to
// another.
package handoff

import (
	"fmt"
	"os"
	"strings"

	"steward/internal/config"
)

const (
	sectionDeliverables = "## Deliverables"
	sectionAcceptance   = "## Acceptance Criteria"
	sectionVerification = "## Verification"
	sectionContext      = "## Context"
	sectionSummary      = "## Summary"
)

// Report is the full validation result. Warnings never affect validity;
// errors are collected rather than short-circuited so the author fixes
// everything in one round-trip.
type Report struct {
	Valid    bool     `json:"valid"`
	FromRole string   `json:"from_role"`
	ToRole   string   `json:"to_role"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks a handoff document at path from one role to another.
// Structural checks always run; the permission check runs only when a
// governance matrix is supplied. A nil matrix skips it, matching the
// missing-governance default of the other authorizers.
func Validate(path, fromRole, toRole string, m *config.Matrix) Report {
	rep := Report{FromRole: fromRole, ToRole: toRole}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("Handoff file not found: %s", path))
		} else {
			rep.Errors = append(rep.Errors, fmt.Sprintf("Handoff file unreadable: %v", err))
		}
		return rep
	}
	content := string(data)

	for _, section := range []string{sectionDeliverables, sectionAcceptance} {
		if !strings.Contains(content, section) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("Missing required section: %s", section))
		}
	}

	if !strings.Contains(content, sectionVerification) && !strings.Contains(content, "```bash") {
		rep.Warnings = append(rep.Warnings, "No verification commands found")
	}

	if strings.Contains(content, sectionAcceptance) {
		ac := acceptanceSection(content)
		if !strings.Contains(ac, "- [ ]") && !strings.Contains(ac, "- [x]") {
			rep.Errors = append(rep.Errors, "Acceptance criteria should use checkbox format (- [ ] or - [x])")
		}
	}

	if m != nil {
		if !containsRole(m.HandoffAllowed[fromRole], toRole) {
			rep.Errors = append(rep.Errors, fmt.Sprintf("Handoff not allowed: %s -> %s", fromRole, toRole))
		}
	}

	if !strings.Contains(content, sectionContext) && !strings.Contains(content, sectionSummary) {
		rep.Warnings = append(rep.Warnings, "Consider adding a Context or Summary section")
	}

	rep.Valid = len(rep.Errors) == 0
	return rep
}

// acceptanceSection returns the text between the acceptance-criteria
// heading and the next top-level heading, or the end of the document.
func acceptanceSection(content string) string {
	_, after, _ := strings.Cut(content, sectionAcceptance)
	if next := strings.Index(after, "## "); next >= 0 {
		after = after[:next]
	}
	return after
}

func containsRole(set []string, role string) bool {
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}
