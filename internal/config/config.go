package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Matrix models governance.yml: the declarative permission and approval
// rules every decision point consults. It is loaded once per decision and
// never mutated; a nil *Matrix means no governance is configured and each
// call site applies its own documented default.
type Matrix struct {
	TaskPermissions     TaskPermissions     `yaml:"task_permissions"`
	ProposalAutoApprove map[string]bool     `yaml:"proposal_auto_approve"`
	ProposalNeedsReview map[string]bool     `yaml:"proposal_needs_review"`
	ProposalNeedsCEO    map[string]bool     `yaml:"proposal_needs_ceo"`
	HandoffAllowed      map[string][]string `yaml:"handoff_allowed"`
}

// TaskPermissions maps actions to allow-sets. create_task is keyed by the
// requesting role and lists allowed target roles; complete_task and
// delete_task are flat role sets. A nil slice means the matrix omitted the
// action and the authorizer substitutes its built-in default.
type TaskPermissions struct {
	CreateTask   map[string][]string `yaml:"create_task"`
	CompleteTask []string            `yaml:"complete_task"`
	DeleteTask   []string            `yaml:"delete_task"`
}

// Company models the optional company.yml: org-wide toggles and the roster
// of known roles.
type Company struct {
	Organization string `yaml:"organization"`
	DefaultRole  string `yaml:"default_role"`
	Roster       []struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description"`
	} `yaml:"roster"`
}

// MatrixPath returns the governance matrix path for a workspace.
func MatrixPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "governance.yml")
}

// CompanyPath returns the company config path for a workspace.
func CompanyPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "company.yml")
}

// LoadMatrix reads and validates the governance matrix from a workspace.
func LoadMatrix(workspace string) (*Matrix, error) {
	path := MatrixPath(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("governance matrix %s not found; create one with st matrix init", path)
		}
		return nil, err
	}
	return MatrixFromYAML(data)
}

// LoadMatrixOptional returns nil,nil when the matrix file does not exist.
// A file that exists but fails to parse is an error: callers with a safe
// default degrade to the nil-matrix behavior with a warning, callers
// without one fail.
func LoadMatrixOptional(workspace string) (*Matrix, error) {
	data, err := os.ReadFile(MatrixPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return MatrixFromYAML(data)
}

// MatrixFromYAML parses and validates a matrix from raw YAML bytes.
func MatrixFromYAML(data []byte) (*Matrix, error) {
	var m Matrix
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid governance yaml: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate ensures the matrix meets required structure.
func (m *Matrix) Validate() error {
	for from, targets := range m.TaskPermissions.CreateTask {
		if from == "" {
			return fmt.Errorf("task_permissions.create_task contains empty role")
		}
		for _, t := range targets {
			if t == "" {
				return fmt.Errorf("task_permissions.create_task.%s contains empty target role", from)
			}
		}
	}
	for _, r := range m.TaskPermissions.CompleteTask {
		if r == "" {
			return fmt.Errorf("task_permissions.complete_task contains empty role")
		}
	}
	for _, r := range m.TaskPermissions.DeleteTask {
		if r == "" {
			return fmt.Errorf("task_permissions.delete_task contains empty role")
		}
	}
	for from, targets := range m.HandoffAllowed {
		if from == "" {
			return fmt.Errorf("handoff_allowed contains empty source role")
		}
		for _, t := range targets {
			if t == "" {
				return fmt.Errorf("handoff_allowed.%s contains empty target role", from)
			}
		}
	}
	return nil
}

// LoadCompanyOptional returns nil,nil when company.yml does not exist.
func LoadCompanyOptional(workspace string) (*Company, error) {
	data, err := os.ReadFile(CompanyPath(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var c Company
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid company yaml: %w", err)
	}
	return &c, nil
}

// GenerateDefault returns the default governance matrix YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `# Governance matrix: which roles may perform which actions, and which
# proposal types can skip review. Loaded fresh for every decision.

task_permissions:
  create_task:
    tech-lead: [developer, qa, architect]
    architect: [developer, tech-lead]
    orchestrator: [developer, qa, tech-lead, architect]
  # "owner" is a sentinel: listing it admits whoever requests the completion.
  complete_task: [owner, senior-dev, tech-lead]
  delete_task: [tech-lead, architect, cto]

proposal_auto_approve:
  escalate_up: true
  developer_create_qa_task: true
  tech_lead_create_developer_task: true

proposal_needs_review:
  reject_handoff: false

proposal_needs_ceo:
  scope_change: true

handoff_allowed:
  developer: [qa, tech-lead]
  qa: [developer, tech-lead]
  tech-lead: [developer, qa, architect, orchestrator]
  architect: [tech-lead, developer]
`
