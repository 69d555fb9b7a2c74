package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"steward/internal/config"
)

func TestGenerateDefaultParses(t *testing.T) {
	m, err := config.MatrixFromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	if len(m.TaskPermissions.CreateTask["tech-lead"]) == 0 {
		t.Fatal("default matrix missing tech-lead create_task targets")
	}
	if !m.ProposalAutoApprove["escalate_up"] {
		t.Fatal("default matrix should auto-approve escalations")
	}
	if !m.ProposalNeedsCEO["scope_change"] {
		t.Fatal("default matrix should gate scope changes on the CEO")
	}
}

func TestLoadMatrixOptionalMissing(t *testing.T) {
	m, err := config.LoadMatrixOptional(t.TempDir())
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if m != nil {
		t.Fatal("matrix should be nil when governance.yml is absent")
	}
}

func TestLoadMatrixOptionalMalformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.MatrixPath(dir), []byte("task_permissions: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadMatrixOptional(dir); err == nil {
		t.Fatal("expected parse error for malformed yaml")
	}
}

func TestLoadMatrixMissingIsError(t *testing.T) {
	if _, err := config.LoadMatrix(t.TempDir()); err == nil {
		t.Fatal("expected error when governance.yml is absent")
	}
}

func TestLoadMatrixRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(config.MatrixPath(dir), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := config.LoadMatrix(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsEmptyRoles(t *testing.T) {
	m, err := config.MatrixFromYAML([]byte("task_permissions:\n  complete_task: [\"\"]\n"))
	if err == nil {
		t.Fatalf("expected validation error, got %+v", m)
	}
}

func TestOmittedAllowSetsStayNil(t *testing.T) {
	// A matrix that never mentions complete_task must leave the slice nil so
	// the authorizer can substitute its default; an empty list means deny
	// everyone.
	m, err := config.MatrixFromYAML([]byte("task_permissions:\n  create_task:\n    tech-lead: [developer]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.TaskPermissions.CompleteTask != nil {
		t.Fatalf("complete_task = %v, want nil", m.TaskPermissions.CompleteTask)
	}
	m2, err := config.MatrixFromYAML([]byte("task_permissions:\n  complete_task: []\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m2.TaskPermissions.CompleteTask == nil {
		t.Fatal("explicit empty complete_task should stay non-nil")
	}
}

func TestLoadCompanyOptional(t *testing.T) {
	dir := t.TempDir()
	c, err := config.LoadCompanyOptional(dir)
	if err != nil || c != nil {
		t.Fatalf("absent company.yml: c=%+v err=%v", c, err)
	}
	doc := `organization: acme
default_role: developer
roster:
  - id: orchestrator
    description: routes work
  - id: developer
`
	if err := os.WriteFile(filepath.Join(dir, "company.yml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err = config.LoadCompanyOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Organization != "acme" || len(c.Roster) != 2 {
		t.Fatalf("company = %+v", c)
	}
}
