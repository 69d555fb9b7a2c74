package app

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/engine"
	"steward/internal/migrate"
)

// Runtime bundles what a command needs after setup: an open database, an
// engine holding the matrix snapshot, and any warnings produced while
// resolving the workspace config. A matrix warning means the engine runs
// with no matrix and each authorizer applies its own default; a roster
// warning means company.yml was skipped.
type Runtime struct {
	DB        *sql.DB
	Engine    engine.Engine
	Workspace string
	Warnings  []string
}

// Setup resolves the workspace, opens the store, runs migrations, and
// takes a matrix snapshot. A missing governance.yml or company.yml is not
// an error; a malformed one degrades with a warning rather than failing
// the command.
func Setup(ctx context.Context, workspace string) (*Runtime, error) {
	if workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		workspace = cwd
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	var warnings []string
	matrix, err := config.LoadMatrixOptional(workspace)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("governance matrix unreadable, using defaults: %v", err))
		matrix = nil
	}

	rt := &Runtime{
		DB:        conn,
		Engine:    engine.New(conn, matrix),
		Workspace: workspace,
	}

	company, err := config.LoadCompanyOptional(workspace)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("company roster unreadable, skipping seed: %v", err))
	} else if company != nil {
		if err := rt.Engine.SeedRoster(ctx, company); err != nil {
			conn.Close()
			return nil, fmt.Errorf("seed roster: %w", err)
		}
	}
	rt.Warnings = warnings
	return rt, nil
}

// Close releases the runtime's database handle.
func (rt *Runtime) Close() error {
	if rt == nil || rt.DB == nil {
		return nil
	}
	return rt.DB.Close()
}
