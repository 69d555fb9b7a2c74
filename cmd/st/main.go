package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"steward/internal/app"
	"steward/internal/config"
	"steward/internal/db"
	"steward/internal/domain"
	"steward/internal/engine"
	"steward/internal/governance"
	"steward/internal/repo"
	"steward/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "st",
	Short: "Steward CLI",
	Long: `Steward authorizes actions in a shared task system against a governance matrix.
Core concepts:
- Workspace: the directory holding governance.yml, an optional company.yml roster, and the .steward state database.
- Matrix: ordered rules in governance.yml deciding which proposals auto-approve and which task transitions are allowed.
- Proposals: structured requests (create_task, escalate, ...) checked with 'st proposal check'; both verdicts are successful outcomes.
- Transitions: task status updates checked with 'st task authorize'; BLOCKED is a hard rejection.
- Handoffs: markdown documents validated for required sections with 'st handoff validate'.
- Sync: 'st sync notify' bumps a task's version counter and deposits notifications in role mailboxes.
- Event log: every verdict is recorded; view with 'st log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STEWARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("role", "", "acting role")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(handoffCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(inboxCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(matrixCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proposal", Short: "Proposal authorization"}
	cmd.AddCommand(proposalCheckCmd())
	return cmd
}

func proposalCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Authorize a proposal document",
		Long: `Reads a proposal JSON document from a file or stdin and prints the verdict.
Both AUTO_APPROVE and REVIEW_REQUIRED exit 0; only a malformed document
or a storage failure exits 1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readDocument(args)
			if err != nil {
				return err
			}
			p, err := domain.ParseProposal(data)
			if err != nil {
				var se domain.SchemaError
				if errors.As(err, &se) {
					fmt.Printf("INVALID: %s\n", se.Error())
					os.Exit(1)
				}
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CheckProposal(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Printf("%s: %s\n", v.Outcome, v.Reason)
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Task transition authorization"}
	cmd.AddCommand(taskAuthorizeCmd())
	return cmd
}

func taskAuthorizeCmd() *cobra.Command {
	var taskID, status, owner string
	cmd := &cobra.Command{
		Use:   "authorize [file]",
		Short: "Authorize a task transition",
		Long: `Checks whether the acting role may apply a task update. The update comes
from a JSON file, stdin, or the --task/--status/--owner flags. ALLOWED
exits 0; BLOCKED exits 1.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := viper.GetString("role")
			if role == "" {
				return fmt.Errorf("--role required")
			}
			var req domain.TaskUpdateRequest
			if len(args) > 0 || !cmd.Flags().Changed("task") && !cmd.Flags().Changed("status") {
				data, err := readDocument(args)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &req); err != nil {
					return fmt.Errorf("invalid task update JSON: %w", err)
				}
			} else {
				req = domain.TaskUpdateRequest{TaskID: taskID, Status: status, Owner: owner}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.AuthorizeTaskUpdate(ctx, req, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(v); err != nil {
						return err
					}
				} else {
					fmt.Printf("%s: %s\n", v.Outcome, v.Reason)
				}
				if v.Outcome == governance.Blocked {
					os.Exit(1)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&status, "status", "", "new status (pending, in_progress, completed, deleted)")
	cmd.Flags().StringVar(&owner, "owner", "", "new owner")
	return cmd
}

func handoffCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "handoff", Short: "Handoff document validation"}
	cmd.AddCommand(handoffValidateCmd())
	return cmd
}

func handoffValidateCmd() *cobra.Command {
	var fromRole, toRole string
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a handoff document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromRole == "" || toRole == "" {
				return fmt.Errorf("--from and --to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.ValidateHandoff(ctx, args[0], fromRole, toRole)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(rep); err != nil {
						return err
					}
					if !rep.Valid {
						os.Exit(1)
					}
					return nil
				}
				for _, w := range rep.Warnings {
					fmt.Printf("WARNING: %s\n", w)
				}
				for _, msg := range rep.Errors {
					fmt.Printf("ERROR: %s\n", msg)
				}
				if !rep.Valid {
					fmt.Printf("VALIDATION FAILED: %d error(s)\n", len(rep.Errors))
					os.Exit(1)
				}
				fmt.Printf("VALIDATION PASSED: Handoff from %s to %s is valid\n", rep.FromRole, rep.ToRole)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&fromRole, "from", "", "handing-off role")
	cmd.Flags().StringVar(&toRole, "to", "", "receiving role")
	return cmd
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sync", Short: "Task sync and notifications"}
	cmd.AddCommand(syncNotifyCmd())
	cmd.AddCommand(syncStateCmd())
	return cmd
}

func syncNotifyCmd() *cobra.Command {
	var taskID, status string
	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Process a task state-change event",
		Long: `Bumps the task's version counter by one, refreshes last_updated, and
deposits notifications in the affected mailboxes. Completed tasks notify
the orchestrator; started tasks do too; other statuses only bump.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if taskID == "" {
				return fmt.Errorf("--task required")
			}
			actor := viper.GetString("role")
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				version, notifs, err := e.Notify(ctx, taskID, status, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"taskId":        taskID,
						"version":       version,
						"notifications": notifs,
					})
				}
				fmt.Printf("Task %s is now at version %d\n", taskID, version)
				for _, n := range notifs {
					fmt.Printf("Notified orchestrator: %s by %s\n", n.Type, n.Actor)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&taskID, "task", "", "task id")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	return cmd
}

func syncStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				state, err := e.SyncState(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(state)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Version"})
				for id, v := range state.TaskVersions {
					tw.AppendRow(table.Row{id, v})
				}
				tw.SortBy([]table.SortBy{{Name: "Task", Mode: table.Asc}})
				tw.Render()
				if state.LastUpdated != "" {
					fmt.Printf("Last updated: %s\n", state.LastUpdated)
				}
				return nil
			})
		},
	}
	return cmd
}

func inboxCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "inbox", Short: "Role mailboxes"}
	cmd.AddCommand(inboxListCmd())
	return cmd
}

func inboxListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list <role>",
		Short: "List a role's mailbox, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Inbox(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Task", "Actor"})
				for _, rec := range items {
					tw.AppendRow(table.Row{rec.TS, rec.Type, rec.TaskID, rec.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max records")
	return cmd
}

func roleCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "role", Short: "Roster roles"}
	cmd.AddCommand(roleListCmd())
	return cmd
}

func roleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roster roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRoles(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Description"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func matrixCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "matrix", Short: "Governance matrix"}
	cmd.AddCommand(matrixInitCmd())
	cmd.AddCommand(matrixShowCmd())
	cmd.AddCommand(matrixValidateCmd())
	return cmd
}

func matrixInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default governance.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.MatrixPath(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing file")
	return cmd
}

func matrixShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the loaded matrix",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := config.LoadMatrix(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(m)
		},
	}
	return cmd
}

func matrixValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate governance.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			m, err := config.LoadMatrix(workspace)
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			fmt.Printf("%s is valid\n", config.MatrixPath(workspace))
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plain, err := e.CreateAPIKey(ctx, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": plain})
				}
				fmt.Printf("API key for %s (shown once): %s\n", key.ActorID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked API key %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every verdict and sync event leaves a record here.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var dev bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Setup(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			for _, w := range rt.Warnings {
				fmt.Fprintln(os.Stderr, w)
			}
			authCfg := server.AuthConfig{
				JWTSecret:             os.Getenv("STEWARD_JWT_SECRET"),
				AllowLegacyRoleHeader: dev,
			}
			if authCfg.JWTSecret == "" && !dev {
				return fmt.Errorf("STEWARD_JWT_SECRET is required for bearer auth (or use --dev)")
			}
			handler, err := server.New(server.Config{Engine: rt.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Steward API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&dev, "dev", false, "allow unauthenticated X-Acting-Role header")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Setup(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	for _, w := range rt.Warnings {
		fmt.Fprintln(os.Stderr, w)
	}
	return fn(ctx, rt.Engine)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	rt, err := app.Setup(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine.Repo)
}

func readDocument(args []string) ([]byte, error) {
	if len(args) > 0 && args[0] != "-" {
		return os.ReadFile(args[0])
	}
	return io.ReadAll(os.Stdin)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
