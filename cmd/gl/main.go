package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"greenline/internal/app"
	"greenline/internal/config"
	"greenline/internal/db"
	"greenline/internal/domain"
	"greenline/internal/repo"
	"greenline/internal/scheduler"
	"greenline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Greenline CLI",
	Long: `Greenline tracks client engagements and the tasks that deliver them.
Core concepts:
- Workspace: a directory holding greenline.yml and the .greenline state database.
- Project: a client engagement with five status dimensions (status, verification, execution, client review, payment) that move together under transition rules.
- Checklist: items that must all be verified before a planned project can move on.
- Tasks: work items (to_do -> doing -> done, blocked as a detour) with a due date and a derived SLA status (on_track, due_today, overdue).
- Locks: overdue unfinished tasks are locked by the daily sweep; assignees ask to unlock with a reason and a lock manager reviews.
- Event log: every change is recorded, view it with 'gl log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("db") != "" {
			return nil
		}
		if _, err := db.EnsureWorkspace(viper.GetString("workspace")); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GREENLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("db", "", "database path (defaults to <workspace>/.greenline/greenline.db)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage greenline.yml",
		Long:  "greenline.yml sets the timezone used for due dates, the sweep schedule, logging, notification targets and RBAC roles. Missing keys fall back to built-in defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default greenline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"path": path})
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate greenline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if filePath != "" {
				_, err = config.FromFile(filePath)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to the workspace file)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader, devLogin, noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		Long:  "Serve the HTTP API and, unless disabled in config, run the auto-lock sweep on its cron schedule. Bearer tokens are verified with GREENLINE_JWT_SECRET.",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: allowActorHeader,
				DevLogin:               devLogin,
			}
			if authCfg.JWTSecret == "" && !allowActorHeader {
				return fmt.Errorf("GREENLINE_JWT_SECRET is required unless --allow-actor-header is set")
			}
			if devLogin && authCfg.JWTSecret == "" {
				return fmt.Errorf("--dev-login needs GREENLINE_JWT_SECRET to sign tokens")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     authCfg,
					Log:      a.Log.With().Str("component", "http").Logger(),
				})
				if err != nil {
					return err
				}

				if a.Config.SweepEnabled() && !noSweep {
					loc, err := a.Config.Location()
					if err != nil {
						return err
					}
					sched, err := scheduler.New(a.Engine, a.Config.Sweep.Schedule, loc, a.Log.With().Str("component", "scheduler").Logger())
					if err != nil {
						return err
					}
					sched.Start()
					defer func() {
						sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
						defer cancel()
						if err := sched.Stop(sctx); err != nil {
							a.Log.Warn().Err(err).Msg("scheduler stop")
						}
					}()
					a.Log.Info().Str("schedule", a.Config.Sweep.Schedule).Time("next", sched.Next(time.Now())).Msg("auto-lock sweep scheduled")
				}

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				a.Log.Info().Str("addr", addr).Str("base_path", basePath).Bool("dev_login", devLogin).Msg("serving Greenline API (OpenAPI at /openapi.json, docs at /docs)")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without credentials (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login to mint tokens")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the scheduled auto-lock sweep")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID, projectID string
	var follow bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				events, err := a.Engine.ListEvents(ctx, repo.EventFilters{
					ProjectID:  projectID,
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					Limit:      n,
				})
				if err != nil {
					return err
				}
				// oldest first, like tail
				for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
					events[i], events[j] = events[j], events[i]
				}
				if !follow {
					if viper.GetBool("json") {
						return printJSON(events)
					}
					printEvents(events)
					return nil
				}

				var cursor int64
				for _, ev := range events {
					printEvent(ev)
					cursor = ev.ID
				}
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					next, err := a.Engine.EventsSince(ctx, cursor, 100, projectID)
					if err != nil {
						if ctx.Err() != nil {
							return nil
						}
						return err
					}
					for _, ev := range next {
						cursor = ev.ID
						if !matchesEvent(ev, evtType, entityKind, entityID) {
							continue
						}
						printEvent(ev)
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new events")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval with --follow")
	return cmd
}

func matchesEvent(ev domain.Event, evtType, entityKind, entityID string) bool {
	return (evtType == "" || ev.Type == evtType) &&
		(entityKind == "" || ev.EntityKind == entityKind) &&
		(entityID == "" || ev.EntityID == entityID)
}

func printEvents(events []domain.Event) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor", "Payload"})
	for _, ev := range events {
		tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.EntityKind + ":" + ev.EntityID, ev.ActorID, ev.Payload})
	}
	tw.Render()
}

func printEvent(ev domain.Event) {
	if viper.GetBool("json") {
		b, _ := json.Marshal(ev)
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%d %s %-22s %s:%s by %s %s\n", ev.ID, ev.TS, ev.Type, ev.EntityKind, ev.EntityID, ev.ActorID, ev.Payload)
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, app.Options{
		Workspace: viper.GetString("workspace"),
		DBPath:    viper.GetString("db"),
		LogWriter: os.Stderr,
	})
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Close(cctx); err != nil {
			a.Log.Warn().Err(err).Msg("close")
		}
	}()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
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

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
