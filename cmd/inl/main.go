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

	"incidentline/internal/app"
	"incidentline/internal/config"
	"incidentline/internal/domain"
	"incidentline/internal/engine"
	"incidentline/internal/migrate"
	"incidentline/internal/server"
	"incidentline/internal/sweeper"
)

const defaultConfigPath = "incidentline.yml"

var rootCmd = &cobra.Command{
	Use:   "inl",
	Short: "Incidentline CLI",
	Long: `Incidentline tracks incidents from report to review.
Core concepts:
- Incidents: reported by anyone with an account; they start OPEN and move to IN_REVIEW, then APPROVED or REJECTED.
- Roles: REPORTER sees and edits only their own incidents, REVIEWER reviews everything, ADMIN can also delete and revoke.
- Reviews: every status change is a review with an optional comment; approved and rejected incidents are final.
- Share links: time-limited tokens that let anyone read one incident without logging in.
- Event log: every change is recorded; view it with 'inl event tail' or forward it with webhooks.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "email of the user to act as")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(incidentCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(postmortemCmd())
	rootCmd.AddCommand(eventCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			logger := app.NewLogger(cfg.Log)
			for _, w := range cfg.Warnings() {
				logger.Warn(w)
			}
			a, err := app.Open(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: cfg.Server.BasePath, Logger: logger})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(cmd.Context(), a.Engine, logger)
			var sw *sweeper.Sweeper
			if strings.TrimSpace(cfg.Share.SweepSchedule) != "" {
				sw, err = sweeper.New(a.Engine, cfg.Share.SweepSchedule, logger.With("component", "sweeper"))
				if err != nil {
					return err
				}
				sw.Start()
			}

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if sw != nil {
					sw.Stop(ctx)
				}
				if err := srv.Shutdown(ctx); err != nil {
					logger.Error("shutdown failed", "error", err)
				}
			}()
			logger.Info("serving Incidentline API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
			fmt.Printf("Serving Incidentline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				cfg.Server.Addr, cfg.Server.BasePath, cfg.Server.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := migrate.Version(ctx, a.DB, a.Engine.Config.Database.Driver)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"version": v})
				}
				fmt.Printf("database at migration %d\n", v)
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage incidentline.yml",
		Long:  "Config covers the listen address, database, JWT signing, share link policy, logging and webhooks. INCIDENTLINE_* environment variables override file values.",
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
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o600); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Auth.JWTSecret = "***"
			return printJSONOrTable(redacted)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			var warnings []string
			if err == nil {
				warnings = cfg.Warnings()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err), "warnings": warnings})
			}
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintln(os.Stderr, "warning:", w)
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userListCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var email, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv(config.EnvPrefix + "_PASSWORD")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u, err := a.Engine.CreateUser(ctx, engine.UserCreateOptions{
					Email:    email,
					Password: password,
					Role:     domain.Role(strings.ToUpper(role)),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&password, "password", "", "password (or INCIDENTLINE_PASSWORD)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleReporter), "REPORTER, REVIEWER or ADMIN")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Role", "Created"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Role, u.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo users and incidents",
		Long:  "Creates fixture users and incidents. Without --file the built-in demo data is used. Existing users and incidents are left alone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, err := app.LoadFixtures(file)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := app.Seed(ctx, a.Engine, fixtures, a.Logger)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixtures YAML")
	return cmd
}

func incidentCmd() *cobra.Command {
	inc := &cobra.Command{Use: "incident", Short: "Work with incidents (requires --as)"}
	inc.AddCommand(incidentListCmd())
	inc.AddCommand(incidentShowCmd())
	inc.AddCommand(incidentReviewCmd())
	return inc
}

func incidentListCmd() *cobra.Command {
	var opts engine.IncidentListOptions
	var severity, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List incidents visible to the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Severity = domain.Severity(strings.ToUpper(severity))
			opts.Status = domain.Status(strings.ToUpper(status))
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				page, err := a.Engine.ListIncidents(ctx, actor, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Severity", "Status", "Tags", "Reporter", "Created"})
				for _, i := range page.Items {
					tw.AppendRow(table.Row{i.ID, i.Title, i.Severity, i.Status, strings.Join(i.Tags, ","), i.Creator.Email, i.CreatedAt.Format(time.RFC3339)})
				}
				tw.AppendFooter(table.Row{"", fmt.Sprintf("page %d/%d", page.Page, page.TotalPages), "", "", "", "", fmt.Sprintf("%d total", page.Total)})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Search, "search", "", "match title, tag or timeline text")
	cmd.Flags().StringVar(&severity, "severity", "", "severity filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "tag filter (repeatable)")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.Limit, "limit", engine.DefaultPageLimit, "page size")
	return cmd
}

func incidentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an incident with its timeline and reviews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				d, err := a.Engine.GetIncident(ctx, actor, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func incidentReviewCmd() *cobra.Command {
	var status, comment string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Submit a review that moves the incident to --status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				res, err := a.Engine.SubmitReview(ctx, actor, engine.ReviewOptions{
					IncidentID: args[0],
					Status:     domain.Status(strings.ToUpper(status)),
					Comment:    comment,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "target status (IN_REVIEW, APPROVED, REJECTED)")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func postmortemCmd() *cobra.Command {
	pm := &cobra.Command{Use: "postmortem", Short: "Postmortem documents (requires --as)"}
	pm.AddCommand(postmortemExportCmd())
	return pm
}

func postmortemExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <incident-id>",
		Short: "Export a markdown postmortem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				doc, name, err := a.Engine.ExportPostmortem(ctx, actor, args[0])
				if err != nil {
					return err
				}
				if out == "-" {
					_, err := os.Stdout.Write(doc)
					return err
				}
				if out == "" {
					out = name
				}
				if err := os.WriteFile(out, doc, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path, - for stdout (default postmortem-<id>.md)")
	return cmd
}

func shareCmd() *cobra.Command {
	sh := &cobra.Command{Use: "share", Short: "Manage share links"}
	sh.AddCommand(shareSweepCmd())
	return sh
}

func shareSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete share links that lapsed more than share.purge_after ago",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.PurgeExpiredShareLinks(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"purged": n})
				}
				fmt.Printf("purged %d expired share links\n", n)
				return nil
			})
		},
	}
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{Use: "event", Short: "Inspect the event log"}
	ev.AddCommand(eventTailCmd())
	return ev
}

func eventTailCmd() *cobra.Command {
	var n int
	var evtType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events (admin only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, a *app.App, actor domain.Actor) error {
				events, err := a.Engine.ListEvents(ctx, actor, n, evtType, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Entity", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.TS.Format(time.RFC3339), e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

// --- helpers ---

// loadConfig reads --config. A missing default file is not an error; the
// built-in defaults and environment apply instead.
func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return config.Load(path)
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log)
	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withActor resolves --as to a stored user. The CLI runs with database
// access, so no password is asked for; authorization still follows the
// user's role.
func withActor(ctx context.Context, fn func(context.Context, *app.App, domain.Actor) error) error {
	email := strings.ToLower(strings.TrimSpace(viper.GetString("as")))
	if email == "" {
		return fmt.Errorf("--as <email> is required")
	}
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		u, err := a.Engine.Repo.GetUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("user %s: %w", email, err)
		}
		return fn(ctx, a, domain.Actor{ID: u.ID, Email: u.Email, Role: u.Role})
	})
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
