package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ouvidoria/internal/config"
	"ouvidoria/internal/db"
	"ouvidoria/internal/domain"
	"ouvidoria/internal/engine"
	"ouvidoria/internal/logger"
	"ouvidoria/internal/migrate"
	"ouvidoria/internal/repo"
	"ouvidoria/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ouvi",
	Short: "Ouvidoria CLI",
	Long: `Ouvidoria tracks citizen manifestations through their legal lifecycle.
- Manifestation: a complaint, request, compliment, suggestion or denunciation
  filed by a citizen. Each one gets a unique protocol number on intake.
- Protocol: the citizen's receipt. Anyone holding it can look the case up.
- Status: new -> under_review -> responded -> closed; canceled is an early exit.
- Legal window: every case carries a response deadline counted in calendar days;
  remaining_days goes negative when the case is overdue.
- History: an append-only trail of everything that happened to a case.`,
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
	viper.SetEnvPrefix("OUVIDORIA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-operator", "operator identifier recorded in the trail")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Manage manifestations",
		Long:  "Manifestations are the cases citizens file. Intake assigns a protocol, workflow updates move the status, and every change lands in the history trail.",
	}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseUpdateCmd())
	c.AddCommand(caseDeleteCmd())
	c.AddCommand(caseHistoryCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a manifestation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "kind (complaint, request, compliment, suggestion, denunciation)")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (health, education, ...)")
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "subject")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.CitizenName, "citizen-name", "", "citizen name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "citizen email")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "citizen phone")
	cmd.Flags().StringVar(&opts.Channel, "channel", "", "intake channel")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high)")
	cmd.Flags().IntVar(&opts.WindowDays, "window-days", 0, "legal response window in days (0 uses the configured default)")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("category")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("description")
	_ = cmd.MarkFlagRequired("citizen-name")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.ManifestationFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List manifestations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Protocol", "Subject", "Status", "Priority", "Assigned", "Days left"})
				for _, m := range items {
					assigned := ""
					if m.AssignedTo != nil {
						assigned = *m.AssignedTo
					}
					tw.AppendRow(table.Row{m.ID, m.Protocol, m.Subject, m.Status, m.Priority, assigned, m.RemainingDays})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "substring match on subject, protocol or citizen name")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "maximum rows")
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-protocol>",
		Short: "Show a manifestation by id or protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := strings.TrimSpace(args[0])
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := resolveCase(ctx, e, ref)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	return cmd
}

func caseUpdateCmd() *cobra.Command {
	var status, response, assign, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update workflow fields of a manifestation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			opts := engine.UpdateOptions{
				ID:       id,
				Status:   status,
				Priority: priority,
				Actor:    viper.GetString("actor"),
			}
			if cmd.Flags().Changed("response") {
				opts.Response = &response
			}
			if cmd.Flags().Changed("assign") {
				opts.AssignedTo = &assign
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.Update(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&response, "response", "", "official response text")
	cmd.Flags().StringVar(&assign, "assign", "", "department or operator (empty clears)")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	return cmd
}

func caseDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a manifestation and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Delete(ctx, id); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": id})
				}
				fmt.Printf("deleted manifestation %d\n", id)
				return nil
			})
		},
	}
	return cmd
}

func caseHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id-or-protocol>",
		Short: "Show the audit trail of a manifestation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := strings.TrimSpace(args[0])
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := resolveCase(ctx, e, ref)
				if err != nil {
					return err
				}
				trail, err := e.HistoryOf(ctx, m.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(trail)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Event", "Actor"})
				for _, h := range trail {
					tw.AppendRow(table.Row{h.Timestamp, h.Event, h.Actor})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate counts across all manifestations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Stats(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Total: %d (overdue: %d)\n", s.Total, s.Overdue)
				fmt.Println("By status:")
				for status, n := range s.ByStatus {
					fmt.Printf("  %s: %d\n", status, n)
				}
				fmt.Println("By kind:")
				for kind, n := range s.ByKind {
					fmt.Printf("  %s: %d\n", kind, n)
				}
				return nil
			})
		},
	}
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sample manifestations into an empty workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.Seed(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"seeded": n})
				}
				if n == 0 {
					fmt.Println("workspace already has data, nothing seeded")
				} else {
					fmt.Printf("seeded %d manifestations\n", n)
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook read from ouvidoria.yml: legal window defaults, allowed intake channels and listen address. Missing file means built-in defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") && cfg.Server.Addr != "" {
				addr = cfg.Server.Addr
			}
			if !cmd.Flags().Changed("base-path") && cfg.Server.BasePath != "" {
				basePath = cfg.Server.BasePath
			}
			log := logger.New("ouvidoria")
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Logger: log})
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
			log.Info().Str("addr", addr).Str("base_path", basePath).Msg("serving ouvidoria API")
			fmt.Printf("Serving Ouvidoria API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func resolveCase(ctx context.Context, e engine.Engine, ref string) (domain.Manifestation, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return e.Get(ctx, id)
	}
	return e.GetByProtocol(ctx, ref)
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
