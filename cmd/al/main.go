package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"actionline/internal/analyzer"
	"actionline/internal/app"
	"actionline/internal/config"
	"actionline/internal/db"
	"actionline/internal/domain"
	"actionline/internal/engine"
	"actionline/internal/migrate"
	"actionline/internal/repo"
	"actionline/internal/server"
	"actionline/internal/worker"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Actionline CLI",
	Long: `Actionline reconciles AI-extracted action items across meetings, chats,
per-person task lists and kanban boards.

- Workspace: your .actionline directory holding only the database; config is
  stored in the DB and imported explicitly.
- Session: one meeting or chat record with its extracted task tree.
- Rescan: re-analyze a meeting transcript; new tasks are deduplicated into the
  tree, detected completions are applied and propagated to every store that
  references the same task.
- Flat tasks: the per-person projection used for 'al task list'.
- Boards: kanban projections; completed tasks land at the end of the done
  column.
- Event log: diary of every reconciliation step, view with 'al log tail'.`,
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
	viper.SetEnvPrefix("ACTIONLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", app.DefaultUserID, "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(rescanCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func sessionCmd() *cobra.Command {
	session := &cobra.Command{
		Use:   "session",
		Short: "Manage meeting and chat sessions",
	}
	session.AddCommand(sessionListCmd())
	session.AddCommand(sessionShowCmd())
	session.AddCommand(sessionImportCmd())
	return session
}

func sessionListCmd() *cobra.Command {
	var kind string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSessions(ctx, repo.SessionFilters{
					UserID: viper.GetString("user-id"),
					Kind:   kind,
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Alias", "Kind", "Title", "Tasks", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Alias, s.Kind, s.Title, domain.CountTasks(s.Tasks), s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (meeting, chat)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max sessions")
	return cmd
}

func sessionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-alias>",
		Short: "Show a session with its task tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.Repo.GetSession(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Session: %s (%s)\n", s.ID, s.Kind)
				if s.Title != "" {
					fmt.Printf("Title: %s\n", s.Title)
				}
				fmt.Printf("Tasks: %d\n", domain.CountTasks(s.Tasks))
				printTaskTree(s.Tasks, 0)
				return nil
			})
		},
	}
	return cmd
}

func printTaskTree(tasks []domain.Task, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, t := range tasks {
		marker := " "
		switch {
		case t.Status == domain.StatusDone:
			marker = "x"
		case t.CompletionSuggested:
			marker = "?"
		}
		fmt.Printf("%s[%s] %s (%s)\n", indent, marker, t.Title, t.ID)
		printTaskTree(t.Subtasks, depth+1)
	}
}

func sessionImportCmd() *cobra.Command {
	var opts engine.ImportSessionOptions
	var transcriptFile string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a meeting or chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if transcriptFile != "" {
				data, err := os.ReadFile(transcriptFile)
				if err != nil {
					return err
				}
				opts.Transcript = string(data)
			}
			opts.UserID = viper.GetString("user-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ImportSession(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "session id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.Alias, "alias", "", "human-friendly alias")
	cmd.Flags().StringVar(&opts.Kind, "kind", "meeting", "session kind (meeting, chat)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Transcript, "transcript", "", "transcript text")
	cmd.Flags().StringVar(&transcriptFile, "transcript-file", "", "read transcript from file")
	cmd.Flags().StringVar(&opts.SourceMeetingID, "source-meeting", "", "source meeting id (chat sessions)")
	return cmd
}

func rescanCmd() *cobra.Command {
	var mode, analysisFile, completionsFile string
	cmd := &cobra.Command{
		Use:   "rescan <meeting-id>",
		Short: "Re-analyze a meeting and reconcile its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if analysisFile != "" {
					e.Analyzer = analyzer.FileAnalyzer{Path: analysisFile}
				}
				if completionsFile != "" {
					e.Suggester = analyzer.FileSuggester{Path: completionsFile}
				}
				res, err := e.Rescan(ctx, engine.RescanOptions{
					UserID:    viper.GetString("user-id"),
					MeetingID: args[0],
					Mode:      mode,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Rescan of %s (%s)\n", res.Meeting.ID, res.Stats.Mode)
				fmt.Printf("  new tasks added:    %d\n", res.Stats.NewTasksAdded)
				fmt.Printf("  completion updates: %d\n", res.Stats.CompletionUpdates)
				fmt.Printf("  auto-approved:      %d\n", res.Stats.AutoApproved)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "both", "rescan mode (new, completed, both)")
	cmd.Flags().StringVar(&analysisFile, "analysis-file", "", "JSON file with analyzer output")
	cmd.Flags().StringVar(&completionsFile, "completions-file", "", "JSON file with completion candidates")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Per-person task views",
	}
	task.AddCommand(taskListCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.FlatTaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List flat tasks for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.UserID = viper.GetString("user-id")
				tasks, err := e.Repo.ListFlatTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Session", "Suggested"})
				for _, t := range tasks {
					assignee := t.AssigneeEmail
					if assignee == "" {
						assignee = t.AssigneeName
					}
					suggested := ""
					if t.CompletionSuggested {
						suggested = "yes"
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, assignee, t.SourceSessionID, suggested})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.SourceSessionID, "session", "", "filter by source session")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeEmail, "assignee", "", "assignee email filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func boardCmd() *cobra.Command {
	board := &cobra.Command{
		Use:   "board",
		Short: "Kanban boards",
	}
	board.AddCommand(boardListCmd())
	board.AddCommand(boardShowCmd())
	return board
}

func boardListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List boards in the user's workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListBoards(ctx, "ws-"+viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func boardShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <board-id>",
		Short: "Show a board's columns and items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				board, err := e.Repo.GetBoard(ctx, args[0])
				if err != nil {
					return err
				}
				statuses, err := e.Repo.ListBoardStatuses(ctx, board.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					out := map[string]any{"board": board, "columns": statuses}
					return printJSON(out)
				}
				fmt.Printf("Board: %s (%s)\n", board.Name, board.ID)
				for _, status := range statuses {
					items, err := e.Repo.ListBoardItems(ctx, status.ID)
					if err != nil {
						return err
					}
					fmt.Printf("\n%s [%s]\n", status.Name, status.Category)
					for _, item := range items {
						fmt.Printf("  %s (rank %.4f)\n", item.TaskID, item.Rank)
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var limit int
	var sessionID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.LatestEvents(ctx, repo.EventFilters{
					Limit:     limit,
					SessionID: sessionID,
					Type:      evtType,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Session", "Entity", "Actor"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.SessionID, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max events")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by session")
	cmd.Flags().StringVar(&evtType, "type", "", "filter by event type")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				workspaceID := "ws-" + viper.GetString("user-id")
				if err := e.Repo.UpsertWorkspaceConfig(ctx, workspaceID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default actionline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (secret printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 24)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "al_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:      uuid.New().String(),
					UserID:  viper.GetString("user-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				fmt.Printf("API key created: %s\n", key.ID)
				fmt.Printf("Secret (store it now, it is not saved): %s\n", secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath, analysisFile, completionsFile string
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
			r := repo.Repo{DB: conn}
			_, _, cfg, err := app.ResolveUserAndConfig(cmd.Context(), workspace, viper.GetString("user-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			if analysisFile != "" {
				e.Analyzer = analyzer.FileAnalyzer{Path: analysisFile}
			}
			if completionsFile != "" {
				e.Suggester = analyzer.FileSuggester{Path: completionsFile}
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ACTIONLINE_JWT_SECRET")}
			w := worker.New(worker.Config{Engine: e})
			w.Start()
			defer w.Stop()
			server.StartWebhookDispatcher(e)
			handler, err := server.New(server.Config{Engine: e, Worker: w, BasePath: basePath, Auth: authCfg})
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
			fmt.Printf("Serving Actionline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&analysisFile, "analysis-file", "", "JSON file with analyzer output")
	cmd.Flags().StringVar(&completionsFile, "completions-file", "", "JSON file with completion candidates")
	return cmd
}

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
	r := repo.Repo{DB: conn}
	_, _, cfg, err := app.ResolveUserAndConfig(ctx, workspace, viper.GetString("user-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
