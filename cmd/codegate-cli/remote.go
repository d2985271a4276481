package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/events"
	"github.com/ronai/codegate/internal/sandbox"
	"github.com/ronai/codegate/pkg/client"
)

// getClient creates a client from cobra command flags.
func getClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	return client.NewClient(client.Config{BaseURL: server, Token: token, Timeout: 5 * time.Minute})
}

// serverRunner runs programs on a codegate server.
type serverRunner struct {
	client *client.Client
}

func newServerRunner(c *client.Client) *serverRunner {
	return &serverRunner{client: c}
}

func (r *serverRunner) ExecuteCode(ctx context.Context, code string) sandbox.ScreenedResult {
	res, err := r.client.ExecuteCode(ctx, code)
	if err != nil {
		msg := "Error: " + err.Error()
		return sandbox.ScreenedResult{Error: &msg}
	}
	return sandbox.ScreenedResult{Output: res.Output, Error: res.Error}
}

func (r *serverRunner) ExecuteScript(ctx context.Context, code string) sandbox.CaptureResult {
	res, err := r.client.ExecuteScript(ctx, code)
	if err != nil {
		msg := err.Error()
		return sandbox.CaptureResult{Error: &msg}
	}
	return sandbox.CaptureResult{
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		Error:       res.Error,
		HTMLPreview: res.HTMLPreview,
	}
}

func (r *serverRunner) Close() error { return nil }

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run programs on a codegate server",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "exec <file|->",
		Short: "Run a program through the server's screened pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			if printScreened(cmd.OutOrStdout(), newServerRunner(getClient(cmd)).ExecuteCode(cmd.Context(), code)) {
				return errFailed
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <file|->",
		Short: "Run a program through the server's capture pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			res := newServerRunner(getClient(cmd)).ExecuteScript(cmd.Context(), code)
			if printCapture(cmd.OutOrStdout(), cmd.ErrOrStderr(), res) {
				return errFailed
			}
			return nil
		},
	})

	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <component-name> <file|->",
		Short: "Export a component file through the server",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport,
	}

	cmd.Flags().StringSlice("pages", nil, "Target pages for the component")

	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	code, err := readSource(args[1], cmd.InOrStdin())
	if err != nil {
		return err
	}
	pages, _ := cmd.Flags().GetStringSlice("pages")

	res, err := getClient(cmd).ExportComponent(cmd.Context(), client.ExportRequest{
		ComponentName: args[0],
		Code:          code,
		TargetPages:   pages,
	})
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", res.Path)
	return nil
}

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Check the server's generative backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			text, err := getClient(cmd).TestGemini(cmd.Context(), mode)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}

	cmd.Flags().String("mode", "", "Backend mode (e.g. realtime-audio)")

	return cmd
}

func newExecutionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List recent executions",
		Args:  cobra.NoArgs,
		RunE:  runExecutions,
	}

	cmd.Flags().StringP("pipeline", "p", "", "Filter by pipeline (screened, capture)")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of records")

	return cmd
}

func runExecutions(cmd *cobra.Command, args []string) error {
	pipeline, _ := cmd.Flags().GetString("pipeline")
	limit, _ := cmd.Flags().GetInt("limit")

	records, err := getClient(cmd).ListExecutions(cmd.Context(), client.ListFilter{Pipeline: pipeline, Limit: limit})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No executions found")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-8s  %-9s  %8s  %s\n", "ID", "PIPELINE", "OUTCOME", "MS", "CREATED")
	for _, r := range records {
		fmt.Fprintf(out, "%-36s  %-8s  %-9s  %8d  %s\n",
			r.ID, r.Pipeline, outcome(r), r.DurationMS, r.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func outcome(r client.Execution) string {
	switch {
	case r.Rejected:
		return "rejected"
	case r.Failed:
		return "failed"
	default:
		return "ok"
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream execution events from Redis",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	cmd.Flags().String("redis-addr", getEnvDefault("CODEGATE_REDIS_ADDR", "localhost:6379"), "Redis address")
	cmd.Flags().String("redis-password", os.Getenv("CODEGATE_REDIS_PASSWORD"), "Redis password")
	cmd.Flags().Int("redis-db", 0, "Redis database")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("redis-addr")
	password, _ := cmd.Flags().GetString("redis-password")
	db, _ := cmd.Flags().GetInt("redis-db")

	redisClient, err := events.ConnectRedis(&config.RedisConfig{Addr: addr, Password: password, DB: db})
	if err != nil {
		return err
	}
	defer redisClient.Close()

	out := cmd.OutOrStdout()
	sub := events.NewSubscriber(redisClient)
	sub.AddHandler(func(ctx context.Context, ev events.ExecutionEvent) error {
		fmt.Fprintln(out, formatEvent(ev))
		return nil
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sub.Start(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func formatEvent(ev events.ExecutionEvent) string {
	line := fmt.Sprintf("%s  %-20s  %-8s  %s  %dms",
		time.Unix(ev.Timestamp, 0).Format(time.RFC3339), ev.Type, ev.Pipeline, ev.ExecutionID, ev.DurationMS)
	switch {
	case ev.RejectRule != "":
		line += "  rule=" + ev.RejectRule
	case ev.Error != "":
		line += fmt.Sprintf("  error=%q", firstLine(ev.Error))
	}
	return line
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
