package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/sandbox"
)

// errFailed makes the process exit non-zero after output was printed.
var errFailed = errors.New("execution failed")

// localRunner builds a runner from the --config and --timeout flags.
func localRunner(cmd *cobra.Command) (sandbox.Runner, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		cfg.Sandbox.Timeout = timeout
	}
	return sandbox.NewRunner(cfg.Sandbox)
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <file|->",
		Short: "Screen and run a program in the restricted namespace",
		Args:  cobra.ExactArgs(1),
		RunE:  runExec,
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	code, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	runner, err := localRunner(cmd)
	if err != nil {
		return err
	}
	defer runner.Close()

	if printScreened(cmd.OutOrStdout(), runner.ExecuteCode(cmd.Context(), code)) {
		return errFailed
	}
	return nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file|->",
		Short: "Run a program in the full environment and capture its output",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().String("html-out", "", "Write the HTML artifact to this file")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	code, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	runner, err := localRunner(cmd)
	if err != nil {
		return err
	}
	defer runner.Close()

	res := runner.ExecuteScript(cmd.Context(), code)
	failed := printCapture(cmd.OutOrStdout(), cmd.ErrOrStderr(), res)

	if htmlOut, _ := cmd.Flags().GetString("html-out"); htmlOut != "" && res.HTMLPreview != nil {
		if err := os.WriteFile(htmlOut, []byte(*res.HTMLPreview), 0o644); err != nil {
			return fmt.Errorf("failed to write html artifact: %w", err)
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func newScreenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "screen <file|->...",
		Short: "Report whether programs pass the safety screen",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScreen,
	}
}

func runScreen(cmd *cobra.Command, args []string) error {
	unsafe := 0
	for _, path := range args {
		code, err := readSource(path, cmd.InOrStdin())
		if err != nil {
			return err
		}
		verdict := sandbox.Screen(code)
		if verdict.Unsafe {
			unsafe++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, verdict)
	}
	if unsafe > 0 {
		return fmt.Errorf("%d of %d programs rejected", unsafe, len(args))
	}
	return nil
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <requests.yaml|requests.json>",
		Short: "Run every request in a request file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}

	cmd.Flags().Bool("remote", false, "Send the requests to the server instead of running them locally")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	reqs, err := loadRequests(args[0])
	if err != nil {
		return err
	}

	var runner sandbox.Runner
	if remote, _ := cmd.Flags().GetBool("remote"); remote {
		runner = newServerRunner(getClient(cmd))
	} else {
		runner, err = localRunner(cmd)
		if err != nil {
			return err
		}
	}
	defer runner.Close()

	out := cmd.OutOrStdout()
	failures := 0
	for _, req := range reqs {
		fmt.Fprintf(out, "=== %s (%s)\n", req.Name, req.Pipeline)
		var failed bool
		switch req.Pipeline {
		case sandbox.PipelineCapture:
			failed = printCapture(out, out, runner.ExecuteScript(cmd.Context(), req.Code))
		default:
			failed = printScreened(out, runner.ExecuteCode(cmd.Context(), req.Code))
		}
		if failed {
			failures++
		}
	}

	fmt.Fprintf(out, "--- %d requests, %d failed\n", len(reqs), failures)
	if failures > 0 {
		return errFailed
	}
	return nil
}

func newBuiltinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "builtins",
		Short: "List the capability table of the restricted namespace",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, b := range sandbox.Builtins {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", b.Name, b.Category)
			}
		},
	}
}

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive prompt; every entry runs in a fresh namespace",
		Args:  cobra.NoArgs,
		RunE:  runRepl,
	}

	cmd.Flags().Bool("capture", false, "Use the capture pipeline instead of the screened one")

	return cmd
}

func runRepl(cmd *cobra.Command, args []string) error {
	runner, err := localRunner(cmd)
	if err != nil {
		return err
	}
	defer runner.Close()

	capture, _ := cmd.Flags().GetBool("capture")
	prompt := "screened> "
	if capture {
		prompt = "capture> "
	}

	home, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(home, ".codegate_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "End a line with \\ to continue it. Ctrl+D exits.")

	var pending []string
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			return err
		}

		if strings.HasSuffix(line, "\\") {
			pending = append(pending, strings.TrimSuffix(line, "\\"))
			rl.SetPrompt("... ")
			continue
		}
		code := strings.Join(append(pending, line), "\n")
		pending = nil
		rl.SetPrompt(prompt)

		if strings.TrimSpace(code) == "" {
			continue
		}
		evalEntry(cmd.Context(), runner, capture, code, out)
	}
}

// evalEntry runs one REPL entry.
func evalEntry(ctx context.Context, runner sandbox.Runner, capture bool, code string, out io.Writer) {
	if ctx == nil {
		ctx = context.Background()
	}
	if capture {
		printCapture(out, out, runner.ExecuteScript(ctx, code))
		return
	}
	printScreened(out, runner.ExecuteCode(ctx, code))
}
