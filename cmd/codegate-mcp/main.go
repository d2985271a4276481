// codegate-mcp exposes the execution pipelines as MCP tools over stdio.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ronai/codegate/internal/config"
	"github.com/ronai/codegate/internal/sandbox"
)

func main() {
	// Process mode re-executes this binary as a worker.
	if len(os.Args) > 1 && os.Args[1] == sandbox.WorkerFlag {
		sandbox.RunWorker()
		return
	}

	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// stdout carries the protocol.
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	runner, err := sandbox.NewRunner(cfg.Sandbox)
	if err != nil {
		log.Fatalf("Failed to create sandbox runner: %v", err)
	}
	defer runner.Close()

	s := newServer(&tools{runner: runner})
	if err := server.ServeStdio(s); err != nil {
		log.Printf("server error: %v", err)
	}
}

func codeSchema(description string) mcp.ToolInputSchema {
	return mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": description,
			},
		},
		Required: []string{"code"},
	}
}

func newServer(t *tools) *server.MCPServer {
	s := server.NewMCPServer("codegate", "0.1.0")

	s.AddTool(mcp.Tool{
		Name: "execute_code",
		Description: "Screen a JavaScript program and run it in a restricted namespace that only " +
			"exposes a fixed set of Python-style builtins (print, range, len, sorted, ...). " +
			"Programs calling eval, require and similar functions are rejected.",
		InputSchema: codeSchema("Program source"),
	}, t.executeCode)

	s.AddTool(mcp.Tool{
		Name: "execute_script",
		Description: "Run a JavaScript program in a full environment. Returns stdout, stderr, the " +
			"fault trace and the string assigned to __html_output__, as JSON.",
		InputSchema: codeSchema("Program source"),
	}, t.executeScript)

	s.AddTool(mcp.Tool{
		Name:        "screen_code",
		Description: "Report whether a JavaScript program passes the safety screen, without running it.",
		InputSchema: codeSchema("Program source"),
	}, t.screenCode)

	return s
}

// tools holds the tool handlers.
type tools struct {
	runner sandbox.Runner
}

func codeArg(request mcp.CallToolRequest) (string, bool) {
	args, _ := request.Params.Arguments.(map[string]any)
	code, ok := args["code"].(string)
	return code, ok
}

func (t *tools) executeCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, ok := codeArg(request)
	if !ok {
		return errResult("error: 'code' is required"), nil
	}

	res := t.runner.ExecuteCode(ctx, code)
	if res.Error != nil {
		return errResult(res.Output + *res.Error), nil
	}
	return textResult(res.Output), nil
}

func (t *tools) executeScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, ok := codeArg(request)
	if !ok {
		return errResult("error: 'code' is required"), nil
	}

	res := t.runner.ExecuteScript(ctx, code)
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}

	out := textResult(string(data))
	out.IsError = res.Failed()
	return out, nil
}

func (t *tools) screenCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, ok := codeArg(request)
	if !ok {
		return errResult("error: 'code' is required"), nil
	}
	return textResult(sandbox.Screen(code).String()), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
