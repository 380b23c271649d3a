// Package llm drives the external analysis engine (the claude CLI) and
// recovers structured results from whatever it prints.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

//go:generate mockgen -destination=../../mocks/mock_llm_runner.go -package=mocks . Runner

// ToolMode selects which tools the engine may use.
type ToolMode int

const (
	ToolsNone ToolMode = iota
	ToolsReadOnly
	ToolsFull
)

const (
	DefaultAnalysisTimeout = 300 * time.Second
	DefaultFixTimeout      = 600 * time.Second
)

var (
	ErrEngineFailed  = errors.New("analysis engine failed")
	ErrEngineTimeout = errors.New("analysis engine timed out")
)

// Request is one engine invocation.
type Request struct {
	SystemPrompt string
	UserMessage  string
	Tools        ToolMode
	Schema       string
	Env          map[string]string
	// Timeout overrides the runner default for the tool mode.
	Timeout time.Duration
}

// Response is the decoded engine output.
type Response struct {
	Raw     map[string]any
	Text    string
	CostUSD float64
	Stderr  string
}

// Runner executes engine requests.
type Runner interface {
	Run(ctx context.Context, req Request) (*Response, error)
}

// ClaudeConfig configures the CLI runner.
type ClaudeConfig struct {
	Binary          string
	Model           string
	WorkDir         string
	Debug           bool
	AnalysisTimeout time.Duration
	FixTimeout      time.Duration
}

type claudeRunner struct {
	cfg    ClaudeConfig
	logger *slog.Logger
}

// NewClaudeRunner returns a Runner backed by the claude CLI.
func NewClaudeRunner(cfg ClaudeConfig, logger *slog.Logger) Runner {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if cfg.FixTimeout <= 0 {
		cfg.FixTimeout = DefaultFixTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &claudeRunner{cfg: cfg, logger: logger}
}

func (r *claudeRunner) args(req Request) []string {
	args := []string{
		"-p",
		"--output-format", "json",
		"--model", r.cfg.Model,
		"--system-prompt", req.SystemPrompt,
	}
	switch req.Tools {
	case ToolsReadOnly:
		args = append(args, "--tools", "Read", "--permission-mode", "bypassPermissions")
	case ToolsFull:
		args = append(args, "--tools", "Read,Edit,Bash", "--permission-mode", "bypassPermissions")
	}
	if req.Schema != "" {
		args = append(args, "--json-schema", req.Schema)
	}
	if r.cfg.Debug {
		args = append(args, "--debug")
	}
	return args
}

func (r *claudeRunner) timeout(req Request) time.Duration {
	switch {
	case req.Timeout > 0:
		return req.Timeout
	case req.Tools == ToolsFull:
		return r.cfg.FixTimeout
	default:
		return r.cfg.AnalysisTimeout
	}
}

func (r *claudeRunner) Run(ctx context.Context, req Request) (*Response, error) {
	timeout := r.timeout(req)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.cfg.Binary, r.args(req)...)
	cmd.Dir = r.cfg.WorkDir
	cmd.Stdin = strings.NewReader(req.UserMessage)
	cmd.Env = os.Environ()
	for k, v := range req.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		r.logger.Warn("engine timed out", "timeout", timeout)
		return nil, fmt.Errorf("%w after %s", ErrEngineTimeout, timeout)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrEngineFailed, msg, err)
	}

	resp := ParseResponse(stdout.Bytes())
	resp.Stderr = stderr.String()
	r.logger.Debug("engine finished", "duration", time.Since(start), "cost_usd", resp.CostUSD, "tools", req.Tools)
	return resp, nil
}

// ParseResponse decodes CLI stdout. Output that is not a JSON object is
// wrapped as {"result": <stdout>}.
func ParseResponse(stdout []byte) *Response {
	var raw map[string]any
	if err := json.Unmarshal(stdout, &raw); err != nil || raw == nil {
		raw = map[string]any{"result": string(stdout)}
	}
	resp := &Response{Raw: raw}

	if result, ok := raw["result"]; ok {
		if s, ok := result.(string); ok {
			resp.Text = s
		} else {
			b, _ := json.MarshalIndent(result, "", "  ")
			resp.Text = string(b)
		}
	} else {
		b, _ := json.MarshalIndent(raw, "", "  ")
		resp.Text = string(b)
	}

	if cost, ok := raw["total_cost_usd"].(float64); ok {
		resp.CostUSD = cost
	}
	return resp
}
