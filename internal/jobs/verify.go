package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
	"unicode/utf8"

	"github.com/sevigo/pr-warden/internal/core"
	"github.com/sevigo/pr-warden/internal/llm"
)

const (
	maxVerifyOutput = 4000

	// DefaultVerifyTimeout bounds one run of the verification command.
	DefaultVerifyTimeout = 10 * time.Minute
)

// CommandFunc runs a shell command in dir and returns its combined output.
type CommandFunc func(ctx context.Context, dir, command string) (string, error)

// ShellCommand runs command with sh -c.
func ShellCommand(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.WaitDelay = 5 * time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// Verifier runs the configured verification command after the fix pass and
// asks the engine to repair the branch while it fails.
type Verifier struct {
	Command     string
	Dir         string
	MaxAttempts int
	Branch      string
	Env         map[string]string
	// Timeout bounds each repair invocation of the engine.
	Timeout time.Duration
	// CommandTimeout bounds each run of Command.
	CommandTimeout time.Duration

	runner  llm.Runner
	prompts *llm.PromptManager
	exec    CommandFunc
	logger  *slog.Logger
}

// NewVerifier uses ShellCommand unless run is non-nil.
func NewVerifier(runner llm.Runner, prompts *llm.PromptManager, command, dir string, maxAttempts int, run CommandFunc, logger *slog.Logger) *Verifier {
	if run == nil {
		run = ShellCommand
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		Command:        command,
		Dir:            dir,
		MaxAttempts:    maxAttempts,
		Timeout:        llm.DefaultFixTimeout,
		CommandTimeout: DefaultVerifyTimeout,
		runner:         runner,
		prompts:        prompts,
		exec:           run,
		logger:         logger,
	}
}

// RunVerification records the outcome in Metadata.verification. It is a
// no-op when v is nil or has no command.
func (c *Controller) RunVerification(ctx context.Context, v *Verifier) (*core.Verification, error) {
	if v == nil || v.Command == "" {
		return nil, nil
	}
	ver, cost := v.run(ctx, c.now)
	err := c.Update(func(m *core.Metadata) {
		m.Verification = ver
		m.Usage.FixCostUSD += cost
		m.Usage.Invocations += ver.Attempts
	})
	return ver, err
}

func (v *Verifier) run(ctx context.Context, now func() time.Time) (*core.Verification, float64) {
	ver := &core.Verification{Status: core.StatusInProgress}
	var cost float64
	for {
		out, err := v.runCommand(ctx)
		checked := now().UTC()
		ver.LastCheck = &checked
		if err == nil {
			ver.Status = core.StatusCompleted
			v.logger.Info("verification passed", "command", v.Command, "repairs", ver.Attempts)
			return ver, cost
		}
		out = tail(out, maxVerifyOutput)
		ver.Errors = append(ver.Errors, out)
		v.logger.Warn("verification failed", "command", v.Command, "attempt", ver.Attempts+1, "error", err)

		if ver.Attempts >= v.MaxAttempts || ctx.Err() != nil {
			ver.Status = core.StatusFailed
			return ver, cost
		}
		ver.Attempts++
		spent, rerr := v.repair(ctx, out, ver.Attempts)
		cost += spent
		if rerr != nil {
			v.logger.Warn("repair attempt failed", "attempt", ver.Attempts, "error", rerr)
		}
	}
}

func (v *Verifier) runCommand(ctx context.Context) (string, error) {
	if v.CommandTimeout <= 0 {
		return v.exec(ctx, v.Dir, v.Command)
	}
	cctx, cancel := context.WithTimeout(ctx, v.CommandTimeout)
	defer cancel()
	out, err := v.exec(cctx, v.Dir, v.Command)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("verification command timed out after %s: %w", v.CommandTimeout, err)
	}
	return out, err
}

func (v *Verifier) repair(ctx context.Context, output string, attempt int) (float64, error) {
	system, err := v.prompts.Render(llm.VerifySystemPrompt, llm.DefaultVariant, nil)
	if err != nil {
		return 0, err
	}
	message, err := v.prompts.Render(llm.VerifyFixPrompt, llm.DefaultVariant, llm.VerifyFixData{
		Command: v.Command,
		Output:  output,
		Attempt: attempt,
		Branch:  v.Branch,
	})
	if err != nil {
		return 0, err
	}
	resp, err := v.runner.Run(ctx, llm.Request{
		SystemPrompt: system,
		UserMessage:  message,
		Tools:        llm.ToolsFull,
		Schema:       llm.FixResultSchema,
		Timeout:      v.Timeout,
		Env:          v.Env,
	})
	if err != nil {
		return 0, fmt.Errorf("repair invocation: %w", err)
	}
	return resp.CostUSD, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
