package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/config"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/pkg/agentrpc"
)

// Decision is a hook's verdict on one tool call.
type Decision struct {
	Allow  bool
	Reason string
	// Stop terminates the agent loop after the deny (question intercept).
	Stop bool
}

// ToolCallHook inspects a tool call before it runs.
type ToolCallHook func(toolName string, input map[string]any) Decision

// RunRequest is the fully-resolved invocation handed to a Runtime.
type RunRequest struct {
	Prompt        string
	Worktree      string
	ResumeSession string
	MaxTurns      int
	// OnToolCall decides every intercepted tool call.
	OnToolCall ToolCallHook
	// OnMessage receives every raw stream message, for the phase log.
	OnMessage func(raw []byte)
}

// RunResult is the runtime-level outcome, before the supervisor classifies it.
type RunResult struct {
	SessionID string
	IsError   bool
	ErrorText string
	NumTurns  int
}

// Runtime executes one agent run. The production implementation shells out
// to the agent CLI; tests substitute a fake.
type Runtime interface {
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)
}

// CLIRuntime runs the agent CLI as a subprocess speaking stream-json over
// stdin/stdout. Tool permissions surface as control requests and are decided
// by the request's hook; everything the hook does not veto is allowed, which
// gives autonomous execution with interception.
type CLIRuntime struct {
	cfg    config.AgentConfig
	logger *logger.Logger
}

var _ Runtime = (*CLIRuntime)(nil)

// NewCLIRuntime creates the production runtime.
func NewCLIRuntime(cfg config.AgentConfig, log *logger.Logger) *CLIRuntime {
	return &CLIRuntime{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "agent-runtime")),
	}
}

func (r *CLIRuntime) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(req.MaxTurns),
	}
	if req.ResumeSession != "" {
		args = append(args, "--resume", req.ResumeSession)
	}

	cmd := exec.CommandContext(ctx, r.cfg.Command, args...)
	cmd.Dir = req.Worktree
	cmd.Env = append(os.Environ(),
		"GIT_DIR="+filepath.Join(req.Worktree, ".git"),
		"GIT_WORK_TREE="+req.Worktree,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open agent stdout: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %s: %w", r.cfg.Command, err)
	}

	result := &RunResult{}
	client := agentrpc.NewClient(stdin, stdout, r.logger)

	client.SetRequestHandler(func(requestID string, ctrl *agentrpc.ControlRequest) {
		if ctrl.Subtype != agentrpc.SubtypeCanUseTool {
			r.respond(client, requestID, &agentrpc.PermissionResult{Behavior: agentrpc.BehaviorAllow})
			return
		}

		decision := Decision{Allow: true}
		if req.OnToolCall != nil {
			decision = req.OnToolCall(ctrl.ToolName, ctrl.Input)
		}

		perm := &agentrpc.PermissionResult{Behavior: agentrpc.BehaviorAllow}
		if !decision.Allow {
			perm.Behavior = agentrpc.BehaviorDeny
			perm.Message = decision.Reason
			if decision.Stop {
				interrupt := true
				perm.Interrupt = &interrupt
			}
		}
		r.respond(client, requestID, perm)
	})

	client.SetMessageHandler(func(msg *agentrpc.StreamMessage) {
		if req.OnMessage != nil {
			req.OnMessage(msg.RawContent)
		}
		switch msg.Type {
		case agentrpc.MessageTypeSystem:
			if msg.SessionID != "" {
				result.SessionID = msg.SessionID
			}
		case agentrpc.MessageTypeResult:
			result.IsError = msg.IsError
			result.NumTurns = msg.NumTurns
			if msg.IsError {
				result.ErrorText = msg.ResultString()
			}
		}
	})

	finished := client.Start(ctx)

	if err := client.SendUserMessage(req.Prompt); err != nil {
		_ = cmd.Process.Kill()
		<-finished
		_ = cmd.Wait()
		return nil, fmt.Errorf("failed to send prompt: %w", err)
	}

	<-finished
	waitErr := cmd.Wait()
	client.Stop()

	// an interrupt-stopped agent exits nonzero; the supervisor decides what
	// that means from the captured question
	if waitErr != nil && result.SessionID == "" && !result.IsError {
		return nil, fmt.Errorf("agent exited: %w", waitErr)
	}
	return result, nil
}

func (r *CLIRuntime) respond(client *agentrpc.Client, requestID string, perm *agentrpc.PermissionResult) {
	err := client.SendControlResponse(&agentrpc.ControlResponseMessage{
		Type:      agentrpc.MessageTypeControlResponse,
		RequestID: requestID,
		Response: &agentrpc.ControlResponse{
			Subtype: "success",
			Result:  perm,
		},
	})
	if err != nil {
		r.logger.Warn("Failed to answer control request",
			zap.String("request_id", requestID), zap.Error(err))
	}
}
