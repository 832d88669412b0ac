package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/vesys/ve/internal/common/config"
	"github.com/vesys/ve/internal/common/logger"
	"github.com/vesys/ve/internal/sandbox"
	"github.com/vesys/ve/pkg/agentrpc"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// Supervisor runs agent phases with sandbox and question-intercept hooks
// installed, and writes the per-phase message log.
type Supervisor struct {
	cfg      config.AgentConfig
	repoRoot string
	runtime  Runtime
	logger   *logger.Logger
}

// NewSupervisor creates a supervisor over the given runtime.
func NewSupervisor(cfg config.AgentConfig, repoRoot string, runtime Runtime, log *logger.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		repoRoot: repoRoot,
		runtime:  runtime,
		logger:   log.WithFields(zap.String("component", "agent-supervisor")),
	}
}

// RunPhase executes one agent pass and classifies the outcome. It never
// returns an error: failures become ResultFailed so the scheduler has a
// single result path.
func (s *Supervisor) RunPhase(ctx context.Context, req *RunPhaseRequest) *Result {
	log := s.logger.WithChunk(req.Chunk).WithPhase(string(req.Phase))

	prompt := req.PromptOverride
	if prompt == "" {
		var err error
		prompt, err = BuildPrompt(s.repoRoot, s.cfg.SkillsDir, req.Phase, req.Chunk, req.Worktree)
		if err != nil {
			return &Result{Kind: ResultFailed, Error: err.Error()}
		}
	}
	prompt = answerPrefix(req.InjectedAnswer, prompt)

	maxTurns := req.MaxTurns
	if maxTurns == 0 {
		maxTurns = s.cfg.MaxTurns
	}

	logFile, err := s.openPhaseLog(req.Chunk, req.Phase)
	if err != nil {
		return &Result{Kind: ResultFailed, Error: err.Error()}
	}
	defer func() { _ = logFile.Close() }()

	var question *v1.Question
	hook := func(toolName string, input map[string]any) Decision {
		switch toolName {
		case agentrpc.ToolAskUserQuestion:
			question = ParseQuestion(input)
			log.Info("Intercepted operator question", zap.String("question", question.Text))
			return Decision{
				Allow:  false,
				Reason: "question routed to the operator; the session will resume with an answer",
				Stop:   true,
			}
		case agentrpc.ToolBash:
			command, _ := input["command"].(string)
			if violation, reason := sandbox.Violation(command, s.repoRoot, req.Worktree); violation {
				log.Warn("Blocked sandbox violation",
					zap.String("command", command), zap.String("reason", reason))
				return Decision{Allow: false, Reason: reason}
			}
		}
		return Decision{Allow: true}
	}

	onMessage := func(raw []byte) {
		line := fmt.Sprintf("%s %s\n", time.Now().UTC().Format(time.RFC3339), raw)
		if _, err := logFile.WriteString(line); err != nil {
			log.Warn("Failed to write phase log", zap.Error(err))
		}
	}

	log.Info("Starting agent run",
		zap.String("worktree", req.Worktree),
		zap.Bool("resume", req.ResumeSession != ""),
		zap.Int("max_turns", maxTurns))

	runResult, err := s.runtime.Run(ctx, &RunRequest{
		Prompt:        prompt,
		Worktree:      req.Worktree,
		ResumeSession: req.ResumeSession,
		MaxTurns:      maxTurns,
		OnToolCall:    hook,
		OnMessage:     onMessage,
	})
	if err != nil {
		return &Result{Kind: ResultFailed, Error: err.Error()}
	}

	if question != nil {
		return &Result{Kind: ResultSuspended, SessionID: runResult.SessionID, Question: question}
	}
	if runResult.IsError {
		errText := runResult.ErrorText
		if errText == "" {
			errText = "agent reported an error result"
		}
		return &Result{Kind: ResultFailed, SessionID: runResult.SessionID, Error: errText}
	}

	log.Info("Agent run completed", zap.Int("turns", runResult.NumTurns))
	return &Result{Kind: ResultCompleted, SessionID: runResult.SessionID}
}

// ResumeMaxTurns is the cap used for completion-reminder resumes.
func (s *Supervisor) ResumeMaxTurns() int {
	return s.cfg.ResumeMaxTurns
}

// openPhaseLog opens the append-only message log for one phase run.
func (s *Supervisor) openPhaseLog(chunk string, phase v1.Phase) (*os.File, error) {
	dir := filepath.Join(s.repoRoot, ".ve", "chunks", chunk, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := filepath.Join(dir, string(phase)+".txt")
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// PhaseLogPath returns the log file location for a chunk phase.
func PhaseLogPath(repoRoot, chunk string, phase v1.Phase) string {
	return filepath.Join(repoRoot, ".ve", "chunks", chunk, "logs", string(phase)+".txt")
}
