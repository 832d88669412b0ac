package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vesys/ve/internal/artifact"
	v1 "github.com/vesys/ve/pkg/api/v1"
)

// skillFiles maps each phase to its skill file under the skills directory.
var skillFiles = map[v1.Phase]string{
	v1.PhaseGoal:      "chunk-create.md",
	v1.PhasePlan:      "chunk-plan.md",
	v1.PhaseImplement: "chunk-implement.md",
	v1.PhaseComplete:  "chunk-complete.md",
}

// CompletionReminder is the fixed resume prompt sent when a COMPLETE run
// finished without moving the chunk to ACTIVE.
const CompletionReminder = "The chunk is still marked IMPLEMENTING. " +
	"Finish the chunk-complete ritual: update the GOAL.md status to ACTIVE and commit the change."

// BuildPrompt assembles the phase prompt: sandbox preamble, then the skill
// text with frontmatter stripped and $ARGUMENTS substituted.
func BuildPrompt(repoRoot, skillsDir string, phase v1.Phase, chunk, worktree string) (string, error) {
	file, ok := skillFiles[phase]
	if !ok {
		return "", fmt.Errorf("no skill file for phase %s", phase)
	}

	path := filepath.Join(repoRoot, skillsDir, file)
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read skill file %s: %w", path, err)
	}

	skill := artifact.StripFrontmatter(content)

	args := chunk
	if phase == v1.PhaseGoal {
		args = "Refine the GOAL.md for existing chunk: " + chunk
	}
	skill = strings.ReplaceAll(skill, "$ARGUMENTS", args)

	return sandboxPreamble(worktree) + skill, nil
}

// sandboxPreamble states the worktree boundary the sandbox hook enforces.
func sandboxPreamble(worktree string) string {
	return fmt.Sprintf(`You are working in an isolated git worktree at %s.
All file edits and git commands must stay inside this directory.
Never cd to an absolute path outside the worktree, and never run git against any other checkout.

`, worktree)
}

// answerPrefix prepends a queued operator answer to a prompt.
func answerPrefix(answer, prompt string) string {
	if answer == "" {
		return prompt
	}
	return "User answer: " + answer + "\n\n" + prompt
}
