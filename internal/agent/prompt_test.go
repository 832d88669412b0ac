package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/vesys/ve/pkg/api/v1"
)

func writeSkill(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, ".claude", "commands")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestBuildPrompt(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "chunk-implement.md",
		"---\ndescription: implement a chunk\n---\n\nImplement the chunk $ARGUMENTS following its PLAN.md.\n")

	prompt, err := BuildPrompt(root, ".claude/commands", v1.PhaseImplement, "auth", "/wt")
	require.NoError(t, err)

	assert.Contains(t, prompt, "isolated git worktree at /wt")
	assert.Contains(t, prompt, "Implement the chunk auth following its PLAN.md.")
	assert.NotContains(t, prompt, "description:")
	assert.NotContains(t, prompt, "$ARGUMENTS")
}

func TestBuildPromptGoalArguments(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "chunk-create.md", "Task: $ARGUMENTS\n")

	prompt, err := BuildPrompt(root, ".claude/commands", v1.PhaseGoal, "auth", "/wt")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Task: Refine the GOAL.md for existing chunk: auth")
}

func TestBuildPromptMissingSkill(t *testing.T) {
	_, err := BuildPrompt(t.TempDir(), ".claude/commands", v1.PhasePlan, "auth", "/wt")
	assert.Error(t, err)
}

func TestAnswerPrefix(t *testing.T) {
	assert.Equal(t, "prompt", answerPrefix("", "prompt"))
	assert.Equal(t, "User answer: PG\n\nprompt", answerPrefix("PG", "prompt"))
}
