package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowTransition(t *testing.T) {
	tests := []struct {
		from, to      ChunkStatus
		orchestration bool
		want          bool
	}{
		{ChunkFuture, ChunkImplementing, false, true},
		{ChunkImplementing, ChunkActive, false, true},
		{ChunkActive, ChunkSuperseded, false, true},
		{ChunkSuperseded, ChunkHistorical, false, true},
		{ChunkFuture, ChunkActive, false, false},
		{ChunkActive, ChunkImplementing, false, false},
		{ChunkHistorical, ChunkFuture, true, false},
		{ChunkImplementing, ChunkFuture, false, false},
		{ChunkImplementing, ChunkFuture, true, true},
	}
	for _, tt := range tests {
		got := AllowTransition(tt.from, tt.to, tt.orchestration)
		assert.Equal(t, tt.want, got, "%s -> %s (orchestration=%v)", tt.from, tt.to, tt.orchestration)
	}
}

func TestTipEligible(t *testing.T) {
	assert.True(t, TipEligible(TypeChunk, "ACTIVE"))
	assert.True(t, TipEligible(TypeChunk, "IMPLEMENTING"))
	assert.False(t, TipEligible(TypeChunk, "FUTURE"))
	assert.False(t, TipEligible(TypeChunk, "HISTORICAL"))
	assert.True(t, TipEligible(TypeNarrative, "ACTIVE"))
	assert.False(t, TipEligible(TypeNarrative, "DRAFT"))
	assert.True(t, TipEligible(TypeInvestigation, "anything"))
	assert.True(t, TipEligible(TypeSubsystem, ""))
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidName("session-refresh"))
	assert.True(t, ValidName("a2_b"))
	assert.False(t, ValidName("Session"))
	assert.False(t, ValidName("2start"))
	assert.False(t, ValidName(""))

	assert.True(t, ValidSHA("0123456789abcdef0123456789abcdef01234567"))
	assert.False(t, ValidSHA("0123456"))
	assert.False(t, ValidSHA("0123456789ABCDEF0123456789abcdef01234567"))

	assert.True(t, ValidFrictionID("F12"))
	assert.False(t, ValidFrictionID("G12"))
}

func TestLoadMeta(t *testing.T) {
	root := t.TempDir()
	writeChunk(t, root, "session-refresh", sampleGoal)

	meta, err := LoadMeta(root, TypeChunk, "session-refresh")
	require.NoError(t, err)
	assert.Equal(t, "FUTURE", meta.Status)
	assert.Equal(t, []string{"auth-base"}, meta.CreatedAfter)
	assert.False(t, meta.External)
	assert.False(t, meta.Eligible())
}

func TestLoadMetaExternal(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs", "chunks", "remote-auth")
	require.NoError(t, os.MkdirAll(dir, 0755))
	ext := "artifact_type: chunk\nartifact_id: remote-auth\nrepo: acme/auth\ncreated_after:\n  - auth-base\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "external.yaml"), []byte(ext), 0644))

	meta, err := LoadMeta(root, TypeChunk, "remote-auth")
	require.NoError(t, err)
	assert.True(t, meta.External)
	assert.True(t, meta.Eligible())
	assert.Equal(t, []string{"auth-base"}, meta.CreatedAfter)
}

func TestExternalRefValidate(t *testing.T) {
	ref := &ExternalRef{ArtifactType: "chunk", ArtifactID: "x", Repo: "acme/auth"}
	assert.NoError(t, ref.Validate())

	ref.Pinned = "short"
	assert.Error(t, ref.Validate())

	ref.Pinned = "0123456789abcdef0123456789abcdef01234567"
	assert.NoError(t, ref.Validate())

	assert.Error(t, (&ExternalRef{ArtifactID: "x", Repo: "r"}).Validate())
	assert.Error(t, (&ExternalRef{ArtifactType: "chunk", Repo: "r"}).Validate())
	assert.Error(t, (&ExternalRef{ArtifactType: "chunk", ArtifactID: "x"}).Validate())
}
