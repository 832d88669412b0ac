package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGoal = `---
status: FUTURE
created_after:
  - auth-base
code_references:
  - ref: internal/auth/login.go#Handler::ServeHTTP
    implements: login flow
---

# Goal

Add session refresh.
`

func TestParseDoc(t *testing.T) {
	doc, err := ParseDoc([]byte(sampleGoal))
	require.NoError(t, err)

	assert.Equal(t, "FUTURE", doc.GetString("status"))
	assert.Equal(t, []string{"auth-base"}, doc.GetStringList("created_after"))
	assert.Contains(t, doc.Body, "# Goal")
}

func TestParseDocNoFrontmatter(t *testing.T) {
	_, err := ParseDoc([]byte("# Just markdown\n"))
	assert.ErrorIs(t, err, ErrNoFrontmatter)
}

func TestParseDocUnterminated(t *testing.T) {
	_, err := ParseDoc([]byte("---\nstatus: FUTURE\n"))
	assert.Error(t, err)
}

func TestSetStringPreservesOrderAndBody(t *testing.T) {
	doc, err := ParseDoc([]byte(sampleGoal))
	require.NoError(t, err)

	doc.SetString("status", "IMPLEMENTING")
	out, err := doc.Marshal()
	require.NoError(t, err)

	reparsed, err := ParseDoc(out)
	require.NoError(t, err)
	assert.Equal(t, "IMPLEMENTING", reparsed.GetString("status"))
	assert.Equal(t, []string{"auth-base"}, reparsed.GetStringList("created_after"))
	assert.Equal(t, doc.Body, reparsed.Body)

	// status stays the first key
	assert.Regexp(t, `^---\nstatus: IMPLEMENTING\n`, string(out))
}

func TestMarshalRoundTripStable(t *testing.T) {
	doc, err := ParseDoc([]byte(sampleGoal))
	require.NoError(t, err)

	first, err := doc.Marshal()
	require.NoError(t, err)

	doc2, err := ParseDoc(first)
	require.NoError(t, err)
	second, err := doc2.Marshal()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSetStringAppendsMissingKey(t *testing.T) {
	doc, err := ParseDoc([]byte("---\nstatus: ACTIVE\n---\n\nbody\n"))
	require.NoError(t, err)

	doc.SetString("ticket", "PROJ-42")
	assert.Equal(t, "PROJ-42", doc.GetString("ticket"))
}

func TestGetStringListScalar(t *testing.T) {
	doc, err := ParseDoc([]byte("---\ncreated_after: auth-base\n---\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"auth-base"}, doc.GetStringList("created_after"))
}

func TestStripFrontmatter(t *testing.T) {
	assert.Equal(t, "# Goal\n\nAdd session refresh.\n", StripFrontmatter([]byte(sampleGoal)))
	assert.Equal(t, "plain\n", StripFrontmatter([]byte("plain\n")))
}
