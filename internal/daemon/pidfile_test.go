package daemon

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	root := t.TempDir()

	pf := &PIDFile{PID: os.Getpid(), Host: "127.0.0.1", Port: 4317, StartedAt: time.Now().UTC()}
	require.NoError(t, WritePIDFile(root, pf))

	loaded, err := ReadPIDFile(root)
	require.NoError(t, err)
	assert.Equal(t, pf.PID, loaded.PID)
	assert.Equal(t, "http://127.0.0.1:4317", loaded.Addr())

	running, alive := Running(root)
	require.True(t, alive, "our own pid is alive")
	assert.Equal(t, pf.PID, running.PID)

	require.NoError(t, RemovePIDFile(root))
	_, err = ReadPIDFile(root)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// removing again is fine
	require.NoError(t, RemovePIDFile(root))
}

func TestRunningIgnoresStalePIDFile(t *testing.T) {
	root := t.TempDir()

	// 1<<30 is beyond the kernel's pid_max
	pf := &PIDFile{PID: 1 << 30, Host: "127.0.0.1", Port: 4317, StartedAt: time.Now().UTC()}
	require.NoError(t, WritePIDFile(root, pf))

	_, alive := Running(root)
	assert.False(t, alive)
}

func TestRunningWithoutPIDFile(t *testing.T) {
	_, alive := Running(t.TempDir())
	assert.False(t, alive)
}
