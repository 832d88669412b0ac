package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ErrAlreadyRunning indicates a live daemon already owns the repository.
var ErrAlreadyRunning = errors.New("orchestrator daemon is already running")

// PIDFile records the daemon's address so CLI clients can find it.
type PIDFile struct {
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
}

// Addr returns the daemon's HTTP base address.
func (p *PIDFile) Addr() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// PIDFilePath returns the pid file location for a repository.
func PIDFilePath(repoRoot string) string {
	return filepath.Join(repoRoot, ".ve", "orchestrator", "daemon.pid")
}

// WritePIDFile persists the pid file, creating the state directory.
func WritePIDFile(repoRoot string, pf *PIDFile) error {
	path := PIDFilePath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadPIDFile loads the pid file. A missing file returns os.ErrNotExist.
func ReadPIDFile(repoRoot string) (*PIDFile, error) {
	data, err := os.ReadFile(PIDFilePath(repoRoot))
	if err != nil {
		return nil, err
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	return &pf, nil
}

// RemovePIDFile deletes the pid file. A missing file is not an error.
func RemovePIDFile(repoRoot string) error {
	err := os.Remove(PIDFilePath(repoRoot))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Running reports whether the pid file names a live process. A pid file
// whose process is gone is stale and reported as not running.
func Running(repoRoot string) (*PIDFile, bool) {
	pf, err := ReadPIDFile(repoRoot)
	if err != nil {
		return nil, false
	}
	if !processAlive(pf.PID) {
		return pf, false
	}
	return pf, true
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
