// Package sandbox classifies shell command strings as safe or escaping the
// agent's worktree. The detector is a pure function over the command text and
// the two paths involved; it never touches the filesystem, so tests are
// position-independent.
package sandbox

import (
	"path/filepath"
	"regexp"
	"strings"
)

// Temp locations agents may cd into freely.
var allowedPrefixes = []string{"/tmp", "/var/tmp", "/dev"}

var segmentSplitRe = regexp.MustCompile(`&&|\|\||;|\|`)

// Violation reports whether command escapes the worktree, and a reason when
// it does. hostRepo is the repository the worktree was forked from; both
// paths are absolute.
func Violation(command, hostRepo, worktree string) (bool, string) {
	hostRepo = normalise(hostRepo)
	worktree = normalise(worktree)

	for _, segment := range segmentSplitRe.Split(command, -1) {
		fields := strings.Fields(segment)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "cd" && len(fields) > 1 {
			target := normalise(unquote(fields[1]))
			if target == hostRepo && !underPath(target, worktree) {
				return true, "cd to host repository path"
			}
			if filepath.IsAbs(target) && !underPath(target, worktree) && !allowedTemp(target) {
				return true, "cd to absolute path outside worktree"
			}
		}

		if fields[0] == "git" {
			for i := 1; i < len(fields)-1; i++ {
				if fields[i] != "-C" {
					continue
				}
				target := normalise(unquote(fields[i+1]))
				if target == hostRepo || (underPath(target, hostRepo) && !underPath(target, worktree)) {
					return true, "git -C targeting host repository"
				}
			}
		}
	}

	// any git invocation naming the host repo without going through the
	// worktree acts on the shared checkout
	if mentionsGit(command) && strings.Contains(command, hostRepo) && !strings.Contains(command, worktree) {
		return true, "git command referencing host repository outside worktree"
	}

	return false, ""
}

func mentionsGit(command string) bool {
	for _, segment := range segmentSplitRe.Split(command, -1) {
		fields := strings.Fields(segment)
		if len(fields) > 0 && fields[0] == "git" {
			return true
		}
	}
	return false
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func normalise(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	return filepath.Clean(path)
}

func underPath(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

func allowedTemp(path string) bool {
	for _, prefix := range allowedPrefixes {
		if underPath(path, prefix) {
			return true
		}
	}
	return false
}
