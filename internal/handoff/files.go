// Package handoff implements file-based output exchange between agents.
//
// Agents never hand results to each other through terminal scrollback.
// Each role writes its complete response to a well-known file under
// <wd>/.tmp/agent-responses, the orchestrator reads it, and the file is
// moved into a per-run archive so a later phase can never pick up stale
// content by accident.
package handoff

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quintetdev/quintet/internal/errors"
	"github.com/quintetdev/quintet/internal/logging"
)

// Handoff roles. Each maps to exactly one response file.
const (
	RoleAnalyst          = "analyst"
	RoleAnalystReview    = "analyst_review"
	RoleProgrammer       = "programmer"
	RoleProgrammerReview = "programmer_review"
	RoleTester           = "tester"
)

var responseFiles = map[string]string{
	RoleAnalyst:          "analyst_summary.md",
	RoleAnalystReview:    "analyst_review.md",
	RoleProgrammer:       "programmer_summary.md",
	RoleProgrammerReview: "programmer_review.md",
	RoleTester:           "test_result.md",
}

// Files manages the response directory and per-run archive for one run.
type Files struct {
	responseDir string
	tmpDir      string
	runStamp    string
	seq         int
	log         *logging.Logger
}

// NewFiles returns a Files rooted at workDir. Call EnsureDir before use.
func NewFiles(workDir string, log *logging.Logger) *Files {
	tmp := filepath.Join(workDir, ".tmp")
	return &Files{
		responseDir: filepath.Join(tmp, "agent-responses"),
		tmpDir:      tmp,
		log:         log,
	}
}

// EnsureDir creates the response directory and pins the run timestamp used
// for this run's archive directory. Safe to call more than once; the stamp
// is only set the first time.
func (f *Files) EnsureDir() error {
	if err := os.MkdirAll(f.responseDir, 0o755); err != nil {
		return fmt.Errorf("create response dir: %w", err)
	}
	if f.runStamp == "" {
		f.runStamp = time.Now().Format("2006-01-02T15-04-05")
	}
	return nil
}

// Dir returns the response directory path.
func (f *Files) Dir() string {
	return f.responseDir
}

// PathFor returns the response file path for a role. Unknown roles are a
// programming error and panic.
func (f *Files) PathFor(role string) string {
	name, ok := responseFiles[role]
	if !ok {
		panic("handoff: unknown role " + role)
	}
	return filepath.Join(f.responseDir, name)
}

// ClearStale archives any leftover response file for role before a new
// prompt is sent, labeling it so the archive shows it was never consumed.
func (f *Files) ClearStale(role string) {
	f.archive(f.PathFor(role), role+"-stale")
}

// Consume reads and archives the response file for role. It returns the
// trimmed content; a response that was written but blank comes back empty
// with ok=true so the caller can keep waiting.
func (f *Files) Consume(role string) (content string, ok bool, err error) {
	p := f.PathFor(role)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errors.NewHandoffError(role, err)
	}
	f.archive(p, role)
	return strings.TrimSpace(string(data)), true, nil
}

// Exists reports whether the response file for role is present.
func (f *Files) Exists(role string) bool {
	_, err := os.Stat(f.PathFor(role))
	return err == nil
}

// archive moves p into the per-run archive directory with a sequence
// prefix. Missing files are a no-op; archive failures are logged and
// swallowed since the content has already served its purpose.
func (f *Files) archive(p, label string) {
	if _, err := os.Stat(p); err != nil {
		return
	}
	f.seq++
	destDir := filepath.Join(f.tmpDir, f.runStamp)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		f.log.Warn("archive dir creation failed", "error", err)
		return
	}
	dest := filepath.Join(destDir, fmt.Sprintf("%03d-%s.md", f.seq, label))
	if err := os.Rename(p, dest); err != nil {
		f.log.Warn("archive rename failed", "file", p, "error", err)
		return
	}
	f.log.Info("archived response", "file", filepath.Base(dest))
}

// Instruction returns the mandatory trailer appended to every agent prompt
// telling it where and how to write its response file.
func (f *Files) Instruction(role string) string {
	p := f.PathFor(role)
	return "\n\n--- RESPONSE FILE INSTRUCTION ---\n" +
		"After you finish your analysis, write your COMPLETE final response " +
		"(everything from the summary marker onward) to this file:\n" + p + "\n" +
		"Use a single shell command:\n" +
		"cat << 'AGENT_EOF' > " + shellQuote(p) + "\n" +
		"...your full response...\n" +
		"AGENT_EOF\n" +
		"This is MANDATORY. The orchestrator reads your response from this file.\n" +
		"--- END RESPONSE FILE INSTRUCTION ---"
}

// shellQuote single-quotes s for POSIX shells, escaping embedded quotes.
// Simple safe strings pass through unquoted.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.', r == '/', r == '+', r == ':', r == '@', r == '%', r == ',':
		default:
			return false
		}
	}
	return true
}
