// Package mirror maintains a human-diffable copy of the ledger: every commit
// envelope is appended to .wbs/mirror/commits.jsonl, optionally followed by a
// best-effort git commit of the ledger directory. Mirror failures are
// warnings; they never fail the transition that produced the commit.
package mirror

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/governedworks/wbs/internal/dcl"
)

// FileName is the mirror log file name stored under .wbs/mirror/.
const FileName = "commits.jsonl"

// Mirror appends commit envelopes outside the transition failure path.
type Mirror struct {
	// Dir is the mirror directory, normally <root>/.wbs/mirror.
	Dir string
	// Git enables a best-effort `git add && git commit` of LedgerDir after
	// each append. Requires the project root to be a git work tree.
	Git bool
	// LedgerDir is the ledger directory committed when Git is set.
	LedgerDir string
	// Warn receives non-fatal mirror errors. Nil discards them.
	Warn func(error)
}

// New builds a mirror rooted at the project directory.
func New(projectDir string, git bool, ledgerDir string) *Mirror {
	return &Mirror{
		Dir:       filepath.Join(projectDir, "mirror"),
		Git:       git,
		LedgerDir: ledgerDir,
	}
}

// Path is the JSONL file the mirror appends to.
func (m *Mirror) Path() string {
	return filepath.Join(m.Dir, FileName)
}

func (m *Mirror) warn(err error) {
	if m.Warn != nil && err != nil {
		m.Warn(err)
	}
}

// Append writes one commit as a single JSON line. Append-only: existing
// lines are never rewritten.
func (m *Mirror) Append(c *dcl.Commit) error {
	if c == nil {
		return fmt.Errorf("nil commit")
	}
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return fmt.Errorf("creating mirror directory: %w", err)
	}
	f, err := os.OpenFile(m.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening mirror log: %w", err)
	}
	defer func() { _ = f.Close() }()

	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("writing mirror entry: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing mirror log: %w", err)
	}
	return nil
}

// Observer adapts the mirror to the kernel's post-commit hook. Errors are
// routed to Warn and swallowed.
func (m *Mirror) Observer() func(*dcl.Commit) {
	return func(c *dcl.Commit) {
		if err := m.Append(c); err != nil {
			m.warn(err)
			return
		}
		if m.Git {
			if err := m.gitCommit(c); err != nil {
				m.warn(err)
			}
		}
	}
}

// gitCommit stages the ledger directory and mirror log and records them under
// the commit id. Best effort: a repo with nothing staged is not an error.
func (m *Mirror) gitCommit(c *dcl.Commit) error {
	repo := filepath.Dir(m.LedgerDir)
	add := exec.Command("git", "add", "--", m.LedgerDir, m.Path())
	add.Dir = repo
	if out, err := add.CombinedOutput(); err != nil {
		return fmt.Errorf("git add: %w: %s", err, out)
	}
	commit := exec.Command("git", "commit", "-m", fmt.Sprintf("wbs: %s %s", c.CommitID, c.ActionEnvelope.Name))
	commit.Dir = repo
	if out, err := commit.CombinedOutput(); err != nil {
		return fmt.Errorf("git commit: %w: %s", err, out)
	}
	return nil
}

// Read loads every mirrored commit, in append order.
func Read(path string) ([]dcl.Commit, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening mirror log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var commits []dcl.Commit
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var c dcl.Commit
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("corrupt mirror line: %w", err)
		}
		commits = append(commits, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading mirror log: %w", err)
	}
	return commits, nil
}
