// Package dcl implements the deterministic commit ledger: a per-packet
// hash-chained commit log under .wbs/dcl/. Each transition writes one
// immutable commit file linking the previous commit hash, the hashes of the
// pre/post runtime snapshots, and the hash of the action envelope, all over
// canonical JSON. A two-phase journal makes the commit-then-HEAD write
// recoverable after a crash.
package dcl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"

	"github.com/governedworks/wbs/internal/canonical"
	"github.com/governedworks/wbs/internal/lockfile"
	"github.com/governedworks/wbs/internal/types"
)

// Genesis is the prev_commit_hash of the first commit in every chain.
const Genesis = "GENESIS"

// LedgerVersion is recorded in dcl-config.json as dcl_version.
const LedgerVersion = "1.0"

const lockPoll = 50 * time.Millisecond

// Ledger is a handle on one project's commit ledger.
type Ledger struct {
	// Root is the ledger directory, conventionally <project>/.wbs/dcl.
	Root string
	// ConstitutionPath points at the governing policy document whose hash is
	// pinned into every commit. Absence yields an empty hash, never an error.
	ConstitutionPath string
	// LockTimeout bounds per-packet lock acquisition.
	LockTimeout time.Duration
}

// New returns a ledger rooted at dir with the default lock budget.
func New(dir, constitutionPath string) *Ledger {
	return &Ledger{
		Root:             dir,
		ConstitutionPath: constitutionPath,
		LockTimeout:      lockfile.DefaultTimeout,
	}
}

func (l *Ledger) packetRoot(packetID string) string {
	return filepath.Join(l.Root, "packets", packetID)
}

func (l *Ledger) commitsRoot(packetID string) string {
	return filepath.Join(l.packetRoot(packetID), "commits")
}

func (l *Ledger) headPath(packetID string) string {
	return filepath.Join(l.packetRoot(packetID), "HEAD")
}

func (l *Ledger) journalPath(packetID string) string {
	return filepath.Join(l.packetRoot(packetID), "journal.json")
}

func (l *Ledger) commitPath(packetID string, seq int) string {
	return filepath.Join(l.commitsRoot(packetID), fmt.Sprintf("%06d.json", seq))
}

// Head is the chain tip marker for one packet.
type Head struct {
	Seq        int    `json:"seq"`
	CommitHash string `json:"commit_hash"`
}

// Head returns the packet's chain tip, defaulting to {0, GENESIS} for a
// packet with no commits yet.
func (l *Ledger) Head(packetID string) (Head, error) {
	head := Head{Seq: 0, CommitHash: Genesis}
	err := lockfile.ReadJSON(l.headPath(packetID), &head)
	if err != nil {
		if os.IsNotExist(err) {
			return Head{Seq: 0, CommitHash: Genesis}, nil
		}
		return Head{}, types.WrapError(types.ErrIO, err, "reading HEAD for %s", packetID)
	}
	return head, nil
}

// Actor identifies who drove a transition.
type Actor struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ActionEnvelope is the hashed description of the transition itself.
type ActionEnvelope struct {
	Type      string         `json:"type"`
	Name      string         `json:"name"`
	Actor     Actor          `json:"actor"`
	Reason    string         `json:"reason"`
	Inputs    map[string]any `json:"inputs"`
	Timestamp string         `json:"timestamp"`
}

// Change records one field's before/after values.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff is the field-level delta between pre and post snapshots.
type Diff struct {
	Changed map[string]Change `json:"changed"`
	Added   map[string]any    `json:"added"`
	Removed map[string]any    `json:"removed"`
}

// BuildDiff compares two snapshots key by key. Equality is canonical-bytes
// equality so nested values compare structurally.
func BuildDiff(before, after map[string]any) Diff {
	diff := Diff{
		Changed: map[string]Change{},
		Added:   map[string]any{},
		Removed: map[string]any{},
	}
	keys := map[string]bool{}
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	for _, k := range ordered {
		b, inBefore := before[k]
		a, inAfter := after[k]
		switch {
		case !inBefore:
			diff.Added[k] = a
		case !inAfter:
			diff.Removed[k] = b
		default:
			if canonical.MustHash(b) != canonical.MustHash(a) {
				diff.Changed[k] = Change{From: b, To: a}
			}
		}
	}
	return diff
}

// Commit is one ledger entry. CommitHash covers the canonical form of every
// other field.
type Commit struct {
	CommitID         string         `json:"commit_id"`
	PacketID         string         `json:"packet_id"`
	Seq              int            `json:"seq"`
	PrevCommitHash   string         `json:"prev_commit_hash"`
	ActionHash       string         `json:"action_hash"`
	PreStateHash     string         `json:"pre_state_hash"`
	PostStateHash    string         `json:"post_state_hash"`
	ConstitutionHash string         `json:"constitution_hash"`
	Diff             Diff           `json:"diff"`
	CreatedAt        string         `json:"created_at"`
	ActionEnvelope   ActionEnvelope `json:"action_envelope"`
	CommitHash       string         `json:"commit_hash,omitempty"`
}

// CommitInput carries everything WriteCommit needs from the engine.
type CommitInput struct {
	PacketID  string
	Action    string
	Actor     string
	Reason    string
	Inputs    map[string]any
	PreState  map[string]any
	PostState map[string]any
}

// ConstitutionHash returns the SHA-256 of the raw constitution document, or
// "" when the document is absent.
func (l *Ledger) ConstitutionHash() string {
	if l.ConstitutionPath == "" {
		return ""
	}
	b, err := os.ReadFile(l.ConstitutionPath)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (l *Ledger) acquirePacketLock(packetID string) (*flock.Flock, error) {
	root := l.packetRoot(packetID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "creating ledger directory for %s", packetID)
	}
	fl := flock.New(filepath.Join(root, "lock"))
	ctx, cancel := context.WithTimeout(context.Background(), l.LockTimeout)
	defer cancel()
	ok, err := fl.TryLockContext(ctx, lockPoll)
	if err != nil && err != context.DeadlineExceeded {
		return nil, types.WrapError(types.ErrIO, err, "locking ledger for %s", packetID)
	}
	if !ok {
		return nil, types.NewError(types.ErrLockTimeout, "timed out locking ledger for %s", packetID)
	}
	return fl, nil
}

// WriteCommit appends one commit to the packet's chain under the per-packet
// lock. The journal write before and after the commit/HEAD pair makes the
// sequence recoverable: see RecoverJournals.
func (l *Ledger) WriteCommit(in CommitInput) (*Commit, error) {
	fl, err := l.acquirePacketLock(in.PacketID)
	if err != nil {
		return nil, err
	}
	defer fl.Unlock()

	head, err := l.Head(in.PacketID)
	if err != nil {
		return nil, err
	}
	seq := head.Seq + 1
	prev := head.CommitHash
	if prev == "" {
		prev = Genesis
	}

	inputs := in.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	actorID := in.Actor
	if actorID == "" {
		actorID = "system"
	}
	envelope := ActionEnvelope{
		Type:      "transition",
		Name:      in.Action,
		Actor:     Actor{Kind: "agent", ID: actorID},
		Reason:    in.Reason,
		Inputs:    inputs,
		Timestamp: types.NowUTC(),
	}

	pre := in.PreState
	if pre == nil {
		pre = map[string]any{}
	}
	post := in.PostState
	if post == nil {
		post = map[string]any{}
	}

	commit := Commit{
		CommitID:         fmt.Sprintf("CMT-%s-%06d", in.PacketID, seq),
		PacketID:         in.PacketID,
		Seq:              seq,
		PrevCommitHash:   prev,
		ActionHash:       canonical.MustHash(envelope),
		PreStateHash:     canonical.MustHash(pre),
		PostStateHash:    canonical.MustHash(post),
		ConstitutionHash: l.ConstitutionHash(),
		Diff:             BuildDiff(pre, post),
		CreatedAt:        types.NowUTC(),
		ActionEnvelope:   envelope,
	}
	hash, err := canonical.Hash(commit)
	if err != nil {
		return nil, types.WrapError(types.ErrIntegrity, err, "hashing commit for %s", in.PacketID)
	}
	commit.CommitHash = hash

	journal := journalEntry{Stage: "prepare", Seq: seq, CommitHash: hash}
	if err := lockfile.WriteJSONAtomicLocked(l.journalPath(in.PacketID), journal); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "writing journal for %s", in.PacketID)
	}
	if err := lockfile.WriteJSONAtomicLocked(l.commitPath(in.PacketID, seq), commit); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "writing commit %06d for %s", seq, in.PacketID)
	}
	if err := lockfile.WriteJSONAtomicLocked(l.headPath(in.PacketID), Head{Seq: seq, CommitHash: hash}); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "writing HEAD for %s", in.PacketID)
	}
	journal.Stage = "done"
	if err := lockfile.WriteJSONAtomicLocked(l.journalPath(in.PacketID), journal); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "finalizing journal for %s", in.PacketID)
	}
	_ = os.Remove(l.journalPath(in.PacketID))

	return &commit, nil
}

// PacketIDs lists every packet with a ledger directory, sorted.
func (l *Ledger) PacketIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.Root, "packets"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.ErrIO, err, "listing ledger packets")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// History returns the packet's commits in sequence order.
func (l *Ledger) History(packetID string) ([]Commit, error) {
	paths, err := l.commitFiles(packetID)
	if err != nil {
		return nil, err
	}
	commits := make([]Commit, 0, len(paths))
	for _, p := range paths {
		var c Commit
		if err := lockfile.ReadJSON(p, &c); err != nil {
			return nil, types.WrapError(types.ErrIO, err, "reading commit %s", p)
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (l *Ledger) commitFiles(packetID string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(l.commitsRoot(packetID), "*.json"))
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "listing commits for %s", packetID)
	}
	sort.Strings(paths)
	return paths, nil
}
