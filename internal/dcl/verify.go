package dcl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/governedworks/wbs/internal/canonical"
	"github.com/governedworks/wbs/internal/types"
)

// VerifyPacket re-derives every hash in one packet's chain from the stored
// commit files: sequence numbering, action envelope hash, the commit's own
// hash, linkage to the previous commit, the pre/post state handoff, and
// agreement with HEAD. A packet with no commits verifies clean.
func (l *Ledger) VerifyPacket(packetID string) (bool, []string) {
	paths, err := l.commitFiles(packetID)
	if err != nil {
		return false, []string{fmt.Sprintf("listing commits for %s: %v", packetID, err)}
	}
	if len(paths) == 0 {
		return true, nil
	}

	var issues []string
	var prev map[string]any
	var lastHash string
	for idx, path := range paths {
		seq := idx + 1
		doc, readErr := readCommitDoc(path)
		if readErr != nil {
			issues = append(issues, fmt.Sprintf("unreadable commit at %s#%d: %v", packetID, seq, readErr))
			prev = nil
			continue
		}

		if docInt(doc, "seq") != seq {
			issues = append(issues, fmt.Sprintf("seq mismatch at %s#%d: expected %d", packetID, idx, seq))
		}
		if canonical.MustHash(doc["action_envelope"]) != docString(doc, "action_hash") {
			issues = append(issues, fmt.Sprintf("action_hash mismatch at %s#%d", packetID, seq))
		}

		// The commit hash covers everything but itself.
		base := make(map[string]any, len(doc))
		for k, v := range doc {
			if k != "commit_hash" {
				base[k] = v
			}
		}
		storedHash := docString(doc, "commit_hash")
		if canonical.MustHash(base) != storedHash {
			issues = append(issues, fmt.Sprintf("commit_hash mismatch at %s#%d", packetID, seq))
		}

		if prev == nil && idx == 0 {
			if docString(doc, "prev_commit_hash") != Genesis {
				issues = append(issues, fmt.Sprintf("genesis prev_commit_hash mismatch at %s#%d", packetID, seq))
			}
		} else if prev != nil {
			if docString(doc, "prev_commit_hash") != docString(prev, "commit_hash") {
				issues = append(issues, fmt.Sprintf("prev_commit_hash mismatch at %s#%d", packetID, seq))
			}
			if docString(doc, "pre_state_hash") != docString(prev, "post_state_hash") {
				issues = append(issues, fmt.Sprintf("pre/post state chain mismatch at %s#%d", packetID, seq))
			}
		}
		prev = doc
		lastHash = storedHash
	}

	if head, headErr := l.Head(packetID); headErr != nil {
		issues = append(issues, fmt.Sprintf("unreadable HEAD for %s: %v", packetID, headErr))
	} else if head.Seq != len(paths) || head.CommitHash != lastHash {
		issues = append(issues, fmt.Sprintf("HEAD mismatch at %s: HEAD=%d/%s tail=%d", packetID, head.Seq, head.CommitHash, len(paths)))
	}

	return len(issues) == 0, issues
}

// VerifyAll runs VerifyPacket across the ledger. The map holds only packets
// with issues.
func (l *Ledger) VerifyAll() (bool, map[string][]string, error) {
	ids, err := l.PacketIDs()
	if err != nil {
		return false, nil, err
	}
	issues := map[string][]string{}
	for _, id := range ids {
		if ok, errs := l.VerifyPacket(id); !ok {
			issues[id] = errs
		}
	}
	return len(issues) == 0, issues, nil
}

// VerifyAllDetailed additionally checks runtime coherence: the last commit's
// post_state_hash must equal the hash of the packet's current runtime
// snapshot. Returns the total number of commits verified.
func (l *Ledger) VerifyAllDetailed(snapshots map[string]map[string]any) (bool, map[string][]string, int, error) {
	ids, err := l.PacketIDs()
	if err != nil {
		return false, nil, 0, err
	}
	issues := map[string][]string{}
	commitCount := 0
	for _, id := range ids {
		ok, errs := l.VerifyPacket(id)
		paths, _ := l.commitFiles(id)
		commitCount += len(paths)

		if ok && len(paths) > 0 {
			if snap, tracked := snapshots[id]; tracked {
				head, headErr := l.Head(id)
				if headErr == nil {
					if coherent, cohErr := l.runtimeCoherent(id, head, snap); cohErr != nil {
						errs = append(errs, cohErr.Error())
					} else if !coherent {
						errs = append(errs, fmt.Sprintf("runtime state mismatch at %s", id))
					}
				}
			}
		}
		if len(errs) > 0 {
			issues[id] = errs
		}
	}
	return len(issues) == 0, issues, commitCount, nil
}

func (l *Ledger) runtimeCoherent(packetID string, head Head, snapshot map[string]any) (bool, error) {
	doc, err := readCommitDoc(l.commitPath(packetID, head.Seq))
	if err != nil {
		return false, fmt.Errorf("unreadable HEAD commit for %s: %v", packetID, err)
	}
	return docString(doc, "post_state_hash") == canonical.MustHash(snapshot), nil
}

// VerifyCommits checks a commit sequence without touching the filesystem.
// Used by proof-bundle verification, where the chain arrives as bytes.
func VerifyCommits(packetID string, raw [][]byte, head *Head) (bool, []string) {
	var issues []string
	var prev map[string]any
	var lastHash string
	for idx, b := range raw {
		seq := idx + 1
		doc, err := decodeCommitDoc(b)
		if err != nil {
			issues = append(issues, fmt.Sprintf("unreadable commit at %s#%d: %v", packetID, seq, err))
			prev = nil
			continue
		}
		if docInt(doc, "seq") != seq {
			issues = append(issues, fmt.Sprintf("seq mismatch at %s#%d: expected %d", packetID, idx, seq))
		}
		if canonical.MustHash(doc["action_envelope"]) != docString(doc, "action_hash") {
			issues = append(issues, fmt.Sprintf("action_hash mismatch at %s#%d", packetID, seq))
		}
		base := make(map[string]any, len(doc))
		for k, v := range doc {
			if k != "commit_hash" {
				base[k] = v
			}
		}
		storedHash := docString(doc, "commit_hash")
		if canonical.MustHash(base) != storedHash {
			issues = append(issues, fmt.Sprintf("commit_hash mismatch at %s#%d", packetID, seq))
		}
		if idx == 0 {
			if docString(doc, "prev_commit_hash") != Genesis {
				issues = append(issues, fmt.Sprintf("genesis prev_commit_hash mismatch at %s#%d", packetID, seq))
			}
		} else if prev != nil {
			if docString(doc, "prev_commit_hash") != docString(prev, "commit_hash") {
				issues = append(issues, fmt.Sprintf("prev_commit_hash mismatch at %s#%d", packetID, seq))
			}
			if docString(doc, "pre_state_hash") != docString(prev, "post_state_hash") {
				issues = append(issues, fmt.Sprintf("pre/post state chain mismatch at %s#%d", packetID, seq))
			}
		}
		prev = doc
		lastHash = storedHash
	}
	if head != nil && (head.Seq != len(raw) || head.CommitHash != lastHash) {
		issues = append(issues, fmt.Sprintf("HEAD mismatch at %s: HEAD=%d/%s tail=%d", packetID, head.Seq, head.CommitHash, len(raw)))
	}
	return len(issues) == 0, issues
}

// readCommitDoc decodes a commit file into a generic document with numbers
// preserved, so re-hashing covers exactly the stored fields.
func readCommitDoc(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "reading %s", path)
	}
	return decodeCommitDoc(b)
}

func decodeCommitDoc(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func docString(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func docInt(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	case float64:
		return int(v)
	}
	return 0
}
