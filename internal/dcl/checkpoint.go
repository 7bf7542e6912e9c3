package dcl

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/governedworks/wbs/internal/canonical"
	"github.com/governedworks/wbs/internal/lockfile"
	"github.com/governedworks/wbs/internal/types"
)

// Checkpoint is a project-wide attestation: the Merkle root binds every
// packet's chain tip at one moment, and checkpoint_hash seals the document.
type Checkpoint struct {
	CheckpointID   string            `json:"checkpoint_id"`
	Phase          string            `json:"phase"`
	PacketHeads    map[string]string `json:"packet_heads"`
	MerkleRoot     string            `json:"merkle_root"`
	CreatedAt      string            `json:"created_at"`
	CheckpointHash string            `json:"checkpoint_hash,omitempty"`
}

func (l *Ledger) checkpointsRoot() string {
	return filepath.Join(l.Root, "project-checkpoints")
}

// PacketHeads collects the current chain tip hash of every ledger packet.
func (l *Ledger) PacketHeads() (map[string]string, error) {
	ids, err := l.PacketIDs()
	if err != nil {
		return nil, err
	}
	heads := map[string]string{}
	for _, id := range ids {
		head, headErr := l.Head(id)
		if headErr != nil {
			return nil, headErr
		}
		if head.Seq > 0 {
			heads[id] = head.CommitHash
		}
	}
	return heads, nil
}

// WriteCheckpoint appends a checkpoint document under project-checkpoints/.
// The Merkle root is the canonical hash of the packet_heads map.
func (l *Ledger) WriteCheckpoint(phase string, packetHeads map[string]string) (*Checkpoint, error) {
	root := l.checkpointsRoot()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "creating checkpoint directory")
	}
	existing, err := filepath.Glob(filepath.Join(root, "*.json"))
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "listing checkpoints")
	}
	seq := len(existing) + 1

	if packetHeads == nil {
		packetHeads = map[string]string{}
	}
	cp := Checkpoint{
		CheckpointID: fmt.Sprintf("CHK-%06d", seq),
		Phase:        phase,
		PacketHeads:  packetHeads,
		MerkleRoot:   canonical.MustHash(packetHeads),
		CreatedAt:    types.NowUTC(),
	}
	hash, err := canonical.Hash(cp)
	if err != nil {
		return nil, types.WrapError(types.ErrIntegrity, err, "hashing checkpoint")
	}
	cp.CheckpointHash = hash

	path := filepath.Join(root, fmt.Sprintf("%06d.json", seq))
	if err := lockfile.WriteJSONAtomicLocked(path, cp); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "writing checkpoint %s", cp.CheckpointID)
	}
	return &cp, nil
}

// Checkpoints returns every checkpoint in sequence order.
func (l *Ledger) Checkpoints() ([]Checkpoint, error) {
	paths, err := filepath.Glob(filepath.Join(l.checkpointsRoot(), "*.json"))
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "listing checkpoints")
	}
	sort.Strings(paths)
	out := make([]Checkpoint, 0, len(paths))
	for _, p := range paths {
		var cp Checkpoint
		if err := lockfile.ReadJSON(p, &cp); err != nil {
			return nil, types.WrapError(types.ErrIO, err, "reading checkpoint %s", p)
		}
		out = append(out, cp)
	}
	return out, nil
}
