// Package state persists the runtime state file with cross-process locking,
// atomic writes, and versioned schema migration.
package state

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/governedworks/wbs/internal/activity"
	"github.com/governedworks/wbs/internal/lockfile"
	"github.com/governedworks/wbs/internal/types"
)

// Store reads and writes wbs-state.json. It holds no cached state: every
// Load observes the file as it is on disk, so multiple processes can share
// one store path safely.
type Store struct {
	Path        string
	LockTimeout time.Duration
	StaleAfter  time.Duration
}

// NewStore builds a store with the default lock budgets.
func NewStore(path string) *Store {
	return &Store{
		Path:        path,
		LockTimeout: lockfile.DefaultTimeout,
		StaleAfter:  lockfile.DefaultStaleAfter,
	}
}

// DefaultState is the empty initial state for a fresh project.
func DefaultState() *types.State {
	now := types.NowUTC()
	return &types.State{
		Version:          types.CurrentSchemaVersion,
		SchemaVersion:    types.CurrentSchemaVersion,
		CreatedAt:        now,
		UpdatedAt:        now,
		Packets:          map[string]*types.PacketState{},
		Log:              []types.LogEntry{},
		AreaCloseouts:    map[string]types.Closeout{},
		LogIntegrityMode: "plain",
	}
}

// Load reads, migrates, and normalizes the state. If migration changed the
// shape, the migrated state is persisted before being returned so later
// readers observe the migration atomically. A missing file yields the
// default state without creating it.
func (s *Store) Load() (*types.State, error) {
	return s.load(false)
}

// LoadLocked is Load for callers already inside a mutation envelope: the
// state lock is held, so a migrated document is persisted through SaveLocked
// rather than re-acquiring the lock against ourselves.
func (s *Store) LoadLocked() (*types.State, error) {
	return s.load(true)
}

func (s *Store) load(locked bool) (*types.State, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultState(), nil
		}
		return nil, types.WrapError(types.ErrIO, err, "reading state %s", s.Path)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "parsing state %s", s.Path)
	}

	migrated, changed, err := Migrate(generic)
	if err != nil {
		return nil, err
	}

	st, err := decodeState(migrated)
	if err != nil {
		return nil, err
	}
	normalize(st)

	if changed {
		persist := s.Save
		if locked {
			persist = s.SaveLocked
		}
		if err := persist(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Save acquires the state lock and persists atomically.
func (s *Store) Save(st *types.State) error {
	lock, err := s.Lock()
	if err != nil {
		return err
	}
	defer lock.Release()
	return s.SaveLocked(st)
}

// SaveLocked persists without taking the lock; callers inside a mutation
// envelope already hold it.
func (s *Store) SaveLocked(st *types.State) error {
	st.Version = types.CurrentSchemaVersion
	st.SchemaVersion = types.CurrentSchemaVersion
	st.UpdatedAt = types.NowUTC()
	if err := lockfile.WriteJSONAtomicLocked(s.Path, st); err != nil {
		if errors.Is(err, lockfile.ErrLockTimeout) {
			return types.WrapError(types.ErrLockTimeout, err, "saving state")
		}
		return types.WrapError(types.ErrIO, err, "saving state")
	}
	return nil
}

// Lock takes the cross-process state lock.
func (s *Store) Lock() (*lockfile.Lock, error) {
	lock, err := lockfile.Acquire(s.Path, s.LockTimeout, s.StaleAfter)
	if err != nil {
		if errors.Is(err, lockfile.ErrLockTimeout) {
			return nil, types.WrapError(types.ErrLockTimeout, err, "acquiring state lock")
		}
		return nil, types.WrapError(types.ErrIO, err, "acquiring state lock")
	}
	return lock, nil
}

func decodeState(m map[string]any) (*types.State, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "encoding migrated state")
	}
	var st types.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "decoding migrated state")
	}
	return &st, nil
}

// normalize canonicalizes statuses and the log integrity mode on every read.
func normalize(st *types.State) {
	if st.Packets == nil {
		st.Packets = map[string]*types.PacketState{}
	}
	if st.AreaCloseouts == nil {
		st.AreaCloseouts = map[string]types.Closeout{}
	}
	if st.Log == nil {
		st.Log = []types.LogEntry{}
	}
	for _, p := range st.Packets {
		if p != nil {
			p.Status = types.NormalizeStatus(string(p.Status))
		}
	}
	st.LogIntegrityMode = activity.NormalizeMode(st.LogIntegrityMode)
}

// EnsurePackets instantiates runtime records for definition packets missing
// from the state, status pending. Returns true if anything was added.
func EnsurePackets(st *types.State, def *types.Definition) bool {
	changed := false
	for _, p := range def.Packets {
		if _, ok := st.Packets[p.ID]; !ok {
			st.Packets[p.ID] = &types.PacketState{Status: types.StatusPending}
			changed = true
		}
	}
	return changed
}
