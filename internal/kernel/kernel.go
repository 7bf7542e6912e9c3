// Package kernel is the lifecycle engine: the sole mutator of runtime state.
// Every mutation runs under the state lock, passes the supervisor, appends an
// activity event, writes a ledger commit, and persists the state atomically.
// Adapters (CLI, HTTP) call the kernel; they never touch the files directly.
package kernel

import (
	"os"
	"path/filepath"
	"time"

	"github.com/governedworks/wbs/internal/dcl"
	"github.com/governedworks/wbs/internal/lockfile"
	"github.com/governedworks/wbs/internal/state"
	"github.com/governedworks/wbs/internal/supervisor"
	"github.com/governedworks/wbs/internal/types"
	"github.com/governedworks/wbs/internal/wbsdef"
)

// Error and the kind constants are re-exported so adapters can dispatch
// without importing internal/types directly.
type (
	Error     = types.Error
	ErrorKind = types.ErrorKind
)

const (
	ErrNotFound           = types.ErrNotFound
	ErrPreconditionFailed = types.ErrPreconditionFailed
	ErrBlockedByDeps      = types.ErrBlockedByDeps
	ErrPolicyDenied       = types.ErrPolicyDenied
	ErrSchemaMismatch     = types.ErrSchemaMismatch
	ErrLockTimeout        = types.ErrLockTimeout
	ErrIO                 = types.ErrIO
	ErrIntegrity          = types.ErrIntegrity
)

// Project layout under the root directory.
const (
	ProjectDirName     = ".wbs"
	DefinitionFileName = "wbs.json"
	StateFileName      = "wbs-state.json"
	AgentsFileName     = "agents.json"
	ConfigLockFileName = "dcl-config.json"
	DCLDirName         = "dcl"
	ConstitutionName   = "constitution.md"
)

// Config tunes a kernel instance. The zero value takes the defaults.
type Config struct {
	LockTimeout time.Duration
	StaleAfter  time.Duration
}

// Kernel is one project's engine. It carries no cached runtime state; every
// operation reads the state file, so concurrent kernels over the same root
// are safe.
type Kernel struct {
	Root       string
	Def        *types.Definition
	Expanded   map[string][]string
	Store      *state.Store
	Ledger     *dcl.Ledger
	Supervisor supervisor.Supervisor

	// Observers run after each successful commit, outside the failure path.
	// Used by the audit mirror.
	Observers []func(*dcl.Commit)
}

// ProjectDir returns the .wbs directory under root.
func ProjectDir(root string) string {
	return filepath.Join(root, ProjectDirName)
}

// Open loads the definition from <root>/wbs.json, expands its dependency
// graph, and wires the store, ledger, and default supervisor.
func Open(root string, cfg Config) (*Kernel, error) {
	def, err := wbsdef.Load(filepath.Join(root, DefinitionFileName))
	if err != nil {
		return nil, err
	}
	return openWith(root, def, cfg)
}

func openWith(root string, def *types.Definition, cfg Config) (*Kernel, error) {
	expanded, err := wbsdef.ExpandAndCheck(def)
	if err != nil {
		return nil, err
	}
	projectDir := ProjectDir(root)
	store := state.NewStore(filepath.Join(projectDir, StateFileName))
	if cfg.LockTimeout > 0 {
		store.LockTimeout = cfg.LockTimeout
	}
	if cfg.StaleAfter > 0 {
		store.StaleAfter = cfg.StaleAfter
	}
	ledger := dcl.New(filepath.Join(projectDir, DCLDirName), filepath.Join(root, ConstitutionName))
	if cfg.LockTimeout > 0 {
		ledger.LockTimeout = cfg.LockTimeout
	}
	return &Kernel{
		Root:       root,
		Def:        def,
		Expanded:   expanded,
		Store:      store,
		Ledger:     ledger,
		Supervisor: supervisor.NewDeterministic(filepath.Join(projectDir, AgentsFileName)),
	}, nil
}

// AgentsPath is the agent registry file for this project.
func (k *Kernel) AgentsPath() string {
	return filepath.Join(ProjectDir(k.Root), AgentsFileName)
}

// ConfigLockPath is the DCL configuration lock for this project.
func (k *Kernel) ConfigLockPath() string {
	return filepath.Join(ProjectDir(k.Root), ConfigLockFileName)
}

// Init validates a definition, instantiates the project under root, and
// returns an opened kernel. Existing runtime files are kept; Init is safe to
// re-run after adding packets to the definition.
func Init(root, definitionPath string) (*Kernel, error) {
	def, err := wbsdef.Load(definitionPath)
	if err != nil {
		return nil, err
	}
	expanded, err := wbsdef.ExpandAndCheck(def)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(root, DefinitionFileName)
	if abs, _ := filepath.Abs(definitionPath); abs != mustAbs(target) {
		raw, readErr := os.ReadFile(definitionPath)
		if readErr != nil {
			return nil, types.WrapError(types.ErrIO, readErr, "reading definition %s", definitionPath)
		}
		if err := os.WriteFile(target, raw, 0o644); err != nil {
			return nil, types.WrapError(types.ErrIO, err, "writing %s", target)
		}
	}

	projectDir := ProjectDir(root)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "creating %s", projectDir)
	}

	k, err := openWith(root, def, Config{})
	if err != nil {
		return nil, err
	}

	st, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	state.EnsurePackets(st, def)
	st.ExpandedDependencies = expanded
	if err := k.Store.Save(st); err != nil {
		return nil, err
	}

	if _, err := os.Stat(k.ConfigLockPath()); os.IsNotExist(err) {
		if err := dcl.WriteConfigLock(k.ConfigLockPath()); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(k.AgentsPath()); os.IsNotExist(err) {
		if err := supervisor.SaveRegistry(k.AgentsPath(), supervisor.DefaultRegistry()); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func mustAbs(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

// lockAndLoad opens a mutation envelope: state lock held, current state
// loaded.
func (k *Kernel) lockAndLoad() (*lockfile.Lock, *types.State, error) {
	lock, err := k.Store.Lock()
	if err != nil {
		return nil, nil, err
	}
	st, err := k.Store.LoadLocked()
	if err != nil {
		lock.Release()
		return nil, nil, err
	}
	return lock, st, nil
}

func (k *Kernel) notify(commits ...*dcl.Commit) {
	for _, c := range commits {
		if c == nil {
			continue
		}
		for _, fn := range k.Observers {
			fn(c)
		}
	}
}

func (k *Kernel) approve(action, packetID, agent, notes string, requiredCaps []string) (string, error) {
	allowed, reason := k.Supervisor.Approve(supervisor.Request{
		PacketID:             packetID,
		Action:               action,
		Agent:                agent,
		Notes:                notes,
		RequiredCapabilities: requiredCaps,
	})
	if !allowed {
		return "", types.NewError(types.ErrPolicyDenied, "%s", reason)
	}
	if reason == "approved" {
		return "", nil
	}
	return reason, nil
}

func (k *Kernel) depsMet(st *types.State, packetID string) (bool, string) {
	for _, depID := range k.Expanded[packetID] {
		dep := st.Packets[depID]
		if dep == nil || dep.Status != types.StatusDone {
			return false, depID
		}
	}
	return true, ""
}
