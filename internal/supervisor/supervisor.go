// Package supervisor implements the deterministic authorization policy
// applied before every mutating transition, plus the on-disk agent registry
// that backs capability checks.
package supervisor

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/governedworks/wbs/internal/lockfile"
)

// Enforcement modes for the capability check on claim.
const (
	EnforcementDisabled = "disabled"
	EnforcementAdvisory = "advisory"
	EnforcementStrict   = "strict"
)

// DefaultTaxonomy is the built-in capability tag vocabulary.
var DefaultTaxonomy = []string{"code", "test", "docs", "review", "research", "deploy"}

// Request describes one proposed transition for the supervisor to judge.
type Request struct {
	PacketID             string
	Action               string
	Agent                string
	Notes                string
	RequiredCapabilities []string
}

// Supervisor is the pluggable policy interface. Implementations must be
// deterministic functions of the request and the registry snapshot.
type Supervisor interface {
	Approve(req Request) (bool, string)
}

// Noop approves everything. Used by replay and by tests that exercise the
// engine without policy.
type Noop struct{}

func (Noop) Approve(Request) (bool, string) { return true, "approved" }

var mutatingActions = map[string]bool{
	"claim": true, "done": true, "note": true, "fail": true,
	"handover": true, "resume": true, "closeout_l2": true,
}

// Policy tunes the deterministic supervisor.
type Policy struct {
	RequireNotesOnDone     bool
	RequireAgentForMutation bool
	RegistryPath           string
}

// DefaultPolicy matches the shipped governance posture.
func DefaultPolicy(registryPath string) Policy {
	return Policy{
		RequireNotesOnDone:      true,
		RequireAgentForMutation: true,
		RegistryPath:            registryPath,
	}
}

// Deterministic is the default supervisor: agent required for mutations,
// notes required for done, capability check on claim.
type Deterministic struct {
	Policy Policy
}

// NewDeterministic builds the default supervisor over a registry path.
func NewDeterministic(registryPath string) *Deterministic {
	return &Deterministic{Policy: DefaultPolicy(registryPath)}
}

// Approve applies the policy. In advisory mode a failed capability check
// still approves, with a warning reason the engine records alongside the
// transition.
func (d *Deterministic) Approve(req Request) (bool, string) {
	if d.Policy.RequireAgentForMutation && mutatingActions[req.Action] && strings.TrimSpace(req.Agent) == "" {
		return false, "supervisor denied: agent required"
	}
	if d.Policy.RequireNotesOnDone && req.Action == "done" && strings.TrimSpace(req.Notes) == "" {
		return false, "supervisor denied: completion notes required for done"
	}
	if req.Action == "claim" {
		ok, msg := CheckCapabilities(d.Policy.RegistryPath, req.Agent, req.RequiredCapabilities)
		if !ok {
			return false, msg
		}
		if msg != "" {
			return true, msg
		}
	}
	return true, "approved"
}

// Agent is one registry entry.
type Agent struct {
	ID           string   `json:"id"`
	Type         string   `json:"type,omitempty"`
	Capabilities []string `json:"capabilities"`
	Constraints  []string `json:"constraints,omitempty"`
}

// Registry is the on-disk agent registry (agents.json).
type Registry struct {
	Version            string   `json:"version"`
	EnforcementMode    string   `json:"enforcement_mode"`
	CapabilityTaxonomy []string `json:"capability_taxonomy"`
	Agents             []Agent  `json:"agents"`
}

// DefaultRegistry is the registry a fresh project starts with: enforcement
// disabled, default taxonomy, no agents.
func DefaultRegistry() *Registry {
	return &Registry{
		Version:            "1.0",
		EnforcementMode:    EnforcementDisabled,
		CapabilityTaxonomy: append([]string{}, DefaultTaxonomy...),
		Agents:             []Agent{},
	}
}

// NormalizeEnforcementMode coerces unknown modes to advisory, the safe
// middle ground for registries written by hand.
func NormalizeEnforcementMode(mode string) string {
	token := strings.ToLower(strings.TrimSpace(mode))
	switch token {
	case EnforcementDisabled, EnforcementAdvisory, EnforcementStrict:
		return token
	}
	return EnforcementAdvisory
}

// LoadRegistry reads the registry, defaulting when absent.
func LoadRegistry(path string) (*Registry, error) {
	reg := DefaultRegistry()
	if err := lockfile.ReadJSON(path, reg); err != nil {
		if os.IsNotExist(err) {
			return DefaultRegistry(), nil
		}
		return nil, fmt.Errorf("loading agent registry: %w", err)
	}
	reg.EnforcementMode = NormalizeEnforcementMode(reg.EnforcementMode)
	if reg.Version == "" {
		reg.Version = "1.0"
	}
	if len(reg.CapabilityTaxonomy) == 0 {
		reg.CapabilityTaxonomy = append([]string{}, DefaultTaxonomy...)
	}
	if reg.Agents == nil {
		reg.Agents = []Agent{}
	}
	return reg, nil
}

// SaveRegistry persists the registry atomically under the file lock.
func SaveRegistry(path string, reg *Registry) error {
	reg.EnforcementMode = NormalizeEnforcementMode(reg.EnforcementMode)
	if reg.Version == "" {
		reg.Version = "1.0"
	}
	return lockfile.WriteJSONAtomic(path, reg, 10*time.Second)
}

// AgentByID returns the profile for an agent id.
func (r *Registry) AgentByID(id string) (Agent, bool) {
	for _, a := range r.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// CheckCapabilities evaluates the claim-time capability policy against the
// registry snapshot. Returns (true, "") on a clean pass, (true, warning) in
// advisory mode, and (false, message) in strict mode.
func CheckCapabilities(registryPath, agentID string, required []string) (bool, string) {
	reg, err := LoadRegistry(registryPath)
	if err != nil {
		// A malformed registry must not silently disable governance.
		return false, fmt.Sprintf("capability check failed: %v", err)
	}

	var cleaned []string
	for _, cap := range required {
		if c := strings.TrimSpace(cap); c != "" {
			cleaned = append(cleaned, c)
		}
	}
	if reg.EnforcementMode == EnforcementDisabled || len(cleaned) == 0 {
		return true, ""
	}

	taxonomy := map[string]bool{}
	for _, cap := range reg.CapabilityTaxonomy {
		taxonomy[strings.TrimSpace(cap)] = true
	}

	profile, registered := reg.AgentByID(agentID)
	agentCaps := map[string]bool{}
	for _, cap := range profile.Capabilities {
		agentCaps[strings.TrimSpace(cap)] = true
	}

	var missing, unknown []string
	for _, cap := range cleaned {
		if !agentCaps[cap] {
			missing = append(missing, cap)
		}
		if !taxonomy[cap] {
			unknown = append(unknown, cap)
		}
	}
	sort.Strings(missing)
	sort.Strings(unknown)

	var issues []string
	if !registered {
		issues = append(issues, fmt.Sprintf("agent %q is not registered", agentID))
	}
	if len(missing) > 0 {
		issues = append(issues, "missing required capabilities: "+strings.Join(missing, ", "))
	}
	if len(unknown) > 0 {
		issues = append(issues, "unknown required capability tags: "+strings.Join(unknown, ", "))
	}
	if len(issues) == 0 {
		return true, ""
	}

	detail := strings.Join(issues, "; ")
	if reg.EnforcementMode == EnforcementStrict {
		return false, "capability check: " + detail
	}
	return true, "capability warning: " + detail
}
