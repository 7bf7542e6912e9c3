// Package wbsdef loads and validates the work-breakdown structure, expands
// tag-based dependencies to explicit packet ids, and detects cycles in the
// expanded graph. Expansion is a load-time operation; the engine caches the
// expanded graph in state so the audit trail records what was enforced.
package wbsdef

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/governedworks/wbs/internal/types"
)

var (
	tagNameRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	tagRefRe  = regexp.MustCompile(`^tag:([a-z0-9]+(-[a-z0-9]+)*)$`)
)

// Load reads and validates a wbs.json definition.
func Load(path string) (*types.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.ErrIO, err, "reading definition %s", path)
	}
	def, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return def, nil
}

// Parse decodes and validates definition bytes.
func Parse(raw []byte) (*types.Definition, error) {
	var def types.Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, types.WrapError(types.ErrIO, err, "parsing definition")
	}
	if issues := Validate(&def); len(issues) > 0 {
		return nil, types.NewError(types.ErrSchemaMismatch, "invalid definition: %s", strings.Join(issues, "; "))
	}
	return &def, nil
}

// Validate checks structural invariants: unique packet and area ids, every
// dependency edge referencing a declared packet or a well-formed tag, valid
// tag grammar, and known area references.
func Validate(def *types.Definition) []string {
	var issues []string

	areaIDs := map[string]bool{}
	for _, a := range def.WorkAreas {
		if a.ID == "" {
			issues = append(issues, "work area with empty id")
			continue
		}
		if areaIDs[a.ID] {
			issues = append(issues, fmt.Sprintf("duplicate area id %s", a.ID))
		}
		areaIDs[a.ID] = true
	}

	packetIDs := map[string]bool{}
	for _, p := range def.Packets {
		if p.ID == "" {
			issues = append(issues, "packet with empty id")
			continue
		}
		if packetIDs[p.ID] {
			issues = append(issues, fmt.Sprintf("duplicate packet id %s", p.ID))
		}
		packetIDs[p.ID] = true
		if p.AreaID != "" && !areaIDs[p.AreaID] {
			issues = append(issues, fmt.Sprintf("packet %s references unknown area %s", p.ID, p.AreaID))
		}
		for _, tag := range p.Tags {
			if !tagNameRe.MatchString(tag) {
				issues = append(issues, fmt.Sprintf("packet %s has invalid tag %q", p.ID, tag))
			}
		}
	}

	for pid, deps := range def.Dependencies {
		if !packetIDs[pid] {
			issues = append(issues, fmt.Sprintf("dependencies declared for unknown packet %s", pid))
		}
		for _, dep := range deps {
			if IsTagRef(dep) {
				if _, err := TagName(dep); err != nil {
					issues = append(issues, fmt.Sprintf("packet %s has invalid tag reference %q", pid, dep))
				}
				continue
			}
			if !packetIDs[dep] {
				issues = append(issues, fmt.Sprintf("packet %s depends on undeclared packet %s", pid, dep))
			}
		}
	}

	sort.Strings(issues)
	return issues
}

// IsTagRef reports whether a dependency string is a tag reference.
func IsTagRef(dep string) bool {
	return strings.HasPrefix(dep, "tag:")
}

// TagName extracts the tag name from a tag reference.
func TagName(ref string) (string, error) {
	m := tagRefRe.FindStringSubmatch(ref)
	if m == nil {
		return "", fmt.Errorf("invalid tag reference: %s", ref)
	}
	return m[1], nil
}

// TagIndex maps tag names to the packet ids carrying them, in definition
// order.
type TagIndex map[string][]string

// BuildTagIndex scans packets and indexes their tags. Invalid tag names are
// skipped (Validate reports them separately).
func BuildTagIndex(packets []types.PacketDef) TagIndex {
	idx := TagIndex{}
	for _, p := range packets {
		for _, tag := range p.Tags {
			if !tagNameRe.MatchString(tag) {
				continue
			}
			idx[tag] = append(idx[tag], p.ID)
		}
	}
	return idx
}

// Expand resolves one dependency list: tag references expand to every packet
// carrying the tag, explicit ids pass through, duplicates are removed, and
// first-seen order is preserved. Expansion is idempotent.
func (idx TagIndex) Expand(deps []string) []string {
	expanded := make([]string, 0, len(deps))
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			expanded = append(expanded, id)
		}
	}
	for _, dep := range deps {
		if IsTagRef(dep) {
			name, err := TagName(dep)
			if err != nil {
				continue
			}
			for _, id := range idx[name] {
				add(id)
			}
			continue
		}
		add(dep)
	}
	return expanded
}

// ExpandAll expands every dependency list in the definition.
func ExpandAll(def *types.Definition) map[string][]string {
	idx := BuildTagIndex(def.Packets)
	out := make(map[string][]string, len(def.Dependencies))
	for pid, deps := range def.Dependencies {
		out[pid] = idx.Expand(deps)
	}
	return out
}

// DetectCycle runs depth-first search over the expanded dependency graph.
// If a cycle exists it returns the path from the first revisited node back
// to itself (e.g. [A B C A]); otherwise nil. Nodes are visited in sorted
// order so the reported cycle is deterministic.
func DetectCycle(deps map[string][]string) []string {
	visited := map[string]bool{}
	onStack := map[string]bool{}
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		visited[node] = true
		onStack[node] = true
		path = append(path, node)
		for _, dep := range deps[node] {
			if onStack[dep] {
				for i, n := range path {
					if n == dep {
						cycle := append([]string{}, path[i:]...)
						return append(cycle, dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		onStack[node] = false
		return nil
	}

	nodes := make([]string, 0, len(deps))
	for n := range deps {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if !visited[n] {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// ExpandAndCheck expands all dependencies and fails on a cycle.
func ExpandAndCheck(def *types.Definition) (map[string][]string, error) {
	expanded := ExpandAll(def)
	if cycle := DetectCycle(expanded); cycle != nil {
		return nil, types.NewError(types.ErrSchemaMismatch,
			"circular dependency detected: %s", strings.Join(cycle, " -> "))
	}
	return expanded, nil
}

// Dependents inverts the expanded graph: for each packet, the packets that
// depend on it. Used by cascade propagation on fail.
func Dependents(deps map[string][]string) map[string][]string {
	out := map[string][]string{}
	targets := make([]string, 0, len(deps))
	for t := range deps {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		for _, source := range deps[target] {
			out[source] = append(out[source], target)
		}
	}
	return out
}
