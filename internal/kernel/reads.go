package kernel

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/governedworks/wbs/internal/activity"
	"github.com/governedworks/wbs/internal/types"
)

// ReadyPacket is one claimable packet in definition order.
type ReadyPacket struct {
	ID     string `json:"id"`
	WBSRef string `json:"wbs_ref,omitempty"`
	Title  string `json:"title"`
}

// Ready lists pending packets whose expanded dependencies are all done.
func (k *Kernel) Ready() ([]ReadyPacket, error) {
	st, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	var ready []ReadyPacket
	for _, p := range k.Def.Packets {
		pkt := st.Packets[p.ID]
		status := types.StatusPending
		if pkt != nil {
			status = pkt.Status
		}
		if status != types.StatusPending {
			continue
		}
		if ok, _ := k.depsMet(st, p.ID); ok {
			ready = append(ready, ReadyPacket{ID: p.ID, WBSRef: p.WBSRef, Title: p.Title})
		}
	}
	return ready, nil
}

// Next suggests the first ready packet, or nil when nothing is claimable.
func (k *Kernel) Next() (*ReadyPacket, error) {
	ready, err := k.Ready()
	if err != nil {
		return nil, err
	}
	if len(ready) == 0 {
		return nil, nil
	}
	return &ready[0], nil
}

// Status returns the normalized runtime state.
func (k *Kernel) Status() (*types.State, error) {
	return k.Store.Load()
}

// VerifyLog runs the activity-log chain verifier over the current state.
func (k *Kernel) VerifyLog() (bool, []string, error) {
	st, err := k.Store.Load()
	if err != nil {
		return false, nil, err
	}
	ok, issues := activity.Verify(st.Log)
	return ok, issues, nil
}

// StalePacket is an in_progress packet with no recent activity.
type StalePacket struct {
	ID           string `json:"id"`
	AssignedTo   string `json:"assigned_to,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
}

// Stale lists in_progress packets whose latest activity is older than the
// cutoff. Packets with no parseable activity timestamp are always reported.
func (k *Kernel) Stale(olderThan time.Duration) ([]StalePacket, error) {
	st, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-olderThan)

	lastActivity := map[string]string{}
	for _, e := range st.Log {
		lastActivity[e.PacketID] = e.Timestamp
	}

	var stale []StalePacket
	for _, p := range k.Def.Packets {
		pkt := st.Packets[p.ID]
		if pkt == nil || pkt.Status != types.StatusInProgress {
			continue
		}
		last := lastActivity[p.ID]
		if last == "" {
			last = pkt.StartedAt
		}
		ts, parseErr := time.Parse(time.RFC3339, last)
		if parseErr != nil || ts.Before(cutoff) {
			stale = append(stale, StalePacket{ID: p.ID, AssignedTo: pkt.AssignedTo, LastActivity: last})
		}
	}
	return stale, nil
}

// DepView is a neighbor packet with its current status.
type DepView struct {
	PacketID string       `json:"packet_id"`
	Status   types.Status `json:"status"`
}

// ActiveAssignment is one in_progress packet in the briefing.
type ActiveAssignment struct {
	PacketID  string `json:"packet_id"`
	Agent     string `json:"agent,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
}

// BlockedPacket describes a packet that cannot start and why.
type BlockedPacket struct {
	ID       string       `json:"id"`
	WBSRef   string       `json:"wbs_ref,omitempty"`
	Title    string       `json:"title"`
	Status   types.Status `json:"status"`
	Blockers []DepView    `json:"blockers"`
}

// Briefing is the session bootstrap summary.
type Briefing struct {
	SchemaID          string             `json:"schema_id"`
	SchemaVersion     string             `json:"schema_version"`
	GeneratedAt       string             `json:"generated_at"`
	Mode              string             `json:"mode"`
	Truncated         bool               `json:"truncated"`
	Limits            map[string]int     `json:"limits"`
	Project           types.Metadata     `json:"project"`
	Counts            map[string]int     `json:"counts"`
	ReadyPackets      []ReadyPacket      `json:"ready_packets"`
	BlockedPackets    []BlockedPacket    `json:"blocked_packets"`
	ActiveAssignments []ActiveAssignment `json:"active_assignments"`
	RecentEvents      []types.LogEntry   `json:"recent_events"`
}

const compactBriefingLimit = 10

// Briefing summarizes the project: counts per status, claimable and blocked
// packets, active assignments, and the tail of the activity log. Compact mode
// caps each list at ten entries.
func (k *Kernel) Briefing(recentEvents int, compact bool) (*Briefing, error) {
	st, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	if recentEvents < 1 {
		recentEvents = 1
	}
	if recentEvents > 200 {
		recentEvents = 200
	}

	counts := map[string]int{}
	var active []ActiveAssignment
	for _, p := range k.Def.Packets {
		pkt := st.Packets[p.ID]
		status := types.StatusPending
		if pkt != nil {
			status = pkt.Status
		}
		counts[string(status)]++
		if status == types.StatusInProgress {
			active = append(active, ActiveAssignment{PacketID: p.ID, Agent: pkt.AssignedTo, StartedAt: pkt.StartedAt})
		}
	}

	ready, err := k.Ready()
	if err != nil {
		return nil, err
	}

	var blockedPackets []BlockedPacket
	for _, p := range k.Def.Packets {
		pkt := st.Packets[p.ID]
		status := types.StatusPending
		if pkt != nil {
			status = pkt.Status
		}
		var blockers []DepView
		for _, depID := range k.Expanded[p.ID] {
			depStatus := types.StatusPending
			if dep := st.Packets[depID]; dep != nil {
				depStatus = dep.Status
			}
			if depStatus != types.StatusDone {
				blockers = append(blockers, DepView{PacketID: depID, Status: depStatus})
			}
		}
		if len(blockers) > 0 && (status == types.StatusPending || status == types.StatusBlocked) {
			blockedPackets = append(blockedPackets, BlockedPacket{
				ID: p.ID, WBSRef: p.WBSRef, Title: p.Title, Status: status, Blockers: blockers,
			})
		}
	}

	recent := reverseLog(st.Log)
	truncated := len(recent) > recentEvents
	if truncated {
		recent = recent[:recentEvents]
	}

	mode := "full"
	limits := map[string]int{"recent_events": recentEvents}
	if compact {
		mode = "compact"
		if len(ready) > compactBriefingLimit {
			ready = ready[:compactBriefingLimit]
			truncated = true
		}
		if len(blockedPackets) > compactBriefingLimit {
			blockedPackets = blockedPackets[:compactBriefingLimit]
			truncated = true
		}
		if len(active) > compactBriefingLimit {
			active = active[:compactBriefingLimit]
			truncated = true
		}
		limits["ready_packets"] = compactBriefingLimit
		limits["blocked_packets"] = compactBriefingLimit
		limits["active_assignments"] = compactBriefingLimit
	}

	return &Briefing{
		SchemaID:          "wbs.briefing",
		SchemaVersion:     "1.0",
		GeneratedAt:       types.NowUTC(),
		Mode:              mode,
		Truncated:         truncated,
		Limits:            limits,
		Project:           k.Def.Metadata,
		Counts:            counts,
		ReadyPackets:      ready,
		BlockedPackets:    blockedPackets,
		ActiveAssignments: active,
		RecentEvents:      recent,
	}, nil
}

// BundleLimits bound the context bundle. Zero values take the defaults; out
// of range values are clamped.
type BundleLimits struct {
	MaxEvents     int `json:"max_events"`
	MaxNotesBytes int `json:"max_notes_bytes"`
	MaxHandovers  int `json:"max_handovers"`
}

func (b BundleLimits) clamped() BundleLimits {
	if b.MaxEvents == 0 {
		b.MaxEvents = 40
	}
	if b.MaxNotesBytes == 0 {
		b.MaxNotesBytes = 4000
	}
	if b.MaxHandovers == 0 {
		b.MaxHandovers = 40
	}
	b.MaxEvents = clamp(b.MaxEvents, 1, 200)
	b.MaxHandovers = clamp(b.MaxHandovers, 1, 200)
	b.MaxNotesBytes = clamp(b.MaxNotesBytes, 200, 32000)
	return b
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RuntimeView is the packet's runtime fields inside a context bundle.
type RuntimeView struct {
	Status      types.Status `json:"status"`
	AssignedTo  string       `json:"assigned_to,omitempty"`
	StartedAt   string       `json:"started_at,omitempty"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Notes       string       `json:"notes,omitempty"`
}

// ManifestEntry is one file path mentioned in packet text.
type ManifestEntry struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

// TruncationStats reports what the byte/count budgets dropped.
type TruncationStats struct {
	HistoryDropped    int `json:"history_dropped"`
	HandoversDropped  int `json:"handovers_dropped"`
	NotesBytesDropped int `json:"notes_bytes_dropped"`
}

// ContextBundle is a bounded, self-describing briefing for one packet.
type ContextBundle struct {
	SchemaID         string           `json:"schema_id"`
	SchemaVersion    string           `json:"schema_version"`
	GeneratedAt      string           `json:"generated_at"`
	Mode             string           `json:"mode"`
	Truncated        bool             `json:"truncated"`
	Limits           BundleLimits     `json:"limits"`
	PacketID         string           `json:"packet_id"`
	PacketDefinition types.PacketDef  `json:"packet_definition"`
	RuntimeState     RuntimeView      `json:"runtime_state"`
	Dependencies     struct {
		Upstream   []DepView `json:"upstream"`
		Downstream []DepView `json:"downstream"`
	} `json:"dependencies"`
	History      []types.LogEntry `json:"history"`
	Handovers    []types.Handover `json:"handovers"`
	FileManifest []ManifestEntry  `json:"file_manifest"`
	Truncation   TruncationStats  `json:"truncation"`
}

// ContextBundle assembles the packet's definition, runtime state, dependency
// neighborhood, reversed history, handovers, and a manifest of file paths
// found in its text, under the given byte and count budgets.
func (k *Kernel) ContextBundle(packetID string, compact bool, limits BundleLimits) (*ContextBundle, error) {
	def, ok := k.Def.PacketByID(packetID)
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "packet %s not found", packetID)
	}
	st, err := k.Store.Load()
	if err != nil {
		return nil, err
	}
	limits = limits.clamped()

	pkt := st.Packets[packetID]
	if pkt == nil {
		pkt = &types.PacketState{Status: types.StatusPending}
	}

	runtime := RuntimeView{
		Status:      pkt.Status,
		AssignedTo:  pkt.AssignedTo,
		StartedAt:   pkt.StartedAt,
		CompletedAt: pkt.CompletedAt,
		Notes:       pkt.Notes,
	}

	var upstream []DepView
	for _, depID := range k.Expanded[packetID] {
		status := types.StatusPending
		if dep := st.Packets[depID]; dep != nil {
			status = dep.Status
		}
		upstream = append(upstream, DepView{PacketID: depID, Status: status})
	}
	var downstream []DepView
	for _, target := range sortedKeys(k.Expanded) {
		for _, source := range k.Expanded[target] {
			if source == packetID {
				status := types.StatusPending
				if dep := st.Packets[target]; dep != nil {
					status = dep.Status
				}
				downstream = append(downstream, DepView{PacketID: target, Status: status})
			}
		}
	}

	var history []types.LogEntry
	for _, e := range st.Log {
		if e.PacketID == packetID {
			history = append(history, e)
		}
	}
	history = reverseLog(history)
	historyDropped := 0
	if len(history) > limits.MaxEvents {
		historyDropped = len(history) - limits.MaxEvents
		history = history[:limits.MaxEvents]
	}

	handovers := append([]types.Handover{}, pkt.Handovers...)
	handoversDropped := 0
	if len(handovers) > limits.MaxHandovers {
		handoversDropped = len(handovers) - limits.MaxHandovers
		handovers = handovers[len(handovers)-limits.MaxHandovers:]
	}

	notesDropped := 0
	runtime.Notes, notesDropped = truncateAdd(runtime.Notes, limits.MaxNotesBytes, notesDropped)
	for i := range history {
		history[i].Notes, notesDropped = truncateAdd(history[i].Notes, limits.MaxNotesBytes, notesDropped)
	}
	for i := range handovers {
		handovers[i].Reason, notesDropped = truncateAdd(handovers[i].Reason, limits.MaxNotesBytes, notesDropped)
		handovers[i].ProgressNotes, notesDropped = truncateAdd(handovers[i].ProgressNotes, limits.MaxNotesBytes, notesDropped)
	}

	var texts []string
	texts = append(texts, def.Title, def.Scope, runtime.Notes)
	for _, e := range history {
		texts = append(texts, e.Notes)
	}
	for _, h := range handovers {
		texts = append(texts, h.Reason, h.ProgressNotes)
		texts = append(texts, h.FilesModified...)
		texts = append(texts, h.RemainingWork...)
	}

	mode := "full"
	if compact {
		mode = "compact"
	}
	bundle := &ContextBundle{
		SchemaID:         "wbs.context_bundle",
		SchemaVersion:    "1.0",
		GeneratedAt:      types.NowUTC(),
		Mode:             mode,
		Truncated:        historyDropped > 0 || handoversDropped > 0 || notesDropped > 0,
		Limits:           limits,
		PacketID:         packetID,
		PacketDefinition: def,
		RuntimeState:     runtime,
		History:          history,
		Handovers:        handovers,
		FileManifest:     k.fileManifest(texts),
		Truncation: TruncationStats{
			HistoryDropped:    historyDropped,
			HandoversDropped:  handoversDropped,
			NotesBytesDropped: notesDropped,
		},
	}
	bundle.Dependencies.Upstream = upstream
	bundle.Dependencies.Downstream = downstream
	return bundle, nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func reverseLog(in []types.LogEntry) []types.LogEntry {
	out := make([]types.LogEntry, len(in))
	for i, e := range in {
		out[len(in)-1-i] = e
	}
	return out
}

// truncateAdd trims text to maxBytes on a UTF-8 boundary and accumulates the
// dropped byte count.
func truncateAdd(text string, maxBytes, dropped int) (string, int) {
	if len(text) <= maxBytes {
		return text, dropped
	}
	trimmed := text[:maxBytes]
	for len(trimmed) > 0 && !utf8.ValidString(trimmed) {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed, dropped + len(text) - len(trimmed)
}

var manifestTokenRe = regexp.MustCompile(`[A-Za-z0-9_./-]+`)

var manifestExtensions = map[string]bool{
	".md": true, ".txt": true, ".json": true, ".go": true, ".py": true,
	".sh": true, ".yml": true, ".yaml": true, ".html": true, ".js": true,
	".ts": true, ".tsx": true, ".csv": true, ".log": true,
}

// fileManifest scans free text for tokens that look like project-relative
// file paths and reports whether each exists under the kernel root. Paths
// escaping the root are reported as absent.
func (k *Kernel) fileManifest(texts []string) []ManifestEntry {
	candidates := map[string]bool{}
	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, token := range manifestTokenRe.FindAllString(text, -1) {
			token = strings.Trim(token, ".,;:()[]{}<>\"'`")
			if strings.HasPrefix(token, "http://") || strings.HasPrefix(token, "https://") {
				continue
			}
			token = strings.TrimLeft(token, "./")
			if token == "" {
				continue
			}
			ext := strings.ToLower(filepath.Ext(token))
			if !strings.Contains(token, "/") && !manifestExtensions[ext] {
				continue
			}
			candidates[token] = true
		}
	}

	rootAbs := mustAbs(k.Root)
	paths := make([]string, 0, len(candidates))
	for p := range candidates {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]ManifestEntry, 0, len(paths))
	for _, rel := range paths {
		target := mustAbs(filepath.Join(k.Root, rel))
		exists := false
		if strings.HasPrefix(target, rootAbs+string(os.PathSeparator)) || target == rootAbs {
			if info, statErr := os.Stat(target); statErr == nil && info.Mode().IsRegular() {
				exists = true
			}
		}
		out = append(out, ManifestEntry{Path: rel, Exists: exists})
	}
	return out
}
