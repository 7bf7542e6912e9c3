// Package types defines the WBS definition and runtime state data model
// shared by the kernel, the ledger, and the adapters.
package types

import "time"

// CurrentSchemaVersion is the state schema the kernel reads and writes.
// Older versions are migrated on load; unknown future versions fail fast.
const CurrentSchemaVersion = "1.0"

// Definition is the read-mostly work-breakdown structure loaded from
// wbs.json. Runtime state never lives here.
type Definition struct {
	Metadata     Metadata            `json:"metadata"`
	WorkAreas    []WorkArea          `json:"work_areas"`
	Packets      []PacketDef         `json:"packets"`
	Dependencies map[string][]string `json:"dependencies"`
}

// Metadata carries project approval provenance.
type Metadata struct {
	ProjectName string `json:"project_name"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	ApprovedAt  string `json:"approved_at,omitempty"`
}

// WorkArea is a level-2 grouping of packets with an explicit closeout ritual.
type WorkArea struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// PacketDef is the declarative definition of one work packet.
type PacketDef struct {
	ID                   string   `json:"id"`
	WBSRef               string   `json:"wbs_ref,omitempty"`
	AreaID               string   `json:"area_id,omitempty"`
	Title                string   `json:"title"`
	Scope                string   `json:"scope,omitempty"`
	Tags                 []string `json:"tags,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// PacketByID returns the definition of a packet, or false if undeclared.
func (d *Definition) PacketByID(id string) (PacketDef, bool) {
	for _, p := range d.Packets {
		if p.ID == id {
			return p, true
		}
	}
	return PacketDef{}, false
}

// AreaByID returns a work area by id.
func (d *Definition) AreaByID(id string) (WorkArea, bool) {
	for _, a := range d.WorkAreas {
		if a.ID == id {
			return a, true
		}
	}
	return WorkArea{}, false
}

// State is the runtime state file (wbs-state.json). It is mutated
// exclusively by the lifecycle engine and written atomically.
type State struct {
	Version              string                  `json:"version"`
	SchemaVersion        string                  `json:"schema_version"`
	CreatedAt            string                  `json:"created_at"`
	UpdatedAt            string                  `json:"updated_at"`
	Packets              map[string]*PacketState `json:"packets"`
	Log                  []LogEntry              `json:"log"`
	AreaCloseouts        map[string]Closeout     `json:"area_closeouts"`
	LogIntegrityMode     string                  `json:"log_integrity_mode"`
	ExpandedDependencies map[string][]string     `json:"expanded_dependencies,omitempty"`
}

// PacketState is the mutable runtime record for one packet.
type PacketState struct {
	Status      Status     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	StartedAt   string     `json:"started_at,omitempty"`
	CompletedAt string     `json:"completed_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Handovers   []Handover `json:"handovers,omitempty"`
}

// ActiveHandover returns the most recent handover still marked active.
// At most one handover per packet is active at a time.
func (p *PacketState) ActiveHandover() *Handover {
	for i := len(p.Handovers) - 1; i >= 0; i-- {
		if p.Handovers[i].Active {
			return &p.Handovers[i]
		}
	}
	return nil
}

// Snapshot returns the hashable view of the packet's runtime state: the
// fields a DCL commit's pre/post state hashes cover. Key order does not
// matter (hashes go through canonical JSON), but the field set is part of
// the ledger contract.
func (p *PacketState) Snapshot() map[string]any {
	if p == nil {
		return map[string]any{}
	}
	handovers := make([]map[string]any, 0, len(p.Handovers))
	for _, h := range p.Handovers {
		handovers = append(handovers, h.asMap())
	}
	return map[string]any{
		"status":       string(p.Status),
		"assigned_to":  p.AssignedTo,
		"started_at":   p.StartedAt,
		"completed_at": p.CompletedAt,
		"notes":        p.Notes,
		"handovers":    handovers,
	}
}

// Clone deep-copies the packet state so pre/post snapshots are independent.
func (p *PacketState) Clone() *PacketState {
	if p == nil {
		return nil
	}
	out := *p
	out.Handovers = make([]Handover, len(p.Handovers))
	copy(out.Handovers, p.Handovers)
	return &out
}

// Handover records a transfer of an in-progress packet between agents.
type Handover struct {
	HandoverID    string   `json:"handover_id"`
	FromAgent     string   `json:"from_agent"`
	ToAgent       string   `json:"to_agent,omitempty"`
	Timestamp     string   `json:"timestamp"`
	Reason        string   `json:"reason"`
	ProgressNotes string   `json:"progress_notes,omitempty"`
	FilesModified []string `json:"files_modified"`
	RemainingWork []string `json:"remaining_work"`
	Active        bool     `json:"active"`
	ResumedBy     string   `json:"resumed_by,omitempty"`
	ResumedAt     string   `json:"resumed_at,omitempty"`
}

func (h Handover) asMap() map[string]any {
	return map[string]any{
		"handover_id":    h.HandoverID,
		"from_agent":     h.FromAgent,
		"to_agent":       h.ToAgent,
		"timestamp":      h.Timestamp,
		"reason":         h.Reason,
		"progress_notes": h.ProgressNotes,
		"files_modified": h.FilesModified,
		"remaining_work": h.RemainingWork,
		"active":         h.Active,
		"resumed_by":     h.ResumedBy,
		"resumed_at":     h.ResumedAt,
	}
}

// LogEntry is one activity event. The chain fields (EventID, PrevHash, Hash)
// are present only when the log runs in hash_chain mode; a partial set is a
// fatal inconsistency.
type LogEntry struct {
	PacketID  string `json:"packet_id"`
	Event     string `json:"event"`
	Agent     string `json:"agent,omitempty"`
	Timestamp string `json:"timestamp"`
	Notes     string `json:"notes,omitempty"`

	EventID  string `json:"event_id,omitempty"`
	PrevHash *string `json:"prev_hash,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Hashed reports whether the entry carries the full chain field set.
func (e *LogEntry) Hashed() bool {
	return e.EventID != "" && e.PrevHash != nil && e.Hash != ""
}

// PartialChain reports whether the entry carries some but not all chain
// fields, which log verification treats as fatal.
func (e *LogEntry) PartialChain() bool {
	any := e.EventID != "" || e.PrevHash != nil || e.Hash != ""
	return any && !e.Hashed()
}

// Closeout is the monotone record of a closed level-2 area.
type Closeout struct {
	Status              string `json:"status"`
	AreaTitle           string `json:"area_title,omitempty"`
	ClosedBy            string `json:"closed_by"`
	ClosedAt            string `json:"closed_at"`
	DriftAssessmentPath string `json:"drift_assessment_path"`
	Notes               string `json:"notes,omitempty"`
	IntegrityMethod     string `json:"integrity_method,omitempty"`
}

// NowUTC renders the current instant as UTC ISO-8601 with a Z suffix, the
// only timestamp form the kernel persists.
func NowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
