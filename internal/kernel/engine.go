package kernel

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/governedworks/wbs/internal/activity"
	"github.com/governedworks/wbs/internal/dcl"
	"github.com/governedworks/wbs/internal/types"
	"github.com/governedworks/wbs/internal/wbsdef"
)

// TransitionResult reports one successful mutation back to the adapter.
type TransitionResult struct {
	PacketID       string   `json:"packet_id"`
	Action         string   `json:"action"`
	Message        string   `json:"message"`
	Warning        string   `json:"warning,omitempty"`
	Blocked        []string `json:"blocked,omitempty"`
	CascadeSkipped []string `json:"cascade_skipped,omitempty"`
}

func (k *Kernel) commitTransition(packetID, action, actor, reason string, inputs map[string]any, pre, post map[string]any) (*dcl.Commit, error) {
	return k.Ledger.WriteCommit(dcl.CommitInput{
		PacketID:  packetID,
		Action:    action,
		Actor:     actor,
		Reason:    reason,
		Inputs:    inputs,
		PreState:  pre,
		PostState: post,
	})
}

func (k *Kernel) packetState(st *types.State, packetID string) (*types.PacketState, error) {
	pkt, ok := st.Packets[packetID]
	if !ok || pkt == nil {
		return nil, types.NewError(types.ErrNotFound, "packet %s not found", packetID)
	}
	return pkt, nil
}

// Claim moves a pending packet with all dependencies done to in_progress and
// assigns it to agent. In advisory capability mode the result carries the
// warning and a capability_warning event lands next to started.
func (k *Kernel) Claim(packetID, agent string) (*TransitionResult, error) {
	var requiredCaps []string
	if def, ok := k.Def.PacketByID(packetID); ok {
		requiredCaps = def.RequiredCapabilities
	}

	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	warning, err := k.approve("claim", packetID, agent, "", requiredCaps)
	if err != nil {
		return nil, err
	}
	pkt, err := k.packetState(st, packetID)
	if err != nil {
		return nil, err
	}
	if pkt.Status != types.StatusPending {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, not pending", packetID, pkt.Status)
	}
	if ok, blocking := k.depsMet(st, packetID); !ok {
		return nil, types.NewError(types.ErrBlockedByDeps, "blocked by %s (not done yet)", blocking)
	}

	pre := pkt.Snapshot()
	pkt.Status = types.StatusInProgress
	pkt.AssignedTo = agent
	pkt.StartedAt = types.NowUTC()
	activity.Append(st, packetID, "started", agent, "Claimed by "+agent)
	if warning != "" {
		activity.Append(st, packetID, "capability_warning", agent, warning)
	}

	commit, err := k.commitTransition(packetID, "claim", agent, warning, map[string]any{"agent": agent}, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)

	msg := fmt.Sprintf("%s claimed by %s", packetID, agent)
	if warning != "" {
		msg += " (" + warning + ")"
	}
	return &TransitionResult{PacketID: packetID, Action: "claim", Message: msg, Warning: warning}, nil
}

// Done completes an in_progress packet. A packet with an active handover must
// be resumed first.
func (k *Kernel) Done(packetID, agent, notes string) (*TransitionResult, error) {
	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := k.approve("done", packetID, agent, notes, nil); err != nil {
		return nil, err
	}
	pkt, err := k.packetState(st, packetID)
	if err != nil {
		return nil, err
	}
	if pkt.Status != types.StatusInProgress {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, not in_progress", packetID, pkt.Status)
	}
	if pkt.AssignedTo != "" && pkt.AssignedTo != agent {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s owned by %s, not %s", packetID, pkt.AssignedTo, agent)
	}
	if pkt.ActiveHandover() != nil {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s has active handover; resume before done", packetID)
	}

	pre := pkt.Snapshot()
	pkt.Status = types.StatusDone
	pkt.CompletedAt = types.NowUTC()
	pkt.Notes = notes
	activity.Append(st, packetID, "completed", agent, notes)

	commit, err := k.commitTransition(packetID, "done", agent, "", map[string]any{"notes": notes}, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)
	return &TransitionResult{PacketID: packetID, Action: "done", Message: packetID + " marked done"}, nil
}

// Note replaces the packet's notes. Terminal packets are immutable.
func (k *Kernel) Note(packetID, agent, notes string) (*TransitionResult, error) {
	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := k.approve("note", packetID, agent, notes, nil); err != nil {
		return nil, err
	}
	pkt, err := k.packetState(st, packetID)
	if err != nil {
		return nil, err
	}
	if pkt.Status.IsTerminal() {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, cannot note", packetID, pkt.Status)
	}
	if pkt.AssignedTo != "" && pkt.AssignedTo != agent {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s owned by %s, not %s", packetID, pkt.AssignedTo, agent)
	}

	pre := pkt.Snapshot()
	pkt.Notes = notes
	activity.Append(st, packetID, "noted", agent, notes)

	commit, err := k.commitTransition(packetID, "note", agent, "", map[string]any{"notes": notes}, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)
	return &TransitionResult{PacketID: packetID, Action: "note", Message: packetID + " notes updated"}, nil
}

// Fail marks a pending or in_progress packet failed and blocks every
// downstream packet reachable over the expanded dependency graph that is
// still pending or in_progress. Dependents already settled are skipped and
// reported, never an error.
func (k *Kernel) Fail(packetID, agent, reason string) (*TransitionResult, error) {
	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := k.approve("fail", packetID, agent, reason, nil); err != nil {
		return nil, err
	}
	pkt, err := k.packetState(st, packetID)
	if err != nil {
		return nil, err
	}
	if !pkt.Status.Active() {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, cannot fail", packetID, pkt.Status)
	}
	if pkt.AssignedTo != "" && pkt.AssignedTo != agent {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s owned by %s, not %s", packetID, pkt.AssignedTo, agent)
	}
	if pkt.ActiveHandover() != nil {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s has active handover; resume before fail", packetID)
	}

	pre := pkt.Snapshot()
	pkt.Status = types.StatusFailed
	pkt.CompletedAt = types.NowUTC()
	pkt.Notes = reason
	activity.Append(st, packetID, "failed", agent, reason)

	commits := make([]*dcl.Commit, 0, 1)
	commit, err := k.commitTransition(packetID, "fail", agent, reason, map[string]any{"reason": reason}, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	commits = append(commits, commit)

	blocked, skipped, blockCommits, err := k.cascade(st, packetID)
	if err != nil {
		return nil, err
	}
	commits = append(commits, blockCommits...)

	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commits...)

	msg := packetID + " failed"
	if len(blocked) > 0 {
		msg += "; blocked: " + strings.Join(blocked, ", ")
	}
	return &TransitionResult{
		PacketID:       packetID,
		Action:         "fail",
		Message:        msg,
		Blocked:        blocked,
		CascadeSkipped: skipped,
	}, nil
}

// cascade walks the inverted dependency graph breadth-first from origin,
// blocking every active dependent. Each blocked packet gets its own activity
// event and ledger commit citing the origin.
func (k *Kernel) cascade(st *types.State, origin string) (blocked, skipped []string, commits []*dcl.Commit, err error) {
	dependents := wbsdef.Dependents(k.Expanded)
	queue := append([]string{}, dependents[origin]...)
	seen := map[string]bool{}
	skippedSet := map[string]bool{}

	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]
		if seen[pid] {
			continue
		}
		seen[pid] = true

		pkt := st.Packets[pid]
		if pkt == nil {
			continue
		}
		if !pkt.Status.Active() {
			skippedSet[pid] = true
			continue
		}

		pre := pkt.Snapshot()
		pkt.Status = types.StatusBlocked
		activity.Append(st, pid, "blocked", "", "Blocked by "+origin)
		commit, cerr := k.commitTransition(pid, "blocked", "system", "Blocked by "+origin, map[string]any{"origin": origin}, pre, pkt.Snapshot())
		if cerr != nil {
			return nil, nil, nil, cerr
		}
		commits = append(commits, commit)
		blocked = append(blocked, pid)
		queue = append(queue, dependents[pid]...)
	}

	for pid := range skippedSet {
		skipped = append(skipped, pid)
	}
	sort.Strings(skipped)
	return blocked, skipped, commits, nil
}

// Reset reverts an in_progress packet to pending and clears its assignment.
// Packets blocked downstream by an earlier fail stay blocked.
func (k *Kernel) Reset(packetID string) (*TransitionResult, error) {
	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	pkt, err := k.packetState(st, packetID)
	if err != nil {
		return nil, err
	}
	if pkt.Status != types.StatusInProgress {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, not in_progress", packetID, pkt.Status)
	}

	pre := pkt.Snapshot()
	pkt.Status = types.StatusPending
	pkt.AssignedTo = ""
	pkt.StartedAt = ""
	activity.Append(st, packetID, "reset", "", "")

	commit, err := k.commitTransition(packetID, "reset", "system", "", nil, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)
	return &TransitionResult{PacketID: packetID, Action: "reset", Message: packetID + " reset to pending"}, nil
}

// HandoverInput carries the handover form.
type HandoverInput struct {
	PacketID      string
	Agent         string
	Reason        string
	ProgressNotes string
	FilesModified []string
	RemainingWork []string
	ToAgent       string
}

// Handover parks an in_progress packet: the owning agent records progress and
// releases the assignment, optionally targeting a successor.
func (k *Kernel) Handover(in HandoverInput) (*TransitionResult, error) {
	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := k.approve("handover", in.PacketID, in.Agent, in.Reason, nil); err != nil {
		return nil, err
	}
	pkt, err := k.packetState(st, in.PacketID)
	if err != nil {
		return nil, err
	}
	if pkt.Status != types.StatusInProgress {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, not in_progress", in.PacketID, pkt.Status)
	}
	if pkt.AssignedTo != "" && pkt.AssignedTo != in.Agent {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s owned by %s, not %s", in.PacketID, pkt.AssignedTo, in.Agent)
	}
	if pkt.ActiveHandover() != nil {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s already has an active handover", in.PacketID)
	}

	pre := pkt.Snapshot()
	record := types.Handover{
		HandoverID:    fmt.Sprintf("h-%04d", len(pkt.Handovers)+1),
		FromAgent:     in.Agent,
		ToAgent:       strings.TrimSpace(in.ToAgent),
		Timestamp:     types.NowUTC(),
		Reason:        in.Reason,
		ProgressNotes: in.ProgressNotes,
		FilesModified: cleanList(in.FilesModified),
		RemainingWork: cleanList(in.RemainingWork),
		Active:        true,
	}
	pkt.Handovers = append(pkt.Handovers, record)
	pkt.AssignedTo = ""
	if in.ProgressNotes != "" {
		pkt.Notes = in.ProgressNotes
	}
	summary := in.Reason
	if record.ToAgent != "" {
		summary += " | to: " + record.ToAgent
	}
	activity.Append(st, in.PacketID, "handover", in.Agent, summary)

	commit, err := k.commitTransition(in.PacketID, "handover", in.Agent, in.Reason, map[string]any{
		"to_agent":    record.ToAgent,
		"handover_id": record.HandoverID,
	}, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)
	return &TransitionResult{PacketID: in.PacketID, Action: "handover", Message: in.PacketID + " handed over"}, nil
}

func cleanList(items []string) []string {
	out := []string{}
	for _, item := range items {
		if t := strings.TrimSpace(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Resume closes the packet's active handover and assigns the packet to
// agent. A targeted handover can only be resumed by its target.
func (k *Kernel) Resume(packetID, agent string) (*TransitionResult, error) {
	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	if _, err := k.approve("resume", packetID, agent, "", nil); err != nil {
		return nil, err
	}
	pkt, err := k.packetState(st, packetID)
	if err != nil {
		return nil, err
	}
	if pkt.Status != types.StatusInProgress {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s is %s, not in_progress", packetID, pkt.Status)
	}
	handover := pkt.ActiveHandover()
	if handover == nil {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s has no active handover", packetID)
	}
	if handover.ToAgent != "" && handover.ToAgent != agent {
		return nil, types.NewError(types.ErrPreconditionFailed, "packet %s handover is targeted to %s", packetID, handover.ToAgent)
	}

	pre := pkt.Snapshot()
	handover.Active = false
	handover.ResumedBy = agent
	handover.ResumedAt = types.NowUTC()
	pkt.AssignedTo = agent
	if pkt.StartedAt == "" {
		pkt.StartedAt = types.NowUTC()
	}
	from := handover.FromAgent
	if from == "" {
		from = "-"
	}
	activity.Append(st, packetID, "resumed", agent, "Resumed handover from "+from)

	commit, err := k.commitTransition(packetID, "resume", agent, "", map[string]any{"handover_id": handover.HandoverID}, pre, pkt.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)
	return &TransitionResult{PacketID: packetID, Action: "resume", Message: packetID + " resumed by " + agent}, nil
}

// RequiredAssessmentSections are the headers a drift assessment document must
// contain before a level-2 area closes.
var RequiredAssessmentSections = []string{
	"## Scope Reviewed",
	"## Expected vs Delivered",
	"## Drift Assessment",
	"## Evidence Reviewed",
	"## Residual Risks",
	"## Immediate Next Actions",
}

// CloseoutL2 closes a level-2 work area once every packet in it is done and
// the drift assessment document carries all required sections. A bare numeric
// area id resolves to "N.0". The ledger commit targets the synthetic packet
// id AREA-<area_id>.
func (k *Kernel) CloseoutL2(areaID, agent, assessmentPath, notes string) (*TransitionResult, error) {
	areaID = strings.TrimSpace(areaID)
	if _, ok := k.Def.AreaByID(areaID); !ok && isDigits(areaID) {
		areaID = areaID + ".0"
	}

	lock, st, err := k.lockAndLoad()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	syntheticID := "AREA-" + areaID
	if _, err := k.approve("closeout_l2", syntheticID, agent, notes, nil); err != nil {
		return nil, err
	}
	area, ok := k.Def.AreaByID(areaID)
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "level-2 area not found: %s", areaID)
	}

	var incomplete []string
	for _, p := range k.Def.Packets {
		if p.AreaID != areaID {
			continue
		}
		status := types.StatusPending
		if pkt := st.Packets[p.ID]; pkt != nil {
			status = pkt.Status
		}
		if status != types.StatusDone {
			incomplete = append(incomplete, fmt.Sprintf("%s(%s)", p.ID, status))
		}
	}
	if len(incomplete) > 0 {
		return nil, types.NewError(types.ErrPreconditionFailed,
			"cannot close out %s: incomplete packets: %s", areaID, strings.Join(incomplete, ", "))
	}

	raw, readErr := os.ReadFile(strings.TrimSpace(assessmentPath))
	if readErr != nil {
		return nil, types.WrapError(types.ErrPreconditionFailed, readErr, "assessment file not found: %s", assessmentPath)
	}
	text := strings.ToLower(string(raw))
	var missing []string
	for _, section := range RequiredAssessmentSections {
		if !strings.Contains(text, strings.ToLower(section)) {
			missing = append(missing, "missing required section: "+section)
		}
	}
	if len(missing) > 0 {
		return nil, types.NewError(types.ErrPreconditionFailed,
			"drift assessment validation failed: %s", strings.Join(missing, "; "))
	}

	pre := closeoutSnapshot(st.AreaCloseouts[areaID])
	closeout := types.Closeout{
		Status:              "closed",
		AreaTitle:           area.Title,
		ClosedBy:            agent,
		ClosedAt:            types.NowUTC(),
		DriftAssessmentPath: assessmentPath,
		Notes:               notes,
		IntegrityMethod:     "review-based (no cryptographic hashing required)",
	}
	st.AreaCloseouts[areaID] = closeout

	summary := "Drift assessment: " + assessmentPath
	if notes != "" {
		summary += " | " + notes
	}
	activity.Append(st, syntheticID, "area_closed", agent, summary)

	commit, err := k.commitTransition(syntheticID, "closeout_l2", agent, notes, map[string]any{
		"area_id":         areaID,
		"assessment_path": assessmentPath,
	}, pre, closeoutSnapshot(closeout))
	if err != nil {
		return nil, err
	}
	if err := k.Store.SaveLocked(st); err != nil {
		return nil, err
	}
	k.notify(commit)
	return &TransitionResult{PacketID: syntheticID, Action: "closeout_l2", Message: "Level-2 area " + areaID + " closed"}, nil
}

func closeoutSnapshot(c types.Closeout) map[string]any {
	if c.Status == "" {
		return map[string]any{}
	}
	return map[string]any{
		"status":                c.Status,
		"area_title":            c.AreaTitle,
		"closed_by":             c.ClosedBy,
		"closed_at":             c.ClosedAt,
		"drift_assessment_path": c.DriftAssessmentPath,
		"notes":                 c.Notes,
		"integrity_method":      c.IntegrityMethod,
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SetLogMode switches the activity log integrity mode. Entering hash_chain
// records the switch as the first hashed entry.
func (k *Kernel) SetLogMode(mode string) (string, error) {
	normalized := activity.NormalizeMode(mode)

	lock, st, err := k.lockAndLoad()
	if err != nil {
		return "", err
	}
	defer lock.Release()

	if st.LogIntegrityMode == normalized {
		return normalized, nil
	}
	st.LogIntegrityMode = normalized
	activity.Append(st, "SYSTEM", "log_mode_changed", "system", "log integrity mode set to "+normalized)
	if err := k.Store.SaveLocked(st); err != nil {
		return "", err
	}
	return normalized, nil
}
