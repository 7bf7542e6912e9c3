package dcl

import (
	"fmt"
	"os"

	"github.com/governedworks/wbs/internal/lockfile"
)

type journalEntry struct {
	Stage      string `json:"stage"`
	Seq        int    `json:"seq"`
	CommitHash string `json:"commit_hash"`
}

// Journal recovery statuses.
const (
	RecoveryClean        = "clean"
	RecoveryHeadAdvanced = "head_advanced"
	RecoveryBlocked      = "blocked"
)

// RecoveryReport describes the outcome of journal recovery for one packet.
type RecoveryReport struct {
	PacketID string `json:"packet_id"`
	Status   string `json:"status"`
	Detail   string `json:"detail,omitempty"`
}

// RecoverJournals scans every packet for a leftover journal and repairs the
// commit/HEAD pair it describes. A journal whose commit file is durable and
// matches is deleted; a durable commit with a lagging HEAD advances HEAD (the
// commit wins); anything else is blocked and the journal is kept as evidence.
// Packets without a journal produce no report.
func (l *Ledger) RecoverJournals() ([]RecoveryReport, error) {
	ids, err := l.PacketIDs()
	if err != nil {
		return nil, err
	}
	var reports []RecoveryReport
	for _, id := range ids {
		report, recovered := l.recoverPacketJournal(id)
		if recovered {
			reports = append(reports, report)
		}
	}
	return reports, nil
}

func (l *Ledger) recoverPacketJournal(packetID string) (RecoveryReport, bool) {
	journalPath := l.journalPath(packetID)
	var journal journalEntry
	if err := lockfile.ReadJSON(journalPath, &journal); err != nil {
		if os.IsNotExist(err) {
			return RecoveryReport{}, false
		}
		return RecoveryReport{
			PacketID: packetID,
			Status:   RecoveryBlocked,
			Detail:   fmt.Sprintf("unreadable journal: %v", err),
		}, true
	}

	doc, err := readCommitDoc(l.commitPath(packetID, journal.Seq))
	if err != nil {
		return RecoveryReport{
			PacketID: packetID,
			Status:   RecoveryBlocked,
			Detail:   fmt.Sprintf("journal seq %d has no durable commit", journal.Seq),
		}, true
	}
	if docString(doc, "commit_hash") != journal.CommitHash {
		return RecoveryReport{
			PacketID: packetID,
			Status:   RecoveryBlocked,
			Detail:   fmt.Sprintf("commit hash at seq %d does not match journal", journal.Seq),
		}, true
	}

	head, err := l.Head(packetID)
	if err != nil {
		return RecoveryReport{
			PacketID: packetID,
			Status:   RecoveryBlocked,
			Detail:   fmt.Sprintf("unreadable HEAD: %v", err),
		}, true
	}
	if head.Seq == journal.Seq && head.CommitHash == journal.CommitHash {
		_ = os.Remove(journalPath)
		return RecoveryReport{PacketID: packetID, Status: RecoveryClean}, true
	}
	if head.Seq < journal.Seq {
		if writeErr := lockfile.WriteJSONAtomicLocked(l.headPath(packetID), Head{Seq: journal.Seq, CommitHash: journal.CommitHash}); writeErr != nil {
			return RecoveryReport{
				PacketID: packetID,
				Status:   RecoveryBlocked,
				Detail:   fmt.Sprintf("advancing HEAD: %v", writeErr),
			}, true
		}
		_ = os.Remove(journalPath)
		return RecoveryReport{
			PacketID: packetID,
			Status:   RecoveryHeadAdvanced,
			Detail:   fmt.Sprintf("HEAD advanced from %d to %d", head.Seq, journal.Seq),
		}, true
	}
	return RecoveryReport{
		PacketID: packetID,
		Status:   RecoveryBlocked,
		Detail:   fmt.Sprintf("HEAD at %d is ahead of journal seq %d", head.Seq, journal.Seq),
	}, true
}
