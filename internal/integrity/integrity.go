// Package integrity assembles the project-wide verification report: config
// lock validation, journal recovery, per-packet ledger verification, and the
// activity log chain. The HTTP adapter gates startup on this report in
// strict mode.
package integrity

import (
	"github.com/governedworks/wbs/internal/activity"
	"github.com/governedworks/wbs/internal/dcl"
	"github.com/governedworks/wbs/internal/types"
)

// Verification modes.
const (
	ModeFast = "fast"
	ModeFull = "full"
)

// NormalizeMode coerces anything that is not "full" to "fast".
func NormalizeMode(mode string) string {
	if mode == ModeFull {
		return ModeFull
	}
	return ModeFast
}

// ConfigLockReport echoes the pinned hashing rules and any mismatches.
type ConfigLockReport struct {
	Present                 bool     `json:"present"`
	CanonicalizationVersion string   `json:"canonicalization_version,omitempty"`
	HashAlgorithm           string   `json:"hash_algorithm,omitempty"`
	DCLVersion              string   `json:"dcl_version,omitempty"`
	StateSchemaVersion      string   `json:"state_schema_version,omitempty"`
	Issues                  []string `json:"issues"`
}

// JournalRecovery summarizes the startup journal sweep.
type JournalRecovery struct {
	Reports []dcl.RecoveryReport `json:"reports"`
	Issues  []dcl.RecoveryReport `json:"issues"`
}

// ActivityLogReport is the log-chain verification result.
type ActivityLogReport struct {
	OK     bool     `json:"ok"`
	Issues []string `json:"issues"`
}

// Report is the full integrity verdict. ok is true only when every section
// is clean.
type Report struct {
	OK                 bool                `json:"ok"`
	Mode               string              `json:"mode"`
	PacketCount        int                 `json:"packet_count"`
	PacketsChecked     int                 `json:"packets_checked"`
	CommitsVerified    int                 `json:"commits_verified"`
	IntegrityErrors    int                 `json:"integrity_errors"`
	ConfigLock         ConfigLockReport    `json:"config_lock"`
	JournalRecovery    JournalRecovery     `json:"journal_recovery"`
	VerificationIssues map[string][]string `json:"verification_issues"`
	ActivityLog        ActivityLogReport   `json:"activity_log"`
}

// Verify runs the integrity pipeline in order: config lock, journal
// recovery, per-packet chain verification (full mode adds runtime
// coherence), then the activity log chain.
func Verify(ledger *dcl.Ledger, st *types.State, configLockPath, mode string) (*Report, error) {
	mode = NormalizeMode(mode)
	report := &Report{
		Mode:               mode,
		PacketCount:        len(st.Packets),
		VerificationIssues: map[string][]string{},
	}

	lock, present, err := dcl.LoadConfigLock(configLockPath)
	report.ConfigLock = ConfigLockReport{Present: present, Issues: []string{}}
	switch {
	case err != nil:
		report.ConfigLock.Issues = append(report.ConfigLock.Issues, err.Error())
	case !present:
		report.ConfigLock.Issues = append(report.ConfigLock.Issues, "config lock missing: "+configLockPath)
	default:
		report.ConfigLock.CanonicalizationVersion = lock.CanonicalizationVersion
		report.ConfigLock.HashAlgorithm = lock.HashAlgorithm
		report.ConfigLock.DCLVersion = lock.DCLVersion
		report.ConfigLock.StateSchemaVersion = lock.StateSchemaVersion
		report.ConfigLock.Issues = append(report.ConfigLock.Issues, lock.Validate(st.SchemaVersion)...)
	}

	journalReports, err := ledger.RecoverJournals()
	if err != nil {
		return nil, err
	}
	recovery := JournalRecovery{Reports: journalReports, Issues: []dcl.RecoveryReport{}}
	for _, r := range journalReports {
		if r.Status == dcl.RecoveryBlocked {
			recovery.Issues = append(recovery.Issues, r)
		}
	}
	report.JournalRecovery = recovery

	if mode == ModeFull {
		snapshots := make(map[string]map[string]any, len(st.Packets))
		for id, pkt := range st.Packets {
			snapshots[id] = pkt.Snapshot()
		}
		_, issues, commits, verr := ledger.VerifyAllDetailed(snapshots)
		if verr != nil {
			return nil, verr
		}
		report.CommitsVerified = commits
		report.VerificationIssues = issues
		ids, _ := ledger.PacketIDs()
		report.PacketsChecked = len(ids)
	} else {
		ids, lerr := ledger.PacketIDs()
		if lerr != nil {
			return nil, lerr
		}
		for _, id := range ids {
			commits, herr := ledger.History(id)
			if herr != nil {
				report.VerificationIssues[id] = []string{herr.Error()}
				continue
			}
			if len(commits) == 0 {
				continue
			}
			report.PacketsChecked++
			report.CommitsVerified += len(commits)
			if ok, issues := ledger.VerifyPacket(id); !ok {
				report.VerificationIssues[id] = issues
			}
		}
	}

	logOK, logIssues := activity.Verify(st.Log)
	if logIssues == nil {
		logIssues = []string{}
	}
	report.ActivityLog = ActivityLogReport{OK: logOK, Issues: logIssues}

	verificationErrors := 0
	for _, issues := range report.VerificationIssues {
		verificationErrors += len(issues)
	}
	report.IntegrityErrors = len(report.ConfigLock.Issues) + len(recovery.Issues) + verificationErrors + len(logIssues)
	report.OK = report.IntegrityErrors == 0
	return report, nil
}
