package dcl

import (
	"fmt"
	"os"
	"time"

	"github.com/governedworks/wbs/internal/canonical"
	"github.com/governedworks/wbs/internal/lockfile"
	"github.com/governedworks/wbs/internal/types"
)

// ConfigLock pins the hashing rules a ledger was written under. Verification
// refuses to vouch for chains whose rules differ from the kernel's own.
type ConfigLock struct {
	Mode                    string `json:"mode"`
	HashAlgorithm           string `json:"hash_algorithm"`
	CanonicalizationVersion string `json:"canonicalization_version"`
	DCLVersion              string `json:"dcl_version"`
	StateSchemaVersion      string `json:"state_schema_version"`
}

// DefaultConfigLock is the lock a fresh project writes.
func DefaultConfigLock() ConfigLock {
	return ConfigLock{
		Mode:                    "dcl",
		HashAlgorithm:           "sha256",
		CanonicalizationVersion: canonical.Version,
		DCLVersion:              LedgerVersion,
		StateSchemaVersion:      types.CurrentSchemaVersion,
	}
}

// LoadConfigLock reads dcl-config.json. present is false when the file does
// not exist, which Validate treats as its own issue.
func LoadConfigLock(path string) (ConfigLock, bool, error) {
	var lock ConfigLock
	if err := lockfile.ReadJSON(path, &lock); err != nil {
		if os.IsNotExist(err) {
			return ConfigLock{}, false, nil
		}
		return ConfigLock{}, false, types.WrapError(types.ErrIO, err, "reading config lock %s", path)
	}
	return lock, true, nil
}

// WriteConfigLock writes the kernel's own lock to path.
func WriteConfigLock(path string) error {
	return lockfile.WriteJSONAtomic(path, DefaultConfigLock(), 10*time.Second)
}

// Validate compares a loaded lock against the kernel's expectations and the
// runtime state's schema version. Every mismatch is one issue string.
func (c ConfigLock) Validate(stateSchemaVersion string) []string {
	expected := DefaultConfigLock()
	var issues []string
	if c.Mode != expected.Mode {
		issues = append(issues, fmt.Sprintf("config lock mode %q, expected %q", c.Mode, expected.Mode))
	}
	if c.HashAlgorithm != expected.HashAlgorithm {
		issues = append(issues, fmt.Sprintf("config lock hash_algorithm %q, expected %q", c.HashAlgorithm, expected.HashAlgorithm))
	}
	if c.CanonicalizationVersion != expected.CanonicalizationVersion {
		issues = append(issues, fmt.Sprintf("config lock canonicalization_version %q, expected %q", c.CanonicalizationVersion, expected.CanonicalizationVersion))
	}
	if c.DCLVersion != expected.DCLVersion {
		issues = append(issues, fmt.Sprintf("config lock dcl_version %q, expected %q", c.DCLVersion, expected.DCLVersion))
	}
	if c.StateSchemaVersion != stateSchemaVersion {
		issues = append(issues, fmt.Sprintf("config lock state_schema_version %q, state has %q", c.StateSchemaVersion, stateSchemaVersion))
	}
	return issues
}
