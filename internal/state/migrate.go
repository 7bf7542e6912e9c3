package state

import (
	"encoding/json"

	"github.com/governedworks/wbs/internal/types"
)

// Migration upgrades a state document from one schema version to the next.
// Migrations run on the generic JSON shape so they can repair documents the
// typed decoder would reject.
type Migration struct {
	From string
	To   string
	Name string
	Fn   func(map[string]any) map[string]any
}

// migrations is the ordered chain applied on load. The empty From matches
// legacy unversioned documents. Documents already at the current version
// still get the baseline defaults pass, with no event.
var migrations = []Migration{
	{From: "", To: "1.0", Name: "ensure_baseline_shape", Fn: migrateLegacyToV1},
}

// Migrate applies the migration chain until the document reaches the current
// schema version. Unknown future versions fail fast with SchemaMismatch.
// Each applied migration (other than the identity baseline pass) appends a
// state_migrated event to the activity log.
func Migrate(doc map[string]any) (map[string]any, bool, error) {
	version, _ := doc["schema_version"].(string)
	if version == "" {
		version, _ = doc["version"].(string)
	}

	changed := false
	for {
		if version == types.CurrentSchemaVersion {
			// Identity baseline pass: defaults only, no event.
			doc = migrateV1Baseline(doc)
			return doc, changed, nil
		}
		var step *Migration
		for i := range migrations {
			if migrations[i].From == version && migrations[i].From != migrations[i].To {
				step = &migrations[i]
				break
			}
		}
		if step == nil {
			return nil, false, types.NewError(types.ErrSchemaMismatch,
				"unsupported state schema version %q (kernel supports up to %s)", version, types.CurrentSchemaVersion)
		}
		doc = step.Fn(doc)
		doc["version"] = step.To
		doc["schema_version"] = step.To
		appendMigrationEvent(doc, step.From, step.To, step.Name)
		version = step.To
		changed = true
	}
}

// appendMigrationEvent records the migration in the activity log. The
// metadata rides in the notes field as compact JSON so the log entry shape
// stays uniform.
func appendMigrationEvent(doc map[string]any, from, to, name string) {
	meta, _ := json.Marshal(map[string]any{
		"from_version":   orLegacy(from),
		"to_version":     to,
		"migration_name": name,
		"automatic":      true,
	})
	entry := map[string]any{
		"packet_id": "SYSTEM",
		"event":     "state_migrated",
		"agent":     "system",
		"timestamp": types.NowUTC(),
		"notes":     string(meta),
	}
	log, _ := doc["log"].([]any)
	doc["log"] = append(log, any(entry))
}

func orLegacy(v string) string {
	if v == "" {
		return "legacy"
	}
	return v
}

func migrateLegacyToV1(doc map[string]any) map[string]any {
	now := types.NowUTC()
	setDefault(doc, "created_at", now)
	setDefault(doc, "updated_at", now)
	return migrateV1Baseline(doc)
}

func migrateV1Baseline(doc map[string]any) map[string]any {
	setDefault(doc, "packets", map[string]any{})
	setDefault(doc, "log", []any{})
	setDefault(doc, "area_closeouts", map[string]any{})
	setDefault(doc, "log_integrity_mode", "plain")
	return doc
}

func setDefault(doc map[string]any, key string, v any) {
	if _, ok := doc[key]; !ok {
		doc[key] = v
	}
}
