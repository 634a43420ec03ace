package conflict

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jubeeworld/synckit/internal/store"
)

// Choice names a resolution strategy for a conflict group.
type Choice string

const (
	// ChoiceLocal keeps the local version.
	ChoiceLocal Choice = "local"
	// ChoiceServer keeps the remote version.
	ChoiceServer Choice = "server"
	// ChoiceMerge starts from remote and overlays locally-newer fields.
	ChoiceMerge Choice = "merge"
)

// Valid reports whether the choice is one of the known strategies.
func (c Choice) Valid() bool {
	return c == ChoiceLocal || c == ChoiceServer || c == ChoiceMerge
}

// FieldConflict is one field on which the local and remote versions disagree.
type FieldConflict struct {
	Field      string    `json:"field"`
	Local      any       `json:"local"`
	Remote     any       `json:"remote"`
	LocalTime  time.Time `json:"localTime"`
	RemoteTime time.Time `json:"remoteTime"`
}

// Group holds both full versions of one diverged record plus its field-level
// differences. It exists from detection until resolution or removal.
type Group struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	RecordID   string          `json:"recordId"`
	Local      *store.Record   `json:"local"`
	Remote     *store.Record   `json:"remote"`
	Fields     []FieldConflict `json:"fields"`
	DetectedAt time.Time       `json:"detectedAt"`
}

// Detect compares the local and remote versions of one record and returns a
// conflict group, or nil when the versions do not genuinely conflict:
//
//  1. deep-equal payloads never conflict;
//  2. a synced local copy with a strictly newer remote is a continuation of a
//     value the client already pushed, not a conflict;
//  3. otherwise every differing field outside the schema ignore-list becomes
//     a field conflict.
func Detect(schema *store.Schema, local, remote *store.Record, now time.Time) *Group {
	if local == nil || remote == nil {
		return nil
	}
	if store.Equal(local, remote) {
		return nil
	}
	if local.Synced && remote.UpdatedAt.After(local.UpdatedAt) {
		return nil
	}

	fields := diffFields(schema, local, remote)
	if len(fields) == 0 {
		return nil
	}

	return &Group{
		ID:         uuid.NewString(),
		Collection: schema.Name,
		RecordID:   local.ID,
		Local:      local.Clone(),
		Remote:     remote.Clone(),
		Fields:     fields,
		DetectedAt: now,
	}
}

func diffFields(schema *store.Schema, local, remote *store.Record) []FieldConflict {
	names := make(map[string]struct{}, len(local.Fields)+len(remote.Fields))
	for name := range local.Fields {
		names[name] = struct{}{}
	}
	for name := range remote.Fields {
		names[name] = struct{}{}
	}

	fields := make([]FieldConflict, 0)
	for name := range names {
		if schema.Ignored(name) {
			continue
		}
		localValue, remoteValue := local.Fields[name], remote.Fields[name]
		if store.FieldsEqual(localValue, remoteValue) {
			continue
		}
		fields = append(fields, FieldConflict{
			Field:      name,
			Local:      localValue,
			Remote:     remoteValue,
			LocalTime:  local.FieldTime(name),
			RemoteTime: remote.FieldTime(name),
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return fields
}

// Resolve applies a strategy to a conflict group and returns the record to
// persist. Every strategy forces synced=true: resolution is a final local
// decision, not a pending change.
func (g *Group) Resolve(choice Choice) *store.Record {
	var resolved *store.Record
	switch choice {
	case ChoiceLocal:
		resolved = g.Local.Clone()
	case ChoiceServer:
		resolved = g.Remote.Clone()
	case ChoiceMerge:
		resolved = g.Remote.Clone()
		for _, fc := range g.Fields {
			if fc.LocalTime.After(fc.RemoteTime) {
				if resolved.Fields == nil {
					resolved.Fields = make(map[string]any)
				}
				resolved.Fields[fc.Field] = store.NormalizeValue(fc.Local)
			}
		}
	default:
		return nil
	}
	resolved.Synced = true
	return resolved
}

// Diagnose recommends a strategy by counting which side holds the newer
// timestamp across all field conflicts. One side winning every non-tied
// comparison yields that side; anything mixed yields merge. The
// recommendation is never applied automatically.
func (g *Group) Diagnose() Choice {
	var localNewer, remoteNewer int
	for _, fc := range g.Fields {
		switch {
		case fc.LocalTime.After(fc.RemoteTime):
			localNewer++
		case fc.RemoteTime.After(fc.LocalTime):
			remoteNewer++
		}
	}
	switch {
	case localNewer > 0 && remoteNewer == 0:
		return ChoiceLocal
	case remoteNewer > 0 && localNewer == 0:
		return ChoiceServer
	default:
		return ChoiceMerge
	}
}
