package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Action is the kind of state change an audit record describes.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Record is one immutable audit trail entry: who changed what, when,
// and the before/after state. Records are append-only; the only
// mutation path after insert is PurgeOlderThan.
type Record struct {
	ID          string         `json:"id"`
	TableName   string         `json:"table_name"`
	RecordID    string         `json:"record_id"`
	Action      Action         `json:"action"`
	UserID      string         `json:"user_id,omitempty"`
	OldValues   map[string]any `json:"old_values,omitempty"`
	NewValues   map[string]any `json:"new_values,omitempty"`
	Description string         `json:"description,omitempty"`
	Origin      string         `json:"origin,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Entry is the caller-supplied input for one audit record.
type Entry struct {
	TableName   string
	RecordID    string
	Action      Action
	UserID      string
	OldValues   map[string]any
	NewValues   map[string]any
	Description string
	Origin      string
}

// DiffDescription builds a human-readable change summary by comparing
// old against new field by field, listing only fields whose value
// changed. Fields are sorted so the output is stable.
func DiffDescription(old, new map[string]any) string {
	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []string
	for _, k := range sorted {
		ov, inOld := old[k]
		nv, inNew := new[k]
		if inOld && inNew && fmt.Sprintf("%v", ov) == fmt.Sprintf("%v", nv) {
			continue
		}
		switch {
		case !inOld:
			changes = append(changes, fmt.Sprintf("%s: (none) -> %v", k, nv))
		case !inNew:
			changes = append(changes, fmt.Sprintf("%s: %v -> (none)", k, ov))
		default:
			changes = append(changes, fmt.Sprintf("%s: %v -> %v", k, ov, nv))
		}
	}

	if len(changes) == 0 {
		return "no fields changed"
	}
	return strings.Join(changes, "; ")
}
