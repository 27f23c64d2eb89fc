package objects

import "fmt"

// StageKind is the type of a pending stage operation.
type StageKind uint8

const (
	StageAdd StageKind = iota + 1
	StageRemove
	StageRename
	StageConflict
	StageMerge
	StageMergeRecord
)

func (k StageKind) String() string {
	switch k {
	case StageAdd:
		return "add"
	case StageRemove:
		return "remove"
	case StageRename:
		return "rename"
	case StageConflict:
		return "conflict"
	case StageMerge:
		return "merge"
	case StageMergeRecord:
		return "merge-record"
	default:
		return fmt.Sprintf("stage(%d)", uint8(k))
	}
}

// StageOp is a pending operation recorded before a commit finalizes it.
//
// Name is the canonical name the operation applies to. Source holds the
// old name for renames. Version carries the foreign tip for Merge entries.
// Record carries the merged record for MergeRecord entries and the record to
// restore for Conflict entries. Reason is a human readable classification
// for conflicts.
type StageOp struct {
	Kind    StageKind `msgpack:"kind"`
	Name    string    `msgpack:"name"`
	Source  string    `msgpack:"source,omitempty"`
	Version VersionID `msgpack:"version"`
	Record  *Record   `msgpack:"record,omitempty"`
	Reason  string    `msgpack:"reason,omitempty"`
}

// StageKey is the store key of a stage operation. Merge entries are keyed
// by version since they do not belong to a path.
func (op *StageOp) StageKey() string {
	if op.Kind == StageMerge {
		return "\x00merge/" + op.Version.String()
	}
	return op.Name
}
