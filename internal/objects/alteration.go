package objects

import (
	"fmt"

	"github.com/google/uuid"
)

// AlterationType is the kind of delta an Alteration applies.
type AlterationType uint8

const (
	AlterationAdd AlterationType = iota + 1
	AlterationUpdate
	AlterationMove
	AlterationCopy
	AlterationDelete
)

func (t AlterationType) String() string {
	switch t {
	case AlterationAdd:
		return "add"
	case AlterationUpdate:
		return "update"
	case AlterationMove:
		return "move"
	case AlterationCopy:
		return "copy"
	case AlterationDelete:
		return "delete"
	default:
		return fmt.Sprintf("alteration(%d)", uint8(t))
	}
}

// Alteration is one delta entry of a version's alteration group.
//
// IDs grow monotonically in commit order, so sorting by ID gives the
// chronological order of a delta chain.
type Alteration struct {
	ID          uint64
	Owner       uuid.UUID
	Type        AlterationType
	NewRecord   *Record
	PriorRecord *Record
}

// Validate checks that the records required by the alteration type are set.
func (a *Alteration) Validate() error {
	switch a.Type {
	case AlterationAdd, AlterationCopy:
		if a.NewRecord == nil {
			return fmt.Errorf("%s alteration %d: missing new record", a.Type, a.ID)
		}
	case AlterationUpdate, AlterationMove:
		if a.NewRecord == nil || a.PriorRecord == nil {
			return fmt.Errorf("%s alteration %d: needs new and prior records", a.Type, a.ID)
		}
	case AlterationDelete:
		if a.PriorRecord == nil {
			return fmt.Errorf("delete alteration %d: missing prior record", a.ID)
		}
	default:
		return fmt.Errorf("alteration %d: unknown type %d", a.ID, a.Type)
	}
	return nil
}

func (a *Alteration) String() string {
	switch {
	case a.NewRecord != nil && a.PriorRecord != nil:
		return fmt.Sprintf("%s %s -> %s", a.Type, a.PriorRecord.CanonicalName, a.NewRecord.CanonicalName)
	case a.NewRecord != nil:
		return fmt.Sprintf("%s %s", a.Type, a.NewRecord.CanonicalName)
	case a.PriorRecord != nil:
		return fmt.Sprintf("%s %s", a.Type, a.PriorRecord.CanonicalName)
	}
	return a.Type.String()
}
