package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stagelight/plotsync/internal/plot"
)

// OpType tags a command with the edit operation it performs.
type OpType string

// Command operation types. Only pure field-overwrite operations
// (OpUpdate, OpMove) participate in coalescing; creations and deletions
// never merge.
const (
	OpCreate OpType = "create"
	OpDelete OpType = "delete"
	OpUpdate OpType = "update"
	OpMove   OpType = "move"
)

// coalescable reports whether commands of this type may merge with a
// same-typed predecessor affecting the identical object set.
func (t OpType) coalescable() bool {
	return t == OpUpdate || t == OpMove
}

// valid reports whether the op type is one of the known variants.
func (t OpType) valid() bool {
	switch t {
	case OpCreate, OpDelete, OpUpdate, OpMove:
		return true
	default:
		return false
	}
}

// StateChange records one object's state on both sides of a command.
// A nil Before means the object did not exist before the command
// (creation); a nil After means the command removes it (deletion).
// Stored states are snapshots and must not alias live project objects.
type StateChange struct {
	Kind   plot.Kind
	ID     string
	Before plot.Object
	After  plot.Object
}

// Command is a replayable edit: a tagged variant carrying the affected
// object ids plus cloned before/after states. Applying After performs
// the edit (execute/redo); applying Before reverses it (undo). There is
// no captured closure; the command is pure data.
type Command struct {
	Type        OpType
	Description string
	Changes     []StateChange
	At          int64
}

// Change builds a StateChange from before/after states, cloning both and
// deriving kind and id from whichever side is present.
func Change(before, after plot.Object) StateChange {
	var sc StateChange

	ref := before
	if ref == nil {
		ref = after
	}

	if ref != nil {
		sc.Kind = ref.Kind()
		sc.ID = ref.ObjectID()
	}

	if before != nil {
		sc.Before = before.Clone()
	}

	if after != nil {
		sc.After = after.Clone()
	}

	return sc
}

// NewCommand builds a command of the given type over the given changes,
// stamping the capture time.
func NewCommand(typ OpType, description string, changes ...StateChange) *Command {
	return &Command{
		Type:        typ,
		Description: description,
		Changes:     changes,
		At:          plot.NowNano(),
	}
}

// Create returns a creation command for the given objects.
func Create(description string, objs ...plot.Object) *Command {
	changes := make([]StateChange, len(objs))
	for i, o := range objs {
		changes[i] = Change(nil, o)
	}

	return NewCommand(OpCreate, description, changes...)
}

// Delete returns a deletion command for the given objects.
func Delete(description string, objs ...plot.Object) *Command {
	changes := make([]StateChange, len(objs))
	for i, o := range objs {
		changes[i] = Change(o, nil)
	}

	return NewCommand(OpDelete, description, changes...)
}

// Update returns a field-overwrite command for a single object.
func Update(description string, before, after plot.Object) *Command {
	return NewCommand(OpUpdate, description, Change(before, after))
}

// Move returns a positional overwrite command for a single object.
func Move(description string, before, after plot.Object) *Command {
	return NewCommand(OpMove, description, Change(before, after))
}

// validate checks the structural rules for each command type before
// anything is applied: creations carry no before state, deletions no
// after state, and overwrite types carry both (they never create or
// delete, which is what makes coalescing them safe).
func (c *Command) validate() error {
	if !c.Type.valid() {
		return fmt.Errorf("unknown command type %q", c.Type)
	}

	if len(c.Changes) == 0 {
		return fmt.Errorf("%s command has no changes", c.Type)
	}

	for i := range c.Changes {
		sc := &c.Changes[i]
		if sc.ID == "" {
			return fmt.Errorf("%s command change %d has no object id", c.Type, i)
		}

		switch c.Type {
		case OpCreate:
			if sc.Before != nil || sc.After == nil {
				return fmt.Errorf("create command must carry only after state (object %s)", sc.ID)
			}
		case OpDelete:
			if sc.Before == nil || sc.After != nil {
				return fmt.Errorf("delete command must carry only before state (object %s)", sc.ID)
			}
		case OpUpdate, OpMove:
			if sc.Before == nil || sc.After == nil {
				return fmt.Errorf("%s command must carry both states (object %s)", c.Type, sc.ID)
			}
		}
	}

	return nil
}

// idKey returns a canonical representation of the affected object set,
// used to decide whether two commands touch exactly the same objects.
func (c *Command) idKey() string {
	keys := make([]string, len(c.Changes))
	for i := range c.Changes {
		keys[i] = string(c.Changes[i].Kind) + "/" + c.Changes[i].ID
	}

	sort.Strings(keys)

	return strings.Join(keys, "\x00")
}
