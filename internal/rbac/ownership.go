package rbac

import (
	"fmt"
	"regexp"

	"github.com/unidesk/unidesk/internal/shared"
)

// OwnershipTarget names a fixed (table, owner column) pair used by the ownership
// fallback. Callers never pass identifiers, only one of these values.
type OwnershipTarget int

const (
	// OwnRequestByStudent resolves requests.student_id, owned by a student.
	OwnRequestByStudent OwnershipTarget = iota + 1
	// OwnRequestByResponder resolves requests.responded_by, owned by an admin.
	OwnRequestByResponder
)

type ownershipSpec struct {
	Table     string
	Column    string
	OwnerKind shared.ActorKind
}

var ownershipTargets = map[OwnershipTarget]ownershipSpec{
	OwnRequestByStudent:   {Table: "requests", Column: "student_id", OwnerKind: shared.ActorStudent},
	OwnRequestByResponder: {Table: "requests", Column: "responded_by", OwnerKind: shared.ActorAdmin},
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

func (t OwnershipTarget) spec() (ownershipSpec, bool) {
	s, ok := ownershipTargets[t]
	return s, ok
}

func (t OwnershipTarget) String() string {
	if s, ok := t.spec(); ok {
		return s.Table + "." + s.Column
	}
	return fmt.Sprintf("OwnershipTarget(%d)", int(t))
}

// ValidateOwnershipTargets checks every registered target at startup.
func ValidateOwnershipTargets() error {
	for target, s := range ownershipTargets {
		if !identifierPattern.MatchString(s.Table) || !identifierPattern.MatchString(s.Column) {
			return fmt.Errorf("rbac: ownership target %d has invalid identifier %s.%s", int(target), s.Table, s.Column)
		}
		if s.OwnerKind != shared.ActorStudent && s.OwnerKind != shared.ActorAdmin {
			return fmt.Errorf("rbac: ownership target %s has unknown owner kind %q", target, s.OwnerKind)
		}
	}
	return nil
}

// OwnershipTargets lists the registered targets.
func OwnershipTargets() []OwnershipTarget {
	return []OwnershipTarget{OwnRequestByStudent, OwnRequestByResponder}
}
