package snapshot

import (
	"fmt"

	cimpl "github.com/distr1/cimpl"
)

// CorruptedSnapshot is returned when a persisted snapshot references an id
// the graph cannot resolve at construction time.
type CorruptedSnapshot struct {
	Detail string
}

func (e *CorruptedSnapshot) Error() string {
	return fmt.Sprintf("corrupted snapshot: %s", e.Detail)
}

// AlreadyPresent is returned when an add operation targets an id already
// present in the relevant map. Indicates a logic bug or a double-applied
// change.
type AlreadyPresent struct {
	ID cimpl.PkgId
}

func (e *AlreadyPresent) Error() string {
	return fmt.Sprintf("%s is already present", e.ID)
}

// UnresolvedDependencies is returned when, after applying a change bundle,
// some build- or runtime-dependency of src remains unresolved.
type UnresolvedDependencies struct {
	Src cimpl.PkgId
}

func (e *UnresolvedDependencies) Error() string {
	return fmt.Sprintf("unresolved dependencies for %s", e.Src)
}

// BrokenGraph is returned when, after applying a change bundle, broken
// edges remain in the dependency graph.
type BrokenGraph struct {
	Broken map[cimpl.PkgId]int // remote endpoint -> number of broken edges recorded there
}

func (e *BrokenGraph) Error() string {
	return fmt.Sprintf("graph has broken edges at %d node(s)", len(e.Broken))
}

// SnapshotExists is returned when dumping a snapshot would overwrite an
// existing timestamped file. Callers retry with a later timestamp.
type SnapshotExists struct {
	Name string
}

func (e *SnapshotExists) Error() string {
	return fmt.Sprintf("snapshot %q already exists", e.Name)
}

// BuildIncomplete is returned when the change processor completes but a
// binary package still holds the placeholder sha256. Indicates a
// programmer error in the scheduler, not a user error.
type BuildIncomplete struct {
	Bin cimpl.PkgId
}

func (e *BuildIncomplete) Error() string {
	return fmt.Sprintf("build incomplete: %s still has a placeholder hash", e.Bin)
}
