package state

import (
	"context"
	"fmt"
	"sync"
)

// Journal records undo operations for every mutation of the world state so a
// unit of work can be discarded as if it never ran. Entries that also carry a
// Change are handed to the Persister on commit.
type Journal struct {
	mu      sync.Mutex
	entries []journalEntry

	// held while a unit of work is open
	unit sync.Mutex
}

type journalEntry struct {
	undo   func()
	change *Change
}

func NewJournal() *Journal {
	return &Journal{}
}

// Append records an undo function and the durable change it reverses, if any.
func (j *Journal) Append(undo func(), change *Change) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{undo: undo, change: change})
}

// Snapshot returns an id that RevertToSnapshot can roll back to.
func (j *Journal) Snapshot() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// RevertToSnapshot undoes every entry recorded after the snapshot, newest
// first. Undo functions run without the journal lock held.
func (j *Journal) RevertToSnapshot(id int) {
	j.mu.Lock()
	if id < 0 || id > len(j.entries) {
		j.mu.Unlock()
		panic(fmt.Sprintf("revert to invalid snapshot %d (journal length %d)", id, len(j.entries)))
	}
	reverted := make([]journalEntry, len(j.entries)-id)
	copy(reverted, j.entries[id:])
	j.entries = j.entries[:id]
	j.mu.Unlock()

	for i := len(reverted) - 1; i >= 0; i-- {
		reverted[i].undo()
	}
}

// Len is the number of uncommitted entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// commit hands the pending changes to persist and clears the journal once
// persist succeeds. On failure the journal is left intact so the caller can
// still revert.
func (j *Journal) commit(persist func([]Change) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var changes []Change
	for _, e := range j.entries {
		if e.change != nil {
			changes = append(changes, *e.change)
		}
	}
	if len(changes) > 0 && persist != nil {
		if err := persist(changes); err != nil {
			return err
		}
	}
	j.entries = nil
	return nil
}

// Unit is an open unit of work. Writers outside it wait in Exclude until
// End, so reverting the unit only undoes entries it recorded.
type Unit struct {
	j    *Journal
	snap int
}

// Begin opens a unit of work, waiting for any open one to end.
func (j *Journal) Begin() *Unit {
	j.unit.Lock()
	return &Unit{j: j, snap: j.Snapshot()}
}

// Revert undoes everything recorded since Begin. The unit stays open.
func (u *Unit) Revert() {
	u.j.RevertToSnapshot(u.snap)
}

// End closes the unit. Entries that were not reverted stay on the journal
// until the next commit.
func (u *Unit) End() {
	u.j.unit.Unlock()
}

// Exclude waits until no unit of work is open and keeps new ones from
// opening until release is called.
func (j *Journal) Exclude() (release func()) {
	j.unit.Lock()
	return j.unit.Unlock
}

type unitKey struct{}

// WithUnit marks ctx as running inside u, so writers reached through it
// record into the unit instead of waiting for it.
func WithUnit(ctx context.Context, u *Unit) context.Context {
	return context.WithValue(ctx, unitKey{}, u)
}

// Within reports whether ctx runs inside an open unit of j.
func (j *Journal) Within(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	u, _ := ctx.Value(unitKey{}).(*Unit)
	return u != nil && u.j == j
}
