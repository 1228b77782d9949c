package delta

import "time"

// Entry is one matched statement inside a coalescing window, tagged with
// the changeset it arrived in.
type Entry struct {
	ChangesetID string
	Origin      string
	Direction   Direction
	Statement   Statement
}

// FlushReason tells why a window was closed.
type FlushReason string

const (
	// FlushQuiet is the normal trailing-edge flush after the grace period
	// passed with no further matches.
	FlushQuiet FlushReason = "quiet"
	// FlushFull closes a window that reached the configured batch limit.
	FlushFull FlushReason = "full"
	// FlushShutdown closes open windows while the engine stops.
	FlushShutdown FlushReason = "shutdown"
)

// Batch is the content of one flushed window for one rule, in arrival order.
type Batch struct {
	RuleID    string
	Entries   []Entry
	OpenedAt  time.Time
	FlushedAt time.Time
	Reason    FlushReason
}

// Len returns the number of statements in the batch.
func (b *Batch) Len() int {
	return len(b.Entries)
}

// Group is the statements of one contributing changeset, split by direction.
type Group struct {
	ChangesetID string
	Inserts     []Statement
	Deletes     []Statement
}

// Groups splits the batch per contributing changeset, preserving the order
// in which changesets first appeared and the order of statements within
// each.
func (b *Batch) Groups() []Group {
	var groups []Group
	index := make(map[string]int)
	for _, e := range b.Entries {
		i, ok := index[e.ChangesetID]
		if !ok {
			i = len(groups)
			index[e.ChangesetID] = i
			groups = append(groups, Group{ChangesetID: e.ChangesetID})
		}
		switch e.Direction {
		case Delete:
			groups[i].Deletes = append(groups[i].Deletes, e.Statement)
		default:
			groups[i].Inserts = append(groups[i].Inserts, e.Statement)
		}
	}
	return groups
}

// Split returns all inserted and all deleted statements in arrival order.
func (b *Batch) Split() (inserts, deletes []Statement) {
	for _, e := range b.Entries {
		if e.Direction == Delete {
			deletes = append(deletes, e.Statement)
		} else {
			inserts = append(inserts, e.Statement)
		}
	}
	return inserts, deletes
}
