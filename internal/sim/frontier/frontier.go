package frontier

import (
	"alchemy.ai/internal/sim/ledger"
	"alchemy.ai/internal/sim/tasks"
)

// Entry is one offering. Key is fixed at admission time so a repeated
// offering of the same task gets a new key.
type Entry struct {
	Key  string
	Task *tasks.Task
}

// TodoSet is the ordered set of offered tasks. A task id appears at most once.
type TodoSet []Entry

type Diff struct {
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
}

func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Merge appends o to d. A key added in d and removed in o cancels out.
func (d Diff) Merge(o Diff) Diff {
	added := map[string]bool{}
	for _, k := range d.Added {
		added[k] = true
	}
	out := Diff{Removed: append([]string(nil), d.Removed...)}
	for _, k := range o.Removed {
		if added[k] {
			delete(added, k)
			continue
		}
		out.Removed = append(out.Removed, k)
	}
	for _, k := range d.Added {
		if added[k] {
			out.Added = append(out.Added, k)
		}
	}
	out.Added = append(out.Added, o.Added...)
	return out
}

func (s TodoSet) Index(id string) int {
	for i, e := range s {
		if e.Task.ID() == id {
			return i
		}
	}
	return -1
}

func (s TodoSet) Contains(id string) bool { return s.Index(id) >= 0 }

func (s TodoSet) Get(id string) (Entry, bool) {
	if i := s.Index(id); i >= 0 {
		return s[i], true
	}
	return Entry{}, false
}

func (s TodoSet) Keys() []string {
	out := make([]string, 0, len(s))
	for _, e := range s {
		out = append(out, e.Key)
	}
	return out
}

func (s TodoSet) Clone() TodoSet {
	return append(TodoSet(nil), s...)
}

// Remove drops the entry for id and returns its key.
func (s TodoSet) Remove(id string) (TodoSet, string, bool) {
	i := s.Index(id)
	if i < 0 {
		return s.Clone(), "", false
	}
	key := s[i].Key
	out := make(TodoSet, 0, len(s)-1)
	out = append(out, s[:i]...)
	out = append(out, s[i+1:]...)
	return out, key, true
}

// Prune removes every not-started entry that l can no longer afford.
// Started entries always stay.
func Prune(l ledger.Ledger, todo TodoSet) (TodoSet, []string) {
	out := make(TodoSet, 0, len(todo))
	var removed []string
	for _, e := range todo {
		if !e.Task.Started && !tasks.CanAfford(l, e.Task) {
			removed = append(removed, e.Key)
			continue
		}
		out = append(out, e)
	}
	return out, removed
}

// Admit appends, in catalog order, every affordable task not already offered.
func Admit(l ledger.Ledger, catalog []*tasks.Task, todo TodoSet) (TodoSet, []string) {
	out := todo.Clone()
	present := make(map[string]bool, len(todo))
	for _, e := range todo {
		present[e.Task.ID()] = true
	}
	var added []string
	for _, t := range catalog {
		if present[t.ID()] || !tasks.CanAfford(l, t) {
			continue
		}
		e := Entry{Key: t.Key(), Task: t}
		out = append(out, e)
		present[t.ID()] = true
		added = append(added, e.Key)
	}
	return out, added
}

// Reconcile prunes then admits. For an unchanged ledger a second call
// returns the same set and an empty diff.
func Reconcile(l ledger.Ledger, catalog []*tasks.Task, todo TodoSet) (TodoSet, Diff) {
	pruned, removed := Prune(l, todo)
	next, added := Admit(l, catalog, pruned)
	return next, Diff{Added: added, Removed: removed}
}
