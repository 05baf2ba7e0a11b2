package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Ledger maps a resource id to its net completion count.
// A missing entry reads as zero. Counts may go negative.
type Ledger map[string]int

func New() Ledger { return Ledger{} }

// FromMap copies m into a fresh ledger. Empty ids are dropped.
func FromMap(m map[string]int) Ledger {
	l := make(Ledger, len(m))
	for id, n := range m {
		if id == "" {
			continue
		}
		l[id] = n
	}
	return l
}

func (l Ledger) Get(id string) int { return l[id] }

// Has reports whether id is nonzero. Negative counts count as present.
func (l Ledger) Has(id string) bool { return l[id] != 0 }

func (l Ledger) Add(id string, n int) {
	if id == "" || n == 0 {
		return
	}
	l[id] += n
}

func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for id, n := range l {
		out[id] = n
	}
	return out
}

// Map returns a plain copy with zero entries removed.
func (l Ledger) Map() map[string]int {
	out := make(map[string]int, len(l))
	for id, n := range l {
		if n == 0 {
			continue
		}
		out[id] = n
	}
	return out
}

// IDs returns the ids with nonzero counts in sorted order.
func (l Ledger) IDs() []string {
	ids := make([]string, 0, len(l))
	for id, n := range l {
		if n == 0 {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Equal compares two ledgers under absence-as-zero.
func (l Ledger) Equal(o Ledger) bool {
	for id, n := range l {
		if o[id] != n {
			return false
		}
	}
	for id, n := range o {
		if l[id] != n {
			return false
		}
	}
	return true
}

// Digest is a sha256 over the sorted nonzero entries.
func (l Ledger) Digest() string {
	type kv struct {
		ID    string `json:"id"`
		Count int    `json:"n"`
	}
	ids := l.IDs()
	rows := make([]kv, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, kv{ID: id, Count: l[id]})
	}
	b, _ := json.Marshal(rows)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
