package tasks

import (
	"fmt"
	"time"

	"alchemy.ai/internal/sim/ledger"
)

// Unlimited marks a task that can be completed any number of times.
const Unlimited = -1

type ReqKind string

const (
	// Needs Amount of the resource; paid on start unless Keep is set.
	ReqConsumes ReqKind = "CONSUMES"
	// Needs the resource to be nonzero. Nothing is paid.
	ReqPresence ReqKind = "REQUIRES_PRESENCE"
	// Needs the resource to be zero.
	ReqForbids ReqKind = "FORBIDS_PRESENCE"
)

type Requirement struct {
	Kind     ReqKind
	Resource string
	Amount   int
	Keep     bool
	Hidden   bool
}

// Consume needs n of id and pays it on start. n follows the signed
// authoring form, so n <= 0 yields a presence or forbid requirement.
func Consume(id string, n int) Requirement { return RequirementFromCount(id, n, false, false) }

// KeepAtLeast gates on n of id without ever deducting it. As with Consume,
// n <= 0 falls back to the presence/forbid forms.
func KeepAtLeast(id string, n int) Requirement { return RequirementFromCount(id, n, true, false) }

func Require(id string) Requirement { return Requirement{Kind: ReqPresence, Resource: id} }
func Forbid(id string) Requirement  { return Requirement{Kind: ReqForbids, Resource: id} }

// RequirementFromCount decodes the signed authoring form:
// count > 0 consumes, count == 0 requires presence, count < 0 forbids.
func RequirementFromCount(id string, count int, keep, hidden bool) Requirement {
	var r Requirement
	switch {
	case count > 0:
		r = Requirement{Kind: ReqConsumes, Resource: id, Amount: count, Keep: keep}
	case count == 0:
		r = Require(id)
	default:
		r = Forbid(id)
	}
	r.Hidden = hidden
	return r
}

// Count returns the signed authoring form of r.
func (r Requirement) Count() int {
	switch r.Kind {
	case ReqConsumes:
		return r.Amount
	case ReqForbids:
		return -1
	default:
		return 0
	}
}

// Cost is what Start deducts for r.
func (r Requirement) Cost() int {
	if r.Kind != ReqConsumes || r.Keep || r.Amount <= 0 {
		return 0
	}
	return r.Amount
}

func (r Requirement) Satisfied(l ledger.Ledger) bool {
	have := l.Get(r.Resource)
	switch r.Kind {
	case ReqConsumes:
		return have >= r.Amount
	case ReqPresence:
		return have != 0
	case ReqForbids:
		return have == 0
	default:
		return false
	}
}

func (r Requirement) String() string {
	switch r.Kind {
	case ReqConsumes:
		if r.Keep {
			return fmt.Sprintf("keep %d %s", r.Amount, r.Resource)
		}
		return fmt.Sprintf("%d %s", r.Amount, r.Resource)
	case ReqForbids:
		return "no " + r.Resource
	default:
		return r.Resource
	}
}

type OutKind string

const (
	OutProduces OutKind = "PRODUCES"
	OutDestroys OutKind = "DESTROYS"
)

type Output struct {
	Kind     OutKind
	Resource string
	Amount   int
	Hidden   bool
}

func Produce(id string, n int) Output { return Output{Kind: OutProduces, Resource: id, Amount: n} }
func Destroy(id string, n int) Output { return Output{Kind: OutDestroys, Resource: id, Amount: n} }

// OutputFromCount decodes the signed authoring form (negative destroys).
func OutputFromCount(id string, count int, hidden bool) Output {
	o := Produce(id, count)
	if count < 0 {
		o = Destroy(id, -count)
	}
	o.Hidden = hidden
	return o
}

// Delta is the signed ledger change applied on finish.
func (o Output) Delta() int {
	if o.Kind == OutDestroys {
		return -o.Amount
	}
	return o.Amount
}

type EffectKind string

const (
	EffectNone        EffectKind = ""
	EffectAchievement EffectKind = "ACHIEVEMENT"
	EffectHook        EffectKind = "HOOK"
)

// Effect is resolved by the driver when a task finishes.
type Effect struct {
	Kind EffectKind `json:"kind,omitempty"`
	ID   string     `json:"id,omitempty"`
}

// Def is the immutable catalog definition of a task.
type Def struct {
	ID           string
	Name         string
	Limit        int
	Duration     time.Duration
	Requirements []Requirement
	Outputs      []Output
	OnComplete   Effect

	// HideSelf suppresses the implicit +1 of ID on finish.
	HideSelf bool
}

// SelfOutput reports whether finishing d adds +1 of d.ID on top of Outputs.
func (d *Def) SelfOutput() bool {
	if d.HideSelf {
		return false
	}
	for _, o := range d.Outputs {
		if o.Resource == d.ID {
			return false
		}
	}
	return true
}

// Produced returns the outputs applied on finish, implicit self output last.
func (d *Def) Produced() []Output {
	out := make([]Output, 0, len(d.Outputs)+1)
	out = append(out, d.Outputs...)
	if d.SelfOutput() {
		out = append(out, Output{Kind: OutProduces, Resource: d.ID, Amount: 1})
	}
	return out
}

// Task is the runtime state of one catalog entry.
type Task struct {
	Def *Def

	Limit       int
	Times       int
	Started     bool
	StartTimeMs int64
}

func NewTask(d *Def) *Task {
	return &Task{Def: d, Limit: d.Limit}
}

func (t *Task) ID() string { return t.Def.ID }

// Key distinguishes repeated offerings of the same task.
func (t *Task) Key() string { return fmt.Sprintf("%s#%d", t.Def.ID, t.Times) }

func (t *Task) Exhausted() bool { return t.Limit == 0 }

func (t *Task) DurationMs() int64 { return t.Def.Duration.Milliseconds() }

// DueAtMs is when a started task may be finished.
func (t *Task) DueAtMs() int64 { return t.StartTimeMs + t.DurationMs() }

// CanAfford reports whether t may be started against l.
func CanAfford(l ledger.Ledger, t *Task) bool {
	if t == nil || t.Limit == 0 {
		return false
	}
	for _, r := range t.Def.Requirements {
		if !r.Satisfied(l) {
			return false
		}
	}
	return true
}

// Blockers lists the requirements of t that l does not satisfy.
func Blockers(l ledger.Ledger, t *Task) []Requirement {
	var out []Requirement
	for _, r := range t.Def.Requirements {
		if !r.Satisfied(l) {
			out = append(out, r)
		}
	}
	return out
}
