package game

import (
	"errors"
	"fmt"
	"sort"

	"alchemy.ai/internal/sim/frontier"
	"alchemy.ai/internal/sim/ledger"
	"alchemy.ai/internal/sim/tasks"
)

// Rejections. A rejected call never changes engine state.
var (
	ErrUnknownTask    = errors.New("unknown task")
	ErrNotOffered     = errors.New("task not offered")
	ErrAlreadyStarted = errors.New("task already started")
	ErrUnaffordable   = errors.New("task not affordable")
	ErrNotStarted     = errors.New("task not started")
)

type EventKind string

const (
	// First completion of a limited task that exhausts it.
	EventAchievement EventKind = "ACHIEVEMENT"
	// The task's OnComplete effect, resolved by the driver.
	EventEffect EventKind = "EFFECT"
)

type Event struct {
	Kind   EventKind    `json:"kind"`
	TaskID string       `json:"task_id"`
	Name   string       `json:"name,omitempty"`
	Effect tasks.Effect `json:"effect,omitempty"`
}

// Result describes one accepted Start or Finish.
type Result struct {
	TaskID string         `json:"task_id"`
	Key    string         `json:"key"`
	Diff   frontier.Diff  `json:"diff"`
	Delta  map[string]int `json:"delta,omitempty"`
	Events []Event        `json:"events,omitempty"`
}

// Engine owns the ledger, the runtime task list and the todo set of one
// game session. It is not safe for concurrent use.
type Engine struct {
	ledger ledger.Ledger
	tasks  []*tasks.Task
	byID   map[string]*tasks.Task
	todo   frontier.TodoSet
}

// New builds an engine over defs (catalog order) with an empty ledger and
// an initial todo set.
func New(defs []*tasks.Def) *Engine {
	e := newEngine(defs)
	e.todo, _ = frontier.Reconcile(e.ledger, e.tasks, nil)
	return e
}

func newEngine(defs []*tasks.Def) *Engine {
	e := &Engine{
		ledger: ledger.New(),
		tasks:  make([]*tasks.Task, 0, len(defs)),
		byID:   make(map[string]*tasks.Task, len(defs)),
	}
	for _, d := range defs {
		if d == nil || d.ID == "" {
			continue
		}
		if _, dup := e.byID[d.ID]; dup {
			continue
		}
		t := tasks.NewTask(d)
		e.tasks = append(e.tasks, t)
		e.byID[d.ID] = t
	}
	return e
}

func (e *Engine) Ledger() ledger.Ledger { return e.ledger.Clone() }

func (e *Engine) Digest() string { return e.ledger.Digest() }

// Task returns a copy of the runtime state of id.
func (e *Engine) Task(id string) (tasks.Task, bool) {
	t, ok := e.byID[id]
	if !ok {
		return tasks.Task{}, false
	}
	return *t, true
}

func (e *Engine) TaskIDs() []string {
	out := make([]string, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t.ID())
	}
	return out
}

func (e *Engine) CanAfford(id string) bool {
	return tasks.CanAfford(e.ledger, e.byID[id])
}

func (e *Engine) Blockers(id string) []tasks.Requirement {
	t, ok := e.byID[id]
	if !ok {
		return nil
	}
	return tasks.Blockers(e.ledger, t)
}

func (e *Engine) Offered(id string) bool { return e.todo.Contains(id) }

// Start pays the cost of id and marks it started at nowMs.
func (e *Engine) Start(id string, nowMs int64) (Result, error) {
	t, ok := e.byID[id]
	if !ok {
		return Result{}, fmt.Errorf("start %q: %w", id, ErrUnknownTask)
	}
	if t.Started {
		return Result{}, fmt.Errorf("start %q: %w", id, ErrAlreadyStarted)
	}
	entry, ok := e.todo.Get(id)
	if !ok {
		return Result{}, fmt.Errorf("start %q: %w", id, ErrNotOffered)
	}
	if !tasks.CanAfford(e.ledger, t) {
		return Result{}, fmt.Errorf("start %q: %w", id, ErrUnaffordable)
	}

	res := Result{TaskID: id, Key: entry.Key, Delta: map[string]int{}}
	for _, r := range t.Def.Requirements {
		if c := r.Cost(); c > 0 {
			e.ledger.Add(r.Resource, -c)
			res.Delta[r.Resource] -= c
		}
	}
	t.Started = true
	t.StartTimeMs = nowMs

	e.todo, res.Diff = frontier.Reconcile(e.ledger, e.tasks, e.todo)
	return res, nil
}

// Finish completes a started task. Outputs are always applied.
func (e *Engine) Finish(id string) (Result, error) {
	t, ok := e.byID[id]
	if !ok {
		return Result{}, fmt.Errorf("finish %q: %w", id, ErrUnknownTask)
	}
	if !t.Started {
		return Result{}, fmt.Errorf("finish %q: %w", id, ErrNotStarted)
	}

	res := Result{TaskID: id, Delta: map[string]int{}}
	if entry, ok := e.todo.Get(id); ok {
		res.Key = entry.Key
	} else {
		res.Key = t.Key()
	}

	t.Times++
	if t.Limit > 0 {
		t.Limit--
		if t.Limit == 0 && t.Times == 1 {
			res.Events = append(res.Events, Event{Kind: EventAchievement, TaskID: id, Name: t.Def.Name})
		}
	}
	if t.Def.OnComplete.Kind != tasks.EffectNone {
		res.Events = append(res.Events, Event{Kind: EventEffect, TaskID: id, Name: t.Def.Name, Effect: t.Def.OnComplete})
	}
	t.Started = false
	t.StartTimeMs = 0

	for _, o := range t.Def.Produced() {
		e.ledger.Add(o.Resource, o.Delta())
		res.Delta[o.Resource] += o.Delta()
	}

	var removed []string
	if next, key, ok := e.todo.Remove(id); ok {
		e.todo = next
		removed = append(removed, key)
	}
	var diff frontier.Diff
	e.todo, diff = frontier.Reconcile(e.ledger, e.tasks, e.todo)
	res.Diff = frontier.Diff{Removed: removed}.Merge(diff)
	return res, nil
}

// Reconcile re-runs the frontier maintainer. Safe to call redundantly.
func (e *Engine) Reconcile() frontier.Diff {
	var diff frontier.Diff
	e.todo, diff = frontier.Reconcile(e.ledger, e.tasks, e.todo)
	return diff
}

// Offer is a read-only view of one todo entry.
type Offer struct {
	Key         string `json:"key"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Started     bool   `json:"started"`
	StartTimeMs int64  `json:"start_time_ms,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
	Limit       int    `json:"limit"`
	Times       int    `json:"times"`
}

func (e *Engine) Offers() []Offer {
	out := make([]Offer, 0, len(e.todo))
	for _, en := range e.todo {
		t := en.Task
		out = append(out, Offer{
			Key:         en.Key,
			ID:          t.ID(),
			Name:        t.Def.Name,
			Started:     t.Started,
			StartTimeMs: t.StartTimeMs,
			DurationMs:  t.DurationMs(),
			Limit:       t.Limit,
			Times:       t.Times,
		})
	}
	return out
}

// Due returns started tasks whose duration, multiplied by scale, has
// elapsed at nowMs, earliest start first. A scale <= 0 means 1.
func (e *Engine) Due(nowMs int64, scale float64) []string {
	if scale <= 0 {
		scale = 1
	}
	var due []*tasks.Task
	for _, en := range e.todo {
		t := en.Task
		if t.Started && t.StartTimeMs+int64(float64(t.DurationMs())*scale) <= nowMs {
			due = append(due, t)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].StartTimeMs < due[j].StartTimeMs })
	out := make([]string, 0, len(due))
	for _, t := range due {
		out = append(out, t.ID())
	}
	return out
}

// Idle reports that nothing is offered and nothing is running.
func (e *Engine) Idle() bool { return len(e.todo) == 0 }
