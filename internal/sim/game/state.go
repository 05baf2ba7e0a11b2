package game

import (
	"alchemy.ai/internal/sim/frontier"
	"alchemy.ai/internal/sim/ledger"
	"alchemy.ai/internal/sim/tasks"
)

type InProgress struct {
	ID          string `json:"id"`
	Started     bool   `json:"started"`
	StartTimeMs int64  `json:"start_time_ms"`
}

// State is the minimal persisted form of an engine.
type State struct {
	Ledger     map[string]int `json:"completed_counts"`
	TaskTimes  map[string]int `json:"tasks_times"`
	InProgress []InProgress   `json:"in_progress"`
}

// Export captures the ledger, per-task completion counts and the running
// tasks in todo order.
func (e *Engine) Export() State {
	st := State{
		Ledger:    e.ledger.Map(),
		TaskTimes: map[string]int{},
	}
	for _, t := range e.tasks {
		if t.Times > 0 {
			st.TaskTimes[t.ID()] = t.Times
		}
	}
	for _, en := range e.todo {
		if en.Task.Started {
			st.InProgress = append(st.InProgress, InProgress{
				ID:          en.Task.ID(),
				Started:     true,
				StartTimeMs: en.Task.StartTimeMs,
			})
		}
	}
	return st
}

// Import rebuilds an engine over defs from st. Unknown task ids are skipped.
// Remaining limits are the catalog limit minus the restored completions.
// Running tasks are offered first, in the order st lists them.
func Import(defs []*tasks.Def, st State) *Engine {
	e := newEngine(defs)
	e.ledger = ledger.FromMap(st.Ledger)

	for id, times := range st.TaskTimes {
		t, ok := e.byID[id]
		if !ok || times <= 0 {
			continue
		}
		t.Times = times
		if t.Def.Limit > 0 {
			t.Limit = t.Def.Limit - times
			if t.Limit < 0 {
				t.Limit = 0
			}
		}
	}

	for _, ip := range st.InProgress {
		t, ok := e.byID[ip.ID]
		if !ok || !ip.Started || t.Started {
			continue
		}
		t.Started = true
		t.StartTimeMs = ip.StartTimeMs
		e.todo = append(e.todo, frontier.Entry{Key: t.Key(), Task: t})
	}

	e.todo, _ = frontier.Reconcile(e.ledger, e.tasks, e.todo)
	return e
}
