package game

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"alchemy.ai/internal/sim/tasks"
)

func mixedDefs() []*tasks.Def {
	return []*tasks.Def{
		{ID: "spark", Limit: tasks.Unlimited, Duration: time.Second, HideSelf: true,
			Outputs: []tasks.Output{tasks.Produce("fire", 2)}},
		{ID: "rain", Limit: 4, Duration: time.Second, HideSelf: true,
			Outputs: []tasks.Output{tasks.Produce("water", 3)}},
		{ID: "steam", Limit: tasks.Unlimited, Duration: 2 * time.Second,
			Requirements: []tasks.Requirement{tasks.Consume("fire", 1), tasks.Consume("water", 1)}},
		{ID: "forge", Limit: 2, Duration: 3 * time.Second,
			Requirements: []tasks.Requirement{tasks.KeepAtLeast("fire", 3), tasks.Require("steam")}},
		{ID: "flood", Limit: 1, Duration: time.Second,
			Requirements: []tasks.Requirement{tasks.Consume("water", 4), tasks.Forbid("forge")},
			Outputs:      []tasks.Output{tasks.Destroy("fire", 2)}},
		{ID: "calm", Limit: tasks.Unlimited, Duration: time.Second,
			Requirements: []tasks.Requirement{tasks.Forbid("fire")}},
	}
}

// step applies one generated operation: even ops start, odd ops finish,
// the task is picked by op/2.
func step(e *Engine, op int, now int64) (string, bool, error) {
	ids := e.TaskIDs()
	id := ids[(op/2)%len(ids)]
	if op%2 == 0 {
		_, err := e.Start(id, now)
		return id, true, err
	}
	_, err := e.Finish(id)
	return id, false, err
}

func frontierHolds(e *Engine) bool {
	for _, id := range e.TaskIDs() {
		tk, _ := e.Task(id)
		if tk.Started {
			if !e.Offered(id) {
				return false
			}
			continue
		}
		if e.Offered(id) != e.CanAfford(id) {
			return false
		}
	}
	return true
}

func TestEngineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("ledger changes only by cost and outputs", prop.ForAll(
		func(ops []int) bool {
			defs := mixedDefs()
			e := New(defs)
			for i, op := range ops {
				before := e.Ledger()
				id, start, err := step(e, op, int64(i))
				after := e.Ledger()
				if err != nil {
					if !after.Equal(before) {
						return false
					}
					continue
				}
				tk, _ := e.Task(id)
				want := before.Clone()
				if start {
					for _, r := range tk.Def.Requirements {
						want.Add(r.Resource, -r.Cost())
					}
				} else {
					for _, o := range tk.Def.Produced() {
						want.Add(o.Resource, o.Delta())
					}
				}
				if !after.Equal(want) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.IntRange(0, 11)),
	))

	properties.Property("limits only decrease and times only increase", prop.ForAll(
		func(ops []int) bool {
			e := New(mixedDefs())
			prev := map[string]tasks.Task{}
			for _, id := range e.TaskIDs() {
				prev[id], _ = e.Task(id)
			}
			for i, op := range ops {
				step(e, op, int64(i))
				for _, id := range e.TaskIDs() {
					tk, _ := e.Task(id)
					p := prev[id]
					if tk.Times < p.Times {
						return false
					}
					if p.Limit >= 0 && (tk.Limit > p.Limit || tk.Limit < 0) {
						return false
					}
					if p.Limit == tasks.Unlimited && tk.Limit != tasks.Unlimited {
						return false
					}
					prev[id] = tk
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.IntRange(0, 11)),
	))

	properties.Property("todo set matches affordability after every operation", prop.ForAll(
		func(ops []int) bool {
			e := New(mixedDefs())
			for i, op := range ops {
				step(e, op, int64(i))
				if !frontierHolds(e) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.IntRange(0, 11)),
	))

	properties.Property("export then import preserves affordability and running tasks", prop.ForAll(
		func(ops []int) bool {
			defs := mixedDefs()
			e := New(defs)
			for i, op := range ops {
				step(e, op, int64(i*100))
			}
			r := Import(defs, e.Export())
			if !r.Ledger().Equal(e.Ledger()) {
				return false
			}
			for _, id := range e.TaskIDs() {
				if r.CanAfford(id) != e.CanAfford(id) {
					return false
				}
				a, _ := e.Task(id)
				b, _ := r.Task(id)
				if a.Started != b.Started || a.StartTimeMs != b.StartTimeMs || a.Times != b.Times || a.Limit != b.Limit {
					return false
				}
			}
			return frontierHolds(r)
		},
		gen.SliceOfN(30, gen.IntRange(0, 11)),
	))

	properties.TestingRun(t)
}
