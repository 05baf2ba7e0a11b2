package tasks

import (
	"testing"

	"alchemy.ai/internal/sim/ledger"
)

func TestRequirementFromCount(t *testing.T) {
	cases := []struct {
		count int
		keep  bool
		want  ReqKind
		cost  int
	}{
		{count: 3, want: ReqConsumes, cost: 3},
		{count: 3, keep: true, want: ReqConsumes, cost: 0},
		{count: 0, want: ReqPresence, cost: 0},
		{count: -1, want: ReqForbids, cost: 0},
		{count: -5, keep: true, want: ReqForbids, cost: 0},
	}
	for _, c := range cases {
		r := RequirementFromCount("x", c.count, c.keep, false)
		if r.Kind != c.want {
			t.Fatalf("count=%d: expected kind %s, got %s", c.count, c.want, r.Kind)
		}
		if r.Cost() != c.cost {
			t.Fatalf("count=%d keep=%v: expected cost %d, got %d", c.count, c.keep, c.cost, r.Cost())
		}
	}
}

func TestCanAffordDecisionTable(t *testing.T) {
	cases := []struct {
		name string
		req  Requirement
		have int
		want bool
	}{
		{"consume enough", Consume("fire", 2), 2, true},
		{"consume short", Consume("fire", 2), 1, false},
		{"presence missing", Require("fire"), 0, false},
		{"presence positive", Require("fire"), 1, true},
		{"presence negative", Require("fire"), -1, true},
		{"forbid absent", Forbid("religion"), 0, true},
		{"forbid present", Forbid("religion"), 1, false},
		{"forbid negative", Forbid("religion"), -2, false},
		{"keep enough", KeepAtLeast("sin", 3), 3, true},
		{"keep short", KeepAtLeast("sin", 3), 2, false},
	}
	for _, c := range cases {
		d := &Def{ID: "t", Limit: 1, Requirements: []Requirement{c.req}}
		l := ledger.Ledger{}
		if c.have != 0 {
			l[c.req.Resource] = c.have
		}
		task := NewTask(d)
		if got := CanAfford(l, task); got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, got)
		}
		if got := CanAfford(l, task); got != c.want {
			t.Fatalf("%s: second evaluation differs", c.name)
		}
	}
}

func TestCanAffordExhausted(t *testing.T) {
	task := NewTask(&Def{ID: "t", Limit: 0})
	if CanAfford(ledger.New(), task) {
		t.Fatalf("exhausted task must not be affordable")
	}
	task = NewTask(&Def{ID: "t", Limit: Unlimited})
	if !CanAfford(ledger.New(), task) {
		t.Fatalf("unlimited task without requirements should be affordable")
	}
}

func TestBlockers(t *testing.T) {
	task := NewTask(&Def{ID: "religion", Limit: 1, Requirements: []Requirement{
		Require("human"), Forbid("atheism"), Consume("CHOICE_RELIGION", 1),
	}})
	l := ledger.Ledger{"human": 1, "atheism": 1}
	bl := Blockers(l, task)
	if len(bl) != 2 || bl[0].Resource != "atheism" || bl[1].Resource != "CHOICE_RELIGION" {
		t.Fatalf("unexpected blockers: %+v", bl)
	}
}

func TestProducedSelfOutput(t *testing.T) {
	d := &Def{ID: "fire", Outputs: []Output{Produce("smoke", 2)}}
	out := d.Produced()
	if len(out) != 2 || out[1].Resource != "fire" || out[1].Delta() != 1 {
		t.Fatalf("expected implicit self output, got %+v", out)
	}

	d = &Def{ID: "fire", Outputs: []Output{Produce("fire", 5)}}
	if out := d.Produced(); len(out) != 1 || out[0].Delta() != 5 {
		t.Fatalf("explicit self output should replace the implicit one, got %+v", out)
	}

	d = &Def{ID: "breed", HideSelf: true, Outputs: []Output{Produce("animal", 1)}}
	if out := d.Produced(); len(out) != 1 || out[0].Resource != "animal" {
		t.Fatalf("hidden self output should be suppressed, got %+v", out)
	}
}

func TestConstructorsFollowSignedCounts(t *testing.T) {
	cases := []struct {
		name string
		req  Requirement
		kind ReqKind
		keep bool
	}{
		{"consume positive", Consume("fire", 2), ReqConsumes, false},
		{"consume zero", Consume("fire", 0), ReqPresence, false},
		{"consume negative", Consume("fire", -1), ReqForbids, false},
		{"keep positive", KeepAtLeast("fire", 1), ReqConsumes, true},
		{"keep zero", KeepAtLeast("fire", 0), ReqPresence, false},
	}
	for _, c := range cases {
		if c.req.Kind != c.kind || c.req.Keep != c.keep || c.req.Amount < 0 {
			t.Fatalf("%s: %+v", c.name, c.req)
		}
	}

	task := NewTask(&Def{ID: "t", Limit: 1, Requirements: []Requirement{Consume("fire", 0)}})
	if CanAfford(ledger.New(), task) {
		t.Fatalf("zero-count requirement must need the resource to be present")
	}
	task = NewTask(&Def{ID: "t", Limit: 1, Requirements: []Requirement{Consume("fire", -3)}})
	if CanAfford(ledger.Ledger{"fire": 1}, task) {
		t.Fatalf("negative-count requirement must forbid the resource")
	}
}

func TestOutputFromCount(t *testing.T) {
	o := OutputFromCount("token", -1, true)
	if o.Kind != OutDestroys || o.Amount != 1 || o.Delta() != -1 || !o.Hidden {
		t.Fatalf("unexpected output: %+v", o)
	}
}

func TestKey(t *testing.T) {
	task := NewTask(&Def{ID: "cell", Limit: 10})
	task.Times = 3
	if got := task.Key(); got != "cell#3" {
		t.Fatalf("unexpected key %q", got)
	}
}
