package tuning

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadShippedTuning(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.ProtocolVersion != "1.0" || tu.TickRateHz != 10 || tu.DefaultVariant != "universe" {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if tu.DurationScale != 1 || tu.RateLimits.ActBurst != 10 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	if tu.DevSpeed() {
		t.Fatalf("shipped tuning must play at authored speed")
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("duration_scale: 0.01\ntick_rate_hz: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d := Defaults()
	if tu.DurationScale != 0.01 || !tu.DevSpeed() {
		t.Fatalf("duration_scale: %v", tu.DurationScale)
	}
	if tu.TickRateHz != d.TickRateHz || tu.SnapshotEveryFinishes != d.SnapshotEveryFinishes || tu.RateLimits != d.RateLimits {
		t.Fatalf("defaults not kept: %+v", tu)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	p := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(p, []byte("tick_rate_hz: [1, 2\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDefaultsPlayAtAuthoredSpeed(t *testing.T) {
	if d := Defaults(); d.DurationScale != 1 || d.DevSpeed() {
		t.Fatalf("defaults: %+v", d)
	}
}
