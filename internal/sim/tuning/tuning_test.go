package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "tuning.yaml")
	if err := os.WriteFile(p, []byte("chronicle:\n  threshold: 990\n  cost_unit: chars\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Chronicle.Threshold != 990 || tu.Chronicle.SegmentFraction != 0.25 {
		t.Fatalf("chronicle: %+v", tu.Chronicle)
	}
	cfg := tu.ChronicleConfig()
	if cfg.Cost("abcd") != 4 || cfg.SummaryTimeout != 30*time.Second {
		t.Fatalf("chronicle config: %+v", cfg)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LW_CHRONICLE_THRESHOLD", "1234")
	t.Setenv("LW_NARRATION_MODEL", "gemini-test")
	tu, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tu.Chronicle.Threshold != 1234 || tu.Narration.Model != "gemini-test" {
		t.Fatalf("env not applied: %+v %+v", tu.Chronicle, tu.Narration)
	}
	if tu.Content.MaxLocations != Defaults().Content.MaxLocations {
		t.Fatalf("defaults lost: %+v", tu.Content)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tu := Defaults()
	tu.Chronicle.SegmentFraction = 1.5
	tu.Chronicle.CostUnit = "bytes"
	if err := tu.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
