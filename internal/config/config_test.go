package config

import "testing"

func TestDefaultValues(t *testing.T) {
	c := Default()
	if c.Output != "table" {
		t.Errorf("Output = %q, want table", c.Output)
	}
	if c.Retries != 3 {
		t.Errorf("Retries = %d, want 3", c.Retries)
	}
	if !c.Simulation.AutoStash {
		t.Error("expected Simulation.AutoStash to default true")
	}
	if c.Branch.DefaultStrategy != "squash" {
		t.Errorf("Branch.DefaultStrategy = %q, want squash", c.Branch.DefaultStrategy)
	}
	if c.Manifest.MaxFileBytes != 10*1024*1024 {
		t.Errorf("Manifest.MaxFileBytes = %d, want 10MiB", c.Manifest.MaxFileBytes)
	}
}

func TestToMapRoundTrip(t *testing.T) {
	c := Default()
	m, err := c.ToMap()
	if err != nil {
		t.Fatalf("ToMap: %v", err)
	}
	if m["output"] != "table" {
		t.Errorf("expected output key in map, got %v", m["output"])
	}

	back, err := FromMap(m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if back.Output != c.Output || back.Retries != c.Retries {
		t.Errorf("round trip mismatch: %+v vs %+v", back, c)
	}
}

func TestFromMapOverridesOnTopOfDefaults(t *testing.T) {
	m := map[string]interface{}{"output": "json", "retries": 5}
	cfg, err := FromMap(m)
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if cfg.Output != "json" {
		t.Errorf("Output = %q, want json", cfg.Output)
	}
	if cfg.Retries != 5 {
		t.Errorf("Retries = %d, want 5", cfg.Retries)
	}
	if cfg.RetentionDays != defaultRetention {
		t.Errorf("expected RetentionDays to keep its default, got %d", cfg.RetentionDays)
	}
}

func TestBinaryExtensionsTable(t *testing.T) {
	for _, ext := range []string{".png", ".zip", ".dylib"} {
		if !BinaryExtensions[ext] {
			t.Errorf("expected %s to be classified binary", ext)
		}
	}
	if BinaryExtensions[".go"] {
		t.Error(".go should not be classified binary")
	}
}
