package global

import "testing"

func TestDefaultConfigDir_UsesOverride(t *testing.T) {
	t.Setenv("PENMAN_CONFIG_DIR", "/tmp/penman-config-test")
	got, err := DefaultConfigDir()
	if err != nil {
		t.Fatalf("DefaultConfigDir returned error: %v", err)
	}
	if got != "/tmp/penman-config-test" {
		t.Fatalf("expected override path, got %q", got)
	}
}
