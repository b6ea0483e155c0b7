package version

import (
	"strings"
	"testing"
)

func TestCurrentDefaults(t *testing.T) {
	b := Current()

	for name, value := range map[string]string{
		"version": b.Version,
		"commit":  b.Commit,
		"date":    b.Date,
	} {
		if value == "" {
			t.Errorf("%s should not be empty", name)
		}
	}
}

func TestBuildString(t *testing.T) {
	s := Build{Version: "1.2.3", Commit: "abc123", Date: "2026-01-15"}.String()

	for _, part := range []string{"version=1.2.3", "commit=abc123", "date=2026-01-15"} {
		if !strings.Contains(s, part) {
			t.Errorf("String should contain %q, got %q", part, s)
		}
	}
}
