package infra

import (
	"bytes"
	"strings"
	"testing"
)

func TestExtractMarker(t *testing.T) {
	q := "--sql 3b1f6c2e-94d0-4f7a-a0c1-5e2d8b7f4a19\nselect 1;\n"
	marker, body, err := extractMarker(q)
	if err != nil {
		t.Fatalf("extractMarker: %v", err)
	}
	if marker != "3b1f6c2e-94d0-4f7a-a0c1-5e2d8b7f4a19" {
		t.Fatalf("marker = %q", marker)
	}
	if strings.TrimSpace(body) != "select 1;" {
		t.Fatalf("body = %q", body)
	}
}

func TestExtractMarkerRejectsUnmarked(t *testing.T) {
	for _, q := range []string{"select 1;", "--sql not-a-uuid\nselect 1;", ""} {
		if _, _, err := extractMarker(q); err == nil {
			t.Fatalf("expected error for %q", q)
		}
	}
}

func TestLoggerLevelOverride(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "warn")
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, `"service":"vidgen"`) {
		t.Fatalf("missing service field: %q", out)
	}
}
