package metrics

import (
	"path/filepath"
	"testing"

	kit "ghstrata/internal/platform/testkit"
)

func TestWriteTextfile(t *testing.T) {
	SlotsTotal.WithLabelValues("success").Add(3)
	EventsTotal.WithLabelValues("distilled").Inc()
	Repositories.Set(42)

	path := filepath.Join(t.TempDir(), "textfile", "ghstrata.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	out := string(kit.MustReadFile(t, path))
	kit.MustContain(t, out, `ghstrata_ingest_slots_total{status="success"}`)
	kit.MustContain(t, out, `ghstrata_ingest_events_total{outcome="distilled"}`)
	kit.MustContain(t, out, "ghstrata_analysis_repositories 42")
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	if err := WriteTextfile(""); err != nil {
		t.Fatalf("empty path should be a no-op, got %v", err)
	}
}
