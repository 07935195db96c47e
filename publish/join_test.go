package publish

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nevindra/clonechat/internal/config"
)

func writeReportFixture(t *testing.T, w workspace, rows []reportRow) {
	t.Helper()
	if err := os.MkdirAll(w.source(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(w.report()), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if err := os.WriteFile(r.Path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeReportCSV(w.report(), rows); err != nil {
		t.Fatal(err)
	}
}

func TestRunJoinGroupsContiguousJoinRows(t *testing.T) {
	root := t.TempDir()
	w := workspace{sourceRoot: filepath.Join(root, "source"), root: root}
	if err := os.MkdirAll(w.source(), 0o755); err != nil {
		t.Fatal(err)
	}
	a := filepath.Join(w.source(), "a.mp4")
	b := filepath.Join(w.source(), "b.mp4")
	c := filepath.Join(w.source(), "c.mp4")
	writeReportFixture(t, w, []reportRow{
		{Path: a, Action: actionJoin},
		{Path: b, Action: actionJoin},
		{Path: c, Action: actionSingle},
	})

	runner := &fakeRunner{}
	if err := runJoin(context.Background(), w, config.Default(), runner); err != nil {
		t.Fatalf("runJoin: %v", err)
	}

	entries, err := os.ReadDir(w.joined())
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["group-001.mp4"] {
		t.Errorf("expected a concatenated group-001.mp4, got %v", names)
	}
	if !names["c.mp4"] {
		t.Errorf("expected the single row copied through as-is, got %v", names)
	}
}

func TestRunJoinSkipsAlreadyProducedGroup(t *testing.T) {
	root := t.TempDir()
	w := workspace{sourceRoot: filepath.Join(root, "source"), root: root}
	a := filepath.Join(w.source(), "a.mp4")
	b := filepath.Join(w.source(), "b.mp4")
	writeReportFixture(t, w, []reportRow{
		{Path: a, Action: actionJoin},
		{Path: b, Action: actionJoin},
	})
	if err := os.MkdirAll(w.joined(), 0o755); err != nil {
		t.Fatal(err)
	}
	existing := filepath.Join(w.joined(), "group-001.mp4")
	if err := os.WriteFile(existing, []byte("already done"), 0o644); err != nil {
		t.Fatal(err)
	}

	runner := &fakeRunner{}
	if err := runJoin(context.Background(), w, config.Default(), runner); err != nil {
		t.Fatalf("runJoin: %v", err)
	}

	data, err := os.ReadFile(existing)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "already done" {
		t.Errorf("expected the pre-existing group artefact to be left untouched, got %q", data)
	}
}
