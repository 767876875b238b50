package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KBRglobal/travi-final-website-sub012/pkg/policy"
)

const globalYAML = `
policies:
  - id: global-default
    name: Global default
    target: {type: global}
    enabled: true
    priority: 0
    allowed_actions: ["*"]
    blocked_actions: [db_delete]
    approval: auto
    budgets:
      - {period: daily, max_actions: 1000, max_spend: 50000, max_db_writes: 500, max_content_mutations: 500}
`

const publishingYAML = `
policies:
  - id: publishing
    name: Content publishing
    target: {type: feature, value: content_publishing}
    enabled: true
    priority: 500
    allowed_actions: [content_update, content_publish]
    approval: review
    time_window: {start_hour: 22, end_hour: 6, timezone: UTC}
    budgets:
      - {period: daily, max_actions: 10}
      - {period: hourly, max_actions: 3}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func TestFileSource_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "00-global.yaml", globalYAML)
	writeFile(t, dir, "10-publishing.yml", publishingYAML)
	writeFile(t, dir, "README.md", "not a policy")
	writeFile(t, dir, ".hidden.yaml", "garbage: [")

	defs, err := NewFileSource(dir, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(defs))
	}

	pub := defs[1]
	if pub.ID != "publishing" {
		t.Errorf("Expected publishing second, got %s", pub.ID)
	}
	if pub.TimeWindow == nil || pub.TimeWindow.StartHour != 22 || pub.TimeWindow.EndHour != 6 {
		t.Errorf("Expected overnight time window, got %+v", pub.TimeWindow)
	}
	if b, ok := pub.Budget(policy.PeriodHourly); !ok || b.MaxActions != 3 {
		t.Errorf("Expected hourly budget of 3, got %+v", b)
	}
	if !defs[0].IsAllowed("content_delete") {
		t.Error("Expected wildcard to allow every action")
	}
}

func TestFileSource_LoadSingleFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "policies.yaml", globalYAML)

	defs, err := NewFileSource(path, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(defs) != 1 || defs[0].ID != "global-default" {
		t.Errorf("Expected global-default, got %+v", defs)
	}
}

func TestFileSource_MalformedFileFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "00-global.yaml", globalYAML)
	writeFile(t, dir, "bad.yaml", "policies: [")

	_, err := NewFileSource(dir, nil).Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("Expected parse error naming bad.yaml, got %v", err)
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("policies:\n  - id: x\n    colour: blue\n"), "inline")
	if err == nil {
		t.Error("Expected unknown field to be rejected")
	}
}

func TestParse_EmptyDocument(t *testing.T) {
	doc, err := Parse(nil, "empty")
	if err != nil {
		t.Fatalf("Expected empty document to parse, got %v", err)
	}
	if len(doc.Policies) != 0 {
		t.Errorf("Expected no policies, got %d", len(doc.Policies))
	}
}

func TestReloader_KeepsSnapshotOnInvalidSet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "00-global.yaml", globalYAML)
	writeFile(t, dir, "10-publishing.yaml", publishingYAML)

	if _, err := policy.NewStore(nil, nil, clockwork.NewFakeClock()); err == nil {
		t.Fatal("Expected empty store to be rejected")
	}

	defs, err := NewFileSource(dir, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	store, err := policy.NewStore(defs, nil, clockwork.NewFakeClock())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	reloader := NewReloader(NewFileSource(dir, nil), store, nil)
	before := store.Snapshot()

	// Priority below the global policy breaks a set-level invariant.
	writeFile(t, dir, "10-publishing.yaml", strings.Replace(publishingYAML, "priority: 500", "priority: 0", 1))
	if err := reloader.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload to fail")
	}
	if store.Snapshot() != before {
		t.Error("Expected previous snapshot to stay live")
	}
	if reloader.Failures() != 1 {
		t.Errorf("Expected 1 failure, got %d", reloader.Failures())
	}

	writeFile(t, dir, "10-publishing.yaml", strings.Replace(publishingYAML, "priority: 500", "priority: 700", 1))
	if err := reloader.Reload(context.Background()); err != nil {
		t.Fatalf("Expected reload to succeed, got %v", err)
	}
	got, _ := store.Snapshot().Get("publishing")
	if got.Priority != 700 {
		t.Errorf("Expected priority 700, got %d", got.Priority)
	}
	if store.Snapshot().Version != before.Version+1 {
		t.Errorf("Expected version %d, got %d", before.Version+1, store.Snapshot().Version)
	}
}

func TestReloader_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "00-global.yaml", globalYAML)

	src := NewFileSource(dir, nil)
	defs, _ := src.Load(context.Background())
	store, err := policy.NewStore(defs, nil, clockwork.NewRealClock())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	w, err := NewWatcher(WatcherConfig{Path: dir, Debounce: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewReloader(src, store, nil).Watch(ctx, w) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "10-publishing.yaml", publishingYAML)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.Snapshot().Get("publishing"); ok {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, ok := store.Snapshot().Get("publishing"); !ok {
		t.Error("Expected watcher to reload the new policy file")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected clean watcher shutdown, got %v", err)
	}
}
