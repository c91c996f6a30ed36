package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yoanbernabeu/indexsync/index"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startTestEngine(t *testing.T, roots []WatchedRoot) (*Engine, *index.MemoryClient) {
	t.Helper()

	client := index.NewMemoryClient()
	dispatcher := index.NewDispatcher(client, index.DispatcherConfig{
		Workers:      2,
		MaxAttempts:  3,
		RetryInitial: time.Millisecond,
	})

	eng := New(Options{
		QuietWindow:  100 * time.Millisecond,
		MaxPending:   2 * time.Second,
		PollInterval: 30 * time.Millisecond,
		ForcePolling: true,
		RestartMax:   3,
	}, roots, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)
	eng.Start(ctx)

	t.Cleanup(func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = eng.Close(closeCtx)
		cancel()
		dispatcher.Wait()
	})

	return eng, client
}

func TestEngineIndexesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/main.go", "package main\n")
	writeFile(t, dir, "README.md", "# hi\n")

	_, client := startTestEngine(t, []WatchedRoot{
		{Type: TypeCode, SourceID: "proj", Path: dir, Enabled: true},
	})

	waitFor(t, "existing files to be indexed", func() bool {
		return client.Count("codebase") == 2
	})

	doc := client.Get("codebase", DocID("code/proj", "src/main.go"))
	if doc == nil {
		t.Fatal("main.go document missing from index")
	}
	if doc["project_id"] != "proj" {
		t.Errorf("project_id = %v, want proj", doc["project_id"])
	}
	if doc["index_type"] != "code" {
		t.Errorf("index_type = %v, want code", doc["index_type"])
	}
}

func TestEngineTracksChanges(t *testing.T) {
	dir := t.TempDir()
	_, client := startTestEngine(t, []WatchedRoot{
		{Type: TypeCode, SourceID: "proj", Path: dir, Enabled: true},
	})

	// Create
	writeFile(t, dir, "new.go", "package x\n")
	waitFor(t, "created file to be indexed", func() bool {
		return client.Get("codebase", DocID("code/proj", "new.go")) != nil
	})

	// Modify: same doc id, updated metadata.
	writeFile(t, dir, "new.go", "package x\n\nfunc f() {}\n")
	waitFor(t, "modified file to be re-upserted", func() bool {
		doc := client.Get("codebase", DocID("code/proj", "new.go"))
		if doc == nil {
			return false
		}
		size, ok := doc["file_size"].(int64)
		return ok && size > int64(len("package x\n"))
	})
	if client.Count("codebase") != 1 {
		t.Errorf("Count = %d after modify, want 1 (no duplicates)", client.Count("codebase"))
	}

	// Delete
	if err := os.Remove(filepath.Join(dir, "new.go")); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	waitFor(t, "deleted file to leave the index", func() bool {
		return client.Get("codebase", DocID("code/proj", "new.go")) == nil
	})
}

func TestEngineRoutesPerIndexType(t *testing.T) {
	codeDir := t.TempDir()
	convDir := t.TempDir()
	writeFile(t, codeDir, "a.go", "package a\n")
	writeFile(t, convDir, "chat.json", "{}")

	_, client := startTestEngine(t, []WatchedRoot{
		{Type: TypeCode, SourceID: "proj", Path: codeDir, Enabled: true},
		{Type: TypeChatHistory, SourceID: "claude", Path: convDir, Enabled: true},
	})

	waitFor(t, "both indexes to be fed", func() bool {
		return client.Count("codebase") == 1 && client.Count("conversations") == 1
	})

	conv := client.Get("conversations", DocID("chathistory/claude", "chat.json"))
	if conv == nil {
		t.Fatal("conversation document missing")
	}
	if conv["conversation_type"] != "claude" {
		t.Errorf("conversation_type = %v, want claude", conv["conversation_type"])
	}
	if _, hasProject := conv["project_id"]; hasProject {
		t.Error("conversation document should not carry project_id")
	}
}

func TestEngineSnapshot(t *testing.T) {
	dir := t.TempDir()
	eng, _ := startTestEngine(t, []WatchedRoot{
		{Type: TypeCode, SourceID: "proj", Path: dir, Enabled: true},
	})

	waitFor(t, "root to reach watching state", func() bool {
		snap := eng.Snapshot()
		return len(snap.Roots) == 1 && snap.Roots[0].State == StateWatching
	})

	snap := eng.Snapshot()
	if snap.Roots[0].RootID != "code/proj" {
		t.Errorf("RootID = %s, want code/proj", snap.Roots[0].RootID)
	}
	if snap.Roots[0].Strategy != "polling" {
		t.Errorf("Strategy = %s, want polling (forced)", snap.Roots[0].Strategy)
	}
}

func TestEngineReconcile(t *testing.T) {
	dir1 := t.TempDir()
	dir2 := t.TempDir()
	writeFile(t, dir1, "a.go", "package a\n")

	eng, client := startTestEngine(t, []WatchedRoot{
		{Type: TypeCode, SourceID: "one", Path: dir1, Enabled: true},
	})

	waitFor(t, "first root to be indexed", func() bool {
		return client.Count("codebase") == 1
	})

	// Swap the root set: drop one, add two.
	writeFile(t, dir2, "b.go", "package b\n")
	eng.Reconcile([]WatchedRoot{
		{Type: TypeCode, SourceID: "two", Path: dir2, Enabled: true},
	})

	waitFor(t, "new root to be indexed", func() bool {
		return client.Get("codebase", DocID("code/two", "b.go")) != nil
	})

	snap := eng.Snapshot()
	if len(snap.Roots) != 1 || snap.Roots[0].RootID != "code/two" {
		t.Fatalf("Roots = %+v, want only code/two", snap.Roots)
	}

	// Changes under the removed root no longer flow.
	writeFile(t, dir1, "late.go", "package a\n")
	time.Sleep(500 * time.Millisecond)
	if client.Get("codebase", DocID("code/one", "late.go")) != nil {
		t.Error("removed root still produced index updates")
	}
}

func TestRootsFromConfigRegistry(t *testing.T) {
	disabled := false
	registry := NewRegistry([]WatchedRoot{
		{Type: TypeCode, SourceID: "a", Path: "/a", Enabled: true},
		{Type: TypeCodex, SourceID: "b", Path: "/b", Enabled: disabled},
	})

	if _, ok := registry.Resolve("code/a"); !ok {
		t.Error("Resolve(code/a) = false, want true")
	}
	if _, ok := registry.Resolve("codex/b"); ok {
		t.Error("Resolve(codex/b) = true for a disabled root, want false")
	}
	if _, ok := registry.Resolve("code/missing"); ok {
		t.Error("Resolve(code/missing) = true, want false")
	}

	active := registry.Active()
	if len(active) != 1 || active[0].ID() != "code/a" {
		t.Errorf("Active() = %+v, want only code/a", active)
	}
}
