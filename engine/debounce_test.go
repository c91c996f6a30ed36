package engine

import (
	"testing"
	"time"

	"github.com/yoanbernabeu/indexsync/watcher"
)

const (
	testQuiet   = 100 * time.Millisecond
	testCeiling = 500 * time.Millisecond
)

func event(path string, kind watcher.Kind, at time.Time) watcher.Event {
	return watcher.Event{Path: path, Kind: kind, At: at}
}

func flushKinds(changes []PendingChange) map[string]watcher.Kind {
	out := make(map[string]watcher.Kind, len(changes))
	for _, c := range changes {
		out[c.Path] = c.Kind
	}
	return out
}

func TestDebouncerHoldsUntilQuiet(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", event("a.go", watcher.KindModified, now))

	if got := d.FlushReady(now.Add(testQuiet / 2)); len(got) != 0 {
		t.Fatalf("FlushReady before quiet window = %d changes, want 0", len(got))
	}

	got := d.FlushReady(now.Add(testQuiet))
	if len(got) != 1 {
		t.Fatalf("FlushReady after quiet window = %d changes, want 1", len(got))
	}
	if got[0].Path != "a.go" || got[0].Kind != watcher.KindModified {
		t.Errorf("flushed %+v, want modified a.go", got[0])
	}

	if again := d.FlushReady(now.Add(2 * testQuiet)); len(again) != 0 {
		t.Errorf("second flush returned %d changes, want 0", len(again))
	}
}

func TestDebouncerRestartsWindowOnNewEvent(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", event("a.go", watcher.KindModified, now))
	d.Observe("code/p1", event("a.go", watcher.KindModified, now.Add(testQuiet-time.Millisecond)))

	// The second event restarted the quiet window.
	if got := d.FlushReady(now.Add(testQuiet)); len(got) != 0 {
		t.Fatalf("FlushReady = %d changes, want 0 while window is open", len(got))
	}
	if got := d.FlushReady(now.Add(2 * testQuiet)); len(got) != 1 {
		t.Fatalf("FlushReady = %d changes, want 1 once quiet", len(got))
	}
}

func TestDebouncerStalenessCeiling(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	// Keep the path hot past the ceiling; it must flush anyway.
	at := now
	for at.Sub(now) <= testCeiling {
		d.Observe("code/p1", event("hot.go", watcher.KindModified, at))
		at = at.Add(testQuiet / 2)
	}

	got := d.FlushReady(at)
	if len(got) != 1 {
		t.Fatalf("FlushReady = %d changes, want 1 forced by ceiling", len(got))
	}
	if got[0].Kind != watcher.KindModified {
		t.Errorf("Kind = %v, want modified", got[0].Kind)
	}
}

func TestDebouncerMergeRules(t *testing.T) {
	tests := []struct {
		name string
		seq  []watcher.Kind
		want watcher.Kind
	}{
		{"created then modified", []watcher.Kind{watcher.KindCreated, watcher.KindModified}, watcher.KindCreated},
		{"modified twice", []watcher.Kind{watcher.KindModified, watcher.KindModified}, watcher.KindModified},
		{"modified then deleted", []watcher.Kind{watcher.KindModified, watcher.KindDeleted}, watcher.KindDeleted},
		{"deleted then created", []watcher.Kind{watcher.KindDeleted, watcher.KindCreated}, watcher.KindCreated},
		{"deleted then recreated then modified", []watcher.Kind{watcher.KindDeleted, watcher.KindCreated, watcher.KindModified}, watcher.KindCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(testQuiet, testCeiling)
			now := time.Now()
			for i, kind := range tt.seq {
				d.Observe("code/p1", event("f.go", kind, now.Add(time.Duration(i)*time.Millisecond)))
			}
			got := d.FlushReady(now.Add(time.Second))
			if len(got) != 1 {
				t.Fatalf("FlushReady = %d changes, want 1", len(got))
			}
			if got[0].Kind != tt.want {
				t.Errorf("net kind = %v, want %v", got[0].Kind, tt.want)
			}
		})
	}
}

func TestDebouncerCreateDeleteCancelsOut(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", event("tmp.go", watcher.KindCreated, now))
	d.Observe("code/p1", event("tmp.go", watcher.KindDeleted, now.Add(time.Millisecond)))

	if got := d.FlushReady(now.Add(time.Second)); len(got) != 0 {
		t.Errorf("FlushReady = %d changes, want 0 (create+delete never reached the index)", len(got))
	}
}

func TestDebouncerDeleteCreateDeleteStillDeletes(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	// The index holds a document, so the trailing delete must ship even
	// though a create happened in between.
	d.Observe("code/p1", event("f.go", watcher.KindDeleted, now))
	d.Observe("code/p1", event("f.go", watcher.KindCreated, now.Add(time.Millisecond)))
	d.Observe("code/p1", event("f.go", watcher.KindDeleted, now.Add(2*time.Millisecond)))

	got := d.FlushReady(now.Add(time.Second))
	if len(got) != 1 {
		t.Fatalf("FlushReady = %d changes, want 1", len(got))
	}
	if got[0].Kind != watcher.KindDeleted {
		t.Errorf("net kind = %v, want deleted", got[0].Kind)
	}
}

func TestDebouncerSplitsMoves(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", watcher.Event{From: "old.go", Path: "new.go", Kind: watcher.KindMoved, At: now})

	got := flushKinds(d.FlushReady(now.Add(time.Second)))
	if len(got) != 2 {
		t.Fatalf("FlushReady = %d changes, want 2", len(got))
	}
	if got["old.go"] != watcher.KindDeleted {
		t.Errorf("old.go = %v, want deleted", got["old.go"])
	}
	if got["new.go"] != watcher.KindCreated {
		t.Errorf("new.go = %v, want created", got["new.go"])
	}
}

func TestDebouncerKeysByRoot(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", event("same.go", watcher.KindModified, now))
	d.Observe("code/p2", event("same.go", watcher.KindDeleted, now))

	got := d.FlushReady(now.Add(time.Second))
	if len(got) != 2 {
		t.Fatalf("FlushReady = %d changes, want 2 (one per root)", len(got))
	}
}

func TestDebouncerDropRoot(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", event("a.go", watcher.KindModified, now))
	d.Observe("code/p2", event("b.go", watcher.KindModified, now))

	d.DropRoot("code/p1")

	got := d.FlushReady(now.Add(time.Second))
	if len(got) != 1 || got[0].RootID != "code/p2" {
		t.Errorf("FlushReady = %+v, want only code/p2", got)
	}
}

func TestDebouncerFlushAll(t *testing.T) {
	d := NewDebouncer(testQuiet, testCeiling)
	now := time.Now()

	d.Observe("code/p1", event("a.go", watcher.KindModified, now))
	d.Observe("code/p1", event("b.go", watcher.KindCreated, now))

	got := d.FlushAll()
	if len(got) != 2 {
		t.Fatalf("FlushAll = %d changes, want 2 regardless of age", len(got))
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d after FlushAll, want 0", d.Len())
	}
}
