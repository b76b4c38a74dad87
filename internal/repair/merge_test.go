package repair

import (
	"testing"
	"time"

	"catalogkv/internal/storage"
)

func rec(name string, version uint64, ts int64, origin string) storage.Record {
	return storage.Record{
		Product:   storage.Product{Name: name},
		Version:   version,
		UpdatedAt: time.Unix(ts, 0),
		Origin:    origin,
	}
}

func TestSupersedes(t *testing.T) {
	tests := []struct {
		name     string
		incoming storage.Record
		local    storage.Record
		want     bool
	}{
		{
			name:     "higher version wins",
			incoming: rec("a", 3, 1, "n1"),
			local:    rec("b", 2, 100, "n2"),
			want:     true,
		},
		{
			name:     "lower version loses despite newer timestamp",
			incoming: rec("a", 1, 100, "n1"),
			local:    rec("b", 2, 1, "n2"),
			want:     false,
		},
		{
			name:     "equal version later timestamp wins",
			incoming: rec("a", 2, 20, "n1"),
			local:    rec("b", 2, 10, "n2"),
			want:     true,
		},
		{
			name:     "equal version earlier timestamp loses",
			incoming: rec("a", 2, 10, "n2"),
			local:    rec("b", 2, 20, "n1"),
			want:     false,
		},
		{
			name:     "full tie broken by origin",
			incoming: rec("a", 2, 10, "n2"),
			local:    rec("b", 2, 10, "n1"),
			want:     true,
		},
		{
			name:     "identical envelope rejected",
			incoming: rec("a", 2, 10, "n1"),
			local:    rec("a", 2, 10, "n1"),
			want:     false,
		},
		{
			name:     "absent local accepts any written record",
			incoming: rec("a", 1, 10, "n1"),
			local:    storage.Record{},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Supersedes(tt.incoming, tt.local); got != tt.want {
				t.Errorf("Supersedes() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMerger_Idempotent(t *testing.T) {
	store := storage.NewInMemoryStore()
	m := NewMerger(store)

	incoming := rec("widget", 3, 10, "n1")
	if !m.Merge("p1", incoming) {
		t.Fatal("Expected first merge to change state")
	}
	if m.Merge("p1", incoming) {
		t.Error("Expected repeated merge to be a no-op")
	}
	if v := store.CurrentVersion("p1"); v != 3 {
		t.Errorf("Expected version 3, got %d", v)
	}
}

func TestMerger_OrderIndependent(t *testing.T) {
	pairs := [][2]storage.Record{
		{rec("x", 2, 10, "n1"), rec("y", 2, 20, "n2")},
		{rec("x", 5, 10, "n1"), rec("y", 4, 20, "n2")},
		{rec("x", 2, 10, "n1"), rec("y", 2, 10, "n2")},
	}

	for i, p := range pairs {
		ab := storage.NewInMemoryStore()
		NewMerger(ab).Merge("k", p[0])
		NewMerger(ab).Merge("k", p[1])

		ba := storage.NewInMemoryStore()
		NewMerger(ba).Merge("k", p[1])
		NewMerger(ba).Merge("k", p[0])

		got1, _ := ab.Get("k")
		got2, _ := ba.Get("k")
		if got1.Name != got2.Name || got1.Version != got2.Version {
			t.Errorf("pair %d: merge order changed result: %+v vs %+v", i, got1, got2)
		}
	}
}

func TestMerger_VersionNeverDecreases(t *testing.T) {
	store := storage.NewInMemoryStore()
	m := NewMerger(store)

	var last uint64
	for _, r := range []storage.Record{
		rec("a", 1, 1, "n1"),
		rec("b", 4, 2, "n2"),
		rec("c", 2, 50, "n3"),
		rec("d", 4, 1, "n1"),
		rec("e", 6, 3, "n2"),
	} {
		m.Merge("p1", r)
		v := store.CurrentVersion("p1")
		if v < last {
			t.Fatalf("version decreased from %d to %d", last, v)
		}
		last = v
	}
	if last != 6 {
		t.Errorf("Expected final version 6, got %d", last)
	}
}

func TestMerger_MergeSnapshot(t *testing.T) {
	store := storage.NewInMemoryStore()
	store.Put("p1", rec("local", 5, 10, "n1"))
	m := NewMerger(store)

	merged := m.MergeSnapshot(map[string]storage.Record{
		"p1": rec("stale", 4, 99, "n2"),
		"p2": rec("new", 1, 10, "n2"),
		"p3": rec("new", 2, 10, "n2"),
	})
	if merged != 2 {
		t.Errorf("Expected 2 merged, got %d", merged)
	}
	got, _ := store.Get("p1")
	if got.Name != "local" {
		t.Errorf("Expected stale remote to be rejected, got %q", got.Name)
	}
}
