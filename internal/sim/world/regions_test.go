package world

import "testing"

func TestRegionIndex(t *testing.T) {
	r := newRegionIndex()

	r.add("meadow", "a")
	r.add("meadow", "b")
	r.add("cave", "a")
	if got := r.ids("meadow"); len(got) != 2 {
		t.Fatalf("meadow has %d ids, want 2", len(got))
	}
	if got := r.ids("tundra"); got != nil {
		t.Fatalf("unknown label returned %v, want nil", got)
	}

	r.remove("meadow", "a")
	if _, ok := r.ids("meadow")["a"]; ok {
		t.Fatal("a still present in meadow after remove")
	}
	r.remove("meadow", "b")
	if _, ok := r.groups["meadow"]; ok {
		t.Fatal("empty group must be deleted")
	}

	// Removing an id that was never added is a no-op.
	r.remove("cave", "z")
	if len(r.ids("cave")) != 1 {
		t.Fatal("unrelated remove disturbed the group")
	}
}

func TestRegionIndexIgnoresEmptyLabel(t *testing.T) {
	r := newRegionIndex()
	r.add("", "a")
	if len(r.groups) != 0 {
		t.Fatal("empty label must not create a group")
	}
	r.remove("", "a")
}
