package world

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"windrift.gg/internal/protocol"
)

// fakeSession captures outbound frames. failAfter > 0 makes Send fail once
// that many frames have been accepted.
type fakeSession struct {
	mu        sync.Mutex
	id        string
	msgs      [][]byte
	failAfter int
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.msgs) >= s.failAfter {
		return errors.New("session closed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.msgs = append(s.msgs, cp)
	return nil
}

func (s *fakeSession) frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.msgs...)
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	return New(cfg, nil, nil)
}

func posPayload(x, y, z float64) protocol.UpdatePayload {
	return protocol.UpdatePayload{Position: &protocol.Vec3{X: x, Y: y, Z: z}}
}

func mustAdd(t *testing.T, m *Manager, id string, sess Session) *Entity {
	t.Helper()
	if err := m.handleAdd(id, sess, id); err != nil {
		t.Fatalf("add %q: %v", id, err)
	}
	return m.entities[id]
}

func TestAddRejectsInvalidID(t *testing.T) {
	m := newTestManager(t, Config{})
	if err := m.handleAdd("", &fakeSession{}, "nameless"); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("empty id: got %v, want ErrInvalidID", err)
	}
	long := strings.Repeat("x", maxEntityIDLen+1)
	if err := m.handleAdd(long, &fakeSession{}, ""); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("oversized id: got %v, want ErrInvalidID", err)
	}
	if len(m.entities) != 0 {
		t.Fatalf("rejected adds must not register entities, got %d", len(m.entities))
	}
}

func TestAddReconnectPreservesState(t *testing.T) {
	m := newTestManager(t, Config{})
	first := &fakeSession{id: "s1"}
	e := mustAdd(t, m, "bob", first)
	if !e.NeedsInitialSync {
		t.Fatal("fresh entity must be pending initial sync")
	}

	if !m.handleUpdate("bob", posPayload(5, 0, 0), time.Now()) {
		t.Fatal("update rejected")
	}
	if e.NeedsInitialSync {
		t.Fatal("first accepted update must clear the initial-sync flag")
	}
	seq := e.Seq

	second := &fakeSession{id: "s2"}
	if err := m.handleAdd("bob", second, ""); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if e.Session != Session(second) {
		t.Fatal("re-add must swap in the new session")
	}
	if e.Pos != (protocol.Vec3{X: 5}) || e.Seq != seq {
		t.Fatalf("re-add must preserve state, got pos=%+v seq=%d", e.Pos, e.Seq)
	}
	if e.NeedsInitialSync {
		t.Fatal("re-add must not rearm initial sync")
	}
	if e.Name != "bob" {
		t.Fatalf("empty name on re-add must keep old name, got %q", e.Name)
	}
}

func TestUpdateUnknownEntity(t *testing.T) {
	m := newTestManager(t, Config{})
	if m.handleUpdate("ghost", posPayload(1, 2, 3), time.Now()) {
		t.Fatal("update for unknown entity must be rejected")
	}
}

func TestUpdateSequenceWraps(t *testing.T) {
	m := newTestManager(t, Config{})
	e := mustAdd(t, m, "bob", nil)
	e.Seq = math.MaxUint32
	if !m.handleUpdate("bob", posPayload(1, 0, 0), time.Now()) {
		t.Fatal("update rejected")
	}
	if e.Seq != 0 {
		t.Fatalf("seq must wrap mod 2^32, got %d", e.Seq)
	}
}

func TestUpdateSignificanceThresholds(t *testing.T) {
	m := newTestManager(t, Config{})
	e := mustAdd(t, m, "bob", nil)
	if !m.handleUpdate("bob", posPayload(0, 0, 0), time.Now()) {
		t.Fatal("baseline update rejected")
	}
	e.Dirty, e.DBDirty = false, false
	seq := e.Seq

	// 0.005 along one axis is under the 0.01 threshold.
	if !m.handleUpdate("bob", posPayload(0.005, 0, 0), time.Now()) {
		t.Fatal("sub-threshold update rejected")
	}
	if e.Seq != seq+1 {
		t.Fatalf("accepted update must advance seq, got %d want %d", e.Seq, seq+1)
	}
	if e.Dirty || e.DBDirty {
		t.Fatal("sub-threshold move must not mark dirty")
	}

	if !m.handleUpdate("bob", posPayload(1.005, 0, 0), time.Now()) {
		t.Fatal("significant update rejected")
	}
	if !e.Dirty || !e.DBDirty {
		t.Fatal("significant move must mark both broadcast- and storage-dirty")
	}
}

func TestUpdateRotationSignificance(t *testing.T) {
	m := newTestManager(t, Config{})
	e := mustAdd(t, m, "bob", nil)
	e.DBDirty = false

	// 90 degrees around Y: far past the threshold.
	half := math.Sqrt2 / 2
	ok := m.handleUpdate("bob", protocol.UpdatePayload{
		Rotation: &protocol.Quat{Y: half, W: half},
	}, time.Now())
	if !ok {
		t.Fatal("rotation update rejected")
	}
	if !e.Dirty || !e.DBDirty {
		t.Fatal("large rotation must mark dirty")
	}
}

func TestUpdateRejectsNonFinite(t *testing.T) {
	m := newTestManager(t, Config{})
	e := mustAdd(t, m, "bob", nil)
	if !m.handleUpdate("bob", posPayload(3, 0, 0), time.Now()) {
		t.Fatal("baseline update rejected")
	}
	seq := e.Seq

	nan := math.NaN()
	if m.handleUpdate("bob", protocol.UpdatePayload{
		Position:  &protocol.Vec3{X: 10, Y: 10, Z: 10},
		VelocityX: &nan,
	}, time.Now()) {
		t.Fatal("non-finite update must be rejected")
	}
	if e.Pos != (protocol.Vec3{X: 3}) {
		t.Fatalf("rejected update must not mutate any field, got pos=%+v", e.Pos)
	}
	if e.Seq != seq {
		t.Fatalf("rejected update must not advance seq, got %d", e.Seq)
	}

	inf := math.Inf(1)
	if m.handleUpdate("bob", protocol.UpdatePayload{RotationW: &inf}, time.Now()) {
		t.Fatal("infinite rotation component must be rejected")
	}
}

func TestUpdateRegionMembership(t *testing.T) {
	m := newTestManager(t, Config{})
	mustAdd(t, m, "bob", nil)

	meadow := "meadow"
	if !m.handleUpdate("bob", protocol.UpdatePayload{Region: &meadow}, time.Now()) {
		t.Fatal("region update rejected")
	}
	if _, ok := m.regions.ids("meadow")["bob"]; !ok {
		t.Fatal("entity missing from region group")
	}

	cave := "cave"
	if !m.handleUpdate("bob", protocol.UpdatePayload{Region: &cave}, time.Now()) {
		t.Fatal("region change rejected")
	}
	if len(m.regions.ids("meadow")) != 0 {
		t.Fatal("old region group must be vacated")
	}
	states := m.entitiesInRegion("cave", time.Now())
	if len(states) != 1 || states[0].EntityID != "bob" || states[0].Region != "cave" {
		t.Fatalf("region snapshot wrong: %+v", states)
	}
}

func TestReleaseSessionIgnoresStaleOwner(t *testing.T) {
	m := newTestManager(t, Config{})
	stale := &fakeSession{id: "s1"}
	mustAdd(t, m, "bob", stale)

	fresh := &fakeSession{id: "s2"}
	if err := m.handleAdd("bob", fresh, ""); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	// The old connection's teardown must not evict the reconnected entity.
	m.handleRemove("bob", stale, time.Now())
	if _, ok := m.entities["bob"]; !ok {
		t.Fatal("stale session removed a reconnected entity")
	}

	m.handleRemove("bob", fresh, time.Now())
	if _, ok := m.entities["bob"]; ok {
		t.Fatal("owning session failed to remove its entity")
	}
}

func TestRunLoopLifecycle(t *testing.T) {
	m := newTestManager(t, Config{TickRateHz: 200})
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	if err := m.AddEntity("bob", &fakeSession{id: "s1"}, "Bob"); err != nil {
		t.Fatalf("AddEntity: %v", err)
	}
	if !m.ApplyUpdate("bob", posPayload(1, 2, 3)) {
		t.Fatal("ApplyUpdate rejected")
	}

	deadline := time.Now().Add(2 * time.Second)
	for m.CurrentTick() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("tick counter never advanced")
		}
		time.Sleep(time.Millisecond)
	}

	st := m.Stats()
	if st.EntityCount != 1 {
		t.Fatalf("EntityCount = %d, want 1", st.EntityCount)
	}
	if st.TicksProcessed == 0 {
		t.Fatal("TicksProcessed must advance")
	}

	m.RemoveEntity("bob")
	if st := m.Stats(); st.EntityCount != 0 {
		t.Fatalf("EntityCount after remove = %d, want 0", st.EntityCount)
	}

	m.Stop()
	m.Stop() // idempotent
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
