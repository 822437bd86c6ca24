package store

import (
	"context"
	"path/filepath"
	"testing"

	"windrift.gg/internal/protocol"
	"windrift.gg/internal/sim/world"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "world", "entities.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("empty path must fail")
	}
}

func TestBatchUpsertRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	recs := []world.Record{
		{
			ID:        "bob",
			Name:      "Bob",
			Region:    "meadow",
			Zone:      "north",
			Pos:       protocol.Vec3{X: 1.5, Y: 2.5, Z: -3},
			Vel:       protocol.Vec3{X: 0.1},
			Rot:       protocol.Quat{W: 1},
			Online:    true,
			SessionID: "s1",
			UpdatedAt: 1700000000000,
		},
		{ID: "eve", Rot: protocol.Quat{W: 1}, Online: true, UpdatedAt: 1700000000001},
	}
	if err := s.BatchUpsert(ctx, recs); err != nil {
		t.Fatalf("BatchUpsert: %v", err)
	}

	got, ok, err := s.Get(ctx, "bob")
	if err != nil || !ok {
		t.Fatalf("Get(bob): ok=%v err=%v", ok, err)
	}
	if got != recs[0] {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, recs[0])
	}

	if _, ok, err := s.Get(ctx, "ghost"); err != nil || ok {
		t.Fatalf("Get(ghost): ok=%v err=%v, want miss", ok, err)
	}
}

func TestBatchUpsertLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := world.Record{ID: "bob", Pos: protocol.Vec3{X: 1}, Rot: protocol.Quat{W: 1}, Online: true, UpdatedAt: 1}
	if err := s.BatchUpsert(ctx, []world.Record{rec}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	rec.Pos.X = 42
	rec.Online = false
	rec.UpdatedAt = 2
	if err := s.BatchUpsert(ctx, []world.Record{rec}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, ok, err := s.Get(ctx, "bob")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Pos.X != 42 || got.Online || got.UpdatedAt != 2 {
		t.Fatalf("stale row survived: %+v", got)
	}

	total, online, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 1 || online != 0 {
		t.Fatalf("Count = (%d, %d), want (1, 0)", total, online)
	}
}

func TestBatchUpsertEmptyIsNoOp(t *testing.T) {
	s := openTestStore(t)
	if err := s.BatchUpsert(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "entities.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := world.Record{ID: "bob", Rot: protocol.Quat{W: 1}, Online: true, UpdatedAt: 7}
	if err := s.BatchUpsert(ctx, []world.Record{rec}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if _, ok, err := s2.Get(ctx, "bob"); err != nil || !ok {
		t.Fatalf("row lost across reopen: ok=%v err=%v", ok, err)
	}
}
