package log

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"windrift.gg/internal/sim/world"
)

func readEntries(t *testing.T, dir string) []world.TickLogEntry {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "ticks", "ticks-*.jsonl.zst"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("log files = %v (err %v), want one", matches, err)
	}
	f, err := os.Open(matches[0])
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer dec.Close()

	var out []world.TickLogEntry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	return out
}

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	entries := []world.TickLogEntry{
		{Tick: 1, Dirty: 3, Recipients: 2, Sent: 5, DurationMS: 0.42},
		{Tick: 2, DurationMS: 0.1},
	}
	for _, e := range entries {
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := readEntries(t, dir)
	if len(got) != 2 {
		t.Fatalf("read %d entries, want 2", len(got))
	}
	if got[0] != entries[0] || got[1] != entries[1] {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestSessionLoggerWrites(t *testing.T) {
	dir := t.TempDir()
	l := NewSessionLogger(dir)
	err := l.WriteSession(SessionLogEntry{TS: 1, Event: "join", EntityID: "bob", SessionID: "s1"})
	if err != nil {
		t.Fatalf("WriteSession: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "sessions", "sessions-*.jsonl.zst"))
	if len(matches) != 1 {
		t.Fatalf("session log files = %v, want one", matches)
	}
}
