package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"windrift.gg/internal/persistence/store"
	"windrift.gg/internal/sim/world"
)

// admin is a local operator tool: it reads a running server's loopback
// admin endpoints, the sqlite entity store, and the compressed tick logs.
func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "region":
			regionCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "ticks":
			ticksCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <state|region|db|ticks> [flags]")
	os.Exit(2)
}

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	fetchJSON(*addr + "/admin/v1/state")
}

func regionCmd(args []string) {
	fs := flag.NewFlagSet("region", flag.ExitOnError)
	addr := fs.String("addr", "http://127.0.0.1:8080", "server base url")
	label := fs.String("label", "", "region or zone label")
	_ = fs.Parse(args)
	if *label == "" {
		fmt.Fprintln(os.Stderr, "region: -label required")
		os.Exit(2)
	}

	fetchJSON(*addr + "/admin/v1/region?label=" + *label)
}

func fetchJSON(url string) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "get:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "%s: %s\n", resp.Status, body)
		os.Exit(1)
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		fmt.Fprintln(os.Stderr, "decode:", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	shardID := fs.String("shard", "shard_1", "shard id")
	id := fs.String("id", "", "entity id to look up (empty: counts only)")
	_ = fs.Parse(args)

	path := filepath.Join(*dataDir, "shards", *shardID, "entities.db")
	db, err := store.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	total, online, err := db.Count(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "count:", err)
		os.Exit(1)
	}
	fmt.Printf("entities: %d (%d online)\n", total, online)

	if *id != "" {
		rec, ok, err := db.Get(ctx, *id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "no entity %q\n", *id)
			os.Exit(1)
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))
	}
}

// ticksCmd decodes the shard's compressed tick logs and prints a summary
// plus the slowest ticks.
func ticksCmd(args []string) {
	fs := flag.NewFlagSet("ticks", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	shardID := fs.String("shard", "shard_1", "shard id")
	slowest := fs.Int("slowest", 10, "how many slowest ticks to print")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "shards", *shardID, "ticks")
	matches, err := filepath.Glob(filepath.Join(dir, "ticks-*.jsonl.zst"))
	if err != nil || len(matches) == 0 {
		fmt.Fprintf(os.Stderr, "no tick logs under %s\n", dir)
		os.Exit(1)
	}
	sort.Strings(matches)

	var entries []world.TickLogEntry
	for _, path := range matches {
		if err := readTickLog(path, &entries); err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
	}
	if len(entries) == 0 {
		fmt.Println("no ticks recorded")
		return
	}

	var totalMS float64
	var totalSent int
	for _, e := range entries {
		totalMS += e.DurationMS
		totalSent += e.Sent
	}
	fmt.Printf("ticks: %d  avg: %.3fms  deltas sent: %d\n",
		len(entries), totalMS/float64(len(entries)), totalSent)

	sort.Slice(entries, func(i, j int) bool { return entries[i].DurationMS > entries[j].DurationMS })
	n := min(*slowest, len(entries))
	for _, e := range entries[:n] {
		fmt.Printf("tick %d: %.3fms dirty=%d recipients=%d sent=%d\n",
			e.Tick, e.DurationMS, e.Dirty, e.Recipients, e.Sent)
	}
}

func readTickLog(path string, out *[]world.TickLogEntry) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		var e world.TickLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return err
		}
		*out = append(*out, e)
	}
	return sc.Err()
}
