package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"chunkdb/pkg/common"
	"chunkdb/pkg/config"
	"chunkdb/pkg/core"
	"chunkdb/pkg/sql"
	"chunkdb/pkg/storage"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"
)

const Prompt = "chunk> "

var commands = []string{
	"put", "get", "del", "drop", "chunks", "select", "negate",
	"save", "load", "snapshots", "stats", "shrink", "help", "exit",
}

type REPL struct {
	store   *core.Storage[string, string, sql.Row]
	signs   *core.SecondaryIndex[string, string, sql.Row, string]
	backend storage.Backend
	shrink  int
	liner   *liner.State
}

func main() {
	configPath := flag.StringP("config", "c", "", "Config file (YAML or JSON with comments)")
	verbose := flag.BoolP("verbose", "v", false, "Log compaction and index activity")
	snapBackend := flag.String("snapshot-backend", "", "Snapshot backend: sqlite or file (overrides config)")
	snapPath := flag.String("snapshot-path", "", "Snapshot database file or directory (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *snapBackend != "" {
		cfg.Snapshot.Backend = *snapBackend
	}
	if *snapPath != "" {
		cfg.Snapshot.Path = *snapPath
	}

	opts := core.Options{ChunkCapacity: cfg.Storage.ChunkCapacity}
	if *verbose {
		opts.Logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	store := core.NewWithOptions[string, string, sql.Row](opts)

	r := &REPL{
		store:  store,
		signs:  core.NewSecondaryIndex(store, sql.Sign),
		shrink: cfg.Storage.ShrinkRatio,
	}

	if cfg.Snapshot.Backend != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Snapshot.Path), 0o755); err != nil {
			log.Fatalf("Failed to create snapshot dir: %v", err)
		}
		r.backend, err = storage.Open(cfg.Snapshot.Backend, cfg.Snapshot.Path)
		if err != nil {
			log.Fatalf("Failed to open snapshot backend: %v", err)
		}
		defer r.backend.Close()
	}

	if err := r.Run(); err != nil {
		log.Fatal(err)
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chunkcli_history")
}

func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(func(line string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, strings.ToLower(line)) {
				out = append(out, c)
			}
		}
		return out
	})

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}
	defer r.saveHistory()

	fmt.Printf("chunkdb CLI (storage %d)\n", r.store.ID())
	fmt.Println("Type 'help' for commands.")

	for {
		line, err := r.liner.Prompt(Prompt)
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "put", "set":
			r.handlePut(args)
		case "get":
			r.handleGet(args)
		case "del", "rm":
			r.handleDel(args)
		case "drop":
			r.handleDrop(args)
		case "chunks":
			r.handleChunks()
		case "select":
			r.handleSelect(line)
		case "negate":
			r.handleNegate(args)
		case "save":
			r.handleSave()
		case "load":
			r.handleLoad(args)
		case "snapshots":
			r.handleSnapshots()
		case "stats":
			r.handleStats()
		case "shrink":
			r.handleShrink()
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return nil
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) handlePut(args []string) {
	if len(args) != 3 {
		fmt.Println("Usage: put <chunk> <item> <int>")
		return
	}
	v, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		fmt.Println("Error: value must be an integer")
		return
	}

	start := time.Now()
	r.store.Add(common.T(args[0], args[1], v))
	fmt.Printf("OK (%v)\n", time.Since(start))
}

func (r *REPL) handleGet(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: get <chunk> <item>")
		return
	}

	start := time.Now()
	row, ok := r.store.Get(args[0], args[1])
	duration := time.Since(start)
	if !ok {
		fmt.Printf("(not found) (%v)\n", duration)
		return
	}
	fmt.Printf("%d (%v)\n", row.Value, duration)
}

func (r *REPL) handleDel(args []string) {
	if len(args) != 2 {
		fmt.Println("Usage: del <chunk> <item>")
		return
	}
	if _, ok := r.store.Entry(args[0], args[1]).Remove(); !ok {
		fmt.Println("(not found)")
		return
	}
	fmt.Println("Deleted")
}

func (r *REPL) handleDrop(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: drop <chunk>")
		return
	}
	rows, ok := r.store.RemoveChunk(args[0])
	if !ok {
		fmt.Println("(no such chunk)")
		return
	}
	fmt.Printf("Dropped %d records\n", len(rows))
}

func (r *REPL) handleChunks() {
	keys := slices.Sorted(r.store.ChunkKeys())
	for _, k := range keys {
		fmt.Printf("  %s\n", k)
	}
	fmt.Printf("%d chunks, %d records\n", len(keys), r.store.Len())
}

func (r *REPL) handleSelect(line string) {
	stmt, err := sql.Parse(line)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()
	rows := stmt.Run(r.store, r.signs)
	duration := time.Since(start)

	fmt.Printf("Found %d records (%v):\n", len(rows), duration)
	for i, row := range rows {
		if i >= 20 {
			fmt.Printf("... and %d more\n", len(rows)-20)
			break
		}
		fmt.Printf("  %s\n", row)
	}
}

func (r *REPL) handleNegate(args []string) {
	if len(args) != 1 {
		fmt.Println("Usage: negate <chunk|*>")
		return
	}
	q := core.Everything[string, string, sql.Row]()
	if args[0] != sql.AllChunks {
		q = core.Chunks[string, string, sql.Row](args[0])
	}

	n := 0
	r.store.Modify(q, func(ed *core.Editor[string, string, sql.Row]) {
		if ed.Get().Value == 0 {
			return
		}
		row := ed.GetMut()
		row.Value = -row.Value
		n++
	})
	fmt.Printf("Negated %d records\n", n)
}

func (r *REPL) handleSave() {
	if r.backend == nil {
		fmt.Println("Error: no snapshot backend configured")
		return
	}
	id, err := storage.Save(context.Background(), r.backend, r.store)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Saved snapshot %s\n", id)
}

func (r *REPL) handleLoad(args []string) {
	if r.backend == nil {
		fmt.Println("Error: no snapshot backend configured")
		return
	}
	if len(args) != 1 {
		fmt.Println("Usage: load <snapshot-id>")
		return
	}
	before := r.store.Len()
	if err := storage.Load(context.Background(), r.backend, args[0], r.store); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Loaded %d records\n", r.store.Len()-before)
}

func (r *REPL) handleSnapshots() {
	if r.backend == nil {
		fmt.Println("Error: no snapshot backend configured")
		return
	}
	infos, err := r.backend.ListSnapshots(context.Background())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	for _, info := range infos {
		fmt.Printf("  %s  %d chunks  %s\n", info.ID, info.Chunks, info.CreatedAt.Format(time.RFC3339))
	}
	fmt.Printf("%d snapshots\n", len(infos))
}

func (r *REPL) handleStats() {
	r.signs.Sync(r.store)
	r.store.PublishStats()
	s := r.store.Stats().Snapshot()
	fmt.Printf("reads=%d writes=%d removes=%d compactions=%d resyncs=%d\n",
		s.Reads, s.Writes, s.Removes, s.Compactions, s.Resyncs)
	fmt.Printf("chunks=%d items=%d capacity=%d\n", s.Chunks, s.Items, s.Capacity)
	for _, key := range []string{"negative", "zero", "positive"} {
		fmt.Printf("  %-8s %d\n", key, r.signs.Count(key))
	}
}

func (r *REPL) handleShrink() {
	before := r.store.MemoryUsage()
	r.store.ShrinkWith(common.ShrinkRatio(r.shrink))
	after := r.store.MemoryUsage()
	fmt.Printf("capacity %d -> %d (len %d)\n", before.Capacity, after.Capacity, after.Len)
}

func printHelp() {
	fmt.Println(`
Commands:
  put <chunk> <item> <int>   Insert/Update record
  get <chunk> <item>         Retrieve record
  del <chunk> <item>         Delete record
  drop <chunk>               Delete a whole chunk
  chunks                     List chunk keys
  SELECT * FROM <chunk|*> [WHERE value|item|sign <op> <literal>] [LIMIT n]
  negate <chunk|*>           Flip the sign of every value
  save                       Write a snapshot
  load <id>                  Add the records of a snapshot
  snapshots                  List snapshots
  stats                      Workload counters
  shrink                     Release unused capacity
  exit                       Exit CLI
	`)
}
