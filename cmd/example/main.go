package main

import (
	"fmt"
	"log"
	"os"

	"chunkdb/pkg/common"
	"chunkdb/pkg/core"
)

type reading = common.Triple[string, string, float64]

func main() {
	logger := log.New(os.Stdout, "", 0)
	s := core.NewWithOptions[string, string, reading](core.Options{Logger: logger})

	fmt.Println("Adding readings...")
	s.Add(common.T("berlin", "temp", 21.5))
	s.Add(common.T("berlin", "wind", -3.0))
	s.Add(common.T("oslo", "temp", -7.25))

	if r, ok := s.Get("berlin", "temp"); ok {
		fmt.Printf("Got %s\n", r)
	}

	freezing := core.NewSecondaryIndex(s, func(r reading) (bool, bool) {
		return r.Value < 0, r.Item == "temp"
	})
	below := core.Matching(core.Everything[string, string, reading](), freezing, true)

	fmt.Println("Freezing temperatures:")
	for r := range s.Query(below) {
		fmt.Printf("  %s\n", r)
	}

	fmt.Println("Berlin cools down...")
	if p, ok := s.Entry("berlin", "temp").GetMut(); ok {
		p.Value = -1.5
	}
	for r := range s.Query(below) {
		fmt.Printf("  %s\n", r)
	}

	rows, _ := s.RemoveChunk("oslo")
	fmt.Printf("Evicted oslo (%d readings), chunks left: %d\n", len(rows), s.ChunkCount())

	s.Remove(core.Chunks[string, string, reading]("berlin"), func(r reading) {
		fmt.Printf("Removed %s\n", r)
	})
	fmt.Printf("Records left: %d\n", s.Len())
}
