package main

// dataset_gen.go generates deterministic RecordPageKey datasets for
// benchmarking the buffer manager outside `go test` (external load
// generators, flamegraph capture harnesses that want a pre-built key
// list rather than bench/bench_test.go's in-process ds slice). Each
// output line is "database resource key", ready to feed straight into
// bufmgr.NewPageReference(database, resource, key).
//
// Usage:
//   go run ./tools/dataset_gen -n 1000000 -dist=zipf -seed=42 -resources=8 -out keys.txt
//
// Flags:
//   -n         number of keys to generate (default 1e6)
//   -dist      distribution: "uniform" or "zipf" (default uniform)
//   -zipfs     Zipf s parameter (>1)  (default 1.2)
//   -zipfv     Zipf v parameter (>=1) (default 1.0)
//   -seed      RNG seed (default current time)
//   -database  database id stamped on every row (default 1)
//   -resources number of distinct resource ids to spread rows across (default 1)
//   -out       output file (default stdout)
//
// The program is *embarassingly simple* but placed under version control so
// that any contributor can regenerate the exact dataset used in performance
// regressions hunting.
//
// © 2025 bufmgr authors. MIT License.

import (
	"bufio"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/kvtree/bufmgr/pkg/bufmgr"
)

func main() {
	var (
		n         = flag.Int("n", 1_000_000, "number of keys to generate")
		dist      = flag.String("dist", "uniform", "distribution: uniform or zipf")
		zipfS     = flag.Float64("zipfs", 1.2, "zipf s parameter (>1)")
		zipfV     = flag.Float64("zipfv", 1.0, "zipf v parameter (>=1)")
		seedVal   = flag.Int64("seed", time.Now().UnixNano(), "PRNG seed")
		database  = flag.Int64("database", 1, "database id stamped on every row")
		resources = flag.Int64("resources", 1, "number of distinct resource ids to spread rows across")
		outPath   = flag.String("out", "", "output file (default stdout)")
	)
	flag.Parse()

	if *resources < 1 {
		fmt.Fprintln(os.Stderr, "resources must be >=1")
		os.Exit(1)
	}

	rnd := rand.New(rand.NewSource(*seedVal))

	var gen func() uint64
	switch *dist {
	case "uniform":
		gen = rnd.Uint64
	case "zipf":
		if *zipfS <= 1.0 || *zipfV < 1.0 {
			fmt.Fprintln(os.Stderr, "zipfs must be >1 and zipfv >=1")
			os.Exit(1)
		}
		z := rand.NewZipf(rnd, *zipfS, *zipfV, ^uint64(0))
		gen = z.Uint64
	default:
		fmt.Fprintln(os.Stderr, "unknown dist:", *dist)
		os.Exit(1)
	}

	var out *os.File
	var err error
	if *outPath == "" {
		out = os.Stdout
	} else {
		out, err = os.Create(*outPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "cannot create file:", err)
			os.Exit(1)
		}
		defer out.Close()
	}

	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	for i := 0; i < *n; i++ {
		resourceID := int64(i)%(*resources) + 1
		ref := bufmgr.NewPageReference(*database, resourceID, int64(gen()>>1)) // >>1: PageKey is int64, NullPageKey is -1
		k := ref.RecordKey()
		fmt.Fprintln(w, k.DatabaseID, k.ResourceID, k.Key)
	}
}
