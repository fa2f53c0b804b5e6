package main

import (
	"flag"
	"fmt"
	"log"
	mrand "math/rand"
	"os"
	"time"

	"sensorlog/protocol"
	"sensorlog/region"
	"sensorlog/ringdb"
	"sensorlog/store"
)

var (
	totalOps = flag.Int("n", 10000, "Number of readings to append")
	capacity = flag.Int("capacity", protocol.DefaultCapacity, "Ring capacity")
	backend  = flag.String("backend", "mem", "Backend: 'mem' or 'file'")
	dir      = flag.String("dir", "", "Data directory for the file backend (default a temp dir)")
	queries  = flag.Int("q", 1000, "Number of range queries")
)

type engine interface {
	Enqueue(protocol.Slot) error
	FindRange(start, end uint32) ([]protocol.Slot, error)
	Recover() (ringdb.RecoveryReport, error)
	Rebuild() (ringdb.RecoveryReport, error)
	Close() error
}

func main() {
	flag.Parse()

	if *totalOps <= 0 || *capacity <= 0 || *queries < 0 {
		log.Fatal("Invalid -n, -capacity or -q values")
	}

	e, cleanup, err := openEngine()
	if err != nil {
		log.Fatalf("Failed to open engine: %v", err)
	}
	defer cleanup()
	defer e.Close()

	fmt.Printf("--- sensorlog Benchmark ---\n")
	fmt.Printf("Backend:     %s\n", *backend)
	fmt.Printf("Capacity:    %d slots\n", *capacity)
	fmt.Printf("Appends:     %d\n", *totalOps)
	fmt.Printf("Queries:     %d\n", *queries)
	fmt.Println("--------------------------------------------------")

	r := mrand.New(mrand.NewSource(time.Now().UnixNano()))
	base := uint32(time.Now().Unix())

	start := time.Now()
	failed := 0
	for i := 0; i < *totalOps; i++ {
		s := protocol.NewSlot(base+uint32(i), r.Float64()*25-12.5, r.Float64()*25)
		if err := e.Enqueue(s); err != nil {
			failed++
		}
	}
	printStats("APPEND", time.Since(start), *totalOps-failed, failed)

	start = time.Now()
	failed = 0
	for i := 0; i < *queries; i++ {
		from := base + uint32(r.Intn(*totalOps))
		if _, err := e.FindRange(from, from+uint32(*capacity/4)); err != nil {
			failed++
		}
	}
	printStats("FIND ", time.Since(start), *queries-failed, failed)

	for _, phase := range []struct {
		name string
		fn   func() (ringdb.RecoveryReport, error)
	}{{"RECOVER", e.Recover}, {"REBUILD", e.Rebuild}} {
		rep, err := phase.fn()
		if err != nil {
			fmt.Printf("Phase: %s failed: %v\n", phase.name, err)
			continue
		}
		fmt.Printf("Phase: %s\n", phase.name)
		fmt.Printf("  Mode:        %s\n", rep.Mode)
		fmt.Printf("  Scanned:     %d\n", rep.Scanned)
		fmt.Printf("  Recovered:   %d\n", rep.Recovered)
		fmt.Printf("  Duration:    %v\n", rep.Duration.Round(time.Microsecond))
		fmt.Println("--------------------------------------------------")
	}
}

func openEngine() (engine, func(), error) {
	opts := ringdb.Options{Capacity: *capacity}
	switch *backend {
	case "mem":
		e, err := ringdb.Open(region.NewMem(0), region.NewMem(0), opts)
		return e, func() {}, err
	case "file":
		path := *dir
		cleanup := func() {}
		if path == "" {
			tmp, err := os.MkdirTemp("", "sensorlog-bench-*")
			if err != nil {
				return nil, nil, err
			}
			path = tmp
			cleanup = func() { os.RemoveAll(tmp) }
		}
		s, err := store.OpenDir(path, opts)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return s, cleanup, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", *backend)
}

func printStats(phase string, elapsed time.Duration, success, failed int) {
	ops := float64(success) / elapsed.Seconds()
	avg := float64(0)
	if success > 0 {
		avg = float64(elapsed.Microseconds()) / float64(success)
	}
	fmt.Printf("Phase: %s\n", phase)
	fmt.Printf("  Duration:    %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Successful:  %d\n", success)
	fmt.Printf("  Failed:      %d\n", failed)
	fmt.Printf("  Throughput:  %.2f ops/s\n", ops)
	fmt.Printf("  Avg Latency: %.1f us\n", avg)
	fmt.Println("--------------------------------------------------")
}
