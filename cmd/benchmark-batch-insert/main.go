package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dd0wney/keelkv"
	"github.com/dd0wney/keelkv/pkg/config"
)

func main() {
	count := flag.Int("writes", 100000, "Number of key/value writes")
	batchSize := flag.Int("batch", 200, "Batch size for the batched run")
	workers := flag.Int("workers", 8, "Concurrent writer goroutines for the per-write run")
	flag.Parse()

	fmt.Printf("keelkv batch vs per-write insert benchmark\n")
	fmt.Printf("writes=%d batch=%d workers=%d\n\n", *count, *batchSize, *workers)

	os.RemoveAll("./data/benchmark-perwrite")
	os.RemoveAll("./data/benchmark-batched")

	perWrite := benchmarkPerWrite("./data/benchmark-perwrite", *count, *workers)
	fmt.Printf("per-write: %v (%.0f writes/sec)\n", perWrite, float64(*count)/perWrite.Seconds())

	batched := benchmarkBatched("./data/benchmark-batched", *count, *batchSize)
	fmt.Printf("batched:   %v (%.0f writes/sec)\n", batched, float64(*count)/batched.Seconds())

	speedup := float64(perWrite) / float64(batched)
	fmt.Printf("\nspeedup: %.2fx\n", speedup)
}

func benchmarkPerWrite(dir string, count, workers int) time.Duration {
	ks, err := keelkv.Open(config.DefaultConfig(dir))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	if _, err := ks.OpenPartition("bench", config.DefaultPartitionOptions()); err != nil {
		log.Fatalf("open partition: %v", err)
	}

	start := time.Now()
	perWorker := count / workers
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			lo := id * perWorker
			for i := lo; i < lo+perWorker; i++ {
				key := []byte(fmt.Sprintf("key-%08d", i))
				value := []byte(fmt.Sprintf("value-%08d", i))
				if err := ks.Insert("bench", key, value); err != nil {
					log.Printf("insert %d: %v", i, err)
				}
			}
		}(w)
	}
	wg.Wait()
	duration := time.Since(start)

	if err := ks.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
	return duration
}

func benchmarkBatched(dir string, count, batchSize int) time.Duration {
	ks, err := keelkv.Open(config.DefaultConfig(dir))
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	if _, err := ks.OpenPartition("bench", config.DefaultPartitionOptions()); err != nil {
		log.Fatalf("open partition: %v", err)
	}

	start := time.Now()
	ops := make([]keelkv.BatchOp, 0, batchSize)
	for i := 0; i < count; i++ {
		ops = append(ops, keelkv.BatchOp{
			Partition: "bench",
			Key:       []byte(fmt.Sprintf("key-%08d", i)),
			Value:     []byte(fmt.Sprintf("value-%08d", i)),
			Kind:      keelkv.Value,
		})
		if len(ops) == batchSize {
			if err := ks.Batch(ops); err != nil {
				log.Printf("batch: %v", err)
			}
			ops = ops[:0]
		}
	}
	if len(ops) > 0 {
		if err := ks.Batch(ops); err != nil {
			log.Printf("final batch: %v", err)
		}
	}
	duration := time.Since(start)

	if err := ks.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}
	return duration
}
