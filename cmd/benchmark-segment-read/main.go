package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/dd0wney/keelkv/pkg/segment"
)

func main() {
	numEntries := flag.Int("entries", 50000, "Number of entries in the segment")
	numReads := flag.Int("reads", 5000, "Number of point-lookup reads")
	valueSize := flag.Int("value-size", 256, "Size of values in bytes")
	flag.Parse()

	fmt.Printf("segment read-latency benchmark\n")
	fmt.Printf("entries=%d reads=%d value-size=%d\n\n", *numEntries, *numReads, *valueSize)

	entries := generateEntries(*numEntries, *valueSize)

	os.RemoveAll("./data/bench-segment")
	os.MkdirAll("./data/bench-segment", 0o755)
	path := "./data/bench-segment/bench.seg"

	writeStart := time.Now()
	if _, err := segment.Write(path, entries); err != nil {
		log.Fatalf("write: %v", err)
	}
	fmt.Printf("write:  %v (%d entries)\n", time.Since(writeStart), len(entries))

	fileInfo, err := os.Stat(path)
	if err != nil {
		log.Fatalf("stat: %v", err)
	}
	fmt.Printf("file size: %.2f MB\n\n", float64(fileInfo.Size())/(1024*1024))

	r, err := segment.Open(path)
	if err != nil {
		log.Fatalf("open: %v", err)
	}
	defer r.Close()

	hits := 0
	readStart := time.Now()
	for i := 0; i < *numReads; i++ {
		key := entries[rand.Intn(len(entries))].Key
		if _, ok := r.Get(key, ^uint64(0)); ok {
			hits++
		}
	}
	readDuration := time.Since(readStart)

	fmt.Printf("reads:       %d (hits=%d)\n", *numReads, hits)
	fmt.Printf("duration:    %v\n", readDuration)
	fmt.Printf("avg latency: %.2fus\n", float64(readDuration.Microseconds())/float64(*numReads))
	fmt.Printf("throughput:  %.0f reads/sec\n", float64(*numReads)/readDuration.Seconds())
}

func generateEntries(count, valueSize int) []segment.Entry {
	entries := make([]segment.Entry, count)
	value := make([]byte, valueSize)
	for i := range value {
		value[i] = byte('a' + i%26)
	}
	for i := 0; i < count; i++ {
		entries[i] = segment.Entry{
			Key:   []byte(fmt.Sprintf("key-%08d", i)),
			Value: value,
			Kind:  segment.Value,
			LSN:   uint64(i),
		}
	}
	return entries
}
