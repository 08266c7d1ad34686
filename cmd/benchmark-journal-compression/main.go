package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dd0wney/keelkv/pkg/journal"
)

func main() {
	numWrites := flag.Int("writes", 20000, "Number of journal record writes")
	valueSize := flag.Int("value-size", 256, "Size in bytes of each record's value")
	flag.Parse()

	fmt.Printf("journal compression benchmark\n")
	fmt.Printf("writes=%d value-size=%d\n\n", *numWrites, *valueSize)

	fmt.Printf("uncompressed:\n")
	uncompressed := run("./data/bench-journal-plain", journal.NoCompression, *numWrites, *valueSize)
	report(uncompressed)

	fmt.Printf("\nsnappy:\n")
	compressed := run("./data/bench-journal-snappy", journal.Snappy, *numWrites, *valueSize)
	report(compressed)

	fmt.Printf("\nspace saved: %.1f%%\n", 100*(1-float64(compressed.bytesOnDisk)/float64(uncompressed.bytesOnDisk)))
}

type stats struct {
	duration    time.Duration
	bytesOnDisk int64
	writes      int
}

func report(s stats) {
	fmt.Printf("  duration:    %v\n", s.duration)
	fmt.Printf("  write rate:  %.0f ops/sec\n", float64(s.writes)/s.duration.Seconds())
	fmt.Printf("  disk bytes:  %d (%.2f MB)\n", s.bytesOnDisk, float64(s.bytesOnDisk)/(1024*1024))
}

func run(dir string, compression journal.Compression, numWrites, valueSize int) stats {
	os.RemoveAll(dir)

	j, err := journal.Open(dir, journal.Options{
		ShardCount:  4,
		Compression: compression,
		Fsync:       journal.FsyncPerWrite,
	})
	if err != nil {
		log.Fatalf("open: %v", err)
	}

	value := make([]byte, valueSize)
	for i := range value {
		// repetitive content compresses well; matches the kind of
		// payload a real edge/attribute value tends to have.
		value[i] = byte('a' + i%4)
	}

	start := time.Now()
	for i := 0; i < numWrites; i++ {
		rec := &journal.Record{
			Partition: "bench",
			Key:       []byte(fmt.Sprintf("key-%08d", i)),
			Value:     value,
			Kind:      journal.Value,
			LSN:       uint64(i),
		}
		if err := j.Append(rec); err != nil {
			log.Fatalf("append %d: %v", i, err)
		}
	}
	duration := time.Since(start)

	bytesOnDisk, err := j.DiskSpaceUsed()
	if err != nil {
		log.Fatalf("disk space used: %v", err)
	}

	if err := j.Close(); err != nil {
		log.Fatalf("close: %v", err)
	}

	return stats{duration: duration, bytesOnDisk: bytesOnDisk, writes: numWrites}
}
