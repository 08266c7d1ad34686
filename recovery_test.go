package keelkv

import (
	"fmt"
	"testing"

	"github.com/dd0wney/keelkv/pkg/config"
)

// TestRotationAndRecovery covers scenario S2: writes spanning a
// rotation must survive repeated close/reopen cycles with a stable
// key count each time.
func TestRotationAndRecovery(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig(dir)
	partitions := []string{"d1", "d2", "d3"}

	ks, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, name := range partitions {
		mustOpenPartition(t, ks, name)
	}

	insertRange := func(lo, hi int) {
		for _, name := range partitions {
			for i := lo; i < hi; i++ {
				key := []byte(fmt.Sprintf("k-%06d", i))
				if err := ks.Insert(name, key, []byte(fmt.Sprintf("v-%d", i))); err != nil {
					t.Fatalf("Insert(%s, %d): %v", name, i, err)
				}
			}
		}
	}

	insertRange(0, 100)
	if err := ks.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	for _, name := range partitions {
		p, _ := ks.getPartition(name)
		if got := p.Len(); got != 100 {
			t.Fatalf("partition %s: expected len 100, got %d", name, got)
		}
	}

	d1, _ := ks.getPartition("d1")
	if err := ks.rotatePartition(d1); err != nil {
		t.Fatalf("rotate d1: %v", err)
	}

	insertRange(100, 200)
	if err := ks.Persist(); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if err := ks.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	const reopenRounds = 5
	for round := 0; round < reopenRounds; round++ {
		reopened, err := Open(cfg)
		if err != nil {
			t.Fatalf("round %d: reopen: %v", round, err)
		}

		for _, name := range partitions {
			p, err := reopened.getPartition(name)
			if err != nil {
				t.Fatalf("round %d: partition %s missing: %v", round, name, err)
			}
			if got := p.Len(); got != 200 {
				t.Fatalf("round %d: partition %s: expected len 200, got %d", round, name, got)
			}

			forward := p.Iter(reopened.Instant())
			backward := p.IterRev(reopened.Instant())
			if len(forward) != len(backward) {
				t.Fatalf("round %d: partition %s: forward/backward count mismatch: %d vs %d", round, name, len(forward), len(backward))
			}
		}

		if err := reopened.Close(); err != nil {
			t.Fatalf("round %d: close: %v", round, err)
		}
	}
}
