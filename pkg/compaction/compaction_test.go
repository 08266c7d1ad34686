package compaction

import (
	"sync"
	"testing"
	"time"
)

func TestLeveledStrategy_L0Triggered(t *testing.T) {
	s := &LeveledStrategy{Level0FileLimit: 2, LevelSizeRatio: 10, MaxLevels: 7}
	levels := [][]SegmentInfo{
		{{Path: "a", Size: 10}, {Path: "b", Size: 10}},
	}
	plan := s.SelectCompaction(levels)
	if plan == nil || plan.Level != 0 || plan.OutputLevel != 1 {
		t.Fatalf("expected L0 compaction plan, got %+v", plan)
	}
}

func TestLeveledStrategy_SizeRatioTriggered(t *testing.T) {
	s := &LeveledStrategy{Level0FileLimit: 100, LevelSizeRatio: 2, MaxLevels: 7}
	levels := [][]SegmentInfo{
		{},
		{{Path: "l1", Size: 100}},
		{{Path: "l2", Size: 10}},
	}
	plan := s.SelectCompaction(levels)
	if plan == nil || plan.Level != 1 || plan.OutputLevel != 2 {
		t.Fatalf("expected level 1 compaction plan, got %+v", plan)
	}
}

func TestLeveledStrategy_NoCompactionNeeded(t *testing.T) {
	s := DefaultLeveledStrategy()
	levels := [][]SegmentInfo{{{Path: "a", Size: 10}}}
	if plan := s.SelectCompaction(levels); plan != nil {
		t.Fatalf("expected no compaction, got %+v", plan)
	}
}

func TestManager_NotifyDedupesAndRunsWorker(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 1)

	m := NewManager(func(partition string) error {
		mu.Lock()
		seen = append(seen, partition)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	m.Start()
	defer m.Stop()

	m.Notify("p1")
	m.Notify("p1") // coalesced, should not run twice before the first is drained

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for compaction worker to run")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("expected at least one invocation")
	}
	if seen[0] != "p1" {
		t.Fatalf("expected first invocation for p1, got %s", seen[0])
	}
}
