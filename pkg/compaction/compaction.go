// Package compaction decides when a partition's on-disk segments need
// merging and drives the single background worker that performs it.
// The merge itself is an opaque operation supplied by the caller; this
// package owns only the decision (Strategy) and the scheduling
// (Manager).
package compaction

import "os"

// SegmentInfo is the minimal description of one on-disk segment a
// strategy needs to decide whether a level should be compacted.
type SegmentInfo struct {
	Path string
	Size int64
}

// Plan names the segments a strategy wants merged and where the
// result should land.
type Plan struct {
	Level       int
	Segments    []SegmentInfo
	OutputLevel int
}

// Strategy selects a compaction plan from the current per-level
// segment layout, or nil if nothing needs attention.
type Strategy interface {
	SelectCompaction(levels [][]SegmentInfo) *Plan
}

// LeveledStrategy is leveled compaction: L0 holds overlapping segments
// produced directly by flushes; L1 and above are non-overlapping and
// grow by a fixed size ratio per level.
type LeveledStrategy struct {
	Level0FileLimit int
	LevelSizeRatio  float64
	MaxLevels       int
}

// DefaultLeveledStrategy returns the stock tuning: compact L0 once it
// holds 4 segments, 10x size growth per level, 7 levels total.
func DefaultLeveledStrategy() *LeveledStrategy {
	return &LeveledStrategy{
		Level0FileLimit: 4,
		LevelSizeRatio:  10.0,
		MaxLevels:       7,
	}
}

// SelectCompaction checks L0 first (file-count triggered), then each
// higher level in turn (size-ratio triggered).
func (s *LeveledStrategy) SelectCompaction(levels [][]SegmentInfo) *Plan {
	if len(levels) > 0 && len(levels[0]) >= s.Level0FileLimit {
		return &Plan{Level: 0, Segments: levels[0], OutputLevel: 1}
	}

	for level := 1; level < len(levels)-1; level++ {
		cur := levelSize(levels[level])
		next := levelSize(levels[level+1])
		if float64(cur) > s.LevelSizeRatio*float64(next) {
			return &Plan{Level: level, Segments: levels[level], OutputLevel: level + 1}
		}
	}
	return nil
}

func levelSize(segments []SegmentInfo) int64 {
	var total int64
	for _, s := range segments {
		if s.Size > 0 {
			total += s.Size
			continue
		}
		if info, err := os.Stat(s.Path); err == nil {
			total += info.Size()
		}
	}
	return total
}
