// Package config holds the validated, user-facing configuration types
// for a keyspace and its partitions, plus the keyspace.meta file that
// records format revision and instance identity across reopens.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// FsyncPolicy names one of the journal durability levels accepted in
// configuration.
type FsyncPolicy string

const (
	FsyncPerWrite FsyncPolicy = "per-write"
	FsyncInterval FsyncPolicy = "interval"
	FsyncNone     FsyncPolicy = "none"
)

// CompactionStrategyName names one of the closed set of compaction
// strategies a partition may request.
type CompactionStrategyName string

const (
	CompactionLeveled CompactionStrategyName = "leveled"
	CompactionTiered  CompactionStrategyName = "tiered"
)

// Config configures a keyspace as a whole.
type Config struct {
	Path                      string      `validate:"required"`
	MaxJournalingSizeBytes    int64       `validate:"omitempty,min=1"`
	JournalShardCount         int         `validate:"omitempty,min=1,max=64"`
	FsyncPolicy               FsyncPolicy `validate:"omitempty,oneof=per-write interval none"`
	BlockCacheCapacity        int         `validate:"omitempty,min=0"`
	DescriptorTableCapacity   int         `validate:"omitempty,min=0"`
}

// DefaultConfig returns keyspace defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:                    path,
		MaxJournalingSizeBytes:  64 << 20,
		JournalShardCount:       4,
		FsyncPolicy:             FsyncPerWrite,
		BlockCacheCapacity:      4096,
		DescriptorTableCapacity: 256,
	}
}

// Validate checks Config against its struct tags.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// PartitionOptions configures one partition at creation time.
type PartitionOptions struct {
	MaxMemtableSize    int64                  `validate:"required,min=1"`
	BlockSize          int                    `validate:"omitempty,min=1"`
	LevelCount         int                    `validate:"omitempty,min=1,max=20"`
	LevelRatio         float64                `validate:"omitempty,min=1"`
	CompactionStrategy CompactionStrategyName `validate:"omitempty,oneof=leveled tiered"`
}

// DefaultPartitionOptions returns the stock per-partition tuning.
func DefaultPartitionOptions() PartitionOptions {
	return PartitionOptions{
		MaxMemtableSize:    4 << 20,
		BlockSize:          4096,
		LevelCount:         7,
		LevelRatio:         10.0,
		CompactionStrategy: CompactionLeveled,
	}
}

// Validate checks PartitionOptions against its struct tags.
func (p PartitionOptions) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("partition options: %w", err)
	}
	return nil
}
