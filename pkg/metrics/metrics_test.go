package metrics

import (
	"testing"
	"time"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.Gatherer() == nil {
		t.Fatal("expected a non-nil gatherer")
	}
}

func TestRecordOperation(t *testing.T) {
	r := NewRegistry()
	r.RecordOperation("insert", "ok", 5*time.Millisecond, 42)

	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, fam := range families {
		if fam.GetName() == "keelkv_operations_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected keelkv_operations_total to be registered")
	}
}

func TestRecordRotationAndFlush(t *testing.T) {
	r := NewRegistry()
	r.RecordRotation("p1", "overflow")
	r.RecordFlush("p1", 10*time.Millisecond)
	r.SetFlushQueueDepth("p1", 3)
	r.SetL0SegmentCount("p1", 2)
	r.RecordCompactionNotify("p1")

	if _, err := r.Gatherer().Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestStallGauge(t *testing.T) {
	r := NewRegistry()
	r.SetStallActive(true)
	r.RecordStall(250 * time.Millisecond)
	r.SetStallActive(false)
}
