package keelkv

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/dd0wney/keelkv/pkg/config"
)

// op is one generated insert or remove against a small fixed key
// alphabet, used to drive both the keyspace under test and a plain-map
// oracle built independently of keelkv's own types.
type op struct {
	keyIdx int
	remove bool
	value  string
}

var propertyKeys = []string{"alpha", "bravo", "charlie", "delta", "echo"}

func genOp() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, len(propertyKeys)-1),
		gen.Bool(),
		gen.AlphaString(),
	).Map(func(vs []interface{}) op {
		return op{keyIdx: vs[0].(int), remove: vs[1].(bool), value: vs[2].(string)}
	})
}

// TestPropertyGetRespectsLSNBound covers invariant 2: get(K, L) must
// return the newest Value-kind record with LSN <= L, or nothing if
// the newest such record is a tombstone. Checked by replaying a
// sequence of random inserts/removes and, after every single
// operation, comparing the partition's view against an independent
// oracle map evaluated at the instant captured right before that
// operation landed.
func TestPropertyGetRespectsLSNBound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("get honors the maxLSN bound at every step", prop.ForAll(
		func(ops []op) bool {
			dir := t.TempDir()
			ks, err := Open(config.DefaultConfig(dir))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer ks.Close()

			p := mustOpenPartition(t, ks, "p")

			oracle := make(map[string]struct {
				value string
				kind  Kind
			})

			for _, o := range ops {
				key := propertyKeys[o.keyIdx]
				beforeInstant := ks.Instant()
				beforeEntry, beforeOK := oracle[key]

				if v, ok := p.Get([]byte(key), beforeInstant); ok != (beforeOK && beforeEntry.kind == Value) {
					return false
				} else if ok && string(v) != beforeEntry.value {
					return false
				}

				if o.remove {
					if err := ks.Remove("p", []byte(key)); err != nil {
						t.Fatalf("Remove: %v", err)
					}
					oracle[key] = struct {
						value string
						kind  Kind
					}{kind: Tombstone}
				} else {
					if err := ks.Insert("p", []byte(key), []byte(o.value)); err != nil {
						t.Fatalf("Insert: %v", err)
					}
					oracle[key] = struct {
						value string
						kind  Kind
					}{value: o.value, kind: Value}
				}
			}

			finalInstant := ks.Instant()
			for key, want := range oracle {
				v, ok := p.Get([]byte(key), finalInstant)
				if want.kind == Tombstone {
					if ok {
						return false
					}
					continue
				}
				if !ok || string(v) != want.value {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, genOp()),
	))

	properties.TestingRun(t)
}

// TestPropertyLenMatchesDistinctLiveKeys covers invariant 3: after an
// arbitrary interleaving of inserts and rotations, len(P) equals the
// number of distinct keys whose newest record is a Value.
func TestPropertyLenMatchesDistinctLiveKeys(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("Len matches the oracle's live key count after rotations", prop.ForAll(
		func(ops []op, rotateAfter []int) bool {
			dir := t.TempDir()
			ks, err := Open(config.DefaultConfig(dir))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer ks.Close()

			p := mustOpenPartition(t, ks, "p")

			rotatePoints := make(map[int]bool, len(rotateAfter))
			for _, r := range rotateAfter {
				rotatePoints[r%(len(ops)+1)] = true
			}

			live := make(map[string]bool)
			for i, o := range ops {
				key := propertyKeys[o.keyIdx]
				if o.remove {
					delete(live, key)
					if err := ks.Remove("p", []byte(key)); err != nil {
						t.Fatalf("Remove: %v", err)
					}
				} else {
					live[key] = true
					if err := ks.Insert("p", []byte(key), []byte(o.value)); err != nil {
						t.Fatalf("Insert: %v", err)
					}
				}
				if rotatePoints[i+1] {
					if err := ks.rotatePartition(p); err != nil {
						t.Fatalf("rotate: %v", err)
					}
				}
			}

			return p.Len() == len(live)
		},
		gen.SliceOfN(30, genOp()),
		gen.SliceOfN(5, gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}

// TestPropertyIterReverseMatchesForward covers invariant 6: iter()
// forward yields the same set as iter().rev() reversed.
func TestPropertyIterReverseMatchesForward(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("IterRev is Iter reversed", prop.ForAll(
		func(ops []op) bool {
			dir := t.TempDir()
			ks, err := Open(config.DefaultConfig(dir))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer ks.Close()

			p := mustOpenPartition(t, ks, "p")

			for i, o := range ops {
				key := fmt.Sprintf("%s-%d", propertyKeys[o.keyIdx], i%3)
				if o.remove {
					if err := ks.Remove("p", []byte(key)); err != nil {
						t.Fatalf("Remove: %v", err)
					}
				} else if err := ks.Insert("p", []byte(key), []byte(o.value)); err != nil {
					t.Fatalf("Insert: %v", err)
				}
			}

			instant := ks.Instant()
			forward := p.Iter(instant)
			backward := p.IterRev(instant)
			if len(forward) != len(backward) {
				return false
			}
			for i := range forward {
				if string(forward[i].Key) != string(backward[len(backward)-1-i].Key) {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(30, genOp()),
	))

	properties.TestingRun(t)
}
