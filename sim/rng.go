package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// StreamOrders is the RNG stream for order generation draws
	// (inter-arrival intervals, quantity, product, priority).
	StreamOrders = "orders"

	// StreamFaults is the RNG stream for fault injection draws
	// (intervals, target device, recovery duration).
	StreamFaults = "faults"
)

// StreamStation returns the RNG stream name for a station's
// processing-time draws. Keying per station keeps results stable when
// the relative order of draws across stations changes.
func StreamStation(id string) string {
	return fmt.Sprintf("station_%s", id)
}

// PartitionedRNG provides deterministic, isolated RNG instances per stream.
//
// Derivation formula: masterSeed XOR fnv1a64(streamName).
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine,
// which holds by construction since all draws happen inside event execution.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:     key,
		streams: make(map[string]*rand.Rand),
	}
}

// ForStream returns a deterministically-seeded RNG for the named stream.
// The same stream name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForStream(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewSource(int64(p.key) ^ fnv1a64(name)))
	p.streams[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
