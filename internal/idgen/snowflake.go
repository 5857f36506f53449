// Package idgen generates sortable 64-bit identifiers for executions,
// events, and queue entries.
//
// Layout, high bit to low bit:
//
//	1 unused sign bit | 41 bits milliseconds since epoch | 10 bits node ID | 12 bits sequence
//
// Epoch is 2024-01-01T00:00:00Z. The 41-bit timestamp field overflows in
// roughly 69 years from epoch, the 10-bit node field allows 1024 concurrent
// generators, and the 12-bit sequence field allows 4096 IDs per generator
// per millisecond before the generator blocks and waits for the next tick.
package idgen

import (
	"fmt"
	"sync"
	"time"
)

const (
	epochMillis = 1704067200000 // 2024-01-01T00:00:00Z

	timestampBits = 41
	nodeBits      = 10
	sequenceBits  = 12

	maxNode     = (1 << nodeBits) - 1
	maxSequence = (1 << sequenceBits) - 1

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

// Generator produces monotonically increasing IDs for a single node.
// The zero value is not usable; construct with NewGenerator.
type Generator struct {
	mu       sync.Mutex
	nodeID   int64
	lastTime int64
	sequence int64
}

// NewGenerator returns a Generator for the given node ID, which must fit in
// 10 bits (0-1023). Node IDs distinguish concurrent generators, typically
// one per server replica, so IDs stay unique across a fleet.
func NewGenerator(nodeID int64) (*Generator, error) {
	if nodeID < 0 || nodeID > maxNode {
		return nil, fmt.Errorf("idgen: node id %d out of range [0, %d]", nodeID, maxNode)
	}
	return &Generator{nodeID: nodeID}, nil
}

// Next returns the next ID for this generator. It blocks (briefly, via a
// spin-wait) only in the rare case a single generator exhausts its 4096
// per-millisecond sequence budget.
func (g *Generator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := currentMillis()
	if now < g.lastTime {
		// Clock moved backwards (NTP step). Reuse the last timestamp so IDs
		// stay monotonic rather than risk a collision with a just-issued ID.
		now = g.lastTime
	}

	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & maxSequence
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = currentMillis()
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now

	return ((now - epochMillis) << timestampShift) | (g.nodeID << nodeShift) | g.sequence
}

func currentMillis() int64 {
	return time.Now().UnixMilli()
}

// Timestamp extracts the creation time encoded in an ID produced by this
// package's layout.
func Timestamp(id int64) time.Time {
	ms := (id >> timestampShift) + epochMillis
	return time.UnixMilli(ms).UTC()
}

// Node extracts the node ID encoded in an ID.
func Node(id int64) int64 {
	return (id >> nodeShift) & maxNode
}
