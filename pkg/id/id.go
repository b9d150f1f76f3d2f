package id

import (
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"
)

// ID is a 128-bit sortable identifier: [8 bytes ms timestamp][8 bytes sequence].
type ID [16]byte

// String returns the hex encoding.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Bytes returns a copy of the raw 16 bytes.
func (i ID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, i[:])
	return b
}

// Time returns the embedded creation time.
func (i ID) Time() time.Time {
	ms := int64(binary.BigEndian.Uint64(i[:8]))
	return time.UnixMilli(ms)
}

// Compare returns -1, 0 or 1 ordering ids lexicographically.
func (i ID) Compare(other ID) int {
	for idx := 0; idx < 16; idx++ {
		switch {
		case i[idx] < other[idx]:
			return -1
		case i[idx] > other[idx]:
			return 1
		}
	}
	return 0
}

// NowMs returns the current time in ms; replaceable in tests.
var NowMs = func() int64 { return time.Now().UnixMilli() }

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator creates a Generator.
func NewGenerator() *Generator { return &Generator{} }

// Next returns a new ID. If the clock goes backwards the previous
// millisecond is reused and the sequence keeps the ordering.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := NowMs()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms == g.lastMs {
		g.seq++
	} else {
		g.lastMs = ms
		g.seq = 0
	}

	var out ID
	binary.BigEndian.PutUint64(out[:8], uint64(ms))
	binary.BigEndian.PutUint64(out[8:], g.seq)
	return out
}
