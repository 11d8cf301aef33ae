package ids

import (
	"strconv"
	"sync"
	"time"
)

// generator is a snowflake id source: 41 bits of milliseconds since epochMS,
// 10 bits of node id and a 12 bit per-millisecond sequence.
type generator struct {
	mu       sync.Mutex
	epochMS  int64
	nodeID   int64 // 0~1023
	seq      int64 // 0~4095
	lastTSMS int64
	now      func() int64
}

var (
	defaultGen *generator
	once       sync.Once
)

func newGenerator(nodeID int64) *generator {
	return &generator{
		epochMS: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(),
		nodeID:  nodeID,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

func initDefault() {
	once.Do(func() {
		defaultGen = newGenerator(1)
	})
}

// Generate returns the next operation id of the process-wide generator.
func Generate() int64 {
	initDefault()
	return defaultGen.next()
}

func GenerateString() string {
	return strconv.FormatInt(Generate(), 10)
}

// SetNodeID selects the node bits (0~1023); out of range falls back to 1.
func SetNodeID(nodeID int64) {
	initDefault()
	if nodeID < 0 || nodeID > 1023 {
		nodeID = 1
	}
	defaultGen.mu.Lock()
	defaultGen.nodeID = nodeID
	defaultGen.mu.Unlock()
}

func (g *generator) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	for {
		now := g.now()
		if now < g.lastTSMS {
			// clock went backwards
			time.Sleep(time.Duration(g.lastTSMS-now) * time.Millisecond)
			continue
		}
		if now == g.lastTSMS {
			g.seq = (g.seq + 1) & 0xFFF
			if g.seq == 0 {
				for now <= g.lastTSMS {
					now = g.now()
				}
			}
		} else {
			g.seq = 0
		}
		g.lastTSMS = now

		ts := (now - g.epochMS) & ((1 << 41) - 1)
		return (ts << 22) | (g.nodeID << 12) | g.seq
	}
}
