package docstore

import (
	"sync"
	"time"
)

var (
	seqMu   sync.Mutex
	lastSeq int64
)

// nextSeq returns a strictly increasing insertion sequence based on the wall
// clock in microseconds, which stays exact when round-tripped through JSON
// numbers.
func nextSeq() int64 {
	seqMu.Lock()
	defer seqMu.Unlock()
	now := time.Now().UnixMicro()
	if now <= lastSeq {
		now = lastSeq + 1
	}
	lastSeq = now
	return now
}
