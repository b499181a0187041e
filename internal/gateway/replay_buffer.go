package gateway

import "sync"

type replayEntry struct {
	Seq     int64
	Channel string
	Data    []byte // envelope JSON
}

// ReplayBuffer is a fixed-size ring of recent envelopes, used to backfill
// clients that reconnect with the last sequence number they saw.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	cap  int
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a buffer holding capacity envelopes.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = replayLength
	}
	return &ReplayBuffer{
		buf: make([]replayEntry, capacity),
		cap: capacity,
	}
}

// Push appends an envelope, overwriting the oldest when full. Sequence
// numbers must be pushed in increasing order.
func (rb *ReplayBuffer) Push(seq int64, channel string, data []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = replayEntry{Seq: seq, Channel: channel, Data: data}
	rb.pos = (rb.pos + 1) % rb.cap
	if rb.pos == 0 {
		rb.full = true
	}
}

// Since returns the entries newer than seq, oldest first. ok is false
// when entries after seq have already been overwritten, so the caller
// knows the replay is incomplete.
func (rb *ReplayBuffer) Since(seq int64) (entries []replayEntry, ok bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.len()
	if n == 0 {
		return nil, true
	}
	oldest := rb.buf[rb.index(0)].Seq
	ok = seq >= oldest-1
	for i := 0; i < n; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > seq {
			entries = append(entries, e)
		}
	}
	return entries, ok
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return rb.cap
	}
	return rb.pos
}

// index maps a logical position (0 = oldest) to the ring slot.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % rb.cap
	}
	return logical
}
