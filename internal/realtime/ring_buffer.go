package realtime

import "sync"

// RingBuffer is a fixed-capacity circular buffer of encoded messages.
// It lets observers that connect late catch up on recent updates.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      [][]byte
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([][]byte, capacity),
		capacity: capacity,
	}
}

// Write adds a message to the ring buffer.
func (rb *RingBuffer) Write(msg []byte) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = msg
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all messages in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([][]byte, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([][]byte, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}

// Last returns the most recent message, if any.
func (rb *RingBuffer) Last() ([]byte, bool) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if rb.pos == 0 && !rb.full {
		return nil, false
	}
	i := (rb.pos - 1 + rb.capacity) % rb.capacity
	return rb.buf[i], true
}
