package audio

import "sync"

// Ring keeps the most recent bytes written to it. It backs the analysis tap: the
// transport writes time-domain samples as they arrive and the VAD reads the
// latest frame on each tick.
type Ring struct {
	mu       sync.Mutex
	buf      []byte
	writePos int
	filled   int
}

// NewRing allocates a ring holding capacity bytes.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]byte, capacity)}
}

func (r *Ring) Write(p []byte) {
	r.mu.Lock()
	for _, b := range p {
		r.buf[r.writePos] = b
		r.writePos = (r.writePos + 1) % len(r.buf)
	}
	r.filled += len(p)
	if r.filled > len(r.buf) {
		r.filled = len(r.buf)
	}
	r.mu.Unlock()
}

// ReadLast copies the newest len(dst) bytes into dst, oldest first. When fewer
// bytes have been written, the head of dst is padded with pad.
func (r *Ring) ReadLast(dst []byte, pad byte) {
	r.mu.Lock()
	n := len(dst)
	if n > len(r.buf) {
		n = len(r.buf)
	}
	have := n
	if have > r.filled {
		have = r.filled
	}
	lead := len(dst) - have
	for i := 0; i < lead; i++ {
		dst[i] = pad
	}
	start := (r.writePos - have + len(r.buf)) % len(r.buf)
	for i := 0; i < have; i++ {
		dst[lead+i] = r.buf[(start+i)%len(r.buf)]
	}
	r.mu.Unlock()
}

// Reset forgets everything written so far.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.writePos = 0
	r.filled = 0
	r.mu.Unlock()
}
