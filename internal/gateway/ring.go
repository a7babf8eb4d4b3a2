package gateway

import "sync"

// ring is the bounded terminal backlog for one session. When full, the
// oldest chunk is evicted; late joiners replay whatever is left.
type ring struct {
	mu     sync.Mutex
	chunks [][]byte
	start  int
	count  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 256
	}
	return &ring{chunks: make([][]byte, capacity)}
}

func (r *ring) Append(chunk []byte) {
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == len(r.chunks) {
		// full: overwrite the oldest
		r.chunks[r.start] = cp
		r.start = (r.start + 1) % len(r.chunks)
		return
	}
	r.chunks[(r.start+r.count)%len(r.chunks)] = cp
	r.count++
}

// Snapshot returns the retained chunks, oldest first.
func (r *ring) Snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.chunks[(r.start+i)%len(r.chunks)])
	}
	return out
}

func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
