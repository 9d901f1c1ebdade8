package orchestrator

import "sync"

// Recorder is an in-memory, append-only log of finished runs. With a
// positive capacity it keeps only the newest capacity records.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	entries  []ExecutionRecord
	head     int // oldest entry once the buffer is full
}

func NewRecorder(capacity int) *Recorder {
	if capacity < 0 {
		capacity = 0
	}
	return &Recorder{capacity: capacity}
}

func (r *Recorder) Record(rec ExecutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity == 0 || len(r.entries) < r.capacity {
		r.entries = append(r.entries, rec)
		return
	}
	r.entries[r.head] = rec
	r.head = (r.head + 1) % r.capacity
}

// History returns up to limit records, newest first. limit <= 0 means
// all retained records.
func (r *Recorder) History(limit int) []ExecutionRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ExecutionRecord, limit)
	newest := (r.head + n - 1) % max(n, 1)
	for i := range limit {
		out[i] = r.entries[(newest-i+n)%n]
	}
	return out
}

func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
