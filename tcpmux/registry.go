package tcpmux

import "sync"

// registry maps stream id -> *Stream with O(1) lookup, insert, and delete
// (tcpmux.c's uthash-based all_stream, replaced by a native Go map per the
// design notes). The control stream (id 1) gets no special treatment here:
// it is removed on CLOSED/RESET like any other stream. I1 is enforced by
// callers deleting before any further frame on a CLOSED/RESET id is
// processed.
type registry struct {
	mu      sync.Mutex
	streams map[uint32]*Stream
}

func newRegistry() *registry {
	return &registry{streams: make(map[uint32]*Stream)}
}

func (r *registry) add(s *Stream) {
	r.mu.Lock()
	r.streams[s.id] = s
	r.mu.Unlock()
}

func (r *registry) get(id uint32) (*Stream, bool) {
	r.mu.Lock()
	s, ok := r.streams[id]
	r.mu.Unlock()
	return s, ok
}

func (r *registry) remove(id uint32) {
	r.mu.Lock()
	delete(r.streams, id)
	r.mu.Unlock()
}

func (r *registry) count() int {
	r.mu.Lock()
	n := len(r.streams)
	r.mu.Unlock()
	return n
}

// all returns a snapshot slice of every resident stream, used when tearing
// the whole session down (every stream transitions to RESET).
func (r *registry) all() []*Stream {
	r.mu.Lock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	r.mu.Unlock()
	return out
}
