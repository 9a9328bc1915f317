package queue

// jobHeap orders pending jobs by priority rank, then arrival sequence.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	ri, rj := h[i].Priority.Rank(), h[j].Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return j
}

// history is a bounded ring of finished jobs, newest last.
type history struct {
	size  int
	ring  []*Job
	next  int
	full  bool
	index map[string]*Job
}

func newHistory(size int) *history {
	return &history{size: size, ring: make([]*Job, size), index: make(map[string]*Job, size)}
}

func (h *history) add(j *Job) {
	if old := h.ring[h.next]; old != nil {
		delete(h.index, old.ID)
	}
	h.ring[h.next] = j
	h.index[j.ID] = j
	h.next = (h.next + 1) % h.size
	if h.next == 0 {
		h.full = true
	}
}

func (h *history) get(id string) (*Job, bool) {
	j, ok := h.index[id]
	return j, ok
}

func (h *history) len() int {
	if h.full {
		return h.size
	}
	return h.next
}
