package queue

// Subscribe returns a channel of job events and a function that ends the subscription.
// Sends never block: a subscriber that falls behind its buffer loses events.
func (q *Queue) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	if q.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := q.nextSub
	q.nextSub++
	q.subs[id] = ch

	return ch, func() {
		q.subsMu.Lock()
		defer q.subsMu.Unlock()
		if c, ok := q.subs[id]; ok {
			delete(q.subs, id)
			close(c)
		}
	}
}

func (q *Queue) emit(e Event) {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (q *Queue) closeSubscribers() {
	q.subsMu.Lock()
	defer q.subsMu.Unlock()
	q.subsClosed = true
	for id, ch := range q.subs {
		delete(q.subs, id)
		close(ch)
	}
}
