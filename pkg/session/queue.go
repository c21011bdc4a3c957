package session

// queue is a fixed-capacity FIFO ring buffer of frames.
// It only tracks frames in flight; the oldest frames are never
// forwarded again, so there is no overwrite-on-full mode.
type queue struct {
	buf  []Frame
	head int
	n    int
}

func newQueue(capacity int) *queue { return &queue{buf: make([]Frame, capacity)} }

func (q *queue) Len() int   { return q.n }
func (q *queue) Full() bool { return q.n == len(q.buf) }

// Push adds a frame to the tail, fails when the queue is full.
func (q *queue) Push(f Frame) bool {
	if q.Full() {
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = f
	q.n++
	return true
}

// Pop removes and returns the head frame.
func (q *queue) Pop() (Frame, bool) {
	if q.n == 0 {
		return Frame{}, false
	}
	f := q.buf[q.head]
	q.buf[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return f, true
}

func (q *queue) Clear() {
	clear(q.buf)
	q.head, q.n = 0, 0
}
