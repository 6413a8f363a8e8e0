package scheduler

// WorkChannel is C4, the Internal Work Channel: an unbounded FIFO of
// schedule IDs awaiting a (re)computed next firing instant. Native Go
// channels are bounded by their buffer size, so this wraps a pair of
// channels around a growable internal slice — a standard idiom for an
// unbounded channel, since no dependency in the retrieval pack offers one.
type WorkChannel struct {
	in  chan string
	out chan string
}

// NewWorkChannel starts the relay goroutine and returns the channel. The
// relay goroutine exits once In is closed and the buffered backlog has
// drained through Out.
func NewWorkChannel() *WorkChannel {
	wc := &WorkChannel{
		in:  make(chan string),
		out: make(chan string),
	}
	go wc.relay()
	return wc
}

func (wc *WorkChannel) relay() {
	var buffer []string
	for {
		if len(buffer) == 0 {
			item, ok := <-wc.in
			if !ok {
				close(wc.out)
				return
			}
			buffer = append(buffer, item)
			continue
		}

		select {
		case item, ok := <-wc.in:
			if !ok {
				for _, b := range buffer {
					wc.out <- b
				}
				close(wc.out)
				return
			}
			buffer = append(buffer, item)
		case wc.out <- buffer[0]:
			buffer = buffer[1:]
		}
	}
}

// In is the send side, used by the refill loop, the dispatch loop's
// re-enqueue after firing, and the control listener's create_task_schedule.
func (wc *WorkChannel) In() chan<- string { return wc.in }

// Out is the receive side, drained solely by the consumer loop.
func (wc *WorkChannel) Out() <-chan string { return wc.out }

// Close signals no further sends will occur; the relay drains its backlog
// and closes Out once empty.
func (wc *WorkChannel) Close() { close(wc.in) }
