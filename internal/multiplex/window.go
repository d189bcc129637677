package multiplex

// window counts the payload bytes a sender may still transmit. It is a plain value: whoever embeds it
// serialises access.
type window struct {
	avail uint32
	max   uint32
}

func makeWindow(initial, max uint32) window {
	if initial > max {
		initial = max
	}
	return window{avail: initial, max: max}
}

func (w *window) available() uint32 { return w.avail }

func (w *window) consume(n uint32) error {
	if n > w.avail {
		return ErrWindowExceeded
	}
	w.avail -= n
	return nil
}

// grant adds n credit, saturating at max. It returns the credit actually added.
func (w *window) grant(n uint32) uint32 {
	room := w.max - w.avail
	if n > room {
		n = room
	}
	w.avail += n
	return n
}

// recvWindow is the receiver's view of a window it advertised. Incoming data consumes it; data
// drained by the application is handed back to the peer in batches once it passes threshold.
type recvWindow struct {
	window
	unacked   uint32
	threshold uint32
}

func makeRecvWindow(initial, max uint32) recvWindow {
	threshold := initial / 2
	if threshold == 0 {
		threshold = 1
	}
	return recvWindow{window: makeWindow(initial, max), threshold: threshold}
}

// drain records n bytes leaving the receive buffer. If enough has accumulated, it returns the delta
// that should be advertised to the peer in a WindowUpdate, and credits it locally.
func (w *recvWindow) drain(n uint32) (delta uint32) {
	w.unacked += n
	if w.unacked < w.threshold {
		return 0
	}
	return w.flush()
}

// flush returns everything drained but not yet advertised
func (w *recvWindow) flush() (delta uint32) {
	delta = w.grant(w.unacked)
	w.unacked = 0
	return delta
}
