package pressure

// ringChan is a bounded channel with drop-oldest semantics. Telemetry
// producers must never block on a slow callback consumer; when the buffer
// is full the oldest update is discarded in favour of the newest.
type ringChan[T any] struct {
	ch chan T
}

func newRingChan[T any](capacity int) *ringChan[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &ringChan[T]{ch: make(chan T, capacity)}
}

// C returns the receive side; consumers range over it until Close.
func (rc *ringChan[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest buffered element if full. It
// never blocks indefinitely.
func (rc *ringChan[T]) Send(v T) {
	select {
	case rc.ch <- v:
	default:
		select {
		case <-rc.ch: // drop oldest
		default:
		}
		rc.ch <- v
	}
}

func (rc *ringChan[T]) Len() int { return len(rc.ch) }

// Close closes the channel; Send afterwards panics.
func (rc *ringChan[T]) Close() { close(rc.ch) }
