package capture

// Ring is a fixed-capacity FIFO of packed events shared by all rotary pins.
// When full, a push overwrites the oldest record and counts it as dropped.
// Not safe for concurrent use: the producer runs with the interrupt gate held
// and the consumer drains under an irq guard.
type Ring struct {
	buf      []uint64
	capacity int
	head     int // next write position
	count    int
	dropped  uint32
}

// NewRing allocates the ring once; it never grows.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:      make([]uint64, capacity),
		capacity: capacity,
	}
}

// Push appends e, overwriting the oldest record when full.
func (r *Ring) Push(e Event) {
	r.buf[r.head] = e.Pack()
	r.head = (r.head + 1) % r.capacity
	if r.count == r.capacity {
		// head was pointing at the oldest record
		r.dropped++
		return
	}
	r.count++
}

// DrainInto appends all buffered events to dst in arrival order and empties
// the ring. dst should have Cap() spare capacity to avoid allocation.
func (r *Ring) DrainInto(dst []Event) []Event {
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		dst = append(dst, Unpack(r.buf[(start+i)%r.capacity]))
	}
	r.count = 0
	r.head = 0
	return dst
}

// Discard removes buffered events for pin, keeping the rest in order.
func (r *Ring) Discard(pin uint8) int {
	start := (r.head - r.count + r.capacity) % r.capacity
	kept := 0
	for i := 0; i < r.count; i++ {
		w := r.buf[(start+i)%r.capacity]
		if Unpack(w).Pin == pin {
			continue
		}
		r.buf[(start+kept)%r.capacity] = w
		kept++
	}
	removed := r.count - kept
	r.count = kept
	r.head = (start + kept) % r.capacity
	return removed
}

// Len returns the number of buffered events.
func (r *Ring) Len() int {
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring) Cap() int {
	return r.capacity
}

// Dropped returns the number of records overwritten since creation.
func (r *Ring) Dropped() uint32 {
	return r.dropped
}
