package capture

// Event is a raw level change on a rotary pin. It packs into a single 8-byte
// word so that a ring slot is written with one store.
type Event struct {
	Time   uint32 // microseconds, wraps
	Pin    uint8
	Levels uint16 // low half of the level register at capture time
}

// Pack encodes e as time<<32 | levels<<16 | pin.
func (e Event) Pack() uint64 {
	return uint64(e.Time)<<32 | uint64(e.Levels)<<16 | uint64(e.Pin)
}

// Unpack decodes a word produced by Pack.
func Unpack(w uint64) Event {
	return Event{
		Time:   uint32(w >> 32),
		Levels: uint16(w >> 16),
		Pin:    uint8(w),
	}
}

// Level returns the captured level of pin id (0..15).
func (e Event) Level(id uint8) bool {
	return e.Levels&(1<<id) != 0
}
