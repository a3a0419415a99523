package mqtt

// message is a publish that could not be sent yet.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages while the broker is unreachable. When full the
// oldest message is discarded. The caller synchronizes.
type outbox struct {
	msgs    []message
	limit   int
	full    bool // set once per fill, cleared by take
	dropped uint64
}

func newOutbox(limit int) *outbox {
	if limit < 1 {
		limit = 1
	}
	return &outbox{msgs: make([]message, 0, limit), limit: limit}
}

// add queues msg. It returns true the first time a message is discarded
// since the last take.
func (o *outbox) add(msg message) bool {
	if len(o.msgs) < o.limit {
		o.msgs = append(o.msgs, msg)
		return false
	}
	copy(o.msgs, o.msgs[1:])
	o.msgs[len(o.msgs)-1] = msg
	o.dropped++
	warn := !o.full
	o.full = true
	return warn
}

// take empties the outbox and returns its messages oldest first.
func (o *outbox) take() []message {
	if len(o.msgs) == 0 {
		return nil
	}
	out := o.msgs
	o.msgs = make([]message, 0, o.limit)
	o.full = false
	return out
}

func (o *outbox) len() int { return len(o.msgs) }
