package mqtt

import (
	"fmt"
	"testing"
)

func msg(i int) message {
	return message{topic: fmt.Sprintf("home/inputs/door/%d", i), payload: []byte{byte(i)}}
}

func TestOutboxTakeEmpty(t *testing.T) {
	o := newOutbox(4)
	if got := o.take(); got != nil {
		t.Errorf("take on empty outbox: got %d messages", len(got))
	}
}

func TestOutboxKeepsNewest(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		add   int
		first byte
	}{
		{"under limit", 4, 3, 0},
		{"at limit", 4, 4, 0},
		{"over limit", 4, 7, 3},
		{"limit clamped to one", 0, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(tt.limit)
			for i := 0; i < tt.add; i++ {
				o.add(msg(i))
			}
			got := o.take()
			for i, m := range got {
				if want := tt.first + byte(i); m.payload[0] != want {
					t.Errorf("message %d: payload %d, want %d", i, m.payload[0], want)
				}
			}
			if last := got[len(got)-1].payload[0]; last != byte(tt.add-1) {
				t.Errorf("newest message lost: last payload %d", last)
			}
			if o.len() != 0 {
				t.Errorf("len after take: %d", o.len())
			}
		})
	}
}

func TestOutboxCountsDrops(t *testing.T) {
	o := newOutbox(2)
	o.add(msg(0))
	o.add(msg(1))

	if !o.add(msg(2)) {
		t.Error("first discard not reported")
	}
	if o.add(msg(3)) {
		t.Error("second discard reported again")
	}
	if o.dropped != 2 {
		t.Errorf("dropped: got %d, want 2", o.dropped)
	}

	o.take()
	o.add(msg(4))
	o.add(msg(5))
	if !o.add(msg(6)) {
		t.Error("discard after take not reported")
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(2)
	o.add(message{topic: "home/inputs/system", payload: []byte(`{"system":{}}`), qos: 1, retained: true})

	got := o.take()
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	m := got[0]
	if m.topic != "home/inputs/system" || string(m.payload) != `{"system":{}}` || m.qos != 1 || !m.retained {
		t.Errorf("message changed in outbox: %+v", m)
	}
}
