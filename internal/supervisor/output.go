package supervisor

import (
	"strings"
	"sync"
	"time"
)

// Line is one line of module output.
type Line struct {
	Module   string    `json:"module"`
	LaunchID string    `json:"launch_id"`
	Stream   string    `json:"stream"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// OutputLog is a capped ring of recent output lines for one module. Appends
// never block: subscribers that fall behind miss lines.
type OutputLog struct {
	mu    sync.Mutex
	ring  []Line
	start int
	size  int

	subs      map[int]chan Line
	nextSubID int
}

// NewOutputLog creates a log retaining up to capacity lines.
func NewOutputLog(capacity int) *OutputLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &OutputLog{
		ring: make([]Line, capacity),
		subs: make(map[int]chan Line),
	}
}

// Append stores a line and fans it out to subscribers.
func (o *OutputLog) Append(l Line) {
	o.mu.Lock()
	defer o.mu.Unlock()

	capacity := len(o.ring)
	if o.size < capacity {
		o.ring[(o.start+o.size)%capacity] = l
		o.size++
	} else {
		o.ring[o.start] = l
		o.start = (o.start + 1) % capacity
	}

	for _, ch := range o.subs {
		select {
		case ch <- l:
		default:
		}
	}
}

// Lines returns the retained lines, oldest first.
func (o *OutputLog) Lines() []Line {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Line, 0, o.size)
	for i := 0; i < o.size; i++ {
		out = append(out, o.ring[(o.start+i)%len(o.ring)])
	}
	return out
}

// Tail renders the retained lines belonging to launchID as text.
func (o *OutputLog) Tail(launchID string) string {
	var b strings.Builder
	for _, l := range o.Lines() {
		if launchID != "" && l.LaunchID != launchID {
			continue
		}
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Subscribe streams lines appended after the call.
func (o *OutputLog) Subscribe() (<-chan Line, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++
	ch := make(chan Line, 64)
	o.subs[id] = ch

	cancel := func() {
		o.mu.Lock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
		o.mu.Unlock()
	}
	return ch, cancel
}
