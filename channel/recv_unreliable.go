package channel

import (
	"time"

	"github.com/ventosilenzioso/netrelay/wire"
)

type inflightSlice struct {
	ctor     *wire.SliceConstructor
	lastSeen time.Time
}

// RecvUnreliable is the unreliable receive engine: a FIFO
// of fully assembled messages plus a table of in-flight slice
// constructors, each aged out after DiscardAfter of inactivity.
type RecvUnreliable struct {
	channelID   byte
	maxMemory   int
	memoryUsage int
	queue       [][]byte
	slices      map[uint64]*inflightSlice
}

func NewRecvUnreliable(channelID byte, maxMemory int) *RecvUnreliable {
	return &RecvUnreliable{channelID: channelID, maxMemory: maxMemory, slices: make(map[uint64]*inflightSlice)}
}

func (r *RecvUnreliable) ChannelID() byte  { return r.channelID }
func (r *RecvUnreliable) MemoryUsage() int { return r.memoryUsage }

// ProcessMessage appends an already-assembled payload to the delivery
// FIFO, or reports false if the memory cap would be exceeded (caller logs
// a warning and drops — soft cap).
func (r *RecvUnreliable) ProcessMessage(payload []byte) bool {
	if r.memoryUsage+len(payload) > r.maxMemory {
		return false
	}
	r.memoryUsage += len(payload)
	r.queue = append(r.queue, payload)
	return true
}

// ProcessSlice feeds one slice into its message's reassembly buffer. A
// malformed slice (wrong size/index) is reported but the caller is
// expected to log-and-drop rather than treat it as fatal: an invalid
// slice is warn-only on unreliable channels.
func (r *RecvUnreliable) ProcessSlice(s wire.Slice, now time.Time) error {
	inflight, ok := r.slices[s.MessageID]
	if !ok {
		provisional := int(s.NumSlices) * wire.SliceSize
		if r.memoryUsage+provisional > r.maxMemory {
			return nil // soft cap: silently drop this slice
		}
		inflight = &inflightSlice{ctor: wire.NewSliceConstructor(s.NumSlices)}
		r.slices[s.MessageID] = inflight
		r.memoryUsage += provisional
	}
	inflight.lastSeen = now

	assembled, err := inflight.ctor.AddSlice(s)
	if err != nil {
		r.memoryUsage -= inflight.ctor.ProvisionalBytes()
		delete(r.slices, s.MessageID)
		return err
	}
	if assembled == nil {
		return nil
	}

	r.memoryUsage -= inflight.ctor.ProvisionalBytes()
	delete(r.slices, s.MessageID)
	r.ProcessMessage(assembled)
	return nil
}

// Sweep discards in-flight slice constructors that haven't seen a new
// slice in DiscardAfter.
func (r *RecvUnreliable) Sweep(now time.Time) {
	for id, inflight := range r.slices {
		if now.Sub(inflight.lastSeen) >= DiscardAfter {
			r.memoryUsage -= inflight.ctor.ProvisionalBytes()
			delete(r.slices, id)
		}
	}
}

// ReceiveMessage pops the oldest queued message, or nil if none is ready.
func (r *RecvUnreliable) ReceiveMessage() []byte {
	if len(r.queue) == 0 {
		return nil
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	r.memoryUsage -= len(msg)
	return msg
}

// ReceiveLastMessage discards every queued message but the most recent and
// returns it — useful for state-snapshot channels where only the newest
// value matters.
func (r *RecvUnreliable) ReceiveLastMessage() []byte {
	if len(r.queue) == 0 {
		return nil
	}
	last := r.queue[len(r.queue)-1]
	for _, discarded := range r.queue[:len(r.queue)-1] {
		r.memoryUsage -= len(discarded)
	}
	r.memoryUsage -= len(last)
	r.queue = nil
	return last
}
