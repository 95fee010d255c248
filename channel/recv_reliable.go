package channel

import (
	"sort"

	"github.com/ventosilenzioso/netrelay/neterr"
	"github.com/ventosilenzioso/netrelay/wire"
)

// RecvReliable is the reliable receive engine: it
// reassembles sliced messages, enforces the channel memory cap, and
// delivers messages either strictly in send order or in arrival order.
type RecvReliable struct {
	channelID   byte
	ordered     bool
	maxMemory   int
	memoryUsage int

	oldestPendingMessageID uint64
	mostRecentMessageID    uint64 // unordered only

	messages map[uint64][]byte
	pending  []uint64 // sorted ascending ids present in `messages`, awaiting delivery
	received map[uint64]bool // unordered only: ids delivered ahead of the pointer

	slices map[uint64]*wire.SliceConstructor
}

func NewRecvReliable(channelID byte, ordered bool, maxMemory int) *RecvReliable {
	return &RecvReliable{
		channelID: channelID,
		ordered:   ordered,
		maxMemory: maxMemory,
		messages:  make(map[uint64][]byte),
		received:  make(map[uint64]bool),
		slices:    make(map[uint64]*wire.SliceConstructor),
	}
}

func (r *RecvReliable) ChannelID() byte  { return r.channelID }
func (r *RecvReliable) MemoryUsage() int { return r.memoryUsage }

// ProcessMessage accounts an already-assembled small message. Ids below the
// delivery pointer are stale (already delivered, or superseded) and are
// silently dropped — idempotence is a core invariant here.
func (r *RecvReliable) ProcessMessage(payload []byte, messageID uint64) error {
	if messageID < r.oldestPendingMessageID {
		return nil
	}
	if _, exists := r.messages[messageID]; exists {
		return nil
	}
	if r.memoryUsage+len(payload) > r.maxMemory {
		return neterr.New(neterr.KindReliableChannelMaxMemoryReached,
			"process_message would exceed reliable channel memory cap")
	}
	r.memoryUsage += len(payload)
	r.messages[messageID] = payload
	r.insertPending(messageID)

	if !r.ordered && messageID > r.mostRecentMessageID {
		r.mostRecentMessageID = messageID
	}
	return nil
}

// ProcessSlice feeds one slice of a larger message into its reassembly
// buffer, provisioning NumSlices*SliceSize against the memory cap up
// front and re-accounting the exact size on completion.
func (r *RecvReliable) ProcessSlice(s wire.Slice) error {
	if s.MessageID < r.oldestPendingMessageID {
		return nil
	}
	if _, done := r.messages[s.MessageID]; done {
		return nil
	}

	ctor, ok := r.slices[s.MessageID]
	if !ok {
		provisional := int(s.NumSlices) * wire.SliceSize
		if r.memoryUsage+provisional > r.maxMemory {
			return neterr.New(neterr.KindReliableChannelMaxMemoryReached,
				"process_slice would exceed reliable channel memory cap")
		}
		ctor = wire.NewSliceConstructor(s.NumSlices)
		r.slices[s.MessageID] = ctor
		r.memoryUsage += provisional
	}

	assembled, err := ctor.AddSlice(s)
	if err != nil {
		return err
	}
	if assembled == nil {
		return nil
	}

	r.memoryUsage -= ctor.ProvisionalBytes()
	delete(r.slices, s.MessageID)
	return r.ProcessMessage(assembled, s.MessageID)
}

// ReceiveMessage pops one assembled message for delivery to the
// application, or nil if none is ready yet.
func (r *RecvReliable) ReceiveMessage() []byte {
	if r.ordered {
		return r.receiveOrdered()
	}
	return r.receiveUnordered()
}

func (r *RecvReliable) receiveOrdered() []byte {
	payload, ok := r.messages[r.oldestPendingMessageID]
	if !ok {
		return nil
	}
	r.deleteMessage(r.oldestPendingMessageID)
	r.oldestPendingMessageID++
	return payload
}

func (r *RecvReliable) receiveUnordered() []byte {
	if len(r.pending) == 0 {
		return nil
	}
	id := r.pending[0]
	payload := r.messages[id]
	r.deleteMessage(id)

	if id == r.oldestPendingMessageID {
		r.oldestPendingMessageID++
		for r.received[r.oldestPendingMessageID] {
			delete(r.received, r.oldestPendingMessageID)
			r.oldestPendingMessageID++
		}
	} else {
		r.received[id] = true
	}
	return payload
}

func (r *RecvReliable) deleteMessage(id uint64) {
	r.memoryUsage -= len(r.messages[id])
	delete(r.messages, id)
	if i := sort.Search(len(r.pending), func(i int) bool { return r.pending[i] >= id }); i < len(r.pending) && r.pending[i] == id {
		r.pending = append(r.pending[:i], r.pending[i+1:]...)
	}
}

func (r *RecvReliable) insertPending(id uint64) {
	i := sort.Search(len(r.pending), func(i int) bool { return r.pending[i] >= id })
	r.pending = append(r.pending, 0)
	copy(r.pending[i+1:], r.pending[i:])
	r.pending[i] = id
}
