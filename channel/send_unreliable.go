package channel

import "github.com/ventosilenzioso/netrelay/wire"

// SendUnreliable is the unreliable send engine: a FIFO of
// pending payloads, sliced or batched into packets on demand. There is no
// retransmit and no ack tracking; the memory cap is soft (exceeding it
// drops the new message instead of failing the call).
type SendUnreliable struct {
	channelID    byte
	maxMemory    int
	memoryUsage  int
	queue        [][]byte
	nextSlicedID uint64
}

func NewSendUnreliable(channelID byte, maxMemory int) *SendUnreliable {
	return &SendUnreliable{channelID: channelID, maxMemory: maxMemory}
}

func (s *SendUnreliable) ChannelID() byte  { return s.channelID }
func (s *SendUnreliable) MemoryUsage() int { return s.memoryUsage }

// SendMessage enqueues payload, or reports false if doing so would exceed
// the channel's memory cap (caller logs a warning and drops).
func (s *SendUnreliable) SendMessage(payload []byte) bool {
	if s.memoryUsage+len(payload) > s.maxMemory {
		return false
	}
	s.memoryUsage += len(payload)
	s.queue = append(s.queue, payload)
	return true
}

// GetPacketsToSend drains the FIFO under availableBytes, slicing payloads
// larger than SliceSize and batching the rest into SmallUnreliable packets
// cut at SliceSize.
func (s *SendUnreliable) GetPacketsToSend(nextSeq func() uint64, availableBytes int) ([]Outgoing, int) {
	var out []Outgoing
	used := 0

	var batch [][]byte
	batchSize := 2

	flushBatch := func() {
		if len(batch) == 0 {
			return
		}
		pkt := &wire.SmallUnreliable{ChannelID: s.channelID, Payloads: batch}
		pkt.Sequence = nextSeq()
		out = append(out, Outgoing{Packet: pkt, Info: OutgoingInfo{Kind: InfoKindNone, ChannelID: s.channelID}})
		batch = nil
		batchSize = 2
	}

	for len(s.queue) > 0 {
		payload := s.queue[0]
		entrySize := len(payload) + 16
		if entrySize > availableBytes-used {
			break
		}

		if len(payload) > wire.SliceSize {
			flushBatch()
			numSlices := uint32((len(payload) + wire.SliceSize - 1) / wire.SliceSize)
			messageID := s.nextSlicedID
			s.nextSlicedID++
			sliceOK := true
			for i := uint32(0); i < numSlices && sliceOK; i++ {
				sp := slicePayload(payload, i, numSlices)
				size := len(sp) + 24
				if size > availableBytes-used {
					sliceOK = false
					break
				}
				pkt := &wire.UnreliableSlice{
					ChannelID: s.channelID,
					Slice: wire.Slice{
						MessageID:  messageID,
						SliceIndex: i,
						NumSlices:  numSlices,
						Payload:    sp,
					},
				}
				pkt.Sequence = nextSeq()
				out = append(out, Outgoing{Packet: pkt, Info: OutgoingInfo{Kind: InfoKindNone, ChannelID: s.channelID}})
				used += size
			}
			if !sliceOK {
				// payload stays at the head of the queue; the next call
				// re-slices it from index 0, re-emitting slices already
				// sent this round. Harmless here since unreliable
				// receivers tolerate duplicate slices, but it does waste
				// bandwidth under a consistently tight budget.
				break
			}
		} else {
			if batchSize+entrySize > wire.SliceSize {
				flushBatch()
			}
			batch = append(batch, payload)
			batchSize += entrySize
			used += entrySize
		}

		s.memoryUsage -= len(payload)
		s.queue = s.queue[1:]
	}
	flushBatch()

	return out, used
}
