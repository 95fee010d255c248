// Package wire implements the binary packet codec: a single leading type
// byte, varint-encoded sequences/ids/lengths, and no outer framing — the
// datagram itself provides the packet boundary.
package wire

import "github.com/ventosilenzioso/netrelay/neterr"

// SliceSize is the fixed maximum payload of a non-terminal slice. Messages
// larger than this are split by the sending channel into ReliableSlice or
// UnreliableSlice packets.
const SliceSize = 1200

// MaxPacketSize bounds every packet this codec emits, leaving headroom
// beneath common MTUs.
const MaxPacketSize = 1300

// Packet type discriminants (the leading byte of every encoded packet).
const (
	TypeSmallReliable byte = iota
	TypeSmallUnreliable
	TypeReliableSlice
	TypeUnreliableSlice
	TypeAck
	TypeDisconnect
	TypeKeepAlive
)

// Slice is a fixed-size fragment of a message that exceeds SliceSize bytes.
// All slices but the last are exactly SliceSize bytes.
type Slice struct {
	MessageID  uint64
	SliceIndex uint32
	NumSlices  uint32
	Payload    []byte
}

// ReliableMessage is one (id, payload) pair batched into a SmallReliable
// packet.
type ReliableMessage struct {
	ID      uint64
	Payload []byte
}

// AckRange is a half-open [Start, End) interval of received packet
// sequences, used for compact bulk acknowledgement.
type AckRange struct {
	Start uint64
	End   uint64
}

// Packet is the discriminated union of every wire packet kind. Concrete
// types below implement it; there is no open extension point — channels
// and packet kinds are a closed, fixed set.
type Packet interface {
	Type() byte
	encode(w *Writer)
}

type SmallReliable struct {
	Sequence  uint64
	ChannelID byte
	Messages  []ReliableMessage
}

func (p *SmallReliable) Type() byte { return TypeSmallReliable }

func (p *SmallReliable) encode(w *Writer) {
	w.Varint(p.Sequence)
	w.Byte(p.ChannelID)
	w.Varint(uint64(len(p.Messages)))
	for _, m := range p.Messages {
		w.Varint(m.ID)
		w.Payload(m.Payload)
	}
}

type SmallUnreliable struct {
	Sequence  uint64
	ChannelID byte
	Payloads  [][]byte
}

func (p *SmallUnreliable) Type() byte { return TypeSmallUnreliable }

func (p *SmallUnreliable) encode(w *Writer) {
	w.Varint(p.Sequence)
	w.Byte(p.ChannelID)
	w.Varint(uint64(len(p.Payloads)))
	for _, payload := range p.Payloads {
		w.Payload(payload)
	}
}

type ReliableSlice struct {
	Sequence  uint64
	ChannelID byte
	Slice     Slice
}

func (p *ReliableSlice) Type() byte { return TypeReliableSlice }

func (p *ReliableSlice) encode(w *Writer) { encodeSlice(w, p.Sequence, p.ChannelID, p.Slice) }

type UnreliableSlice struct {
	Sequence  uint64
	ChannelID byte
	Slice     Slice
}

func (p *UnreliableSlice) Type() byte { return TypeUnreliableSlice }

func (p *UnreliableSlice) encode(w *Writer) { encodeSlice(w, p.Sequence, p.ChannelID, p.Slice) }

func encodeSlice(w *Writer, sequence uint64, channelID byte, s Slice) {
	w.Varint(sequence)
	w.Byte(channelID)
	w.Varint(s.MessageID)
	w.Varint(uint64(s.SliceIndex))
	w.Varint(uint64(s.NumSlices))
	w.Payload(s.Payload)
}

type Ack struct {
	Sequence uint64
	Ranges   []AckRange
}

func (p *Ack) Type() byte { return TypeAck }

func (p *Ack) encode(w *Writer) {
	w.Varint(p.Sequence)
	encodeAckRanges(w, p.Ranges)
}

// Disconnect is terminal: neither peer expects a reply, and the connection
// that emits it immediately transitions to Disconnected.
type Disconnect struct {
	Sequence uint64
}

func (p *Disconnect) Type() byte { return TypeDisconnect }

func (p *Disconnect) encode(w *Writer) { w.Varint(p.Sequence) }

// KeepAlive carries no channel payload; it exists purely to keep the peer's
// idle timer from firing on a healthy but otherwise quiet connection
// (supplemented from original_source/renet/src/remote_connection.rs).
type KeepAlive struct {
	Sequence uint64
}

func (p *KeepAlive) Type() byte { return TypeKeepAlive }

func (p *KeepAlive) encode(w *Writer) { w.Varint(p.Sequence) }

// Encode serializes p into buf-sized wire bytes. It returns
// neterr.KindPacketSerialization if the result would exceed MaxPacketSize.
func Encode(p Packet) ([]byte, error) {
	w := NewWriter()
	w.Byte(p.Type())
	p.encode(w)
	out := w.Finish()
	if len(out) > MaxPacketSize {
		return nil, neterr.New(neterr.KindPacketSerialization, "packet exceeds max size")
	}
	return out, nil
}

// Decode is total: any malformed input yields a single
// neterr.KindPacketDeserialization error, never a panic.
func Decode(b []byte) (pkt Packet, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			pkt, err = nil, neterr.New(neterr.KindPacketDeserialization, "malformed packet")
		}
	}()

	r := NewReader(b)
	typ, err := r.Byte()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "missing type byte")
	}

	switch typ {
	case TypeSmallReliable:
		return decodeSmallReliable(r)
	case TypeSmallUnreliable:
		return decodeSmallUnreliable(r)
	case TypeReliableSlice:
		return decodeReliableSlice(r)
	case TypeUnreliableSlice:
		return decodeUnreliableSlice(r)
	case TypeAck:
		return decodeAck(r)
	case TypeDisconnect:
		seq, err := r.Varint()
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "disconnect sequence")
		}
		return &Disconnect{Sequence: seq}, nil
	case TypeKeepAlive:
		seq, err := r.Varint()
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "keepalive sequence")
		}
		return &KeepAlive{Sequence: seq}, nil
	default:
		return nil, neterr.New(neterr.KindPacketDeserialization, "unknown packet type")
	}
}

func decodeSmallReliable(r *Reader) (*SmallReliable, error) {
	seq, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "sequence")
	}
	channelID, err := r.Byte()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "channel id")
	}
	count, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "message count")
	}
	msgs := make([]ReliableMessage, 0, count)
	for i := uint64(0); i < count; i++ {
		id, err := r.Varint()
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "message id")
		}
		payload, err := r.Payload(MaxPacketSize)
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "message payload")
		}
		msgs = append(msgs, ReliableMessage{ID: id, Payload: payload})
	}
	return &SmallReliable{Sequence: seq, ChannelID: channelID, Messages: msgs}, nil
}

func decodeSmallUnreliable(r *Reader) (*SmallUnreliable, error) {
	seq, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "sequence")
	}
	channelID, err := r.Byte()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "channel id")
	}
	count, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "payload count")
	}
	payloads := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		payload, err := r.Payload(MaxPacketSize)
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "payload")
		}
		payloads = append(payloads, payload)
	}
	return &SmallUnreliable{Sequence: seq, ChannelID: channelID, Payloads: payloads}, nil
}

func decodeSlice(r *Reader) (uint64, byte, Slice, error) {
	seq, err := r.Varint()
	if err != nil {
		return 0, 0, Slice{}, neterr.Wrap(neterr.KindPacketDeserialization, err, "sequence")
	}
	channelID, err := r.Byte()
	if err != nil {
		return 0, 0, Slice{}, neterr.Wrap(neterr.KindPacketDeserialization, err, "channel id")
	}
	messageID, err := r.Varint()
	if err != nil {
		return 0, 0, Slice{}, neterr.Wrap(neterr.KindPacketDeserialization, err, "message id")
	}
	sliceIndex, err := r.Varint()
	if err != nil {
		return 0, 0, Slice{}, neterr.Wrap(neterr.KindPacketDeserialization, err, "slice index")
	}
	numSlices, err := r.Varint()
	if err != nil {
		return 0, 0, Slice{}, neterr.Wrap(neterr.KindPacketDeserialization, err, "num slices")
	}
	payload, err := r.Payload(SliceSize)
	if err != nil {
		return 0, 0, Slice{}, neterr.Wrap(neterr.KindPacketDeserialization, err, "slice payload")
	}
	return seq, channelID, Slice{
		MessageID:  messageID,
		SliceIndex: uint32(sliceIndex),
		NumSlices:  uint32(numSlices),
		Payload:    payload,
	}, nil
}

func decodeReliableSlice(r *Reader) (*ReliableSlice, error) {
	seq, channelID, slice, err := decodeSlice(r)
	if err != nil {
		return nil, err
	}
	return &ReliableSlice{Sequence: seq, ChannelID: channelID, Slice: slice}, nil
}

func decodeUnreliableSlice(r *Reader) (*UnreliableSlice, error) {
	seq, channelID, slice, err := decodeSlice(r)
	if err != nil {
		return nil, err
	}
	return &UnreliableSlice{Sequence: seq, ChannelID: channelID, Slice: slice}, nil
}

func decodeAck(r *Reader) (*Ack, error) {
	seq, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "sequence")
	}
	ranges, err := decodeAckRanges(r)
	if err != nil {
		return nil, err
	}
	return &Ack{Sequence: seq, Ranges: ranges}, nil
}
