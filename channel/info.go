package channel

import "github.com/ventosilenzioso/netrelay/wire"

// InfoKind distinguishes what an Outgoing packet's Info describes, so the
// connection knows which reliable-channel ack callback to invoke once the
// packet's sequence comes back acked.
type InfoKind int

const (
	InfoKindMessages InfoKind = iota
	InfoKindSlice
	InfoKindNone
)

// OutgoingInfo is bookkeeping the connection stores alongside a packet's
// sequence, restricted to the channel-addressable variants; Ack/KeepAlive
// bookkeeping lives in package conn.
type OutgoingInfo struct {
	Kind       InfoKind
	ChannelID  byte
	MessageIDs []uint64 // InfoKindMessages
	MessageID  uint64   // InfoKindSlice
	SliceIndex uint32   // InfoKindSlice
}

// Outgoing pairs a packet ready for the wire with the info needed to act on
// its eventual acknowledgement.
type Outgoing struct {
	Packet wire.Packet
	Info   OutgoingInfo
}
