// Package conn implements the per-peer connection engine: it owns the
// packet-sequence counter, the sent-packet/ack bookkeeping, and
// orchestrates the channels configured for each direction. It is not
// internally synchronized — a single driver goroutine owns a Connection
// exclusively.
package conn

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ventosilenzioso/netrelay/channel"
	"github.com/ventosilenzioso/netrelay/neterr"
	"github.com/ventosilenzioso/netrelay/wire"
)

// discardAfter is how long a sent-but-unacked packet record (and, during
// Update, a swept packet's loss accounting) is retained before being
// treated as lost.
const discardAfter = 3 * time.Second

// numDisconnectPackets is how many Disconnect packets Disconnect() emits in
// succession, to survive datagram loss on the way out.
const numDisconnectPackets = 10

type sentRecord struct {
	sentAt time.Time

	// Exactly one of the following describes what acking this sequence
	// should do.
	channelInfo  *channel.OutgoingInfo
	isAck        bool
	largestAcked uint64
}

// Connection is the public API surface: channel-agnostic, taking and
// emitting opaque byte buffers. The driver (socket I/O loop)
// calls Update, ProcessPacket, and GetPacketsToSend in sequence; none of
// them block.
type Connection struct {
	cfg Config

	status           Status
	disconnectReason error

	now            time.Time
	packetSequence uint64

	sentPackets map[uint64]sentRecord
	pending     pendingAcks

	sendReliable   map[byte]*channel.SendReliable
	recvReliable   map[byte]*channel.RecvReliable
	sendUnreliable map[byte]*channel.SendUnreliable
	recvUnreliable map[byte]*channel.RecvUnreliable

	sendOrder []byte // fixed priority order, taken from cfg.SendChannels

	stats stats

	lastReceivedAt time.Time
	lastSentAt     time.Time

	disconnectBurstRemaining int

	log logrus.FieldLogger
}

// New validates cfg and constructs the channel engines it describes.
func New(cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()

	if err := channel.ValidateConfigs(cfg.SendChannels); err != nil {
		return nil, fmt.Errorf("send channels: %w", err)
	}
	if err := channel.ValidateConfigs(cfg.RecvChannels); err != nil {
		return nil, fmt.Errorf("recv channels: %w", err)
	}

	c := &Connection{
		cfg:            cfg,
		status:         StatusConnecting,
		sentPackets:    make(map[uint64]sentRecord),
		sendReliable:   make(map[byte]*channel.SendReliable),
		recvReliable:   make(map[byte]*channel.RecvReliable),
		sendUnreliable: make(map[byte]*channel.SendUnreliable),
		recvUnreliable: make(map[byte]*channel.RecvUnreliable),
		log:            cfg.Logger,
	}

	for _, cc := range cfg.SendChannels {
		c.sendOrder = append(c.sendOrder, cc.ChannelID)
		switch cc.Kind {
		case channel.KindReliableOrdered, channel.KindReliableUnordered:
			c.sendReliable[cc.ChannelID] = channel.NewSendReliable(cc.ChannelID, cc.ResendTime, cc.MaxMemoryUsageBytes)
		case channel.KindUnreliable:
			c.sendUnreliable[cc.ChannelID] = channel.NewSendUnreliable(cc.ChannelID, cc.MaxMemoryUsageBytes)
		}
	}
	for _, cc := range cfg.RecvChannels {
		switch cc.Kind {
		case channel.KindReliableOrdered:
			c.recvReliable[cc.ChannelID] = channel.NewRecvReliable(cc.ChannelID, true, cc.MaxMemoryUsageBytes)
		case channel.KindReliableUnordered:
			c.recvReliable[cc.ChannelID] = channel.NewRecvReliable(cc.ChannelID, false, cc.MaxMemoryUsageBytes)
		case channel.KindUnreliable:
			c.recvUnreliable[cc.ChannelID] = channel.NewRecvUnreliable(cc.ChannelID, cc.MaxMemoryUsageBytes)
		}
	}

	return c, nil
}

// MarkConnected transitions a handshake-completed connection into the
// Connected state. The handshake itself lives in package netcode; this is
// the seam where its success is reported back to the channel engine.
func (c *Connection) MarkConnected(now time.Time) {
	if c.status != StatusConnecting {
		return
	}
	c.status = StatusConnected
	c.now = now
	c.lastReceivedAt = now
	c.lastSentAt = now
}

func (c *Connection) IsConnected() bool    { return c.status == StatusConnected }
func (c *Connection) IsDisconnected() bool { return c.status == StatusDisconnected }
func (c *Connection) DisconnectReason() error { return c.disconnectReason }

// Disconnect transitions the connection to Disconnected{DisconnectedByLocal}
// and arms the close-succession burst that GetPacketsToSend drains over
// the following calls.
func (c *Connection) Disconnect() {
	if c.status == StatusDisconnected {
		return
	}
	c.fail(neterr.KindDisconnectedByLocal, "disconnect() called locally")
	c.disconnectBurstRemaining = numDisconnectPackets
}

func (c *Connection) fail(kind neterr.Kind, message string) {
	if c.status == StatusDisconnected {
		return
	}
	c.status = StatusDisconnected
	c.disconnectReason = neterr.New(kind, message)
	c.log.WithField("reason", kind.String()).Warn("connection disconnected")
}

// Update advances the connection's clock by dt: sweeps aged-out sent
// packets (counting them as lost), sweeps unreliable receive channels'
// stale slice constructors, and checks the idle timeout.
func (c *Connection) Update(dt time.Duration) {
	if c.status == StatusDisconnected {
		return
	}
	c.now = c.now.Add(dt)
	c.stats.tick(dt)

	for seq, rec := range c.sentPackets {
		if c.now.Sub(rec.sentAt) >= discardAfter {
			c.stats.recordLost()
			delete(c.sentPackets, seq)
		}
	}

	for _, ru := range c.recvUnreliable {
		ru.Sweep(c.now)
	}

	if c.status == StatusConnected && !c.lastReceivedAt.IsZero() && c.now.Sub(c.lastReceivedAt) >= c.cfg.TimeoutDuration {
		c.fail(neterr.KindTimeout, "no packet received within timeout")
	}
}

// ProcessPacket parses and dispatches one received datagram. Once the
// connection is Disconnected, ProcessPacket, Update and SendMessage become
// no-ops, and GetPacketsToSend only drains the disconnect burst.
func (c *Connection) ProcessPacket(b []byte) error {
	if c.status == StatusDisconnected {
		return nil
	}

	pkt, err := wire.Decode(b)
	if err != nil {
		c.fail(neterr.KindPacketDeserialization, err.Error())
		return err
	}

	c.lastReceivedAt = c.now
	c.stats.recordBytesReceived(len(b))

	seq := packetSequenceOf(pkt)
	c.pending.add(seq)

	switch p := pkt.(type) {
	case *wire.SmallReliable:
		recv, ok := c.recvReliable[p.ChannelID]
		if !ok {
			c.fail(neterr.KindReceivedInvalidChannelId, "small reliable: unknown channel")
			return c.disconnectReason
		}
		for _, m := range p.Messages {
			if err := recv.ProcessMessage(m.Payload, m.ID); err != nil {
				c.fail(neterr.KindReliableChannelMaxMemoryReached, err.Error())
				return err
			}
		}
	case *wire.ReliableSlice:
		recv, ok := c.recvReliable[p.ChannelID]
		if !ok {
			c.fail(neterr.KindReceivedInvalidChannelId, "reliable slice: unknown channel")
			return c.disconnectReason
		}
		if err := recv.ProcessSlice(p.Slice); err != nil {
			kind := neterr.KindReliableChannelMaxMemoryReached
			var nerr *neterr.Error
			if errors.As(err, &nerr) {
				kind = nerr.Kind
			}
			c.fail(kind, err.Error())
			return err
		}
	case *wire.SmallUnreliable:
		recv, ok := c.recvUnreliable[p.ChannelID]
		if !ok {
			c.fail(neterr.KindReceivedInvalidChannelId, "small unreliable: unknown channel")
			return c.disconnectReason
		}
		for _, payload := range p.Payloads {
			if !recv.ProcessMessage(payload) {
				c.log.WithField("channel", p.ChannelID).Warn("unreliable message dropped: memory cap")
			}
		}
	case *wire.UnreliableSlice:
		recv, ok := c.recvUnreliable[p.ChannelID]
		if !ok {
			c.fail(neterr.KindReceivedInvalidChannelId, "unreliable slice: unknown channel")
			return c.disconnectReason
		}
		if err := recv.ProcessSlice(p.Slice, c.now); err != nil {
			c.log.WithField("channel", p.ChannelID).Warn("unreliable slice dropped: " + err.Error())
		}
	case *wire.Ack:
		c.processAckPacket(p)
	case *wire.Disconnect:
		c.fail(neterr.KindDisconnectedByPeer, "peer sent disconnect")
	case *wire.KeepAlive:
		// no channel dispatch; arrival alone already refreshed lastReceivedAt.
	}

	return nil
}

func packetSequenceOf(p wire.Packet) uint64 {
	switch p := p.(type) {
	case *wire.SmallReliable:
		return p.Sequence
	case *wire.SmallUnreliable:
		return p.Sequence
	case *wire.ReliableSlice:
		return p.Sequence
	case *wire.UnreliableSlice:
		return p.Sequence
	case *wire.Ack:
		return p.Sequence
	case *wire.Disconnect:
		return p.Sequence
	case *wire.KeepAlive:
		return p.Sequence
	default:
		return 0
	}
}

func (c *Connection) processAckPacket(p *wire.Ack) {
	var largestAcked uint64
	haveLargest := false

	for _, r := range p.Ranges {
		for seq := r.Start; seq < r.End; seq++ {
			rec, ok := c.sentPackets[seq]
			if !ok {
				continue
			}
			sample := c.now.Sub(rec.sentAt)
			c.stats.recordRTTSample(sample)
			delete(c.sentPackets, seq)

			if rec.isAck {
				if !haveLargest || rec.largestAcked > largestAcked {
					largestAcked = rec.largestAcked
					haveLargest = true
				}
				continue
			}
			if rec.channelInfo != nil {
				c.ackChannel(*rec.channelInfo)
			}
		}
	}

	if haveLargest {
		c.pending.ackedLargest(largestAcked)
	}
}

func (c *Connection) ackChannel(info channel.OutgoingInfo) {
	if sr, ok := c.sendReliable[info.ChannelID]; ok {
		sr.ProcessAck(info)
	}
}

// SendMessage queues payload for delivery on channelID, dispatching to
// whichever reliable/unreliable send engine that channel was configured
// with. It returns an error if channelID was not configured for sending.
func (c *Connection) SendMessage(channelID byte, payload []byte) error {
	if c.status == StatusDisconnected {
		return nil
	}
	if sr, ok := c.sendReliable[channelID]; ok {
		if err := sr.SendMessage(payload); err != nil {
			c.fail(neterr.KindReliableChannelMaxMemoryReached, err.Error())
			return err
		}
		return nil
	}
	if su, ok := c.sendUnreliable[channelID]; ok {
		if !su.SendMessage(payload) {
			c.log.WithField("channel", channelID).Warn("unreliable message dropped: memory cap")
		}
		return nil
	}
	return fmt.Errorf("channel %d not configured for sending", channelID)
}

// ReceiveMessage pops the next message ready for delivery on channelID, or
// nil if none is pending.
func (c *Connection) ReceiveMessage(channelID byte) []byte {
	if rr, ok := c.recvReliable[channelID]; ok {
		return rr.ReceiveMessage()
	}
	if ru, ok := c.recvUnreliable[channelID]; ok {
		return ru.ReceiveMessage()
	}
	return nil
}

// ReceiveLastMessage behaves like ReceiveMessage but, for an unreliable
// channel, discards every older queued message first — useful for
// state-snapshot channels where only the newest value matters.
func (c *Connection) ReceiveLastMessage(channelID byte) []byte {
	if ru, ok := c.recvUnreliable[channelID]; ok {
		return ru.ReceiveLastMessage()
	}
	return c.ReceiveMessage(channelID)
}

// GetPacketsToSend walks the configured send channels in priority order,
// appends a bulk Ack if any packets have arrived unacknowledged, and
// otherwise emits a keep-alive if the peer would see nothing at all this
// tick.
func (c *Connection) GetPacketsToSend() [][]byte {
	if c.status == StatusDisconnected {
		return c.drainDisconnectBurst()
	}

	budget := c.cfg.AvailableBytesPerTick
	var out [][]byte

	nextSeq := func() uint64 {
		s := c.packetSequence
		c.packetSequence++
		return s
	}

	emit := func(pkt wire.Packet, info *channel.OutgoingInfo) {
		encoded, err := wire.Encode(pkt)
		if err != nil {
			c.log.WithError(err).Warn("dropping packet that failed to serialize")
			return
		}
		out = append(out, encoded)
		c.sentPackets[packetSequenceOf(pkt)] = sentRecord{sentAt: c.now, channelInfo: info}
		c.stats.recordSent()
		c.stats.recordBytesSent(len(encoded))
	}

	for _, id := range c.sendOrder {
		if sr, ok := c.sendReliable[id]; ok {
			outgoing, used := sr.GetPacketsToSend(nextSeq, budget, c.now)
			budget -= used
			for _, o := range outgoing {
				info := o.Info
				emit(o.Packet, &info)
			}
		}
		if su, ok := c.sendUnreliable[id]; ok {
			outgoing, used := su.GetPacketsToSend(nextSeq, budget)
			budget -= used
			for _, o := range outgoing {
				info := o.Info
				emit(o.Packet, &info)
			}
		}
	}

	if !c.pending.empty() {
		ranges := c.pending.snapshot()
		largest := ranges[len(ranges)-1].End - 1
		pkt := &wire.Ack{Sequence: nextSeq(), Ranges: ranges}
		encoded, err := wire.Encode(pkt)
		if err == nil {
			out = append(out, encoded)
			c.sentPackets[pkt.Sequence] = sentRecord{sentAt: c.now, isAck: true, largestAcked: largest}
			c.stats.recordSent()
			c.stats.recordBytesSent(len(encoded))
		}
	}

	if len(out) == 0 && c.now.Sub(c.lastSentAt) >= c.cfg.KeepAliveInterval {
		pkt := &wire.KeepAlive{Sequence: nextSeq()}
		if encoded, err := wire.Encode(pkt); err == nil {
			out = append(out, encoded)
		}
	}

	if len(out) > 0 {
		c.lastSentAt = c.now
	}

	return out
}

func (c *Connection) drainDisconnectBurst() [][]byte {
	if c.disconnectBurstRemaining <= 0 {
		return nil
	}
	c.disconnectBurstRemaining--
	pkt := &wire.Disconnect{Sequence: c.packetSequence}
	c.packetSequence++
	encoded, err := wire.Encode(pkt)
	if err != nil {
		return nil
	}
	return [][]byte{encoded}
}

// Stats accessors.
func (c *Connection) RTT() time.Duration           { return c.stats.rtt }
func (c *Connection) PacketLoss() float64          { return c.stats.packetLoss() }
func (c *Connection) BytesSentPerSec() float64     { return c.stats.bytesSentPerSec }
func (c *Connection) BytesReceivedPerSec() float64 { return c.stats.bytesReceivedPerSec }

// ChannelMemoryUsage reports per-channel byte usage, split by direction and
// reliability, for metrics exporters.
type ChannelMemoryUsage struct {
	ChannelID byte
	Direction string // "send" or "recv"
	Reliable  bool
	Bytes     int
}

// ChannelMemoryUsages snapshots every configured channel engine's current
// memory usage. The configured caps are not included.
func (c *Connection) ChannelMemoryUsages() []ChannelMemoryUsage {
	out := make([]ChannelMemoryUsage, 0, len(c.sendReliable)+len(c.recvReliable)+len(c.sendUnreliable)+len(c.recvUnreliable))
	for id, ch := range c.sendReliable {
		out = append(out, ChannelMemoryUsage{ChannelID: id, Direction: "send", Reliable: true, Bytes: ch.MemoryUsage()})
	}
	for id, ch := range c.recvReliable {
		out = append(out, ChannelMemoryUsage{ChannelID: id, Direction: "recv", Reliable: true, Bytes: ch.MemoryUsage()})
	}
	for id, ch := range c.sendUnreliable {
		out = append(out, ChannelMemoryUsage{ChannelID: id, Direction: "send", Reliable: false, Bytes: ch.MemoryUsage()})
	}
	for id, ch := range c.recvUnreliable {
		out = append(out, ChannelMemoryUsage{ChannelID: id, Direction: "recv", Reliable: false, Bytes: ch.MemoryUsage()})
	}
	return out
}
