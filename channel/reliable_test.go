package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ventosilenzioso/netrelay/channel"
	"github.com/ventosilenzioso/netrelay/wire"
)

func seqCounter() func() uint64 {
	var n uint64
	return func() uint64 { n++; return n - 1 }
}

// Simple reliable round trip, no ack, retransmit after resend_time.
func TestSendReliableSmallBatchAndRetransmit(t *testing.T) {
	send := channel.NewSendReliable(0, 100*time.Millisecond, 10000)
	require.NoError(t, send.SendMessage([]byte{1, 2, 3}))
	require.NoError(t, send.SendMessage([]byte{3, 4, 5}))

	now := time.Now()
	out, _ := send.GetPacketsToSend(seqCounter(), 10000, now)
	require.Len(t, out, 1)
	pkt := out[0].Packet.(*wire.SmallReliable)
	require.Len(t, pkt.Messages, 2)

	// No ack: nothing new to send before resend_time elapses.
	out, _ = send.GetPacketsToSend(seqCounter(), 10000, now.Add(50*time.Millisecond))
	require.Empty(t, out)

	// Past resend_time: identical retransmit.
	out, _ = send.GetPacketsToSend(seqCounter(), 10000, now.Add(150*time.Millisecond))
	require.Len(t, out, 1)
	retransmit := out[0].Packet.(*wire.SmallReliable)
	require.Equal(t, pkt.Messages, retransmit.Messages)
}

func TestReliableRoundTripDeliversOnce(t *testing.T) {
	send := channel.NewSendReliable(0, 100*time.Millisecond, 10000)
	recv := channel.NewRecvReliable(0, true, 10000)

	require.NoError(t, send.SendMessage([]byte{1, 2, 3}))
	require.NoError(t, send.SendMessage([]byte{3, 4, 5}))

	out, _ := send.GetPacketsToSend(seqCounter(), 10000, time.Now())
	pkt := out[0].Packet.(*wire.SmallReliable)
	for _, m := range pkt.Messages {
		require.NoError(t, recv.ProcessMessage(m.Payload, m.ID))
	}

	first := recv.ReceiveMessage()
	require.Equal(t, []byte{1, 2, 3}, first)
	second := recv.ReceiveMessage()
	require.Equal(t, []byte{3, 4, 5}, second)
	require.Nil(t, recv.ReceiveMessage())
}

// Scenario 2: a sliced reliable message of exactly 3 slices.
func TestSlicedReliableMessage(t *testing.T) {
	send := channel.NewSendReliable(0, 100*time.Millisecond, 10*wire.SliceSize)
	recv := channel.NewRecvReliable(0, true, 10*wire.SliceSize)

	payload := make([]byte, wire.SliceSize*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, send.SendMessage(payload))

	out, _ := send.GetPacketsToSend(seqCounter(), 1_000_000, time.Now())
	require.Len(t, out, 3)

	var assembled []byte
	for i, o := range out {
		slicePkt := o.Packet.(*wire.ReliableSlice)
		require.Equal(t, uint32(3), slicePkt.Slice.NumSlices)
		require.Equal(t, uint32(i), slicePkt.Slice.SliceIndex)
		require.NoError(t, recv.ProcessSlice(slicePkt.Slice))
		send.ProcessAck(o.Info)
	}
	assembled = recv.ReceiveMessage()
	require.Equal(t, payload, assembled)
	require.Equal(t, 0, send.MemoryUsage())
}

func TestMessageOfExactSliceSizeIsSmall(t *testing.T) {
	send := channel.NewSendReliable(0, time.Second, 10000)
	require.NoError(t, send.SendMessage(make([]byte, wire.SliceSize)))
	out, _ := send.GetPacketsToSend(seqCounter(), 1_000_000, time.Now())
	require.Len(t, out, 1)
	_, ok := out[0].Packet.(*wire.SmallReliable)
	require.True(t, ok)
}

func TestMessageOfSliceSizePlusOneProducesTwoSlices(t *testing.T) {
	send := channel.NewSendReliable(0, time.Second, 10000)
	require.NoError(t, send.SendMessage(make([]byte, wire.SliceSize+1)))
	out, _ := send.GetPacketsToSend(seqCounter(), 1_000_000, time.Now())
	require.Len(t, out, 2)
	last := out[1].Packet.(*wire.ReliableSlice)
	require.Len(t, last.Slice.Payload, 1)
}

// Scenario 3: unordered delivery fed out of order.
func TestUnorderedDeliveryOutOfOrderFeed(t *testing.T) {
	recv := channel.NewRecvReliable(0, false, 10000)
	require.NoError(t, recv.ProcessMessage([]byte("two"), 2))
	require.NoError(t, recv.ProcessMessage([]byte("one"), 1))
	require.NoError(t, recv.ProcessMessage([]byte("zero"), 0))

	require.Equal(t, []byte("zero"), recv.ReceiveMessage())
	require.Equal(t, []byte("one"), recv.ReceiveMessage())
	require.Equal(t, []byte("two"), recv.ReceiveMessage())
	require.Nil(t, recv.ReceiveMessage())
}

func TestUnorderedDeliveryAdvancesOverGap(t *testing.T) {
	recv := channel.NewRecvReliable(0, false, 10000)
	require.NoError(t, recv.ProcessMessage([]byte("zero"), 0))
	require.NoError(t, recv.ProcessMessage([]byte("two"), 2))

	require.Equal(t, []byte("zero"), recv.ReceiveMessage())
	require.Equal(t, []byte("two"), recv.ReceiveMessage())

	require.NoError(t, recv.ProcessMessage([]byte("one"), 1))
	require.Equal(t, []byte("one"), recv.ReceiveMessage())
}

// Scenario 4: memory cap fatal on both sides.
func TestMemoryCapFatal(t *testing.T) {
	send := channel.NewSendReliable(0, time.Second, 101)
	recv := channel.NewRecvReliable(0, true, 99)

	msg := make([]byte, 100)
	require.NoError(t, send.SendMessage(msg))

	err := recv.ProcessMessage(msg, 0)
	require.Error(t, err)

	err = send.SendMessage(msg)
	require.Error(t, err)
}

func TestReliableSendCapIsInclusive(t *testing.T) {
	send := channel.NewSendReliable(0, time.Second, 100)
	require.NoError(t, send.SendMessage(make([]byte, 100)))
	require.Error(t, send.SendMessage(make([]byte, 1)))
}

func TestAckReleasesMemoryAndRemovesMessage(t *testing.T) {
	send := channel.NewSendReliable(0, time.Second, 10000)
	require.NoError(t, send.SendMessage([]byte{1, 2, 3}))
	require.Equal(t, 3, send.MemoryUsage())

	send.ProcessAck(channel.OutgoingInfo{Kind: channel.InfoKindMessages, MessageIDs: []uint64{0}})
	require.Equal(t, 0, send.MemoryUsage())
	require.Equal(t, 0, send.PendingCount())

	// Idempotent: a duplicate ack is a silent no-op.
	send.ProcessAck(channel.OutgoingInfo{Kind: channel.InfoKindMessages, MessageIDs: []uint64{0}})
}

func TestDeliveredMessageRefusesReprocessing(t *testing.T) {
	recv := channel.NewRecvReliable(0, true, 10000)
	require.NoError(t, recv.ProcessMessage([]byte("a"), 0))
	require.NotNil(t, recv.ReceiveMessage())

	before := recv.MemoryUsage()
	require.NoError(t, recv.ProcessMessage([]byte("stale"), 0))
	require.Equal(t, before, recv.MemoryUsage())
}

func TestSmallBatchSplitsAtSliceSizeThreshold(t *testing.T) {
	send := channel.NewSendReliable(0, time.Second, 1_000_000)
	big := make([]byte, wire.SliceSize-64)
	require.NoError(t, send.SendMessage(big))
	require.NoError(t, send.SendMessage(big))

	out, _ := send.GetPacketsToSend(seqCounter(), 1_000_000, time.Now())
	require.GreaterOrEqual(t, len(out), 2)
}
