package channel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ventosilenzioso/netrelay/channel"
	"github.com/ventosilenzioso/netrelay/wire"
)

func TestUnreliableSmallRoundTrip(t *testing.T) {
	send := channel.NewSendUnreliable(1, 10000)
	recv := channel.NewRecvUnreliable(1, 10000)

	require.True(t, send.SendMessage([]byte("a")))
	require.True(t, send.SendMessage([]byte("b")))

	out, _ := send.GetPacketsToSend(seqCounter(), 10000)
	require.Len(t, out, 1)
	pkt := out[0].Packet.(*wire.SmallUnreliable)
	for _, p := range pkt.Payloads {
		recv.ProcessMessage(p)
	}
	require.Equal(t, []byte("a"), recv.ReceiveMessage())
	require.Equal(t, []byte("b"), recv.ReceiveMessage())
}

func TestUnreliableSlicedRoundTrip(t *testing.T) {
	send := channel.NewSendUnreliable(1, 1_000_000)
	recv := channel.NewRecvUnreliable(1, 1_000_000)

	payload := make([]byte, wire.SliceSize*2+10)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	require.True(t, send.SendMessage(payload))

	out, _ := send.GetPacketsToSend(seqCounter(), 1_000_000)
	require.Len(t, out, 3)

	now := time.Now()
	for _, o := range out {
		s := o.Packet.(*wire.UnreliableSlice)
		require.NoError(t, recv.ProcessSlice(s.Slice, now))
	}
	require.Equal(t, payload, recv.ReceiveMessage())
}

func TestUnreliableDropsOverCap(t *testing.T) {
	send := channel.NewSendUnreliable(1, 4)
	require.True(t, send.SendMessage([]byte("ab")))
	require.False(t, send.SendMessage([]byte("abcd")))
}

func TestUnreliableSliceSweepDiscardsStale(t *testing.T) {
	recv := channel.NewRecvUnreliable(1, 1_000_000)
	now := time.Now()
	require.NoError(t, recv.ProcessSlice(wire.Slice{MessageID: 1, SliceIndex: 0, NumSlices: 2, Payload: make([]byte, wire.SliceSize)}, now))
	require.Greater(t, recv.MemoryUsage(), 0)

	recv.Sweep(now.Add(channel.DiscardAfter + time.Millisecond))
	require.Equal(t, 0, recv.MemoryUsage())
}

func TestReceiveLastMessageDiscardsOlder(t *testing.T) {
	recv := channel.NewRecvUnreliable(1, 10000)
	recv.ProcessMessage([]byte("old1"))
	recv.ProcessMessage([]byte("old2"))
	recv.ProcessMessage([]byte("newest"))

	require.Equal(t, []byte("newest"), recv.ReceiveLastMessage())
	require.Equal(t, 0, recv.MemoryUsage())
	require.Nil(t, recv.ReceiveMessage())
}
