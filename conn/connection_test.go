package conn_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ventosilenzioso/netrelay/channel"
	"github.com/ventosilenzioso/netrelay/conn"
	"github.com/ventosilenzioso/netrelay/neterr"
	"github.com/ventosilenzioso/netrelay/wire"
)

func symmetricConfig() conn.Config {
	channels := []channel.Config{
		{ChannelID: 0, Kind: channel.KindReliableOrdered, ResendTime: 100 * time.Millisecond, MaxMemoryUsageBytes: 1 << 20},
		{ChannelID: 1, Kind: channel.KindUnreliable, MaxMemoryUsageBytes: 1 << 20},
	}
	return conn.Config{
		SendChannels:          channels,
		RecvChannels:          channels,
		AvailableBytesPerTick: 16 * 1024,
		TimeoutDuration:       10 * time.Second,
		KeepAliveInterval:     time.Second,
	}
}

func TestConnectionReliableRoundTrip(t *testing.T) {
	now := time.Now()

	a, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	b, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	a.MarkConnected(now)
	b.MarkConnected(now)

	require.NoError(t, a.SendMessage(0, []byte("hello")))

	pkts := a.GetPacketsToSend()
	require.Len(t, pkts, 1)

	for _, p := range pkts {
		require.NoError(t, b.ProcessPacket(p))
	}
	require.Equal(t, []byte("hello"), b.ReceiveMessage(0))
	require.Nil(t, b.ReceiveMessage(0))

	// b now owes a an Ack.
	ackPkts := b.GetPacketsToSend()
	require.Len(t, ackPkts, 1)
	for _, p := range ackPkts {
		require.NoError(t, a.ProcessPacket(p))
	}

	// Nothing left to retransmit: the message was acked and removed. The
	// only packet left is a's own Ack for the Ack packet b sent.
	a.Update(200 * time.Millisecond)
	follow := a.GetPacketsToSend()
	require.Len(t, follow, 1)
	followPkt, err := wire.Decode(follow[0])
	require.NoError(t, err)
	_, isAck := followPkt.(*wire.Ack)
	require.True(t, isAck)
}

func TestConnectionUnreliableRoundTrip(t *testing.T) {
	now := time.Now()
	a, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	b, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	a.MarkConnected(now)
	b.MarkConnected(now)

	require.NoError(t, a.SendMessage(1, []byte("snapshot")))
	pkts := a.GetPacketsToSend()
	require.Len(t, pkts, 1)
	for _, p := range pkts {
		require.NoError(t, b.ProcessPacket(p))
	}
	require.Equal(t, []byte("snapshot"), b.ReceiveMessage(1))
}

func TestConnectionTimeoutDisconnects(t *testing.T) {
	now := time.Now()
	cfg := symmetricConfig()
	cfg.TimeoutDuration = time.Second
	c, err := conn.New(cfg)
	require.NoError(t, err)
	c.MarkConnected(now)

	c.Update(2 * time.Second)

	require.True(t, c.IsDisconnected())
	var nerr *neterr.Error
	require.True(t, errors.As(c.DisconnectReason(), &nerr))
	require.Equal(t, neterr.KindTimeout, nerr.Kind)
}

func TestConnectionInvalidChannelIdIsFatal(t *testing.T) {
	now := time.Now()
	c, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	c.MarkConnected(now)

	other, err := conn.New(conn.Config{
		SendChannels: []channel.Config{
			{ChannelID: 9, Kind: channel.KindReliableOrdered, ResendTime: 100 * time.Millisecond, MaxMemoryUsageBytes: 1 << 20},
		},
		RecvChannels: []channel.Config{
			{ChannelID: 9, Kind: channel.KindReliableOrdered, ResendTime: 100 * time.Millisecond, MaxMemoryUsageBytes: 1 << 20},
		},
	})
	require.NoError(t, err)
	other.MarkConnected(now)
	require.NoError(t, other.SendMessage(9, []byte("x")))
	pkts := other.GetPacketsToSend()
	require.Len(t, pkts, 1)

	err = c.ProcessPacket(pkts[0])
	require.Error(t, err)
	require.True(t, c.IsDisconnected())

	var nerr *neterr.Error
	require.True(t, errors.As(c.DisconnectReason(), &nerr))
	require.Equal(t, neterr.KindReceivedInvalidChannelId, nerr.Kind)
}

func TestConnectionMalformedPacketIsFatal(t *testing.T) {
	now := time.Now()
	c, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	c.MarkConnected(now)

	err = c.ProcessPacket(nil)
	require.Error(t, err)
	require.True(t, c.IsDisconnected())

	var nerr *neterr.Error
	require.True(t, errors.As(c.DisconnectReason(), &nerr))
	require.Equal(t, neterr.KindPacketDeserialization, nerr.Kind)
}

func TestConnectionSendToUnknownChannelReturnsError(t *testing.T) {
	now := time.Now()
	c, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	c.MarkConnected(now)

	require.Error(t, c.SendMessage(42, []byte("x")))
	require.False(t, c.IsDisconnected())
}

func TestConnectionDisconnectEmitsBurst(t *testing.T) {
	now := time.Now()
	c, err := conn.New(symmetricConfig())
	require.NoError(t, err)
	c.MarkConnected(now)

	c.Disconnect()
	require.True(t, c.IsDisconnected())

	first := c.GetPacketsToSend()
	require.Len(t, first, 1)

	// ProcessPacket and SendMessage become no-ops once disconnected.
	require.NoError(t, c.ProcessPacket([]byte{0xff}))
	require.NoError(t, c.SendMessage(0, []byte("x")))
}

func TestConnectionKeepAliveEmittedWhenIdle(t *testing.T) {
	now := time.Now()
	cfg := symmetricConfig()
	cfg.KeepAliveInterval = 10 * time.Millisecond
	c, err := conn.New(cfg)
	require.NoError(t, err)
	c.MarkConnected(now)

	c.Update(20 * time.Millisecond)
	pkts := c.GetPacketsToSend()
	require.Len(t, pkts, 1)
}
