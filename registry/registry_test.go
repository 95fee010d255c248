package registry_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ventosilenzioso/netrelay/channel"
	"github.com/ventosilenzioso/netrelay/conn"
	"github.com/ventosilenzioso/netrelay/netcode"
	"github.com/ventosilenzioso/netrelay/registry"
)

func testConnConfig() conn.Config {
	channels := []channel.Config{
		{ChannelID: 0, Kind: channel.KindReliableOrdered, ResendTime: 100 * time.Millisecond, MaxMemoryUsageBytes: 1 << 20},
	}
	return conn.Config{SendChannels: channels, RecvChannels: channels, Logger: logrus.StandardLogger()}
}

func newTestRegistry(t *testing.T) (*registry.Registry, [netcode.KeyBytes]byte) {
	t.Helper()
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)
	reg, err := registry.New(1, privateKey, 10, 5*time.Second, testConnConfig, logrus.StandardLogger())
	require.NoError(t, err)
	return reg, privateKey
}

func TestRegistryHandshakeThenEstablishedRoundTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	now := time.Now()

	var userData [netcode.UserDataBytes]byte
	token, err := reg.IssueConnectToken(now, time.Minute, 30, []string{"127.0.0.1:40000"}, userData)
	require.NoError(t, err)

	client := netcode.NewClientHandshake(token, now)
	addr := registry.Addr("127.0.0.1:12345")

	reqBytes := client.PacketToSend(now)
	require.NotNil(t, reqBytes)

	challengeBytes := reg.HandlePacket(addr, reqBytes, now)
	require.NotNil(t, challengeBytes)
	require.NoError(t, client.ProcessPacket(challengeBytes, now))

	responseBytes := client.PacketToSend(now)
	require.NotNil(t, responseBytes)
	require.Nil(t, reg.HandlePacket(addr, responseBytes, now))

	require.Equal(t, 1, reg.ConnectionCount())

	id, ok := reg.ClientID(addr)
	require.True(t, ok)
	require.NotEqual(t, uuid.UUID{}, id)

	serverConn, ok := reg.Connection(addr)
	require.True(t, ok)
	require.NoError(t, serverConn.SendMessage(0, []byte("hi client")))

	out := reg.Tick(50*time.Millisecond, now)
	require.NotEmpty(t, out)

	clientToServer, serverToClient := client.SessionKeys()
	clientCodec := netcode.NewSessionCodec(1, clientToServer, serverToClient)

	var delivered []byte
	for _, o := range out {
		require.Equal(t, addr, o.Addr)
		kind, plain, err := clientCodec.OpenPayload(o.Data)
		require.NoError(t, err)
		if kind == netcode.PacketPayload {
			delivered = plain
		}
	}
	require.NotNil(t, delivered)
}

func TestRegistryRejectsWhenFull(t *testing.T) {
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)
	reg, err := registry.New(1, privateKey, 0, 5*time.Second, testConnConfig, logrus.StandardLogger())
	require.NoError(t, err)

	now := time.Now()
	var userData [netcode.UserDataBytes]byte
	token, err := reg.IssueConnectToken(now, time.Minute, 30, []string{"127.0.0.1:40000"}, userData)
	require.NoError(t, err)

	client := netcode.NewClientHandshake(token, now)
	reqBytes := client.PacketToSend(now)

	reply := reg.HandlePacket("addr", reqBytes, now)
	require.NotNil(t, reply)
	require.Equal(t, netcode.EncodeConnectionDenied(), reply)
}

func TestRegistryPendingHandshakeTimesOut(t *testing.T) {
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)
	reg, err := registry.New(1, privateKey, 10, 100*time.Millisecond, testConnConfig, logrus.StandardLogger())
	require.NoError(t, err)

	now := time.Now()
	var userData [netcode.UserDataBytes]byte
	token, err := reg.IssueConnectToken(now, time.Minute, 30, []string{"127.0.0.1:40000"}, userData)
	require.NoError(t, err)

	client := netcode.NewClientHandshake(token, now)
	reqBytes := client.PacketToSend(now)
	reg.HandlePacket("addr", reqBytes, now)

	later := now.Add(time.Second)
	out := reg.Tick(time.Second, later)
	require.Empty(t, out)
	require.Equal(t, 0, reg.ConnectionCount())
}
