package netcode_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ventosilenzioso/netrelay/netcode"
)

func TestConnectTokenGenerateAndOpen(t *testing.T) {
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)

	now := time.Now()
	var userData [netcode.UserDataBytes]byte
	copy(userData[:], "matchmaking-ticket")

	token, err := netcode.GenerateConnectToken(now, 0xC0FFEE, time.Minute, 42, 15, []string{"127.0.0.1:40000"}, userData, privateKey)
	require.NoError(t, err)
	require.Equal(t, uint64(42), token.ClientID)

	private, err := netcode.OpenPrivateToken(token, now.Add(time.Second), privateKey)
	require.NoError(t, err)
	require.Equal(t, uint64(42), private.ClientID)
	require.Equal(t, []string{"127.0.0.1:40000"}, private.ServerAddresses)
	require.Equal(t, token.ClientToServerKey, private.ClientToServerKey)
	require.Equal(t, token.ServerToClientKey, private.ServerToClientKey)
}

func TestConnectTokenRejectsExpired(t *testing.T) {
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)
	now := time.Now()
	var userData [netcode.UserDataBytes]byte

	token, err := netcode.GenerateConnectToken(now, 1, time.Second, 1, 5, []string{"127.0.0.1:1"}, userData, privateKey)
	require.NoError(t, err)

	_, err = netcode.OpenPrivateToken(token, now.Add(time.Hour), privateKey)
	require.Error(t, err)
}

func TestConnectTokenRejectsWrongPrivateKey(t *testing.T) {
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)
	wrongKey, err := netcode.RandomKey()
	require.NoError(t, err)
	now := time.Now()
	var userData [netcode.UserDataBytes]byte

	token, err := netcode.GenerateConnectToken(now, 1, time.Minute, 1, 5, []string{"127.0.0.1:1"}, userData, privateKey)
	require.NoError(t, err)

	_, err = netcode.OpenPrivateToken(token, now, wrongKey)
	require.Error(t, err)
}

func TestFullHandshakeEstablishesSession(t *testing.T) {
	privateKey, err := netcode.RandomKey()
	require.NoError(t, err)
	challengeKey, err := netcode.RandomKey()
	require.NoError(t, err)

	now := time.Now()
	var userData [netcode.UserDataBytes]byte
	copy(userData[:], "hello")

	token, err := netcode.GenerateConnectToken(now, 7, time.Minute, 99, 10, []string{"127.0.0.1:40000"}, userData, privateKey)
	require.NoError(t, err)

	client := netcode.NewClientHandshake(token, now)

	reqBytes := client.PacketToSend(now)
	require.NotNil(t, reqBytes)
	req, err := netcode.DecodeConnectionRequest(reqBytes)
	require.NoError(t, err)

	server, err := netcode.AcceptConnectionRequest(req, now, privateKey, 0, challengeKey)
	require.NoError(t, err)
	require.Equal(t, uint64(99), server.ClientID())

	challengeBytes := server.PacketToSend(now)
	require.NotNil(t, challengeBytes)

	require.NoError(t, client.ProcessPacket(challengeBytes, now))
	require.Equal(t, netcode.ClientStateSendingConnectionResponse, client.State())

	responseBytes := client.PacketToSend(now)
	require.NotNil(t, responseBytes)

	require.NoError(t, server.ProcessPacket(responseBytes, now))
	require.True(t, server.IsConnected())

	clientToServer, serverToClient := client.SessionKeys()
	serverClientToServer, serverServerToClient := server.SessionKeys()
	require.Equal(t, clientToServer, serverClientToServer)
	require.Equal(t, serverToClient, serverServerToClient)

	// Server confirms the session with a KeepAlive; the client transitions
	// to Connected on receipt.
	serverCodec := netcode.NewSessionCodec(7, serverToClient, clientToServer)
	keepAlive, err := serverCodec.SealKeepAlive()
	require.NoError(t, err)
	require.NoError(t, client.ProcessPacket(keepAlive, now))
	require.True(t, client.IsConnected())
}

func TestSessionCodecRoundTripsPayload(t *testing.T) {
	clientToServer, err := netcode.RandomKey()
	require.NoError(t, err)
	serverToClient, err := netcode.RandomKey()
	require.NoError(t, err)

	clientCodec := netcode.NewSessionCodec(5, clientToServer, serverToClient)
	serverCodec := netcode.NewSessionCodec(5, serverToClient, clientToServer)

	sealed, err := clientCodec.SealPayload([]byte("connection-bytes"))
	require.NoError(t, err)

	kind, plain, err := serverCodec.OpenPayload(sealed)
	require.NoError(t, err)
	require.Equal(t, netcode.PacketPayload, kind)
	require.Equal(t, []byte("connection-bytes"), plain)
}

func TestSessionCodecRejectsReplayedSequence(t *testing.T) {
	sendKey, err := netcode.RandomKey()
	require.NoError(t, err)
	recvKey, err := netcode.RandomKey()
	require.NoError(t, err)

	sender := netcode.NewSessionCodec(1, sendKey, recvKey)
	receiver := netcode.NewSessionCodec(1, recvKey, sendKey)

	sealed, err := sender.SealPayload([]byte("x"))
	require.NoError(t, err)

	_, _, err = receiver.OpenPayload(sealed)
	require.NoError(t, err)

	_, _, err = receiver.OpenPayload(sealed)
	require.Error(t, err)
}

func TestReplayProtectionWindow(t *testing.T) {
	r := netcode.NewReplayProtection()
	require.False(t, r.AlreadyReceived(0))
	r.MarkReceived(0)
	require.True(t, r.AlreadyReceived(0))

	r.MarkReceived(netcode.ReplayProtectionBufferSize * 2)
	require.True(t, r.AlreadyReceived(0))
}
