package netcode

import (
	"time"

	"github.com/ventosilenzioso/netrelay/neterr"
)

// ClientState is the client side of the handshake state machine.
type ClientState int

const (
	ClientStateSendingConnectionRequest ClientState = iota
	ClientStateSendingConnectionResponse
	ClientStateConnected
	ClientStateConnectionDenied
	ClientStateConnectionTimedOut
)

// requestResendInterval is how often an unanswered ConnectionRequest or
// Response is retransmitted.
const requestResendInterval = 100 * time.Millisecond

// ClientHandshake drives one client's side of the handshake from a
// ConnectToken to an established session. Once Connected, the caller
// switches to exchanging Payload packets wrapping conn.Connection traffic.
type ClientHandshake struct {
	token *ConnectToken
	state ClientState

	challengeSequence uint64
	challengeData     [ChallengeTokenBytes]byte

	lastSendAt    time.Time
	lastReceiveAt time.Time

	replay *ReplayProtection
}

// NewClientHandshake starts a handshake attempt using token.
func NewClientHandshake(token *ConnectToken, now time.Time) *ClientHandshake {
	return &ClientHandshake{
		token:         token,
		state:         ClientStateSendingConnectionRequest,
		lastReceiveAt: now,
		replay:        NewReplayProtection(),
	}
}

func (c *ClientHandshake) State() ClientState { return c.state }
func (c *ClientHandshake) IsConnected() bool  { return c.state == ClientStateConnected }

// SessionKeys returns the AEAD keys negotiated via the connect token, once
// Connected.
func (c *ClientHandshake) SessionKeys() (clientToServer, serverToClient [KeyBytes]byte) {
	return c.token.ClientToServerKey, c.token.ServerToClientKey
}

// PacketToSend returns the next handshake packet to transmit, or nil if
// nothing is due yet (resend timer not elapsed, or handshake finished).
func (c *ClientHandshake) PacketToSend(now time.Time) []byte {
	switch c.state {
	case ClientStateSendingConnectionRequest:
		if now.Sub(c.lastSendAt) < requestResendInterval && !c.lastSendAt.IsZero() {
			return nil
		}
		c.lastSendAt = now
		return EncodeConnectionRequest(&ConnectionRequest{
			VersionInfo:     versionInfo,
			ProtocolID:      c.token.ProtocolID,
			ExpireTimestamp: c.token.ExpireTimestamp,
			XNonce:          c.token.XNonce,
			TokenData:       c.token.PrivateData,
		})
	case ClientStateSendingConnectionResponse:
		if now.Sub(c.lastSendAt) < requestResendInterval && !c.lastSendAt.IsZero() {
			return nil
		}
		c.lastSendAt = now
		// A Response packet echoes the server's challenge data unchanged;
		// the server decrypts it with the same challenge key it sealed it
		// with and compares the embedded client id.
		pkt, err := EncodeSessionPacket(PacketResponse, c.challengeSequence, c.token.ProtocolID, c.challengeData[:], c.token.ClientToServerKey)
		if err != nil {
			return nil
		}
		return pkt
	default:
		return nil
	}
}

// ProcessPacket feeds one received datagram into the handshake. Once
// Connected, subsequent Payload packets should instead be routed straight
// to the conn.Connection this handshake is guarding.
func (c *ClientHandshake) ProcessPacket(b []byte, now time.Time) error {
	if len(b) == 0 {
		return neterr.New(neterr.KindPacketDeserialization, "empty handshake packet")
	}

	switch PacketType(b[0]) {
	case PacketConnectionDenied:
		c.state = ClientStateConnectionDenied
		return neterr.New(neterr.KindNotInHostList, "connection denied by server")
	case PacketChallenge:
		if c.state != ClientStateSendingConnectionRequest {
			return nil
		}
		kind, sequence, plain, err := DecodeSessionPacket(b, c.token.ProtocolID, c.token.ServerToClientKey, nil)
		if err != nil {
			return err
		}
		if kind != PacketChallenge {
			return neterr.New(neterr.KindPacketDeserialization, "expected challenge packet")
		}
		var data [ChallengeTokenBytes]byte
		copy(data[:], plain)
		c.challengeSequence = sequence
		c.challengeData = data
		c.state = ClientStateSendingConnectionResponse
		c.lastSendAt = time.Time{}
		c.lastReceiveAt = now
		return nil
	case PacketKeepAlive, PacketPayload:
		if _, _, _, err := DecodeSessionPacket(b, c.token.ProtocolID, c.token.ServerToClientKey, c.replay); err != nil {
			return err
		}
		if c.state == ClientStateSendingConnectionResponse {
			c.state = ClientStateConnected
		}
		c.lastReceiveAt = now
		return nil
	default:
		return nil
	}
}

// CheckTimeout reports whether the handshake has been waiting for a
// server reply longer than timeout, transitioning to TimedOut if so.
func (c *ClientHandshake) CheckTimeout(now time.Time, timeout time.Duration) bool {
	if c.state == ClientStateConnected || c.state == ClientStateConnectionDenied {
		return false
	}
	if now.Sub(c.lastReceiveAt) >= timeout {
		c.state = ClientStateConnectionTimedOut
		return true
	}
	return false
}
