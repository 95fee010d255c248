package netcode

import (
	"crypto/rand"
	"time"

	"github.com/ventosilenzioso/netrelay/neterr"
)

// ServerState mirrors ClientState from the server's perspective for one
// in-flight handshake attempt.
type ServerState int

const (
	ServerStateSendingChallenge ServerState = iota
	ServerStateConnected
	ServerStateTimedOut
)

// ServerSideHandshake tracks one remote client's handshake from the
// moment its ConnectionRequest is accepted through session establishment.
// package registry owns one of these per pending/established client,
// keyed by the socket address the ConnectionRequest arrived from.
type ServerSideHandshake struct {
	state ServerState

	clientID   uint64
	clientToServerKey [KeyBytes]byte
	serverToClientKey [KeyBytes]byte
	userData   [UserDataBytes]byte

	challengeKey      [KeyBytes]byte
	challengeSequence uint64
	challengeData     [ChallengeTokenBytes]byte

	protocolID uint64

	lastSendAt    time.Time
	lastReceiveAt time.Time

	replay *ReplayProtection
}

// AcceptConnectionRequest validates req against privateKey (opening its
// embedded private token) and, on success, returns a fresh handshake
// primed to challenge that client.
func AcceptConnectionRequest(req *ConnectionRequest, now time.Time, privateKey [KeyBytes]byte, challengeSequence uint64, challengeKey [KeyBytes]byte) (*ServerSideHandshake, error) {
	if uint64(now.Unix()) >= req.ExpireTimestamp {
		return nil, neterr.New(neterr.KindTokenExpired, "connect token expired")
	}

	private, err := decodePrivateToken(req.TokenData[:], req.ProtocolID, req.ExpireTimestamp, req.XNonce, privateKey)
	if err != nil {
		return nil, err
	}

	h := &ServerSideHandshake{
		state:             ServerStateSendingChallenge,
		clientID:          private.ClientID,
		clientToServerKey: private.ClientToServerKey,
		serverToClientKey: private.ServerToClientKey,
		userData:          private.UserData,
		challengeKey:      challengeKey,
		challengeSequence: challengeSequence,
		protocolID:        req.ProtocolID,
		lastReceiveAt:     now,
		replay:            NewReplayProtection(),
	}

	token, err := SealChallengeToken(&ChallengeToken{ClientID: private.ClientID, UserData: private.UserData}, challengeSequence, challengeKey)
	if err != nil {
		return nil, err
	}
	h.challengeData = token

	return h, nil
}

func (h *ServerSideHandshake) ClientID() uint64 { return h.clientID }
func (h *ServerSideHandshake) State() ServerState { return h.state }
func (h *ServerSideHandshake) IsConnected() bool { return h.state == ServerStateConnected }

// SessionKeys returns the AEAD keys this client negotiated via its
// connect token.
func (h *ServerSideHandshake) SessionKeys() (clientToServer, serverToClient [KeyBytes]byte) {
	return h.clientToServerKey, h.serverToClientKey
}

// PacketToSend returns the Challenge packet to (re)transmit while the
// client hasn't yet responded, or nil once connected.
func (h *ServerSideHandshake) PacketToSend(now time.Time) []byte {
	if h.state != ServerStateSendingChallenge {
		return nil
	}
	if !h.lastSendAt.IsZero() && now.Sub(h.lastSendAt) < requestResendInterval {
		return nil
	}
	h.lastSendAt = now
	pkt, err := EncodeSessionPacket(PacketChallenge, h.challengeSequence, h.protocolID, h.challengeData[:], h.serverToClientKey)
	if err != nil {
		return nil
	}
	return pkt
}

// ProcessPacket feeds one datagram from this client into the handshake.
func (h *ServerSideHandshake) ProcessPacket(b []byte, now time.Time) error {
	if len(b) == 0 {
		return neterr.New(neterr.KindPacketDeserialization, "empty handshake packet")
	}

	switch PacketType(b[0]) {
	case PacketResponse:
		if h.state != ServerStateSendingChallenge {
			return nil
		}
		_, sequence, plain, err := DecodeSessionPacket(b, h.protocolID, h.clientToServerKey, nil)
		if err != nil {
			return err
		}
		if sequence != h.challengeSequence {
			return neterr.New(neterr.KindPacketDeserialization, "response echoes wrong challenge sequence")
		}
		var data [ChallengeTokenBytes]byte
		copy(data[:], plain)
		token, err := OpenChallengeToken(data, h.challengeSequence, h.challengeKey)
		if err != nil {
			return err
		}
		if token.ClientID != h.clientID {
			return neterr.New(neterr.KindPacketDeserialization, "response client id mismatch")
		}
		h.state = ServerStateConnected
		h.lastReceiveAt = now
		return nil
	case PacketKeepAlive, PacketPayload:
		if _, _, _, err := DecodeSessionPacket(b, h.protocolID, h.clientToServerKey, h.replay); err != nil {
			return err
		}
		h.lastReceiveAt = now
		return nil
	default:
		return nil
	}
}

// CheckTimeout reports whether this handshake attempt has gone silent
// for longer than timeout.
func (h *ServerSideHandshake) CheckTimeout(now time.Time, timeout time.Duration) bool {
	if h.state == ServerStateTimedOut {
		return true
	}
	if now.Sub(h.lastReceiveAt) >= timeout {
		h.state = ServerStateTimedOut
		return true
	}
	return false
}

// RandomKey generates a fresh random AEAD key, used for per-server
// challenge keys and per-token session keys alike.
func RandomKey() ([KeyBytes]byte, error) {
	var key [KeyBytes]byte
	_, err := rand.Read(key[:])
	return key, err
}
