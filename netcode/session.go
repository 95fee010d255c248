package netcode

// SessionCodec wraps conn.Connection's plaintext datagrams in encrypted
// Payload packets once a handshake has completed, using the keys it
// negotiated. One side's outgoing key is the other's incoming key, so a
// client and server SessionCodec for the same connection use swapped
// send/receive keys.
type SessionCodec struct {
	protocolID uint64
	sendKey    [KeyBytes]byte
	recvKey    [KeyBytes]byte

	sendSequence uint64
	replay       *ReplayProtection
}

// NewSessionCodec builds a codec that seals under sendKey and opens under
// recvKey. A client passes (clientToServerKey, serverToClientKey); a server
// passes the same two keys swapped.
func NewSessionCodec(protocolID uint64, sendKey, recvKey [KeyBytes]byte) *SessionCodec {
	return &SessionCodec{
		protocolID: protocolID,
		sendKey:    sendKey,
		recvKey:    recvKey,
		replay:     NewReplayProtection(),
	}
}

// SealPayload encrypts one plaintext datagram (typically the output of
// conn.Connection.GetPacketsToSend) as a Payload packet.
func (s *SessionCodec) SealPayload(plain []byte) ([]byte, error) {
	seq := s.sendSequence
	s.sendSequence++
	return EncodeSessionPacket(PacketPayload, seq, s.protocolID, plain, s.sendKey)
}

// SealKeepAlive encrypts an empty KeepAlive packet, used to hold the
// handshake/session open when conn.Connection has nothing to send.
func (s *SessionCodec) SealKeepAlive() ([]byte, error) {
	seq := s.sendSequence
	s.sendSequence++
	return EncodeSessionPacket(PacketKeepAlive, seq, s.protocolID, nil, s.sendKey)
}

// SealDisconnect encrypts a Disconnect packet.
func (s *SessionCodec) SealDisconnect() ([]byte, error) {
	seq := s.sendSequence
	s.sendSequence++
	return EncodeSessionPacket(PacketDisconnect, seq, s.protocolID, nil, s.sendKey)
}

// OpenPayload authenticates and decrypts one received session packet,
// returning the plaintext for a Payload (to be fed to
// conn.Connection.ProcessPacket) or nil for KeepAlive/Disconnect, whose
// arrival alone is the signal.
func (s *SessionCodec) OpenPayload(b []byte) (PacketType, []byte, error) {
	kind, _, plain, err := DecodeSessionPacket(b, s.protocolID, s.recvKey, s.replay)
	if err != nil {
		return 0, nil, err
	}
	return kind, plain, nil
}
