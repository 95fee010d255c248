package netcode

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ventosilenzioso/netrelay/neterr"
	"github.com/ventosilenzioso/netrelay/wire"
)

// PacketType discriminates the handshake/session packet kinds exchanged
// before and alongside the channel-multiplexed connection traffic.
type PacketType byte

const (
	PacketConnectionRequest PacketType = iota
	PacketConnectionDenied
	PacketChallenge
	PacketResponse
	PacketKeepAlive
	PacketPayload
	PacketDisconnect
)

func (t PacketType) replayProtected() bool {
	switch t {
	case PacketKeepAlive, PacketPayload, PacketDisconnect:
		return true
	default:
		return false
	}
}

// ConnectionRequest is sent unencrypted: it carries version/protocol
// fields in the clear plus the server-sealed token blob the recipient
// cannot read without the shared private key.
type ConnectionRequest struct {
	VersionInfo     [13]byte
	ProtocolID      uint64
	ExpireTimestamp uint64
	XNonce          [ConnectTokenXNonceBytes]byte
	TokenData       [ConnectTokenPrivateBytes]byte
}

type challengeOrResponse struct {
	TokenSequence uint64
	TokenData     [ChallengeTokenBytes]byte
}

// ChallengeToken is the plaintext sealed inside a Challenge/Response
// packet's TokenData, round-tripped by the client unchanged.
type ChallengeToken struct {
	ClientID uint64
	UserData [UserDataBytes]byte
}

func (t *ChallengeToken) marshal() []byte {
	w := wire.NewWriter()
	w.Varint(t.ClientID)
	w.Bytes(t.UserData[:])
	return w.Finish()
}

func unmarshalChallengeToken(b []byte) (*ChallengeToken, error) {
	r := wire.NewReader(b)
	clientID, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "challenge token client id")
	}
	userData, err := r.Bytes(UserDataBytes)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "challenge token user data")
	}
	out := &ChallengeToken{ClientID: clientID}
	copy(out.UserData[:], userData)
	return out, nil
}

// SealChallengeToken encrypts token under challengeKey, keyed by sequence
// (the server's own internal challenge-token counter, distinct from the
// connection's packet sequence).
func SealChallengeToken(token *ChallengeToken, sequence uint64, challengeKey [KeyBytes]byte) ([ChallengeTokenBytes]byte, error) {
	var out [ChallengeTokenBytes]byte
	aead, err := chacha20poly1305.New(challengeKey[:])
	if err != nil {
		return out, err
	}
	plain := token.marshal()
	if len(plain) > challengeTokenPlainBytes {
		return out, neterr.New(neterr.KindPacketSerialization, "challenge token too large")
	}
	padded := make([]byte, challengeTokenPlainBytes)
	copy(padded, plain)

	nonce := sequenceNonce(sequence)
	sealed := aead.Seal(nil, nonce, padded, nil)
	copy(out[:], sealed)
	return out, nil
}

// OpenChallengeToken decrypts a Challenge/Response packet's TokenData.
func OpenChallengeToken(data [ChallengeTokenBytes]byte, sequence uint64, challengeKey [KeyBytes]byte) (*ChallengeToken, error) {
	aead, err := chacha20poly1305.New(challengeKey[:])
	if err != nil {
		return nil, err
	}
	nonce := sequenceNonce(sequence)
	plain, err := aead.Open(nil, nonce, data[:], nil)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "challenge token authentication failed")
	}
	return unmarshalChallengeToken(plain)
}

// sequenceNonce derives a 12-byte AEAD nonce from a 64-bit sequence, left
// zero-padded.
func sequenceNonce(sequence uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], sequence)
	return nonce
}

// additionalData builds the AEAD additional-data for session packets:
// the 13-byte version tag, protocol id, and the packet's prefix byte, so
// a sealed packet cannot be replayed as a different type or protocol.
func additionalData(prefixByte byte, protocolID uint64) []byte {
	buf := make([]byte, 0, 13+8+1)
	buf = append(buf, versionInfo[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, protocolID)
	buf = append(buf, prefixByte)
	return buf
}

// EncodeConnectionRequest serializes req without encryption: the token it
// carries is already sealed.
func EncodeConnectionRequest(req *ConnectionRequest) []byte {
	w := wire.NewWriter()
	w.Byte(byte(PacketConnectionRequest))
	w.Bytes(req.VersionInfo[:])
	w.Varint(req.ProtocolID)
	w.Varint(req.ExpireTimestamp)
	w.Bytes(req.XNonce[:])
	w.Bytes(req.TokenData[:])
	return w.Finish()
}

// EncodeConnectionDenied builds the packet a server sends when it rejects
// a ConnectionRequest (expired, unauthenticable, or the server is full).
// It carries no payload and is not encrypted: at this point in the
// handshake no session key has been established yet.
func EncodeConnectionDenied() []byte {
	return []byte{byte(PacketConnectionDenied)}
}

// DecodeConnectionRequest parses an unencrypted ConnectionRequest packet,
// rejecting a version tag that doesn't match this build's.
func DecodeConnectionRequest(b []byte) (*ConnectionRequest, error) {
	if len(b) == 0 || PacketType(b[0]) != PacketConnectionRequest {
		return nil, neterr.New(neterr.KindPacketDeserialization, "not a connection request")
	}
	r := wire.NewReader(b[1:])
	version, err := r.Bytes(13)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "connection request version")
	}
	var req ConnectionRequest
	copy(req.VersionInfo[:], version)
	if req.VersionInfo != versionInfo {
		return nil, neterr.New(neterr.KindInvalidVersion, "connection request version mismatch")
	}
	req.ProtocolID, err = r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "connection request protocol id")
	}
	req.ExpireTimestamp, err = r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "connection request expire timestamp")
	}
	xnonce, err := r.Bytes(ConnectTokenXNonceBytes)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "connection request xnonce")
	}
	copy(req.XNonce[:], xnonce)
	tokenData, err := r.Bytes(ConnectTokenPrivateBytes)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "connection request token data")
	}
	copy(req.TokenData[:], tokenData)
	return &req, nil
}

// sequenceBytesRequired returns the number of little-endian bytes needed
// to hold sequence, 0-8, with 0 standing in for "no bytes at all" when
// sequence is 0.
func sequenceBytesRequired(sequence uint64) int {
	mask := uint64(0xFF00000000000000)
	for i := 0; i < 8; i++ {
		if sequence&mask != 0 {
			return 8 - i
		}
		mask >>= 8
	}
	return 0
}

// encodePrefix packs the packet type into the low 4 bits and the number
// of bytes the sequence is encoded in into the high 4 bits.
func encodePrefix(kind PacketType, sequence uint64) byte {
	return byte(kind) | byte(sequenceBytesRequired(sequence))<<4
}

// decodePrefix splits a prefix byte back into its packet type and
// sequence byte count.
func decodePrefix(prefix byte) (PacketType, int) {
	return PacketType(prefix & 0xF), int(prefix >> 4)
}

// writeSequence appends sequence as exactly sequenceBytesRequired(sequence)
// little-endian bytes.
func writeSequence(w *wire.Writer, sequence uint64) {
	n := sequenceBytesRequired(sequence)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], sequence)
	w.Bytes(b[:n])
}

// readSequence reads n little-endian bytes and zero-extends them to a
// uint64.
func readSequence(r *wire.Reader, n int) (uint64, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return 0, err
	}
	var scratch [8]byte
	copy(scratch[:], b)
	return binary.LittleEndian.Uint64(scratch[:]), nil
}

// EncodeSessionPacket seals a post-handshake packet (Challenge, Response,
// KeepAlive, Payload, Disconnect) under key, keyed by sequence and tagged
// with protocolID. The wire layout is [prefix_byte][sequence bytes, as
// many as the prefix's high nibble says][ciphertext||tag] — the sequence
// length is never self-describing, it is carried in the prefix.
func EncodeSessionPacket(kind PacketType, sequence, protocolID uint64, plain []byte, key [KeyBytes]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	prefix := encodePrefix(kind, sequence)
	aad := additionalData(prefix, protocolID)
	sealed := aead.Seal(nil, sequenceNonce(sequence), plain, aad)

	w := wire.NewWriter()
	w.Byte(prefix)
	writeSequence(w, sequence)
	w.Bytes(sealed)
	return w.Finish(), nil
}

// DecodeSessionPacket opens a packet produced by EncodeSessionPacket,
// applying replay protection to the kinds that need it (KeepAlive,
// Payload, Disconnect — not Challenge/Response, which are matched by
// their own token sequence instead).
func DecodeSessionPacket(b []byte, protocolID uint64, key [KeyBytes]byte, replay *ReplayProtection) (PacketType, uint64, []byte, error) {
	if len(b) < 1 {
		return 0, 0, nil, neterr.New(neterr.KindPacketDeserialization, "empty session packet")
	}
	kind, sequenceLen := decodePrefix(b[0])
	r := wire.NewReader(b[1:])
	sequence, err := readSequence(r, sequenceLen)
	if err != nil {
		return 0, 0, nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "session packet sequence")
	}

	if kind.replayProtected() && replay != nil {
		if replay.AlreadyReceived(sequence) {
			return 0, 0, nil, neterr.New(neterr.KindDuplicatedSequence, "replayed session packet")
		}
	}

	ciphertext, err := r.Bytes(r.Remaining())
	if err != nil {
		return 0, 0, nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "session packet ciphertext")
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return 0, 0, nil, err
	}
	aad := additionalData(b[0], protocolID)
	plain, err := aead.Open(nil, sequenceNonce(sequence), ciphertext, aad)
	if err != nil {
		return 0, 0, nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "session packet authentication failed")
	}

	if kind.replayProtected() && replay != nil {
		replay.MarkReceived(sequence)
	}

	return kind, sequence, plain, nil
}
