package netcode

import (
	"crypto/rand"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/ventosilenzioso/netrelay/neterr"
	"github.com/ventosilenzioso/netrelay/wire"
)

// ConnectToken is handed to a client out-of-band (matchmaking response,
// REST call, etc) to authorize one connection attempt. The private fields
// are opaque to the client: only the server's PrivateKey can open them.
// Non-goal: issuing these tokens from a matchmaking/auth backend is
// outside this module — ConnectToken only codifies the
// format both sides agree on.
type ConnectToken struct {
	ClientID         uint64
	ProtocolID       uint64
	CreateTimestamp  uint64
	ExpireTimestamp  uint64
	XNonce           [ConnectTokenXNonceBytes]byte
	PrivateData      [ConnectTokenPrivateBytes]byte
	ClientToServerKey [KeyBytes]byte
	ServerToClientKey [KeyBytes]byte
	TimeoutSeconds   int32
}

// PrivateConnectToken is the plaintext payload sealed inside
// ConnectToken.PrivateData. Only the server holding PrivateKey can read it.
type PrivateConnectToken struct {
	ClientID          uint64
	TimeoutSeconds    int32
	ServerAddresses   []string
	ClientToServerKey [KeyBytes]byte
	ServerToClientKey [KeyBytes]byte
	UserData          [UserDataBytes]byte
}

// GenerateConnectToken builds a fresh token for clientID, authorizing a
// connection to one of serverAddresses within expiry of now. userData is
// opaque application data (e.g. a matchmaking ticket) visible to the
// server once the handshake completes.
func GenerateConnectToken(now time.Time, protocolID uint64, expiry time.Duration, clientID uint64, timeoutSeconds int32, serverAddresses []string, userData [UserDataBytes]byte, privateKey [KeyBytes]byte) (*ConnectToken, error) {
	if len(serverAddresses) == 0 {
		return nil, neterr.New(neterr.KindInvalidProtocolId, "connect token needs at least one server address")
	}
	if len(serverAddresses) > MaxServerAddresses {
		return nil, neterr.New(neterr.KindInvalidProtocolId, "connect token supports at most 32 server addresses")
	}

	priv := PrivateConnectToken{
		ClientID:        clientID,
		TimeoutSeconds:  timeoutSeconds,
		ServerAddresses: serverAddresses,
		UserData:        userData,
	}
	if _, err := rand.Read(priv.ClientToServerKey[:]); err != nil {
		return nil, err
	}
	if _, err := rand.Read(priv.ServerToClientKey[:]); err != nil {
		return nil, err
	}

	token := &ConnectToken{
		ClientID:          clientID,
		ProtocolID:        protocolID,
		CreateTimestamp:   uint64(now.Unix()),
		ExpireTimestamp:   uint64(now.Add(expiry).Unix()),
		ClientToServerKey: priv.ClientToServerKey,
		ServerToClientKey: priv.ServerToClientKey,
		TimeoutSeconds:    timeoutSeconds,
	}
	if _, err := rand.Read(token.XNonce[:]); err != nil {
		return nil, err
	}

	sealed, err := priv.encode(protocolID, token.ExpireTimestamp, token.XNonce, privateKey)
	if err != nil {
		return nil, err
	}
	copy(token.PrivateData[:], sealed)

	return token, nil
}

func privateTokenAAD(protocolID, expireTimestamp uint64) []byte {
	w := wire.NewWriter()
	w.Bytes(versionInfo[:])
	w.Varint(protocolID)
	w.Varint(expireTimestamp)
	return w.Finish()
}

func (t *PrivateConnectToken) marshal() []byte {
	w := wire.NewWriter()
	w.Varint(t.ClientID)
	w.Varint(uint64(uint32(t.TimeoutSeconds)))
	w.Varint(uint64(len(t.ServerAddresses)))
	for _, addr := range t.ServerAddresses {
		w.Payload([]byte(addr))
	}
	w.Bytes(t.ClientToServerKey[:])
	w.Bytes(t.ServerToClientKey[:])
	w.Bytes(t.UserData[:])
	return w.Finish()
}

func unmarshalPrivateToken(b []byte) (*PrivateConnectToken, error) {
	r := wire.NewReader(b)
	clientID, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token client id")
	}
	timeoutRaw, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token timeout")
	}
	count, err := r.Varint()
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token address count")
	}
	if count > MaxServerAddresses {
		return nil, neterr.New(neterr.KindPacketDeserialization, "private token address count too large")
	}
	addrs := make([]string, 0, count)
	for i := uint64(0); i < count; i++ {
		addr, err := r.Payload(256)
		if err != nil {
			return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token address")
		}
		addrs = append(addrs, string(addr))
	}
	c2s, err := r.Bytes(KeyBytes)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token client-to-server key")
	}
	s2c, err := r.Bytes(KeyBytes)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token server-to-client key")
	}
	userData, err := r.Bytes(UserDataBytes)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private token user data")
	}

	out := &PrivateConnectToken{
		ClientID:       clientID,
		TimeoutSeconds: int32(uint32(timeoutRaw)),
		ServerAddresses: addrs,
	}
	copy(out.ClientToServerKey[:], c2s)
	copy(out.ServerToClientKey[:], s2c)
	copy(out.UserData[:], userData)
	return out, nil
}

// encode seals the private token with XChaCha20-Poly1305 under xnonce,
// padding the result to ConnectTokenPrivateBytes.
func (t *PrivateConnectToken) encode(protocolID, expireTimestamp uint64, xnonce [ConnectTokenXNonceBytes]byte, key [KeyBytes]byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	plain := t.marshal()
	if len(plain) > connectTokenPrivatePlainBytes {
		return nil, neterr.New(neterr.KindPacketSerialization, "private connect token too large")
	}
	padded := make([]byte, connectTokenPrivatePlainBytes)
	copy(padded, plain)

	aad := privateTokenAAD(protocolID, expireTimestamp)
	sealed := aead.Seal(nil, xnonce[:], padded, aad)
	return sealed, nil
}

// decodePrivateToken opens a private token blob sealed by encode.
func decodePrivateToken(sealed []byte, protocolID, expireTimestamp uint64, xnonce [ConnectTokenXNonceBytes]byte, key [KeyBytes]byte) (*PrivateConnectToken, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	aad := privateTokenAAD(protocolID, expireTimestamp)
	plain, err := aead.Open(nil, xnonce[:], sealed, aad)
	if err != nil {
		return nil, neterr.Wrap(neterr.KindPacketDeserialization, err, "private connect token authentication failed")
	}
	return unmarshalPrivateToken(plain)
}

// OpenPrivateToken is the server-side entry point: authenticates and
// decodes the private token embedded in a received ConnectToken/
// ConnectionRequest, rejecting it if it has already expired.
func OpenPrivateToken(token *ConnectToken, now time.Time, privateKey [KeyBytes]byte) (*PrivateConnectToken, error) {
	if uint64(now.Unix()) >= token.ExpireTimestamp {
		return nil, neterr.New(neterr.KindTokenExpired, "connect token expired")
	}
	return decodePrivateToken(token.PrivateData[:], token.ProtocolID, token.ExpireTimestamp, token.XNonce, privateKey)
}
