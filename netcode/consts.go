// Package netcode implements the optional Netcode-style handshake and
// session layer: connect tokens, AEAD-sealed session packets, and replay
// protection, sitting in front of the channel-multiplexed connection
// engine in package conn. It never touches a socket; callers pass it
// datagram bytes and get datagram bytes back.
package netcode

import "time"

// KeyBytes is the size of a ChaCha20-Poly1305 key, shared between the
// private-token encryption and the per-packet session encryption.
const KeyBytes = 32

// MacBytes is the Poly1305 authentication tag length appended to every
// AEAD-sealed payload.
const MacBytes = 16

// ConnectTokenXNonceBytes is the nonce width for sealing the private
// portion of a connect token, wide enough to be generated at random
// without a collision-tracking counter.
const ConnectTokenXNonceBytes = 24

// ConnectTokenPrivateBytes is the fixed size of the encrypted connect
// token blob embedded in a ConnectionRequest packet.
const ConnectTokenPrivateBytes = 1024

// connectTokenPrivatePlainBytes is how much of ConnectTokenPrivateBytes is
// available to the plaintext PrivateConnectToken before the MAC tag.
const connectTokenPrivatePlainBytes = ConnectTokenPrivateBytes - MacBytes

// UserDataBytes is the size of the caller-supplied opaque payload carried
// inside a connect token (matchmaking metadata, auth claims, etc).
const UserDataBytes = 256

// ChallengeTokenBytes is the fixed size of the encrypted challenge token
// embedded in Challenge and Response packets.
const ChallengeTokenBytes = 300

// challengeTokenPlainBytes is the plaintext size of a ChallengeToken
// before its MAC tag.
const challengeTokenPlainBytes = ChallengeTokenBytes - MacBytes

// ReplayProtectionBufferSize is the sliding replay window's width in
// sequences.
const ReplayProtectionBufferSize = 256

// MaxServerAddresses bounds how many server addresses a single connect
// token can advertise.
const MaxServerAddresses = 32

// DefaultTokenExpiry is how long a freshly generated connect token remains
// usable if the issuer doesn't specify otherwise.
const DefaultTokenExpiry = 30 * time.Second

// versionInfo is the 13-byte ASCII protocol tag mixed into every AEAD's
// additional data, pinning the wire format version.
var versionInfo = [13]byte{'N', 'E', 'T', 'R', 'E', 'L', 'A', 'Y', ' ', '1', '.', '0', 0}

// VersionInfo returns a copy of the 13-byte version tag.
func VersionInfo() [13]byte { return versionInfo }
