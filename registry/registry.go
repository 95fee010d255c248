// Package registry tracks per-remote-address client state for a server:
// clients mid-handshake, clients with an established conn.Connection, and
// the plumbing to route an inbound datagram or a disconnect timeout to
// the right one. Modeled on a RakNet-style Server/Players table and
// session dispatch loop, generalized from a single fixed game-packet
// dispatch to the channel-multiplexed, Netcode-guarded connection engine.
package registry

import (
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/ventosilenzioso/netrelay/conn"
	"github.com/ventosilenzioso/netrelay/netcode"
)

// Addr is the remote endpoint a client is identified by. It is a plain
// string (typically net.Addr.String()) so this package stays independent
// of the socket implementation.
type Addr string

// Outgoing pairs a sealed datagram with the address it should be written
// to, letting Registry.Tick return everything a driver needs to flush in
// one pass without reaching back into client state.
type Outgoing struct {
	Addr Addr
	Data []byte
}

type pendingClient struct {
	handshake *netcode.ServerSideHandshake
}

type establishedClient struct {
	id    uuid.UUID
	conn  *conn.Connection
	codec *netcode.SessionCodec
}

// Registry owns every client attached to one server instance: those still
// completing the Netcode handshake, and those with a live conn.Connection.
// All methods expect to be called from a single driver goroutine; like
// conn.Connection, Registry holds no internal lock for its own state —
// mu only protects ConnectionCount/ClientID/Connection, which a
// metrics-reporting goroutine may call concurrently with the driver.
type Registry struct {
	mu sync.RWMutex

	protocolID   uint64
	privateKey   [netcode.KeyBytes]byte
	challengeKey [netcode.KeyBytes]byte
	maxClients   int
	connConfig   func() conn.Config
	timeout      time.Duration

	pending     map[Addr]*pendingClient
	established map[Addr]*establishedClient

	challengeSequence uint64

	log logrus.FieldLogger
}

// New builds an empty registry. connConfig is called once per accepted
// client to produce that client's channel layout.
func New(protocolID uint64, privateKey [netcode.KeyBytes]byte, maxClients int, timeout time.Duration, connConfig func() conn.Config, log logrus.FieldLogger) (*Registry, error) {
	challengeKey, err := netcode.RandomKey()
	if err != nil {
		return nil, err
	}
	return &Registry{
		protocolID:   protocolID,
		privateKey:   privateKey,
		challengeKey: challengeKey,
		maxClients:   maxClients,
		connConfig:   connConfig,
		timeout:      timeout,
		pending:      make(map[Addr]*pendingClient),
		established:  make(map[Addr]*establishedClient),
		log:          log,
	}, nil
}

// ConnectionCount returns the number of fully established clients.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.established)
}

// HandlePacket routes one inbound datagram from addr, advancing a
// handshake, feeding an established connection, or starting a new
// handshake from a ConnectionRequest. It returns any reply datagram that
// should be written back immediately (a Challenge, or a ConnectionDenied).
func (r *Registry) HandlePacket(addr Addr, data []byte, now time.Time) []byte {
	if len(data) == 0 {
		return nil
	}

	// trace tags every log line this packet produces, letting a noisy
	// client's datagrams be grepped out of a shared server log without
	// storing its socket address anywhere persistent.
	log := r.log.WithField("trace", xid.New().String())

	if est, ok := r.established[addr]; ok {
		kind, plain, err := est.codec.OpenPayload(data)
		if err != nil {
			log.WithField("addr", string(addr)).WithError(err).Warn("dropping unauthenticated session packet")
			return nil
		}
		if kind == netcode.PacketPayload {
			if err := est.conn.ProcessPacket(plain); err != nil {
				log.WithField("addr", string(addr)).WithError(err).Warn("connection engine rejected packet")
			}
		}
		return nil
	}

	if p, ok := r.pending[addr]; ok {
		if err := p.handshake.ProcessPacket(data, now); err != nil {
			log.WithField("addr", string(addr)).WithError(err).Warn("handshake failed")
			r.mu.Lock()
			delete(r.pending, addr)
			r.mu.Unlock()
			return nil
		}
		if p.handshake.IsConnected() {
			r.promote(addr, p, now)
			return nil
		}
		return nil
	}

	req, err := netcode.DecodeConnectionRequest(data)
	if err != nil {
		return nil
	}
	return r.acceptConnectionRequest(addr, req, now)
}

func (r *Registry) acceptConnectionRequest(addr Addr, req *netcode.ConnectionRequest, now time.Time) []byte {
	r.mu.RLock()
	full := len(r.established) >= r.maxClients
	r.mu.RUnlock()
	if full {
		return netcode.EncodeConnectionDenied()
	}

	sequence := r.challengeSequence
	r.challengeSequence++

	handshake, err := netcode.AcceptConnectionRequest(req, now, r.privateKey, sequence, r.challengeKey)
	if err != nil {
		r.log.WithField("addr", string(addr)).WithError(err).Warn("rejecting connection request")
		return netcode.EncodeConnectionDenied()
	}

	r.mu.Lock()
	r.pending[addr] = &pendingClient{handshake: handshake}
	r.mu.Unlock()

	return handshake.PacketToSend(now)
}

func (r *Registry) promote(addr Addr, p *pendingClient, now time.Time) {
	cfg := r.connConfig()
	c, err := conn.New(cfg)
	if err != nil {
		r.log.WithField("addr", string(addr)).WithError(err).Error("failed to construct connection for established client")
		r.mu.Lock()
		delete(r.pending, addr)
		r.mu.Unlock()
		return
	}
	c.MarkConnected(now)

	clientToServer, serverToClient := p.handshake.SessionKeys()
	codec := netcode.NewSessionCodec(r.protocolID, serverToClient, clientToServer)

	r.mu.Lock()
	delete(r.pending, addr)
	r.established[addr] = &establishedClient{
		id:    uuid.New(),
		conn:  c,
		codec: codec,
	}
	r.mu.Unlock()

	r.log.WithField("addr", string(addr)).Info("client connected")
}

// Tick advances every pending and established client's clock by dt,
// collecting handshake retransmits, connection traffic, and keep-alives
// that need to go out this tick, and reaps anyone who has timed out.
func (r *Registry) Tick(dt time.Duration, now time.Time) []Outgoing {
	var out []Outgoing

	for addr, p := range r.pending {
		if p.handshake.CheckTimeout(now, r.timeout) {
			r.mu.Lock()
			delete(r.pending, addr)
			r.mu.Unlock()
			continue
		}
		if pkt := p.handshake.PacketToSend(now); pkt != nil {
			out = append(out, Outgoing{Addr: addr, Data: pkt})
		}
	}

	for addr, est := range r.established {
		est.conn.Update(dt)
		if est.conn.IsDisconnected() {
			r.mu.Lock()
			delete(r.established, addr)
			r.mu.Unlock()
			r.log.WithField("addr", string(addr)).WithField("reason", est.conn.DisconnectReason()).Info("client disconnected")
			continue
		}
		for _, plain := range est.conn.GetPacketsToSend() {
			sealed, err := est.codec.SealPayload(plain)
			if err != nil {
				r.log.WithField("addr", string(addr)).WithError(err).Warn("failed to seal outgoing packet")
				continue
			}
			out = append(out, Outgoing{Addr: addr, Data: sealed})
		}
	}

	return out
}

// ClientID returns the id assigned when addr's handshake completed, used
// to label that client in logs and metrics without exposing its socket
// address, and as the label a caller hands to metrics.Collector.Track.
func (r *Registry) ClientID(addr Addr) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	est, ok := r.established[addr]
	if !ok {
		return uuid.UUID{}, false
	}
	return est.id, true
}

// Connection returns the established conn.Connection for addr, if any,
// letting the application layer call SendMessage/ReceiveMessage on it
// directly.
func (r *Registry) Connection(addr Addr) (*conn.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	est, ok := r.established[addr]
	if !ok {
		return nil, false
	}
	return est.conn, true
}

// IssueConnectToken mints a connect token for a new client against this
// registry's private key. Real deployments hand this off to a
// matchmaking/auth service — this exists purely so the bundled demo can
// self-issue tokens without one.
func (r *Registry) IssueConnectToken(now time.Time, expiry time.Duration, timeoutSeconds int32, serverAddresses []string, userData [netcode.UserDataBytes]byte) (*netcode.ConnectToken, error) {
	return netcode.GenerateConnectToken(now, r.protocolID, expiry, newClientID(), timeoutSeconds, serverAddresses, userData, r.privateKey)
}

// newClientID derives a process-unique client id for a freshly issued
// connect token, independent of the uuid the registry assigns once a
// client is established.
func newClientID() uint64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}
