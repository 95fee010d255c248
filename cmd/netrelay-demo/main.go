// Command netrelay-demo runs either side of a toy netrelay connection over
// a real UDP socket, so the library can be exercised end to end without
// embedding it in a game loop. Grounded on
// ventosilenzioso-go-raknet/source/server/server.go's Start/listen/
// updateLoop split: a listener goroutine feeding inbound datagrams and a
// ticker-driven goroutine draining outbound ones.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ventosilenzioso/netrelay/channel"
	"github.com/ventosilenzioso/netrelay/conn"
	"github.com/ventosilenzioso/netrelay/log"
	"github.com/ventosilenzioso/netrelay/metrics"
	"github.com/ventosilenzioso/netrelay/netcode"
	"github.com/ventosilenzioso/netrelay/registry"
)

// demoProtocolID identifies this build's wire format to the handshake
// layer; real deployments would mint one per game/release.
const demoProtocolID = 0x6e6574726c79 // spells "netrly" in ascii

const (
	channelReliable   byte = 0
	channelUnreliable byte = 1
)

func main() {
	mode := flag.String("mode", "server", "server or client")
	listenAddr := flag.String("listen", "127.0.0.1:40000", "server UDP listen address")
	serverAddr := flag.String("server", "127.0.0.1:40000", "client: server address to connect to")
	metricsAddr := flag.String("metrics", "127.0.0.1:9090", "server: prometheus /metrics listen address")
	maxClients := flag.Int("max-clients", 64, "server: maximum concurrent clients")
	timeout := flag.Duration("timeout", 10*time.Second, "connection idle timeout")
	flag.Parse()

	log.SetLevel(logrus.InfoLevel)

	var err error
	switch *mode {
	case "server":
		err = runServer(*listenAddr, *metricsAddr, *maxClients, *timeout)
	case "client":
		err = runClient(*serverAddr, *timeout)
	default:
		err = fmt.Errorf("unknown -mode %q, want server or client", *mode)
	}
	if err != nil {
		log.Default().WithError(err).Fatal("netrelay-demo exited with error")
	}
}

func demoChannelConfigs() []channel.Config {
	return []channel.Config{
		{ChannelID: channelReliable, Kind: channel.KindReliableOrdered, ResendTime: 150 * time.Millisecond, MaxMemoryUsageBytes: 4 << 20},
		{ChannelID: channelUnreliable, Kind: channel.KindUnreliable, MaxMemoryUsageBytes: 1 << 20},
	}
}

func runServer(listenAddr, metricsAddr string, maxClients int, timeout time.Duration) error {
	udpAddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address: %w", err)
	}
	sock, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("bind UDP socket: %w", err)
	}
	defer sock.Close()

	privateKey, err := netcode.RandomKey()
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}

	connConfig := func() conn.Config {
		configs := demoChannelConfigs()
		return conn.Config{
			SendChannels:      configs,
			RecvChannels:      configs,
			TimeoutDuration:   timeout,
			KeepAliveInterval: timeout / 4,
			Logger:            log.Default(),
		}
	}

	reg, err := registry.New(demoProtocolID, privateKey, maxClients, timeout, connConfig, log.Default())
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}

	collector := metrics.NewCollector()
	prometheus.MustRegister(collector)
	go serveMetrics(metricsAddr)

	log.Default().WithField("addr", listenAddr).Info("netrelay-demo server listening")

	// One connect token per demo run, minted against the registry's own
	// private key (see Registry.IssueConnectToken); a real deployment
	// would hand this out from an auth service instead.
	token, err := reg.IssueConnectToken(time.Now(), time.Hour, int32(timeout.Seconds()), []string{listenAddr}, [netcode.UserDataBytes]byte{})
	if err != nil {
		return fmt.Errorf("issue demo connect token: %w", err)
	}
	log.Default().WithField("client_id", token.ClientID).Info("issued connect token for local testing")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	incoming := make(chan datagram, 256)
	go readLoop(sock, incoming)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	tracked := make(map[registry.Addr]bool)

	for {
		select {
		case <-ctx.Done():
			log.Default().Info("shutting down")
			return nil
		case dg := <-incoming:
			addr := registry.Addr(dg.from.String())
			if reply := reg.HandlePacket(addr, dg.data, time.Now()); reply != nil {
				writeTo(sock, dg.from, reply)
			}
			if !tracked[addr] {
				if id, ok := reg.ClientID(addr); ok {
					if c, ok := reg.Connection(addr); ok {
						collector.Track(id.String(), c)
						tracked[addr] = true
					}
				}
			}
		case <-ticker.C:
			for _, out := range reg.Tick(20*time.Millisecond, time.Now()) {
				remote, err := net.ResolveUDPAddr("udp", string(out.Addr))
				if err != nil {
					continue
				}
				writeTo(sock, remote, out.Data)
			}
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Default().WithError(err).Warn("metrics server stopped")
	}
}

type datagram struct {
	from *net.UDPAddr
	data []byte
}

func readLoop(sock *net.UDPConn, out chan<- datagram) {
	buf := make([]byte, 2048)
	for {
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		out <- datagram{from: from, data: data}
	}
}

func writeTo(sock *net.UDPConn, addr *net.UDPAddr, data []byte) {
	if _, err := sock.WriteToUDP(data, addr); err != nil {
		log.Default().WithError(err).WithField("addr", addr.String()).Warn("failed to write datagram")
	}
}

// runClient is a minimal local-testing counterpart to runServer: it mints
// its own connect token against a fresh private key, so it can only ever
// talk to another instance of this same demo process (not a standalone
// netrelay deployment, which would distribute tokens out of band).
func runClient(serverAddr string, timeout time.Duration) error {
	privateKey, err := netcode.RandomKey()
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}
	now := time.Now()
	token, err := netcode.GenerateConnectToken(now, demoProtocolID, time.Hour, 1, int32(timeout.Seconds()), []string{serverAddr}, [netcode.UserDataBytes]byte{}, privateKey)
	if err != nil {
		return fmt.Errorf("generate connect token: %w", err)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", serverAddr)
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}
	sock, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return fmt.Errorf("dial UDP socket: %w", err)
	}
	defer sock.Close()

	handshake := netcode.NewClientHandshake(token, now)

	configs := demoChannelConfigs()
	connection, err := conn.New(conn.Config{
		SendChannels:      configs,
		RecvChannels:      configs,
		TimeoutDuration:   timeout,
		KeepAliveInterval: timeout / 4,
		Logger:            log.Default(),
	})
	if err != nil {
		return fmt.Errorf("build connection: %w", err)
	}

	incoming := make(chan []byte, 256)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, err := sock.Read(buf)
			if err != nil {
				close(incoming)
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			incoming <- data
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var codec *netcode.SessionCodec
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-incoming:
			if !ok {
				log.Default().Warn("server connection closed")
				return nil
			}
			now := time.Now()
			if codec == nil {
				if err := handshake.ProcessPacket(data, now); err != nil {
					log.Default().WithError(err).Warn("handshake error")
					continue
				}
				if handshake.IsConnected() {
					clientToServer, serverToClient := handshake.SessionKeys()
					codec = netcode.NewSessionCodec(demoProtocolID, clientToServer, serverToClient)
					connection.MarkConnected(now)
					log.Default().Info("connected to server")
				}
				continue
			}
			kind, plain, err := codec.OpenPayload(data)
			if err != nil {
				log.Default().WithError(err).Warn("dropping unauthenticated packet")
				continue
			}
			if kind == netcode.PacketPayload {
				if err := connection.ProcessPacket(plain); err != nil {
					log.Default().WithError(err).Warn("connection engine rejected packet")
				}
			}
		case <-ticker.C:
			now := time.Now()
			if codec == nil {
				if pkt := handshake.PacketToSend(now); pkt != nil {
					if _, err := sock.Write(pkt); err != nil {
						return fmt.Errorf("write handshake packet: %w", err)
					}
				}
				continue
			}
			connection.Update(20 * time.Millisecond)
			for _, plain := range connection.GetPacketsToSend() {
				sealed, err := codec.SealPayload(plain)
				if err != nil {
					continue
				}
				if _, err := sock.Write(sealed); err != nil {
					return fmt.Errorf("write session packet: %w", err)
				}
			}
			if msg := connection.ReceiveLastMessage(channelReliable); msg != nil {
				fmt.Printf("received: %s\n", msg)
			}
		}
	}
}
