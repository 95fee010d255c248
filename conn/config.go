package conn

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ventosilenzioso/netrelay/channel"
)

// Config describes one direction's channel layout and the connection-wide
// budgets and timeouts around it.
type Config struct {
	// SendChannels/RecvChannels are this peer's outgoing/incoming channel
	// layouts. A channel id configured for reliable send here must match
	// the same id configured for reliable receive on the peer.
	SendChannels []channel.Config
	RecvChannels []channel.Config

	AvailableBytesPerTick int
	TimeoutDuration       time.Duration
	KeepAliveInterval     time.Duration

	// Logger receives per-connection diagnostic lines. Defaults to
	// logrus.StandardLogger() if nil.
	Logger logrus.FieldLogger
}

func (c Config) withDefaults() Config {
	if c.AvailableBytesPerTick == 0 {
		c.AvailableBytesPerTick = 16 * 1024
	}
	if c.TimeoutDuration == 0 {
		c.TimeoutDuration = 10 * time.Second
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

// Status is the connection's lifecycle state.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
