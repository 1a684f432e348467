package conn

import (
	"time"

	"github.com/duskforge/netchan/pkg/channel"
)

// MaxPacketBytes bounds one outbound datagram's payload, per spec.md
// §8: "no packet exceeds MTU (1200 B payload)."
const MaxPacketBytes = 1200

// Config parameterizes one Connection, per spec.md §4.4. SendChannels
// is the list this endpoint transmits on; RecvChannels is the peer's
// transmit list, needed to build matching receivers, per spec.md
// §6.3's independent client_channels_config/server_channels_config.
// A symmetric connection (same channels both directions, the common
// case and what every test in this package exercises) sets both
// fields to the same slice, or Channels to set both at once.
type Config struct {
	Channels []channel.Config // shorthand: used for both Send/RecvChannels when they're unset

	SendChannels []channel.Config
	RecvChannels []channel.Config

	AvailableBytesPerTick int // bytes/second added to the bandwidth bucket
	BurstBytes            int
	KeepAliveInterval     time.Duration
	TimeoutSeconds        time.Duration
}

func (c Config) channelLists() (send, recv []channel.Config) {
	send, recv = c.SendChannels, c.RecvChannels
	if send == nil {
		send = c.Channels
	}
	if recv == nil {
		recv = c.Channels
	}
	return send, recv
}

func (c Config) withDefaults() Config {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = 100 * time.Millisecond
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 10 * time.Second
	}
	if c.BurstBytes <= 0 {
		c.BurstBytes = c.AvailableBytesPerTick
	}
	return c
}
