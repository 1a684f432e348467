package conn

import "github.com/duskforge/netchan/pkg/channel"

// channelPair is one configured channel's sender and receiver half.
// A connection owns these by index and never hands back a reference
// a channel could use to reach the connection.
type channelPair struct {
	id       byte
	sender   channel.Sender
	receiver channel.Receiver
}

func newSender(cfg channel.Config) channel.Sender {
	if cfg.SendType.Reliable() {
		return channel.NewReliableSender(cfg)
	}
	return channel.NewUnreliableSender(cfg)
}

func newReceiver(cfg channel.Config) channel.Receiver {
	switch cfg.SendType {
	case channel.ReliableOrdered:
		return channel.NewReceiverReliableOrdered(cfg)
	case channel.ReliableUnordered:
		return channel.NewReceiverReliableUnordered(cfg)
	case channel.UnreliableSequenced:
		return channel.NewReceiverUnreliableSequenced(cfg)
	default: // channel.Unreliable
		return channel.NewReceiverUnreliable(cfg)
	}
}

type channelSet struct {
	pairs   []channelPair
	byID    map[byte]int
	rrStart int
}

// newChannelSet builds one pair per channel_id found in sendCfgs or
// recvCfgs (their union), per spec.md §6.3's independent
// client_channels_config/server_channels_config lists: this endpoint's
// sender is configured from its own outbound list, its receiver from
// the peer's outbound list for the same channel_id. An id present in
// only one list still gets a pair; the unused half (e.g. a sender for
// an id this endpoint never sends on) is built from the other list's
// config as a harmless fallback since it never has pending data.
func newChannelSet(sendCfgs, recvCfgs []channel.Config) *channelSet {
	sendByID := make(map[byte]channel.Config, len(sendCfgs))
	for _, c := range sendCfgs {
		sendByID[c.ChannelID] = c
	}
	recvByID := make(map[byte]channel.Config, len(recvCfgs))
	for _, c := range recvCfgs {
		recvByID[c.ChannelID] = c
	}

	var ids []byte
	seen := make(map[byte]bool)
	for _, c := range sendCfgs {
		if !seen[c.ChannelID] {
			seen[c.ChannelID] = true
			ids = append(ids, c.ChannelID)
		}
	}
	for _, c := range recvCfgs {
		if !seen[c.ChannelID] {
			seen[c.ChannelID] = true
			ids = append(ids, c.ChannelID)
		}
	}

	cs := &channelSet{byID: make(map[byte]int, len(ids))}
	for _, id := range ids {
		sc, hasSend := sendByID[id]
		rc, hasRecv := recvByID[id]
		if !hasSend {
			sc = rc
		}
		if !hasRecv {
			rc = sc
		}
		pair := channelPair{id: id, sender: newSender(sc), receiver: newReceiver(rc)}
		cs.byID[id] = len(cs.pairs)
		cs.pairs = append(cs.pairs, pair)
	}
	return cs
}

func (cs *channelSet) get(id byte) (*channelPair, bool) {
	idx, ok := cs.byID[id]
	if !ok {
		return nil, false
	}
	return &cs.pairs[idx], true
}

// rotation returns channel indices starting at the fixed round-robin
// cursor and advances the cursor, per spec.md §4.4: "Channels are
// polled in a fixed round-robin so no channel can starve others."
func (cs *channelSet) rotation() []int {
	n := len(cs.pairs)
	order := make([]int, n)
	for i := 0; i < n; i++ {
		order[i] = (cs.rrStart + i) % n
	}
	if n > 0 {
		cs.rrStart = (cs.rrStart + 1) % n
	}
	return order
}
