// Command netchanbot drives N synthetic clients against a netchan
// server: each dials its own UDP socket (so it looks like a distinct
// peer), completes the netcode handshake, and sends chat messages at a
// fixed rate for the configured duration.
// Grounded on the teacher's core/systems/vehicle_system.go (a fixed-
// interval loop pushing synthetic position updates per connected
// player) but driving client.Client directly instead of gamemode
// actors.
package main

import (
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/duskforge/netchan/client"
	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/logger"
	"github.com/duskforge/netchan/pkg/token"
	"github.com/duskforge/netchan/pkg/transport/udp"
)

const version = "1.0.0"

// EnvConfig carries the deployment-wide settings a fleet of bots
// shares; per-invocation knobs (bot count, rate) stay as cobra flags
// since they're varied run to run rather than pinned per environment.
type EnvConfig struct {
	ServerAddr    string `env:"NETCHANBOT_SERVER_ADDR" envDefault:"127.0.0.1:40000"`
	ProtocolID    uint64 `env:"NETCHANBOT_PROTOCOL_ID" envDefault:"3735928559"`
	PrivateKeyHex string `env:"NETCHANBOT_PRIVATE_KEY" envDefault:""`
}

var (
	flagBots     int
	flagRate     time.Duration
	flagDuration time.Duration
)

func main() {
	root := &cobra.Command{
		Use:     "netchanbot",
		Short:   "Drive synthetic chat-bot load against a netchan server",
		Version: version,
		RunE:    run,
	}
	root.Flags().IntVar(&flagBots, "bots", 4, "number of concurrent synthetic clients")
	root.Flags().DurationVar(&flagRate, "rate", 200*time.Millisecond, "interval between chat messages per bot")
	root.Flags().DurationVar(&flagDuration, "duration", 30*time.Second, "how long to run before disconnecting every bot")

	if err := root.Execute(); err != nil {
		logger.Fatal("netchanbot: %v", err)
	}
}

func run(*cobra.Command, []string) error {
	logger.Banner("netchan bot fleet", version)

	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("netchanbot: parse environment: %w", err)
	}
	privateKey, err := parsePrivateKeyHex(cfg.PrivateKeyHex)
	if err != nil {
		return err
	}

	logger.Section("Fleet Launch")
	logger.Info("launching %d bots against %s (protocol_id=%#x) for %s", flagBots, cfg.ServerAddr, cfg.ProtocolID, flagDuration)

	var wg sync.WaitGroup
	for i := 0; i < flagBots; i++ {
		clientID := uint64(i + 1)
		correlationID := uuid.New().String()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runBot(cfg, privateKey, clientID, correlationID); err != nil {
				logger.Warn("bot[%s] client_id=%d stopped: %v", correlationID, clientID, err)
			}
		}()
	}
	wg.Wait()
	logger.Info("fleet run complete")
	return nil
}

// botChannels gives every bot a single reliable-ordered chat channel on
// channel 0, cmd/netchand's chat channel; netchand's unreliable-sequenced
// channel 1 is not configured here.
func botChannels() []channel.Config {
	return []channel.Config{
		{ChannelID: 0, SendType: channel.ReliableOrdered, MaxMemoryUsageBytes: 1 << 20, ResendTime: 100 * time.Millisecond},
	}
}

// runBot mints its own connect token in process (a load generator acts
// as both the out-of-band authority and the client it authorizes, so
// it never has to round-trip through cmd/netchantoken) and drives one
// client.Client to completion over its own dialed socket.
func runBot(cfg EnvConfig, serverKey crypto.Key, clientID uint64, correlationID string) error {
	log := logger.With("bot", correlationID, "client_id", clientID)

	tok, err := mintToken(serverKey, cfg.ProtocolID, clientID)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	driver, err := udp.Dial(cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer driver.Close()

	cl := client.NewClient(client.Config{
		Token:                 tok,
		ClientChannels:        botChannels(),
		ServerChannels:        botChannels(),
		AvailableBytesPerTick: 64 << 10,
		Now:                   time.Now(),
	})

	recv := make(chan []byte, 64)
	go func() {
		for {
			_, data, err := driver.RecvFrom()
			if err != nil {
				close(recv)
				return
			}
			recv <- data
		}
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	sendTicker := time.NewTicker(flagRate)
	defer sendTicker.Stop()
	deadline := time.After(flagDuration)

	lastTick := time.Now()
	msgSeq := 0
	for {
		select {
		case <-deadline:
			log.Infof("duration elapsed, disconnecting")
			cl.Disconnect()
			flushBot(cl, driver, log)
			return nil
		case data, ok := <-recv:
			if !ok {
				return fmt.Errorf("socket closed")
			}
			if err := cl.ProcessPacket(data); err != nil {
				log.Debugf("process_packet: %v", err)
			}
		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			cl.Update(dt)
			if reason, disconnected := cl.IsDisconnected(); disconnected {
				return fmt.Errorf("disconnected: %s", reason)
			}
			flushBot(cl, driver, log)
		case <-sendTicker.C:
			if !cl.IsConnected() {
				continue
			}
			msgSeq++
			msg := fmt.Sprintf("bot %s tick %d", correlationID, msgSeq)
			if err := cl.Send(0, []byte(msg)); err != nil {
				log.Debugf("send: %v", err)
			}
			flushBot(cl, driver, log)
		}
	}
}

func flushBot(cl *client.Client, driver *udp.Driver, log interface{ Warnf(string, ...interface{}) }) {
	for _, pkt := range cl.GetPacketsToSend() {
		if err := driver.Send(pkt); err != nil {
			log.Warnf("send: %v", err)
		}
	}
}

// mintToken plays the out-of-band authority's role for this bot: it
// holds the same private key the server was started with and seals a
// ConnectToken directly, skipping cmd/netchantoken's file-based
// handoff since the load generator has no separate operator.
func mintToken(serverKey crypto.Key, protocolID, clientID uint64) (token.Token, error) {
	nonceBytes, err := crypto.RandomBytes(crypto.NonceBytes)
	if err != nil {
		return token.Token{}, err
	}
	var nonce [crypto.NonceBytes]byte
	copy(nonce[:], nonceBytes)

	csKey, err := crypto.GenerateKey()
	if err != nil {
		return token.Token{}, err
	}
	scKey, err := crypto.GenerateKey()
	if err != nil {
		return token.Token{}, err
	}

	expire := uint64(time.Now().Add(time.Hour).Unix())
	priv := token.Private{
		ClientID:          clientID,
		TimeoutSeconds:    15,
		ClientToServerKey: csKey,
		ServerToClientKey: scKey,
	}
	enc, err := token.Seal(serverKey, protocolID, expire, nonce, priv)
	if err != nil {
		return token.Token{}, err
	}

	return token.Token{
		ProtocolID:        protocolID,
		ExpireTimestamp:   expire,
		Nonce:             nonce,
		ClientToServerKey: csKey,
		ServerToClientKey: scKey,
		TimeoutSeconds:    15,
		EncryptedPrivate:  enc,
	}, nil
}

func parsePrivateKeyHex(hexKey string) (crypto.Key, error) {
	if hexKey == "" {
		return crypto.Key{}, fmt.Errorf("netchanbot: NETCHANBOT_PRIVATE_KEY must match the target server's private key")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("netchanbot: decode private key: %w", err)
	}
	if len(raw) != crypto.KeyBytes {
		return crypto.Key{}, fmt.Errorf("netchanbot: private key must be %d bytes, got %d", crypto.KeyBytes, len(raw))
	}
	var key crypto.Key
	copy(key[:], raw)
	return key, nil
}
