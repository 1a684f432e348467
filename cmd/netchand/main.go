// Command netchand runs a standalone netchan server: it binds a UDP
// socket, admits clients through the netcode handshake, and relays
// every message received on the chat channel to every other connected
// client (not back to its sender), so the demo is exercisable with
// nothing more than nc-style traffic from cmd/netchanbot. Replaces the
// teacher's core/main.go (SA-MP banner, gamemode wiring, graceful
// shutdown) with the same process shape around the generic engine.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/duskforge/netchan/pkg/channel"
	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/events"
	"github.com/duskforge/netchan/pkg/logger"
	"github.com/duskforge/netchan/pkg/metrics"
	"github.com/duskforge/netchan/pkg/transport/udp"
	"github.com/duskforge/netchan/server"
)

const version = "1.0.0"

// EnvConfig is loaded from the process environment via caarlos0/env,
// mirroring the teacher's loadConfig defaults but sourced from the
// environment instead of hardcoded values.
type EnvConfig struct {
	ListenAddr    string `env:"NETCHAND_LISTEN_ADDR" envDefault:"0.0.0.0:40000"`
	MetricsAddr   string `env:"NETCHAND_METRICS_ADDR" envDefault:"127.0.0.1:9100"`
	ProtocolID    uint64 `env:"NETCHAND_PROTOCOL_ID" envDefault:"3735928559"`
	MaxClients    int    `env:"NETCHAND_MAX_CLIENTS" envDefault:"64"`
	PrivateKeyHex string `env:"NETCHAND_PRIVATE_KEY" envDefault:""`
	TickInterval  time.Duration `env:"NETCHAND_TICK_INTERVAL" envDefault:"20ms"`
}

// demoChannels is the fixed set this binary admits every client with:
// one reliable-ordered channel for chat, one unreliable-sequenced
// channel for position-style spam, exercising both ends of the
// reliability spectrum spec.md §4.2/§4.3 define.
func demoChannels() []channel.Config {
	return []channel.Config{
		{ChannelID: 0, SendType: channel.ReliableOrdered, MaxMemoryUsageBytes: 4 << 20, ResendTime: 100 * time.Millisecond},
		{ChannelID: 1, SendType: channel.UnreliableSequenced, MaxMemoryUsageBytes: 1 << 20},
	}
}

func main() {
	root := &cobra.Command{
		Use:     "netchand",
		Short:   "Run a netchan chat/echo demo server",
		Version: version,
		RunE:    run,
	}
	if err := root.Execute(); err != nil {
		logger.Fatal("netchand: %v", err)
	}
}

func run(*cobra.Command, []string) error {
	logger.Banner("netchan server", version)

	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("netchand: parse environment: %w", err)
	}

	privateKey, err := resolvePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	registry := metrics.NewRegistry(reg, "netchand")
	go serveMetrics(cfg.MetricsAddr, reg)

	driver, err := udp.Listen(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("netchand: %w", err)
	}
	defer driver.Close()

	srv, err := server.NewServer(server.Config{
		ProtocolID:            cfg.ProtocolID,
		PrivateKey:            privateKey,
		MaxClients:            cfg.MaxClients,
		ClientChannels:        demoChannels(),
		ServerChannels:        demoChannels(),
		AvailableBytesPerTick: 256 << 10,
		BurstBytes:            512 << 10,
		Metrics:               registry,
		Now:                   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("netchand: %w", err)
	}

	logger.Section("Listening")
	logger.Info("listening on %s (protocol_id=%#x, max_clients=%d)", driver.LocalAddr(), cfg.ProtocolID, cfg.MaxClients)
	logger.Info("metrics on http://%s/metrics", cfg.MetricsAddr)

	recv := make(chan recvResult, 256)
	go recvLoop(driver, recv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	lastTick := time.Now()

	for {
		select {
		case sig := <-sigCh:
			logger.Warn("received signal %v, shutting down", sig)
			srv.DisconnectAll()
			flush(srv, driver)
			return nil
		case r := <-recv:
			if r.err != nil {
				logger.Warn("recv: %v", r.err)
				continue
			}
			if err := srv.ProcessPacket(r.addr, r.data); err != nil {
				logger.Debug("process_packet from %s: %v", r.addr, err)
			}
		case now := <-ticker.C:
			dt := now.Sub(lastTick)
			lastTick = now
			srv.Update(dt)
			drainEvents(srv, registry)
			echoMessages(srv)
			flush(srv, driver)
		}
	}
}

type recvResult struct {
	addr net.Addr
	data []byte
	err  error
}

func recvLoop(driver *udp.Driver, out chan<- recvResult) {
	for {
		addr, data, err := driver.RecvFrom()
		out <- recvResult{addr: addr, data: data, err: err}
		if err != nil {
			return
		}
	}
}

func drainEvents(srv *server.Server, registry *metrics.Registry) {
	for {
		ev, ok := srv.GetEvent()
		if !ok {
			return
		}
		switch ev.Kind {
		case events.KindClientConnected:
			logger.Info("client %d connected", ev.ClientID)
		case events.KindClientDisconnected:
			logger.Info("client %d disconnected: %s", ev.ClientID, ev.Reason)
		}
	}
}

// echoMessages implements the demo's only application behavior:
// anything received on the chat channel is broadcast to every other
// connected client, so two or more cmd/netchanbot instances can see
// each other's traffic.
func echoMessages(srv *server.Server) {
	for _, id := range srv.ClientIDs() {
		msg, ok := srv.ReceiveMessage(id, 0)
		if !ok {
			continue
		}
		logger.Debug("client %d said: %q", id, msg)
		srv.BroadcastMessageExcept(id, 0, msg)
	}
}

func flush(srv *server.Server, driver *udp.Driver) {
	for _, pkt := range srv.GetPacketsToSend() {
		if err := driver.SendTo(pkt.Addr, pkt.Data); err != nil {
			logger.Warn("send to %s: %v", pkt.Addr, err)
		}
	}
}

func resolvePrivateKey(hexKey string) (crypto.Key, error) {
	if hexKey == "" {
		logger.Warn("NETCHAND_PRIVATE_KEY not set, generating an ephemeral key (tokens minted for a previous run will not validate)")
		return crypto.GenerateKey()
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("netchand: decode private key: %w", err)
	}
	if len(raw) != crypto.KeyBytes {
		return crypto.Key{}, fmt.Errorf("netchand: private key must be %d bytes, got %d", crypto.KeyBytes, len(raw))
	}
	var key crypto.Key
	copy(key[:], raw)
	return key, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped: %v", err)
	}
}
