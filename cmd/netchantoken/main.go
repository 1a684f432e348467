// Command netchantoken mints ConnectTokens out of band, the role
// spec.md §3 assigns to "an authority the client and server both
// trust" (a matchmaker or login service in a real deployment). It
// holds the server's private key, seals a token for one client_id, and
// writes the 2048-byte wire form to a file or stdout as base64.
package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskforge/netchan/pkg/crypto"
	"github.com/duskforge/netchan/pkg/logger"
	"github.com/duskforge/netchan/pkg/token"
)

const version = "1.0.0"

var (
	flagClientID   uint64
	flagProtocolID uint64
	flagServers    []string
	flagPrivateKey string
	flagTTL        time.Duration
	flagOut        string
)

func main() {
	root := &cobra.Command{
		Use:     "netchantoken",
		Short:   "Mint a ConnectToken for a client_id",
		Version: version,
		RunE:    run,
	}
	root.Flags().Uint64Var(&flagClientID, "client-id", 0, "client_id to authorize (required)")
	root.Flags().Uint64Var(&flagProtocolID, "protocol-id", 0xDEADBEEF, "protocol_id the token and server must agree on")
	root.Flags().StringSliceVar(&flagServers, "server-addr", []string{"127.0.0.1:40000"}, "server addresses the client may connect to, host:port, repeatable")
	root.Flags().StringVar(&flagPrivateKey, "private-key", "", "hex-encoded server private key (required)")
	root.Flags().DurationVar(&flagTTL, "ttl", time.Minute, "how long the token remains valid")
	root.Flags().StringVar(&flagOut, "out", "", "file to write the token to; defaults to base64 on stdout")
	_ = root.MarkFlagRequired("private-key")

	if err := root.Execute(); err != nil {
		logger.Fatal("netchantoken: %v", err)
	}
}

func run(*cobra.Command, []string) error {
	serverKey, err := parsePrivateKeyHex(flagPrivateKey)
	if err != nil {
		return err
	}
	addrs, err := resolveServerAddrs(flagServers)
	if err != nil {
		return err
	}

	now := time.Now()
	nonceBytes, err := crypto.RandomBytes(crypto.NonceBytes)
	if err != nil {
		return fmt.Errorf("netchantoken: generate nonce: %w", err)
	}
	var nonce [crypto.NonceBytes]byte
	copy(nonce[:], nonceBytes)

	csKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("netchantoken: generate client_to_server key: %w", err)
	}
	scKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("netchantoken: generate server_to_client key: %w", err)
	}

	expire := uint64(now.Add(flagTTL).Unix())
	priv := token.Private{
		ClientID:          flagClientID,
		TimeoutSeconds:    15,
		ServerAddresses:   addrs,
		ClientToServerKey: csKey,
		ServerToClientKey: scKey,
	}
	encPriv, err := token.Seal(serverKey, flagProtocolID, expire, nonce, priv)
	if err != nil {
		return fmt.Errorf("netchantoken: seal private section: %w", err)
	}

	tok := token.Token{
		ProtocolID:        flagProtocolID,
		CreateTimestamp:   uint64(now.Unix()),
		ExpireTimestamp:   expire,
		Nonce:             nonce,
		ServerAddresses:   addrs,
		ClientToServerKey: csKey,
		ServerToClientKey: scKey,
		TimeoutSeconds:    15,
		EncryptedPrivate:  encPriv,
	}
	wire, err := token.Encode(tok)
	if err != nil {
		return fmt.Errorf("netchantoken: encode token: %w", err)
	}

	if flagOut != "" {
		if err := os.WriteFile(flagOut, wire, 0o600); err != nil {
			return fmt.Errorf("netchantoken: write %s: %w", flagOut, err)
		}
		logger.Info("wrote %d-byte token for client_id=%d to %s (expires %s)", len(wire), flagClientID, flagOut, time.Unix(int64(expire), 0).UTC())
		return nil
	}

	fmt.Println(base64.StdEncoding.EncodeToString(wire))
	return nil
}

func resolveServerAddrs(raw []string) ([]net.UDPAddr, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("netchantoken: at least one --server-addr is required")
	}
	addrs := make([]net.UDPAddr, 0, len(raw))
	for _, s := range raw {
		a, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("netchantoken: resolve %q: %w", s, err)
		}
		addrs = append(addrs, *a)
	}
	return addrs, nil
}

func parsePrivateKeyHex(hexKey string) (crypto.Key, error) {
	if hexKey == "" {
		return crypto.Key{}, fmt.Errorf("netchantoken: --private-key is required")
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return crypto.Key{}, fmt.Errorf("netchantoken: decode private key: %w", err)
	}
	if len(raw) != crypto.KeyBytes {
		return crypto.Key{}, fmt.Errorf("netchantoken: private key must be %d bytes, got %d", crypto.KeyBytes, len(raw))
	}
	var key crypto.Key
	copy(key[:], raw)
	return key, nil
}
