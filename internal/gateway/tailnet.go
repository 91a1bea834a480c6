// ABOUTME: Optional Tailscale node (tsnet) that hosts the gRPC and HTTP listeners
// ABOUTME: Funnel exposes the HTTP API publicly over HTTPS; gRPC stays tailnet-only

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/2389/relay-hub/internal/config"
)

// Ports on the tailnet node.
const (
	tailnetGRPCPort   = ":50051"
	tailnetHTTPPort   = ":80"
	tailnetFunnelPort = ":443"
)

var errNoAuthKey = errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")

// tailnet wraps a running tsnet node.
type tailnet struct {
	srv    *tsnet.Server
	funnel bool
	logger *slog.Logger
}

// tailnetStateDir defaults to ~/.local/share/relayhub/tailscale.
func tailnetStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("tailscale state dir (set tailscale.state_dir): %w", err)
	}
	return filepath.Join(home, ".local", "share", "relayhub", "tailscale"), nil
}

// tailnetAuthKey prefers the config value over TS_AUTHKEY.
func tailnetAuthKey(configured string) (string, error) {
	for _, key := range []string{configured, os.Getenv("TS_AUTHKEY")} {
		if key != "" {
			return key, nil
		}
	}
	return "", errNoAuthKey
}

// startTailnet brings the node up and waits until it has joined the tailnet.
func startTailnet(ctx context.Context, cfg config.TailscaleConfig, logger *slog.Logger) (*tailnet, error) {
	dir, err := tailnetStateDir(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := tailnetAuthKey(cfg.AuthKey)
	if err != nil {
		return nil, err
	}

	t := &tailnet{
		srv: &tsnet.Server{
			Hostname:  cfg.Hostname,
			Dir:       dir,
			Ephemeral: cfg.Ephemeral,
			AuthKey:   authKey,
		},
		funnel: cfg.Funnel,
		logger: logger,
	}

	logger.Info("starting tailscale node", "hostname", cfg.Hostname, "state_dir", dir, "ephemeral", cfg.Ephemeral)
	status, err := t.srv.Up(ctx)
	if err != nil {
		_ = t.srv.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	attrs := []any{"hostname", cfg.Hostname}
	if len(status.TailscaleIPs) > 0 {
		attrs = append(attrs, "tailscale_ip", status.TailscaleIPs[0].String())
	}
	if status.Self != nil {
		attrs = append(attrs, "dns_name", status.Self.DNSName)
	}
	logger.Info("tailscale node ready", attrs...)
	return t, nil
}

// listeners opens the gRPC and HTTP listeners on the node.
func (t *tailnet) listeners() (grpcLn, httpLn net.Listener, err error) {
	grpcLn, err = t.srv.Listen("tcp", tailnetGRPCPort)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on tailscale gRPC port: %w", err)
	}

	if t.funnel {
		t.logger.Info("enabling tailscale funnel (public HTTPS)", "port", tailnetFunnelPort)
		httpLn, err = t.srv.ListenFunnel("tcp", tailnetFunnelPort)
	} else {
		httpLn, err = t.srv.Listen("tcp", tailnetHTTPPort)
	}
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return grpcLn, httpLn, nil
}

func (t *tailnet) Close() error {
	return t.srv.Close()
}
