// ABOUTME: Gateway orchestrator that coordinates the gRPC and HTTP servers
// ABOUTME: Owns the relay hub, auth gate and listener lifecycle (TCP or Tailscale)

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/relay-hub/internal/auth"
	"github.com/2389/relay-hub/internal/config"
	"github.com/2389/relay-hub/internal/relay"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 5 * time.Second

// Gateway orchestrates the relayhub server components.
type Gateway struct {
	config     *config.Config
	hub        *relay.Hub
	grpcServer *grpc.Server
	httpServer *http.Server
	tailnet    *tailnet
	logger     *slog.Logger

	// verifier is nil when auth is disabled.
	verifier *auth.JWTVerifier
	users    auth.Users

	// serverID identifies this gateway instance
	serverID  string
	startedAt time.Time
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config:    cfg,
		logger:    logger.With("component", "gateway"),
		serverID:  generateServerID(),
		startedAt: time.Now(),
		hub: relay.NewHub(relay.Options{
			LivenessTimeout: cfg.Relay.LivenessTimeout,
			SweepInterval:   cfg.Relay.SweepInterval,
			QueueCapacity:   cfg.Relay.MaxQueuedCommands,
			RosterDebounce:  cfg.Relay.RosterDebounce,
			Logger:          logger,
		}),
	}

	if cfg.Auth.JWTSecret != "" {
		verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
		gw.verifier = verifier
		gw.users = auth.Users(cfg.Auth.UserMap())
	}

	gw.grpcServer = gw.createGRPCServer()
	gw.grpcServer.RegisterService(&relayServiceDesc, newRelayServer(gw, logger.With("component", "grpc")))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Hub returns the relay core.
func (g *Gateway) Hub() *relay.Hub {
	return g.hub
}

// Handler returns the HTTP handler tree, including the WebSocket endpoint.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// createGRPCServer creates a gRPC server, with the token interceptor when auth is enabled.
func (g *Gateway) createGRPCServer() *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	if g.verifier != nil {
		opts = append(opts, grpc.ChainStreamInterceptor(auth.StreamInterceptor(g.verifier, g.logger)))
		g.logger.Info("gRPC auth interceptor enabled")
	}
	return grpc.NewServer(opts...)
}

// listen opens the gRPC and HTTP listeners, on the tailnet when enabled.
func (g *Gateway) listen(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.logger.Info("server.grpc_addr and server.http_addr are ignored on the tailnet")
		g.tailnet, err = startTailnet(ctx, g.config.Tailscale, g.logger.With("component", "tailscale"))
		if err != nil {
			return nil, nil, err
		}
		return g.tailnet.listeners()
	}

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}
	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return grpcLn, httpLn, nil
}

// Run listens on the configured addresses and serves until ctx ends.
// It returns nil after a graceful shutdown, or the first server error.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.listen(ctx)
	if err != nil {
		if g.tailnet != nil {
			_ = g.tailnet.Close()
		}
		return err
	}
	return g.Serve(ctx, grpcLn, httpLn)
}

// Serve starts the hub and both servers on listeners the caller created and
// blocks until ctx ends or a server fails.
func (g *Gateway) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	g.hub.Start(ctx)

	servers := []struct {
		name  string
		ln    net.Listener
		serve func(net.Listener) error
	}{
		{"gRPC", grpcLn, g.grpcServer.Serve},
		{"HTTP", httpLn, g.httpServer.Serve},
	}

	failed := make(chan error, len(servers))
	for _, srv := range servers {
		g.logger.Info("server listening", "server", srv.name, "addr", srv.ln.Addr().String())
		go func() {
			err := srv.serve(srv.ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, grpc.ErrServerStopped) {
				failed <- fmt.Errorf("%s server: %w", srv.name, err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serveErr = <-failed:
		g.logger.Error("server failed, initiating shutdown", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		return err
	}
	return serveErr
}

// Shutdown stops the HTTP server, closes every session, then drains gRPC.
// Sessions go first so open push streams end instead of holding GracefulStop.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	g.hub.Close()

	drained := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		g.logger.Warn("gRPC drain timed out, forcing stop")
		g.grpcServer.Stop()
	}

	if g.tailnet != nil {
		if err := g.tailnet.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}

// generateServerID creates a short identifier for this gateway instance,
// reported in welcome messages and /health.
func generateServerID() string {
	return "relayhub-" + uuid.NewString()[:8]
}
