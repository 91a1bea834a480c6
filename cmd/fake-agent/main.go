// ABOUTME: Fake agent for end-to-end testing; answers every command with a result event
// ABOUTME: Usage: fake-agent [--addr localhost:50051] [--pull --http localhost:8080] [--id agent-1]

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/relay-hub/internal/client"
	"github.com/2389/relay-hub/internal/session"
	"github.com/2389/relay-hub/internal/wire"
)

type options struct {
	grpcAddr  string
	httpAddr  string
	id        string
	name      string
	pull      bool
	heartbeat time.Duration
	poll      time.Duration
}

func main() {
	opts := options{}
	flagSet := pflag.NewFlagSet("fake-agent", pflag.ContinueOnError)
	flagSet.StringVar(&opts.grpcAddr, "addr", "localhost:50051", "hub gRPC address (push mode)")
	flagSet.StringVar(&opts.httpAddr, "http", "localhost:8080", "hub HTTP address (pull mode)")
	flagSet.StringVar(&opts.id, "id", "fake-agent", "session id")
	flagSet.StringVar(&opts.name, "name", "Echo Agent", "display name")
	flagSet.BoolVar(&opts.pull, "pull", false, "poll over HTTP instead of holding a gRPC stream")
	flagSet.DurationVar(&opts.heartbeat, "heartbeat", 30*time.Second, "heartbeat interval (push mode)")
	flagSet.DurationVar(&opts.poll, "poll", 2*time.Second, "poll interval (pull mode)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	if opts.pull {
		err = runPull(ctx, opts, logger)
	} else {
		err = runPush(ctx, opts, logger)
	}
	if err != nil {
		logger.Error("fake agent stopped", "error", err)
		os.Exit(1)
	}
}

func metadata() map[string]any {
	host, _ := os.Hostname()
	return map[string]any{"hostname": host, "agent": "fake-agent"}
}

// echo builds the result event for a command.
func echo(cmd session.Command) (kind string, payload json.RawMessage) {
	body, _ := json.Marshal(map[string]any{
		"command_id": cmd.ID,
		"kind":       cmd.Kind,
		"echo":       cmd.Payload,
	})
	return "result", body
}

func runPush(ctx context.Context, opts options, logger *slog.Logger) error {
	conn, err := grpc.NewClient(opts.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	stream, err := wire.Dial(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}

	if err := stream.Send(&wire.Message{
		Type:      wire.TypeRegister,
		SessionID: opts.id,
		Role:      "agent",
		Name:      opts.name,
		Metadata:  metadata(),
	}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	welcome, err := stream.Recv()
	if err != nil {
		return fmt.Errorf("failed to receive welcome: %w", err)
	}
	if welcome.Type != wire.TypeWelcome {
		return fmt.Errorf("expected welcome, got %q", welcome.Type)
	}
	logger.Info("registered", "session_id", welcome.SessionID, "server_id", welcome.ServerID)

	// Recv runs on its own goroutine; all sends stay on this one.
	recvErr := make(chan error, 1)
	commands := make(chan session.Command)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			if msg.Type == wire.TypeCommand && msg.Command != nil {
				select {
				case commands <- *msg.Command:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(opts.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = stream.CloseSend()
			return nil
		case err := <-recvErr:
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv error: %w", err)
		case <-ticker.C:
			if err := stream.Send(&wire.Message{Type: wire.TypeHeartbeat}); err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		case cmd := <-commands:
			logger.Info("received command", "command_id", cmd.ID, "kind", cmd.Kind)
			kind, payload := echo(cmd)
			if err := stream.Send(&wire.Message{
				Type:  wire.TypeEvent,
				Event: &session.Event{ID: uuid.NewString(), Kind: kind, Payload: payload},
			}); err != nil {
				return fmt.Errorf("send result: %w", err)
			}
		}
	}
}

func runPull(ctx context.Context, opts options, logger *slog.Logger) error {
	c := client.New(opts.httpAddr)
	reg := client.Registration{ID: opts.id, Name: opts.name, Metadata: metadata()}

	registered, err := c.Register(ctx, reg)
	if err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}
	logger.Info("registered", "session_id", registered.ID, "liveness_timeout", registered.LivenessTimeout)
	reg.ID = registered.ID

	defer func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Leave(leaveCtx, reg.ID)
	}()

	ticker := time.NewTicker(opts.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cmds, err := c.Poll(ctx, reg.ID)
		switch {
		case client.IsStatus(err, http.StatusNotFound):
			logger.Warn("session evicted, registering again")
			if _, err := c.Register(ctx, reg); err != nil {
				logger.Warn("re-register failed", "error", err)
			}
			continue
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("poll failed", "error", err)
			continue
		}

		for _, cmd := range cmds {
			logger.Info("received command", "command_id", cmd.ID, "kind", cmd.Kind)
			kind, payload := echo(cmd)
			// The command id doubles as the event id so a retried upload is deduplicated.
			if err := c.Submit(ctx, reg.ID, cmd.ID, kind, payload); err != nil {
				logger.Warn("submit failed", "command_id", cmd.ID, "error", err)
			}
		}
	}
}
