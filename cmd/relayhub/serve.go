// ABOUTME: serve command: loads .env and config, prints the banner and runs the gateway
// ABOUTME: Blocks until SIGINT/SIGTERM, then shuts down gracefully

package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/relay-hub/internal/gateway"
)

const banner = `
           _               _           _
  _ __ ___| | __ _ _   _  | |__  _   _| |__
 | '__/ _ \ |/ _' | | | | | '_ \| | | | '_ \
 | | |  __/ | (_| | |_| | | | | | |_| | |_) |
 |_|  \___|_|\__,_|\__, | |_| |_|\__,_|_.__/
                   |___/
`

func newServeCmd(opts *globalOptions) *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relay hub server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Secrets such as RELAYHUB_JWT_SECRET may live in a .env file.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}

			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			cyan := color.New(color.FgCyan)
			gray := color.New(color.FgHiBlack)
			green := color.New(color.FgGreen)
			yellow := color.New(color.FgYellow)

			cyan.Fprint(out, banner)
			gray.Fprintf(out, "    version: %s\n\n", version)

			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Config:    %s\n", opts.resolvedConfigPath())
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "gRPC:      %s\n", cfg.Server.GRPCAddr)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
			green.Fprint(out, "    ▶ ")
			fmt.Fprintf(out, "Liveness:  %s (sweep every %s)\n", cfg.Relay.LivenessTimeout, cfg.Relay.SweepInterval)
			if cfg.Tailscale.Enabled {
				green.Fprint(out, "    ▶ ")
				fmt.Fprint(out, "Tailscale: ")
				cyan.Fprint(out, cfg.Tailscale.Hostname)
				if cfg.Tailscale.Funnel {
					yellow.Fprint(out, " [funnel]")
				}
				if cfg.Tailscale.Ephemeral {
					gray.Fprint(out, " (ephemeral)")
				}
				fmt.Fprintln(out)
			}
			if cfg.Auth.JWTSecret == "" {
				yellow.Fprintln(out, "    ! controller endpoints are unauthenticated")
			}
			fmt.Fprintln(out)

			logger := setupLogger(cfg.Logging, cmd.ErrOrStderr())
			logger.Info("starting relayhub",
				"config", opts.resolvedConfigPath(),
				"grpc_addr", cfg.Server.GRPCAddr,
				"http_addr", cfg.Server.HTTPAddr,
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}
