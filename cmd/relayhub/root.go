// ABOUTME: Root cobra command, shared flags and client construction
// ABOUTME: Resolves hub address and token from flags, environment, then config

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/relay-hub/internal/client"
	"github.com/2389/relay-hub/internal/config"
)

type globalOptions struct {
	configPath string
	addr       string
	token      string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "relayhub",
		Short:         "Relay hub for agents and controllers",
		Long:          "relayhub relays commands from controllers to agents and fans agent events back out. It serves push sessions over gRPC and WebSocket and pull sessions over HTTP.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default $RELAYHUB_CONFIG or ~/.config/relayhub/config.yaml)")
	flags.StringVar(&opts.addr, "addr", "", "hub HTTP address for client commands (default $RELAYHUB_ADDR or server.http_addr)")
	flags.StringVar(&opts.token, "token", "", "bearer token for client commands (default $RELAYHUB_TOKEN or the saved token)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newHealthCmd(opts),
		newRosterCmd(opts),
		newSessionCmd(opts),
		newDispatchCmd(opts),
		newStatsCmd(opts),
		newLoginCmd(opts),
		newHashPasswordCmd(),
	)

	return rootCmd
}

func (o *globalOptions) resolvedConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	return config.DefaultPath()
}

// loadConfig loads the config file. A missing file at the default location
// yields the defaults; a missing file named explicitly is an error.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	path := o.resolvedConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && o.configPath == "" {
		return config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// tokenPath is where login saves a token for later commands.
func (o *globalOptions) tokenPath() string {
	return filepath.Join(filepath.Dir(o.resolvedConfigPath()), "token")
}

func (o *globalOptions) hubAddr() (string, error) {
	if o.addr != "" {
		return o.addr, nil
	}
	if env := os.Getenv("RELAYHUB_ADDR"); env != "" {
		return env, nil
	}
	cfg, err := o.loadConfig()
	if err != nil {
		return "", err
	}
	return dialableAddr(cfg.Server.HTTPAddr), nil
}

// dialableAddr turns a wildcard listen address into one a client can reach.
func dialableAddr(listen string) string {
	for _, wildcard := range []string{"0.0.0.0:", "[::]:", ":"} {
		if port, ok := strings.CutPrefix(listen, wildcard); ok {
			return "localhost:" + port
		}
	}
	return listen
}

func (o *globalOptions) resolvedToken() string {
	if o.token != "" {
		return o.token
	}
	if env := os.Getenv("RELAYHUB_TOKEN"); env != "" {
		return env
	}
	data, err := os.ReadFile(o.tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (o *globalOptions) client() (*client.Client, error) {
	addr, err := o.hubAddr()
	if err != nil {
		return nil, err
	}
	return client.New(addr, client.WithToken(o.resolvedToken())), nil
}
