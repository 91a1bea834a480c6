// ABOUTME: Operator commands that talk to a running hub over HTTP
// ABOUTME: health, roster, session, dispatch, stats, login and hash-password

package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/relay-hub/internal/auth"
	"github.com/2389/relay-hub/internal/session"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check hub health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			h, err := c.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			ready, err := c.Ready(cmd.Context())
			if err != nil {
				return fmt.Errorf("readiness check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprint(out, "healthy")
			fmt.Fprintf(out, " server=%s sessions=%d uptime=%s ready=%t\n", h.ServerID, h.Sessions, h.Uptime, ready)
			return nil
		},
	}
}

func newRosterCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "roster",
		Short: "List registered sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			roster, err := c.Roster(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), roster)
			}
			return printRoster(cmd.OutOrStdout(), roster, time.Now())
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the roster as JSON")
	return cmd
}

func printRoster(w io.Writer, roster []session.Info, now time.Time) error {
	if len(roster) == 0 {
		_, err := fmt.Fprintln(w, "no sessions")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tTRANSPORT\tSTATUS\tPENDING\tLAST SEEN\tNAME")
	for _, s := range roster {
		status := color.GreenString("online")
		if !s.Online {
			status = color.YellowString("offline")
		}
		seen := now.Sub(s.LastHeartbeat).Round(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s ago\t%s\n", s.ID, s.Role, s.Mode, status, s.Pending, seen, s.Name)
	}
	return tw.Flush()
}

func newSessionCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "session <id>",
		Short: "Show one session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			info, err := c.Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newDispatchCmd(opts *globalOptions) *cobra.Command {
	var payload string

	cmd := &cobra.Command{
		Use:   "dispatch <target> <kind>",
		Short: "Send a command to an agent",
		Long:  "Send a command to an agent. Push agents receive it immediately; pull agents receive it on their next poll.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return errors.New("--payload must be valid JSON")
				}
				raw = json.RawMessage(payload)
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			receipt, err := c.Dispatch(cmd.Context(), args[0], args[1], raw)
			if err != nil {
				return err
			}

			how := "delivered"
			if receipt.Queued {
				how = "queued"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", how, receipt.CommandID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&payload, "payload", "p", "", "JSON payload for the command")
	return cmd
}

func newStatsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show hub counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.client()
			if err != nil {
				return err
			}
			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a controller token and save it for later commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}

			c, err := opts.client()
			if err != nil {
				return err
			}
			token, expiresAt, err := c.Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}

			path := opts.tokenPath()
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("creating token directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
				return fmt.Errorf("writing token file: %w", err)
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "  ✓ Saved token: %s (expires %s)\n",
				path, expiresAt.Local().Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "operator username")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin for auth.users in the config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readSecret(cmd.InOrStdin())
			if err != nil {
				return err
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

// readSecret reads one line from r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
