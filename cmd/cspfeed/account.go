package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pders01/cspfeed/internal/api"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/profile"
)

// checkSession maps a backend rejection to errNotLoggedIn after clearing
// the stored session.
func checkSession(rt *runtime, err error) error {
	if rt.auth.HandleError(err) {
		return fmt.Errorf("session expired: %w", errNotLoggedIn)
	}
	return err
}

func newProfileCmd(opts *globalOptions) *cobra.Command {
	var (
		refresh bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the logged in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.auth.Session() == nil {
				return errNotLoggedIn
			}
			p, err := profile.NewResolver(rt.client, rt.auth).Resolve(cmd.Context(), refresh)
			if err != nil {
				return checkSession(rt, err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			}
			return printProfile(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ask the backend instead of using the cached record")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the profile as JSON")
	return cmd
}

func printProfile(w io.Writer, p *profile.Profile) error {
	fmt.Fprintln(w, p.DisplayName())
	fmt.Fprintln(w, strings.Join(p.Tags(), " · "))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, row := range [][2]string{
		{"Account", p.Account},
		{"User ID", p.UserID},
		{"Phone", p.Phone},
		{"Email", p.Email},
		{"Joined", p.CreateDate},
	} {
		if row[1] != "" {
			fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
		}
	}
	return tw.Flush()
}

func newChatCmd(opts *globalOptions) *cobra.Command {
	var send string

	cmd := &cobra.Command{
		Use:   "chat <user-id>",
		Short: "Show recent messages with a user, or send one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.auth.Session() == nil {
				return errNotLoggedIn
			}
			peer := args[0]
			out := cmd.OutOrStdout()

			if send = strings.TrimSpace(send); send != "" {
				id, err := rt.client.SendMessage(cmd.Context(), peer, send)
				if err != nil {
					return checkSession(rt, err)
				}
				fmt.Fprintf(out, "Sent message %s\n", id)
				return nil
			}

			msgs, err := rt.client.LastMessages(cmd.Context(), peer)
			if err != nil {
				return checkSession(rt, err)
			}
			return printMessages(out, peer, msgs)
		},
	}
	cmd.Flags().StringVar(&send, "send", "", "send this text instead of printing the history")
	return cmd
}

func printMessages(w io.Writer, peer string, msgs []api.Message) error {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, m := range msgs {
		from := "me"
		if string(m.SendUserID) == peer {
			from = peer
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.CreateDate, from, m.Content)
	}
	return tw.Flush()
}

func newCacheCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage locally cached data",
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget read marks and the last tab, and ask the backend to drop its cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.store.ClearCache(); err != nil {
				return fmt.Errorf("clearing local cache: %w", err)
			}
			if rt.auth.Session() != nil {
				// the local cache is already gone; a backend failure is only logged
				if err := rt.client.ClearCache(cmd.Context()); err != nil {
					debuglog.Warnf("%v", err)
					rt.auth.HandleError(err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}

	cmd.AddCommand(clearCmd)
	return cmd
}
