package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/feed"
	"github.com/pders01/cspfeed/internal/search"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cspfeed %s\n", Version)
			fmt.Fprintln(out, "CSP news feed client")
			fmt.Fprintln(out, "github.com/pders01/cspfeed")
		},
	}
}

func newLoginCmd(opts *globalOptions) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the backend and store the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()

			if account == "" {
				fmt.Fprint(out, "Account: ")
				if account, err = readLine(in); err != nil {
					return err
				}
			}
			fmt.Fprint(out, "Password: ")
			password, err := readPassword(cmd.InOrStdin(), in)
			fmt.Fprintln(out)
			if err != nil {
				return err
			}

			session, err := rt.auth.Login(cmd.Context(), account, password)
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}
			name, _ := session.User["f_RealName"].(string)
			if name == "" {
				name = session.Account
			}
			fmt.Fprintf(out, "Logged in as %s\n", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "account name (prompted when empty)")
	return cmd
}

// readPassword reads without echo from a terminal and falls back to a
// plain line for piped input.
func readPassword(src io.Reader, buffered *bufio.Reader) (string, error) {
	if f, ok := src.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	return readLine(buffered)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.auth.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

// loadFeed initializes a controller without the tab switch delay the
// interactive client uses.
func loadFeed(cmd *cobra.Command, rt *runtime, listeners ...feed.Listener) (*feed.Controller, error) {
	if rt.requiresLogin() && rt.auth.Session() == nil {
		return nil, errNotLoggedIn
	}

	src, err := rt.source()
	if err != nil {
		return nil, err
	}

	feedOpts := feed.OptionsFromConfig(rt.cfg.Feed)
	feedOpts.SwitchDelay = 0
	controller := feed.NewController(src, feedOpts)
	for _, l := range listeners {
		controller.AddListener(l)
	}

	controller.Initialize(cmd.Context())
	if err := controller.Snapshot().Err(); err != nil {
		return nil, checkSession(rt, err)
	}
	return controller, nil
}

func newNewsCmd(opts *globalOptions) *cobra.Command {
	var (
		tab    int
		all    bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "news",
		Short: "Print the news of one tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			controller, err := loadFeed(cmd, rt)
			if err != nil {
				return err
			}

			snap := controller.Snapshot()
			if tab < 1 || tab > len(snap.Tabs) {
				return fmt.Errorf("tab %d out of range (1-%d)", tab, len(snap.Tabs))
			}
			if tab-1 != snap.CurrentTab {
				controller.SwitchTab(cmd.Context(), tab-1)
			}
			if all {
				for controller.LoadMore() {
				}
			}

			snap = controller.Snapshot()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if snap.Window == nil {
					snap.Window = []feed.Item{}
				}
				return enc.Encode(snap.Window)
			}
			return printNews(cmd.OutOrStdout(), snap)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&tab, "tab", 1, "tab number, starting at 1")
	flags.BoolVar(&all, "all", false, "print every item of the tab instead of the first page")
	flags.BoolVar(&asJSON, "json", false, "print items as JSON")
	return cmd
}

func printNews(w io.Writer, snap feed.Snapshot) error {
	names := make([]string, len(snap.Tabs))
	for i, t := range snap.Tabs {
		names[i] = fmt.Sprintf("%d:%s", i+1, t.Name)
		if i == snap.CurrentTab {
			names[i] = "[" + names[i] + "]"
		}
	}
	fmt.Fprintln(w, strings.Join(names, "  "))

	if len(snap.Window) == 0 {
		fmt.Fprintln(w, "No news in this tab")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range snap.Window {
		date := item.PublishedDate
		if t, ok := item.Published(); ok {
			date = t.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\n", date, item.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if snap.HasMore {
		fmt.Fprintf(w, "%d of %d shown, use --all for the rest\n", len(snap.Window), snap.FilteredLen)
	}
	return nil
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the news of every tab",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			searcher := search.New()
			controller, err := loadFeed(cmd, rt, searcher)
			if err != nil {
				return err
			}

			results, err := searcher.Search(strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			return printResults(cmd.OutOrStdout(), controller.Snapshot().Tabs, results)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

func printResults(w io.Writer, tabs []feed.Tab, results []*search.Result) error {
	if len(results) == 0 {
		fmt.Fprintln(w, "No results")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range results {
		tab := ""
		if i := r.Item.Type - 1; i >= 0 && i < len(tabs) {
			tab = tabs[i].Name
		}
		fmt.Fprintf(tw, "%s\t%s\n", tab, r.Item.Title)
		for _, m := range r.Matches {
			if m.Field == "content" && m.Text != "" {
				fmt.Fprintf(tw, "\t  %s\n", m.Text)
				break
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d results\n", len(results))
	return nil
}

func newConfigCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	generate := &cobra.Command{
		Use:   "generate [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultPath()
			if opts.configPath != "" {
				path = opts.configPath
			}
			if len(args) == 1 {
				path = config.ExpandPath(args[0])
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.GenerateDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to generate config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
	generate.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			b, err := toml.Marshal(config.Tree(cfg))
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	cmd.AddCommand(generate, show)
	return cmd
}
