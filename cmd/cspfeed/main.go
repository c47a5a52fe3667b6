package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/pders01/cspfeed/internal/feed"
	"github.com/pders01/cspfeed/internal/profile"
	"github.com/pders01/cspfeed/internal/search"
	"github.com/pders01/cspfeed/internal/tui"
)

// Version is the version of the application, set at build time
var Version = "dev"

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	logLevel   string
	quiet      bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "cspfeed",
		Short:         "Terminal client for the CSP news feed",
		Long:          "cspfeed shows the CSP news tabs in the terminal, with paging, pull to refresh and search.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to configuration file")
	flags.StringVar(&opts.dbPath, "db", "", "path to database file (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error, off (overrides config)")
	flags.BoolVar(&opts.quiet, "quiet", false, "skip startup banner")

	root.AddCommand(
		newVersionCmd(),
		newLoginCmd(opts),
		newLogoutCmd(opts),
		newNewsCmd(opts),
		newSearchCmd(opts),
		newProfileCmd(opts),
		newChatCmd(opts),
		newCacheCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runTUI(opts *globalOptions) error {
	if !opts.quiet {
		tui.ShowBanner(Version)
	}

	rt, err := openRuntime(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	src, err := rt.source()
	if err != nil {
		return err
	}

	controller := feed.NewController(src, feed.OptionsFromConfig(rt.cfg.Feed))
	searcher := search.New()
	controller.AddListener(searcher)

	deps := tui.Deps{
		Controller: controller,
		Searcher:   searcher,
		Store:      rt.store,
	}
	if rt.requiresLogin() {
		deps.Auth = rt.auth
		deps.Profiles = profile.NewResolver(rt.client, rt.auth)
	}

	p := tea.NewProgram(
		tui.NewApp(deps, rt.cfg),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithReportFocus(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}
