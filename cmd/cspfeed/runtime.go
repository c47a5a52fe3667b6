package main

import (
	"errors"
	"fmt"

	"github.com/pders01/cspfeed/internal/api"
	"github.com/pders01/cspfeed/internal/auth"
	"github.com/pders01/cspfeed/internal/config"
	"github.com/pders01/cspfeed/internal/debuglog"
	"github.com/pders01/cspfeed/internal/feed"
	"github.com/pders01/cspfeed/internal/storage"
)

var errNotLoggedIn = errors.New("not logged in, run `cspfeed login` first")

// runtime is everything a command needs once config is loaded.
type runtime struct {
	cfg    *config.Config
	store  *storage.Store
	client *api.Client
	auth   *auth.Manager
}

func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.dbPath != "" {
		cfg.Database.Path = config.ExpandPath(opts.dbPath)
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	return cfg, nil
}

func openRuntime(opts *globalOptions) (*runtime, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	if err := debuglog.Setup(debuglog.ParseLogLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return nil, err
	}

	store, err := storage.NewStoreWithTimeout(cfg.Database.Path, cfg.Database.Timeout)
	if err != nil {
		debuglog.Close()
		return nil, fmt.Errorf("opening database %s (is another cspfeed running?): %w", cfg.Database.Path, err)
	}

	client, err := api.NewClient(cfg.API, nil)
	if err != nil {
		store.Close()
		debuglog.Close()
		return nil, err
	}

	manager := auth.NewManager(client, store)
	client.SetTokenSource(manager)
	if _, ok := manager.Restore(); ok {
		debuglog.Infof("restored session")
	}

	return &runtime{cfg: cfg, store: store, client: client, auth: manager}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		debuglog.Warnf("closing database: %v", err)
	}
	debuglog.Close()
}

// requiresLogin reports whether the configured source is the backend,
// which only serves logged in users.
func (r *runtime) requiresLogin() bool {
	return r.cfg.Feed.Source != config.SourceRSS
}

func (r *runtime) source() (feed.Source, error) {
	if r.cfg.Feed.Source == config.SourceRSS {
		return feed.NewRSSSource(r.cfg.Feed.RSS, feed.RSSOptions{
			UserAgent:  r.cfg.API.UserAgent,
			Timeout:    r.cfg.API.Timeout,
			AllowLocal: r.cfg.Feed.AllowLocal,
		})
	}
	return feed.NewAPISource(r.client), nil
}
