// Package app wires the betabae server runtime: config, logging, persistence,
// the HTTP API, and the realtime gateway.
//
// Every external dependency (Postgres, Valkey, media disk, bot API) has an
// in-process fallback so the binary runs with zero configuration in dev.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"betabae/cmd/identity"
	"betabae/cmd/internal/api"
	"betabae/cmd/internal/chat"
	"betabae/cmd/internal/match"
	"betabae/cmd/internal/media"
	"betabae/cmd/internal/realtime"
	"betabae/cmd/internal/session"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/valkey-io/valkey-go"
)

// App is the betabae server runtime: it owns the HTTP server wiring and the
// lifecycle of pooled resources.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	valkeyClient valkey.Client

	ws   *realtime.WSGateway
	rest *api.Handler
}

// noBot keeps automated conversations failing cleanly when no bot API key is
// configured: the surface stays up, every exchange reports unavailable.
type noBot struct{}

func (noBot) Reply(context.Context, string) (string, error) {
	return "", errors.New("bot api key not configured")
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log}

	users, matches, chatStore, err := a.newStores(context.Background())
	if err != nil {
		return nil, err
	}

	sessions, unread, err := a.newSessionLayer()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	mediaStore, err := a.newMediaStore()
	if err != nil {
		a.closeResources()
		return nil, err
	}

	chatSvc, err := chat.NewService(log, users, chatStore, unread, a.newBot(), mediaStore)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	var matchOpts []match.Option
	if cfg.DefaultConversationType != "" {
		matchOpts = append(matchOpts, match.WithDefaultConversationType(cfg.DefaultConversationType))
	}
	matchSvc, err := match.NewService(log, users, matches, chatSvc, matchOpts...)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	hub := realtime.NewHub(log)
	ws, err := realtime.NewWSGateway(log, hub, chatSvc, sessions, users)
	if err != nil {
		a.closeResources()
		return nil, err
	}

	apiCfg := api.DefaultConfig()
	apiCfg.MaxBodyBytes = cfg.MaxBodyBytes
	apiCfg.MaxUploadBytes = cfg.MaxUploadBytes
	apiCfg.SessionTTL = cfg.SessionTTL
	apiCfg.CookieSecure = cfg.CookieSecure

	rest, err := api.NewHandler(log, apiCfg, users, sessions, matchSvc, chatSvc, api.WithPublisher(hub))
	if err != nil {
		a.closeResources()
		return nil, err
	}

	a.ws = ws
	a.rest = rest
	return a, nil
}

// newStores decides between Postgres-backed persistence and in-memory stores.
func (a *App) newStores(ctx context.Context) (identity.Store, match.Store, chat.Store, error) {
	if a.cfg.DatabaseURL == "" {
		a.log.Info("db.disabled.inmemory_store")
		matches := match.NewMemoryStore()
		return identity.NewMemoryStore(), matches, chat.NewMemoryStore(matches), nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a.dbPool = pool
	a.dbEnabled = true
	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)

	// Ownership model: app owns the pool lifecycle; the stores never close it.
	users, err := identity.NewPostgresStore(pool, identity.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	matches, err := match.NewPostgresStore(pool, match.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	chatStore, err := chat.NewPostgresStore(pool, chat.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	return users, matches, chatStore, nil
}

// newSessionLayer decides between Valkey-backed and in-process session and
// unread-counter stores. Both are ephemeral either way; Valkey just makes
// them survive process restarts and shared across replicas.
func (a *App) newSessionLayer() (session.Oracle, chat.UnreadCounter, error) {
	if a.cfg.ValkeyAddr == "" {
		a.log.Info("valkey.disabled.inmemory_sessions")
		return session.NewMemoryOracle(), chat.NewMemoryUnreadCounter(), nil
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{a.cfg.ValkeyAddr},
	})
	if err != nil {
		return nil, nil, err
	}
	a.valkeyClient = client
	a.log.Info("valkey.enabled", "addr", a.cfg.ValkeyAddr)

	sessions, err := session.NewValkeyOracle(client)
	if err != nil {
		return nil, nil, err
	}
	unread, err := chat.NewValkeyUnreadCounter(client)
	if err != nil {
		return nil, nil, err
	}
	return sessions, unread, nil
}

func (a *App) newMediaStore() (media.Store, error) {
	if a.cfg.MediaDir == "" {
		a.log.Info("media.inmemory_store")
		return media.NewMemoryStore(), nil
	}
	a.log.Info("media.fs_store", "dir", a.cfg.MediaDir)
	return media.NewFSStore(a.cfg.MediaDir, a.cfg.MediaBaseURL)
}

func (a *App) newBot() chat.BotResponder {
	if a.cfg.BotAPIKey == "" {
		a.log.Warn("bot.disabled.no_api_key")
		return noBot{}
	}

	var opts []chat.OpenAIOption
	if a.cfg.BotBaseURL != "" {
		opts = append(opts, chat.WithBaseURL(a.cfg.BotBaseURL))
	}
	if a.cfg.BotModel != "" {
		opts = append(opts, chat.WithModel(a.cfg.BotModel))
	}
	if a.cfg.BotTimeout > 0 {
		opts = append(opts, chat.WithTimeout(a.cfg.BotTimeout))
	}
	return chat.NewOpenAIResponder(a.cfg.BotAPIKey, opts...)
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.rest)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		a.closeResources()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeResources()
		return err
	}

	a.closeResources()
	a.log.Info("server.stopped")
	return nil
}

func (a *App) closeResources() {
	if a.valkeyClient != nil {
		a.valkeyClient.Close()
		a.valkeyClient = nil
	}
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
