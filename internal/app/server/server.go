// Package server wires config, storage, events, the browser, the page agent
// and the campaign runner into the orchestrator and agent processes.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"dm-outreach-engine/internal/api"
	"dm-outreach-engine/internal/browser"
	"dm-outreach-engine/internal/campaign"
	"dm-outreach-engine/internal/config"
	"dm-outreach-engine/internal/delivery"
	"dm-outreach-engine/internal/events"
	"dm-outreach-engine/internal/listener"
	"dm-outreach-engine/internal/pace"
	"dm-outreach-engine/internal/protocol"
	"dm-outreach-engine/internal/storage"
	"dm-outreach-engine/internal/target"
	"dm-outreach-engine/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// Deps overrides collaborators that would otherwise be built from config.
// The zero value means "build everything".
type Deps struct {
	Tabs      campaign.Tabs
	Surfaces  transport.Surfaces
	Deliverer transport.Deliverer
	Sleep     pace.Sleeper
}

// App is a wired orchestrator.
type App struct {
	Config  config.Config
	KV      storage.KV
	Bus     *events.Bus
	Runner  *campaign.Runner
	Handler *api.Handler

	store   *storage.Store
	browser *browser.Browser
}

// New builds the orchestrator. ctx bounds setup only; the browser connection
// and the campaign outlive it.
func New(ctx context.Context, cfg config.Config, deps Deps) (*App, error) {
	a := &App{Config: cfg, Bus: events.NewBus()}

	switch cfg.Storage.Driver {
	case "postgres":
		st, err := storage.New(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		a.store, a.KV = st, st
	case "memory":
		a.KV = storage.NewMemory()
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	rnd := pace.Seeded()
	tabs, surfaces := deps.Tabs, deps.Surfaces
	if tabs == nil || (surfaces == nil && cfg.Agent.Mode == "local") {
		a.browser = browser.New(browser.OptionsFrom(cfg))
		if err := a.browser.Start(context.WithoutCancel(ctx)); err != nil {
			a.Close()
			return nil, err
		}
		if tabs == nil {
			tabs = a.browser
		}
		if surfaces == nil {
			surfaces = a.browser
		}
	}

	var agent campaign.Agent
	switch cfg.Agent.Mode {
	case "local":
		d := deps.Deliverer
		if d == nil {
			d = delivery.New(rnd)
		}
		agent = transport.NewLocal(surfaces, d)
	case "remote":
		if cfg.Agent.URL == "" {
			a.Close()
			return nil, fmt.Errorf("agent.url is required in remote mode")
		}
		agent = transport.NewClient(cfg.Agent.URL, 0)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown agent mode %q", cfg.Agent.Mode)
	}

	ex := target.NewExtractor(cfg.Campaign.HostPattern)
	a.Runner = campaign.New(tabs, agent, storage.Flags{KV: a.KV}, a.Bus, campaign.Options{
		MaxTargets: cfg.Campaign.MaxTargets,
		Extractor:  ex,
		Rand:       rnd,
		Sleep:      deps.Sleep,
	})
	a.Handler = api.NewHandler(a.Runner, a.Bus, a.KV, ex, cfg.Campaign.MaxTargets)

	if mem, ok := a.KV.(*storage.Memory); ok {
		mem.OnChange(func(key string) {
			if key == storage.KeyTaskRunning {
				return
			}
			if err := a.Handler.RefreshForm(context.Background()); err != nil {
				log.Error().Err(err).Msg("refresh form")
			}
		})
	}
	if err := a.Handler.RefreshForm(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.Runner.ClearStale(ctx); err != nil {
		log.Warn().Err(err).Msg("clear stale running flag")
	}
	return a, nil
}

func (a *App) Router() http.Handler { return api.Router(a.Handler) }

// Shutdown stops the campaign and waits for its in-flight delivery.
func (a *App) Shutdown(ctx context.Context) error {
	a.Runner.Stop(ctx)
	return a.Runner.Wait(ctx)
}

func (a *App) Close() {
	if a.browser != nil {
		if err := a.browser.Close(); err != nil {
			log.Debug().Err(err).Msg("close browser")
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

// Run serves the UI API until SIGINT/SIGTERM.
func Run(cfg config.Config) error {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(rootCtx, cfg, Deps{})
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:        cfg.Server.Addr,
		Handler:     a.Router(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	g, gctx := errgroup.WithContext(rootCtx)

	// Listener (LISTEN/NOTIFY)
	if a.store != nil {
		g.Go(func() error {
			listener.ListenAndRefresh(gctx, a.store, a.Handler.RefreshForm, cfg.Listener.Channel, cfg.Backoff())
			return nil
		})
	}
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Str("agent", cfg.Agent.Mode).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server crashed: %w", err)
		}
		return nil
	})
	sig := waitForSignal()
	g.Go(func() error {
		select {
		case <-sig:
		case <-gctx.Done():
		}
		log.Info().Msg("shutdown...")

		// Graceful shutdown
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		if err := a.Shutdown(shCtx); err != nil {
			log.Warn().Err(err).Msg("in-flight delivery did not finish")
		}
		cancel() // stop background goroutines
		return srv.Shutdown(shCtx)
	})
	return g.Wait()
}

// RunAgent serves the page-automation side over HTTP until SIGINT/SIGTERM.
func RunAgent(cfg config.Config) error {
	b := browser.New(browser.OptionsFrom(cfg))
	if err := b.Start(context.Background()); err != nil {
		return err
	}
	defer b.Close()

	agent := transport.NewLocal(b, delivery.New(pace.Seeded()))
	srv := &http.Server{
		Addr:        cfg.Agent.Addr,
		Handler:     transport.Handler(agent),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Agent.Addr).Msg("page agent starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case <-waitForSignal():
	case err := <-errc:
		return fmt.Errorf("agent crashed: %w", err)
	}
	shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shCancel()
	return srv.Shutdown(shCtx)
}

// RunOnce runs a single campaign and writes its log lines to out until
// TASK_COMPLETE.
// SIGINT stops the campaign.
func RunOnce(cfg config.Config, camp campaign.Config, out func(string)) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, cfg, Deps{})
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Follow(ctx, camp, waitForSignal(), out)
}

// Follow starts camp and relays its log lines to out until the run completes
// or stop fires, in which case the campaign is stopped.
func (a *App) Follow(ctx context.Context, camp campaign.Config, stop <-chan os.Signal, out func(string)) error {
	ch, _, unsubscribe := a.Bus.Subscribe()
	defer unsubscribe()

	if err := a.Runner.Start(ctx, camp); err != nil {
		return err
	}
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			switch m.Type {
			case protocol.Log:
				out(fmt.Sprintf("[%s] %s", m.Level, m.Text))
			case protocol.TaskComplete:
				return a.Runner.Wait(ctx)
			}
		case <-stop:
			shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shCancel()
			return a.Shutdown(shCtx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func waitForSignal() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	return c
}
