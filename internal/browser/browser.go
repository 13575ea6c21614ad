// Package browser owns the Chrome connection: the tab lifecycle the campaign
// needs (open or reuse a host tab, wait for it to load) and dom.Surface
// adapters over live pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"dm-outreach-engine/internal/config"
	"dm-outreach-engine/internal/dom"
	"dm-outreach-engine/internal/pace"
)

var (
	ErrPageLoadTimeout = errors.New("page load timed out")
	ErrNotConnected    = errors.New("browser not connected")
	ErrUnknownTab      = errors.New("unknown tab")
)

// Options is the browser section of the config with durations resolved.
type Options struct {
	ControlURL   string
	Bin          string
	Headless     bool
	Flags        []string
	HostURL      string
	LoadTimeout  time.Duration
	PollInterval time.Duration
	Settle       time.Duration
}

func OptionsFrom(c config.Config) Options {
	return Options{
		ControlURL:   c.Browser.ControlURL,
		Bin:          c.Browser.Bin,
		Headless:     c.Browser.Headless,
		Flags:        c.Browser.Flags,
		HostURL:      c.Browser.HostURL,
		LoadTimeout:  c.LoadTimeout(),
		PollInterval: c.PollInterval(),
		Settle:       c.Settle(),
	}
}

// Browser is a connected Chrome instance.
type Browser struct {
	opts  Options
	sleep pace.Sleeper

	mu      sync.RWMutex
	browser *rod.Browser
}

func New(opts Options) *Browser {
	return &Browser{opts: opts, sleep: pace.Sleep}
}

// Start connects to ControlURL or launches Chrome. Calling it again on a
// healthy connection is a no-op.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		if _, err := b.browser.Version(); err == nil {
			return nil
		}
		log.Warn().Msg("stale browser connection, reconnecting")
		_ = b.browser.Close()
		b.browser = nil
	}

	controlURL := b.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(b.opts.Headless)
		if b.opts.Bin != "" {
			l = l.Bin(b.opts.Bin)
		}
		for _, raw := range b.opts.Flags {
			name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
			if hasVal {
				l = l.Set(flags.Flag(name), val)
			} else {
				l = l.Set(flags.Flag(name))
			}
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	rb := rod.New().ControlURL(controlURL).Context(ctx)
	if err := rb.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = rb
	log.Info().Str("control_url", controlURL).Msg("browser connected")
	return nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

func (b *Browser) conn() (*rod.Browser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.browser == nil {
		return nil, ErrNotConnected
	}
	return b.browser, nil
}

// Open reuses the first tab already on the host, navigating and focusing it,
// or creates one, then waits for the page to finish loading. It returns the
// tab's target id.
func (b *Browser) Open(ctx context.Context, url string) (string, error) {
	rb, err := b.conn()
	if err != nil {
		return "", err
	}
	rb = rb.Context(ctx)

	page, err := b.hostTab(rb)
	if err != nil {
		return "", err
	}
	if page != nil {
		if err := page.Navigate(url); err != nil {
			return "", fmt.Errorf("navigate: %w", err)
		}
		if _, err := page.Activate(); err != nil {
			log.Debug().Err(err).Msg("activate tab")
		}
	} else {
		page, err = rb.Page(proto.TargetCreateTarget{URL: url})
		if err != nil {
			return "", fmt.Errorf("create tab: %w", err)
		}
	}

	if err := b.waitLoaded(ctx, page); err != nil {
		return "", err
	}
	return string(page.TargetID), nil
}

func (b *Browser) hostTab(rb *rod.Browser) (*rod.Page, error) {
	pages, err := rb.Pages()
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, b.opts.HostURL) {
			return p, nil
		}
	}
	return nil, nil
}

// waitLoaded polls document.readyState until "complete", bounded by
// LoadTimeout, then gives the page's scripts Settle to render.
func (b *Browser) waitLoaded(ctx context.Context, page *rod.Page) error {
	err := poll(ctx, b.sleep, b.opts.LoadTimeout, b.opts.PollInterval, func() bool {
		state, err := readyState(page.Context(ctx))
		if err != nil {
			// the execution context is torn down while navigating
			log.Debug().Err(err).Msg("read page state")
			return false
		}
		return state == "complete"
	})
	if err != nil {
		return err
	}
	return b.sleep(ctx, b.opts.Settle)
}

// poll checks done every interval, giving up with ErrPageLoadTimeout once
// timeout worth of intervals has passed.
func poll(ctx context.Context, sleep pace.Sleeper, timeout, interval time.Duration, done func() bool) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	attempts := int(timeout/interval) + 1
	for i := 0; i < attempts; i++ {
		if done() {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	return ErrPageLoadTimeout
}

func readyState(page *rod.Page) (string, error) {
	res, err := page.Eval(`() => document.readyState`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

// Surface returns a dom.Surface over the tab's live document.
func (b *Browser) Surface(ctx context.Context, tabID string) (dom.Surface, error) {
	rb, err := b.conn()
	if err != nil {
		return nil, err
	}
	page, err := rb.Context(ctx).PageFromTarget(proto.TargetTargetID(tabID))
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrUnknownTab, tabID, err)
	}
	return &Surface{page: page}, nil
}
