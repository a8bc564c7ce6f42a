// Package scraper drives the payment-form site over a rod browser session.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/planillas/config"
	"github.com/use-agent/planillas/engine"
	"github.com/use-agent/planillas/models"
)

// pingTimeout bounds the liveness probe used to tell a slow page from a
// dead socket.
const pingTimeout = 2 * time.Second

// Connector establishes browser sessions. With a WebSocket endpoint it
// attaches to a remote browser; otherwise it launches a local Chromium.
// It implements engine.SessionProvider.
type Connector struct {
	browserCfg config.BrowserConfig
	scraperCfg config.ScraperConfig
}

// NewConnector creates a Connector.
func NewConnector(browserCfg config.BrowserConfig, scraperCfg config.ScraperConfig) *Connector {
	return &Connector{browserCfg: browserCfg, scraperCfg: scraperCfg}
}

// Connect opens a new session. Each call yields an independent connection.
func (c *Connector) Connect(ctx context.Context) (engine.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.browserCfg.ConnectTimeout)
	defer cancel()

	var (
		controlURL string
		l          *launcher.Launcher
		err        error
	)
	if c.browserCfg.WSEndpoint != "" {
		controlURL, err = resolveEndpoint(c.browserCfg.WSEndpoint)
		if err != nil {
			return nil, models.NewScrapeError(
				models.ErrCodeBrowserCrash,
				"failed to resolve browser endpoint",
				err,
			)
		}
	} else {
		l = c.newLauncher()
		controlURL, err = l.Launch()
		if err != nil {
			return nil, models.NewScrapeError(
				models.ErrCodeBrowserCrash,
				"failed to launch browser",
				err,
			)
		}
		slog.Info("browser launched", "controlURL", controlURL)
	}

	// The socket is owned here rather than by rod so Close can drop the
	// connection without sending Browser.close to a shared remote browser.
	ws := &cdp.WebSocket{}
	if err := ws.Connect(ctx, controlURL, nil); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	browser := rod.New().Client(cdp.New().Start(ws))
	if err := browser.Connect(); err != nil {
		_ = ws.Close()
		if l != nil {
			l.Kill()
		}
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to attach to browser",
			err,
		)
	}

	slog.Info("browser session connected", "remote", l == nil)
	return &rodSession{
		browser:    browser,
		ws:         ws,
		launcher:   l,
		browserCfg: c.browserCfg,
		scraperCfg: c.scraperCfg,
	}, nil
}

func (c *Connector) newLauncher() *launcher.Launcher {
	l := launcher.New().
		Headless(c.browserCfg.Headless).
		NoSandbox(c.browserCfg.NoSandbox)

	if c.browserCfg.BrowserBin != "" {
		l = l.Bin(c.browserCfg.BrowserBin)
	}
	if c.browserCfg.Proxy != "" {
		l = l.Proxy(c.browserCfg.Proxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))
	if lang := primaryLanguage(c.browserCfg.AcceptLanguage); lang != "" {
		l.Set(flags.Flag("lang"), lang)
	}
	return l
}

// resolveEndpoint accepts a DevTools WebSocket URL as is. Anything else
// ("host:9222", "http://host:9222") is resolved through /json/version.
func resolveEndpoint(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}
	return launcher.ResolveURL(endpoint)
}

// primaryLanguage returns the first tag of an Accept-Language value.
func primaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

// rodSession implements engine.Session.
type rodSession struct {
	browser  *rod.Browser
	ws       *cdp.WebSocket
	launcher *launcher.Launcher // nil for remote browsers

	browserCfg config.BrowserConfig
	scraperCfg config.ScraperConfig

	closeOnce sync.Once
	closeErr  error
}

// NewPage opens a tab prepared for the form: stealth evasions, extra
// headers and request blocking are installed before the first navigation.
func (s *rodSession) NewPage(ctx context.Context) (engine.Page, error) {
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		if IsSessionLost(err) {
			return nil, sessionLost(err)
		}
		return nil, fmt.Errorf("open page: %w", err)
	}
	// Detach from ctx; every rodPage call rebinds its own.
	page = page.Context(context.Background())

	if s.browserCfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth",
				"error", evalErr,
			)
		}
	}

	if s.browserCfg.AcceptLanguage != "" {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(map[string]string{"Accept-Language": s.browserCfg.AcceptLanguage}),
		}.Call(page)
	}

	router := setupHijack(page, s.scraperCfg.BlockedResourceTypes, s.scraperCfg.BlockTrackers)

	return &rodPage{
		page:        page,
		sess:        s,
		router:      router,
		navTimeout:  s.scraperCfg.NavigationTimeout,
		stepTimeout: s.scraperCfg.StepTimeout,
		idleWindow:  s.scraperCfg.IdleWindow,
	}, nil
}

// alive reports whether the browser still answers over the socket.
func (s *rodSession) alive() bool {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	_, err := proto.BrowserGetVersion{}.Call(s.browser.Context(ctx))
	return err == nil
}

// Close drops the connection. A locally launched browser is also shut
// down; a remote one is left running for other clients.
func (s *rodSession) Close() error {
	s.closeOnce.Do(func() {
		if s.launcher == nil {
			s.closeErr = s.ws.Close()
			slog.Info("browser session closed", "remote", true)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		_ = s.browser.Context(ctx).Close()
		cancel()
		_ = s.ws.Close()
		s.launcher.Kill()
		s.launcher.Cleanup()
		slog.Info("browser session closed", "remote", false)
	})
	return s.closeErr
}
