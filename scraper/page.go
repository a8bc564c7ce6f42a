package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// closeTimeout bounds page teardown, which runs after the lookup's own
// context may already be done.
const closeTimeout = 5 * time.Second

// rodPage implements engine.Page over one rod tab.
//
// Network quiescence: WaitRequestIdle must be registered before the action
// that triggers traffic, otherwise in-flight requests are missed and the
// wait returns instantly. Click therefore arms a waiter that the next
// WaitNetworkIdle consumes; Navigate arms and waits on its own. WaitRequestIdle conflicts with
// HijackRequests on Chromium 145+, so pages with a hijack router fall back
// to WaitDOMStable.
type rodPage struct {
	page   *rod.Page
	sess   *rodSession
	router *rod.HijackRouter

	navTimeout  time.Duration
	stepTimeout time.Duration
	idleWindow  time.Duration

	// armed is the waiter registered by the last Click, if any; disarm
	// cancels its event subscription.
	armed  func()
	disarm context.CancelFunc
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()
	page := p.page.Context(ctx)

	var waitIdle func()
	if p.router == nil {
		waitIdle = page.WaitRequestIdle(p.idleWindow, nil, nil, nil)
	}
	if err := page.Navigate(url); err != nil {
		return p.classify(fmt.Errorf("navigate %s: %w", url, err))
	}
	if err := page.WaitLoad(); err != nil {
		return p.classify(fmt.Errorf("wait load: %w", err))
	}
	// With a router installed only DOM stability is available. A DOM that
	// never settles is tolerated here; an expired deadline is not.
	if waitIdle != nil {
		waitIdle()
	} else if err := page.WaitDOMStable(p.idleWindow, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	if err := ctx.Err(); err != nil {
		return p.classify(fmt.Errorf("wait network idle after navigate: %w", err))
	}
	return nil
}

func (p *rodPage) WaitNetworkIdle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	defer cancel()

	if p.armed != nil {
		wait, disarm := p.armed, p.disarm
		p.armed, p.disarm = nil, nil
		stop := context.AfterFunc(ctx, disarm)
		wait()
		stop()
		disarm()
		if err := ctx.Err(); err != nil {
			return p.classify(fmt.Errorf("wait network idle: %w", err))
		}
		return nil
	}
	page := p.page.Context(ctx)
	if p.router != nil {
		if err := page.WaitDOMStable(p.idleWindow, 0.1); err != nil {
			return p.classify(fmt.Errorf("wait dom stable: %w", err))
		}
		return nil
	}
	page.WaitRequestIdle(p.idleWindow, nil, nil, nil)()
	if err := ctx.Err(); err != nil {
		return p.classify(fmt.Errorf("wait network idle: %w", err))
	}
	return nil
}

func (p *rodPage) WaitAny(ctx context.Context, timeout time.Duration, selectors ...string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	matched := -1
	race := p.page.Context(ctx).Race()
	for i, sel := range selectors {
		race = race.Element(sel).Handle(func(*rod.Element) error {
			matched = i
			return nil
		})
	}
	if _, err := race.Do(); err != nil {
		return -1, p.classify(fmt.Errorf("wait for %q: %w", selectors, err))
	}
	return matched, nil
}

func (p *rodPage) Select(ctx context.Context, selector, value string) error {
	el, cancel, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()

	option := "[value=" + strconv.Quote(value) + "]"
	if err := el.Select([]string{option}, true, rod.SelectorTypeCSSSector); err != nil {
		if errors.Is(err, &rod.ElementNotFoundError{}) {
			return fmt.Errorf("select %s: no option with value %q", selector, value)
		}
		return p.classify(fmt.Errorf("select %s: %w", selector, err))
	}
	return nil
}

func (p *rodPage) Type(ctx context.Context, selector, text string) error {
	el, cancel, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()

	if err := el.SelectAllText(); err != nil {
		slog.Debug("could not select existing input text", "selector", selector, "error", err)
	}
	if err := el.Input(text); err != nil {
		return p.classify(fmt.Errorf("type into %s: %w", selector, err))
	}
	return nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, cancel, err := p.element(ctx, selector)
	if err != nil {
		return err
	}
	defer cancel()

	p.release()
	if p.router == nil {
		// The waiter outlives this call; WaitNetworkIdle bounds it.
		armCtx, disarm := context.WithCancel(ctx)
		p.armed = p.page.Context(armCtx).WaitRequestIdle(p.idleWindow, nil, nil, nil)
		p.disarm = disarm
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		p.release()
		return p.classify(fmt.Errorf("click %s: %w", selector, err))
	}
	return nil
}

func (p *rodPage) OuterHTML(ctx context.Context, selector string) (string, error) {
	el, cancel, err := p.element(ctx, selector)
	if err != nil {
		return "", err
	}
	defer cancel()

	html, err := el.HTML()
	if err != nil {
		return "", p.classify(fmt.Errorf("read %s: %w", selector, err))
	}
	return html, nil
}

// release drops an armed waiter that was never consumed.
func (p *rodPage) release() {
	if p.disarm != nil {
		p.disarm()
	}
	p.armed, p.disarm = nil, nil
}

func (p *rodPage) Close() error {
	p.release()
	if p.router != nil {
		_ = p.router.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return p.page.Context(ctx).Close()
}

// element waits up to the step timeout for selector. The returned cancel
// releases the step deadline and must be called once the element is used.
func (p *rodPage) element(ctx context.Context, selector string) (*rod.Element, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, p.stepTimeout)
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		cancel()
		return nil, nil, p.classify(fmt.Errorf("wait for %s: %w", selector, err))
	}
	return el, cancel, nil
}

// classify marks err as session loss when the connection is gone. A
// timeout on a dead socket looks like a slow page, so deadlines are
// double-checked with a ping.
func (p *rodPage) classify(err error) error {
	if IsSessionLost(err) {
		return sessionLost(err)
	}
	if errors.Is(err, context.DeadlineExceeded) && !p.sess.alive() {
		return sessionLost(err)
	}
	return err
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}
