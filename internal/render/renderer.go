// Package render wraps a headless Chromium session (go-rod) behind a
// small interface. Rendering is a best-effort fallback capability:
// every failure is returned as an error and callers degrade to plain
// HTTP fetching.
package render

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Renderer obtains fully-rendered page state for pages that plain
// fetching cannot serve (SPA markup, consent walls, bot checks).
type Renderer interface {
	// Render returns the page HTML after load, consent handling, and
	// lazy-scroll. waitSelectors are waited for best-effort.
	Render(ctx context.Context, url string, headers map[string]string, waitSelectors []string) (string, error)

	// Links enumerates anchor-like hrefs matching selector on the
	// rendered page, including data-href/data-url attributes.
	Links(ctx context.Context, url, selector string, headers map[string]string) ([]string, error)
}

// Options configures the browser session.
type Options struct {
	Bin         string // optional explicit Chromium binary
	UserAgent   string
	Timeout     time.Duration // per-page budget
	ScrollSteps int
}

// Browser is a lazily-launched, process-scoped Chromium session. The
// underlying browser starts on first use and lives for the whole run.
type Browser struct {
	opts Options

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser creates a Browser. No process is launched until first use.
func NewBrowser(opts Options) *Browser {
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.ScrollSteps == 0 {
		opts.ScrollSteps = 6
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
	}
	return &Browser{opts: opts}
}

// consentSelectors are tried once per page to dismiss cookie dialogs.
var consentSelectors = []string{
	"button[data-qa-anchor='consentAccept']",
	"#onetrust-accept-btn-handler",
	"button[id*='accept']",
	"button[class*='consent']",
}

// stealthJS masks the most common headless fingerprints.
const stealthJS = `() => {
	Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
	Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
	Object.defineProperty(navigator, 'platform', { get: () => 'Win32' });
	try { Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3] }); } catch (e) {}
}`

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true).Leakless(false)
	if b.opts.Bin != "" {
		l = l.Bin(b.opts.Bin)
	}
	if proxy := os.Getenv("HTTPS_PROXY"); proxy != "" {
		l = l.Proxy(proxy)
	} else if proxy := os.Getenv("HTTP_PROXY"); proxy != "" {
		l = l.Proxy(proxy)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "render: launch browser")
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, eris.Wrap(err, "render: connect browser")
	}

	b.browser = browser
	return browser, nil
}

// Close shuts the browser down. Safe to call when never launched.
func (b *Browser) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			zap.L().Debug("render: close browser", zap.Error(err))
		}
		b.browser = nil
	}
}

func (b *Browser) openPage(ctx context.Context, url string, headers map[string]string) (*rod.Page, error) {
	browser, err := b.connect()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, eris.Wrap(err, "render: create page")
	}
	page = page.Context(ctx).Timeout(b.opts.Timeout)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}); err != nil {
		_ = page.Close()
		return nil, eris.Wrap(err, "render: set user agent")
	}
	if len(headers) > 0 {
		kv := make([]string, 0, len(headers)*2)
		for k, v := range headers {
			kv = append(kv, k, v)
		}
		if _, err := page.SetExtraHeaders(kv); err != nil {
			_ = page.Close()
			return nil, eris.Wrap(err, "render: set headers")
		}
	}
	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		zap.L().Debug("render: stealth script failed", zap.Error(err))
	}

	if err := page.Navigate(url); err != nil {
		_ = page.Close()
		return nil, eris.Wrapf(err, "render: navigate %s", url)
	}
	if err := page.WaitLoad(); err != nil {
		zap.L().Debug("render: wait load", zap.String("url", url), zap.Error(err))
	}

	b.dismissConsent(page)
	return page, nil
}

// dismissConsent clicks the first visible consent button, if any.
func (b *Browser) dismissConsent(page *rod.Page) {
	for _, sel := range consentSelectors {
		el, err := page.Timeout(time.Second).Element(sel)
		if err != nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
			return
		}
	}
}

// lazyScroll walks the page down to trigger lazy-loaded product grids.
func (b *Browser) lazyScroll(ctx context.Context, page *rod.Page) {
	for i := 0; i < b.opts.ScrollSteps; i++ {
		if ctx.Err() != nil {
			return
		}
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(900 * time.Millisecond):
		}
	}
}

// Render implements Renderer.
func (b *Browser) Render(ctx context.Context, url string, headers map[string]string, waitSelectors []string) (string, error) {
	page, err := b.openPage(ctx, url, headers)
	if err != nil {
		return "", err
	}
	defer func() { _ = page.Close() }()

	for _, sel := range waitSelectors {
		if _, err := page.Timeout(8 * time.Second).Element(sel); err == nil {
			break
		}
	}
	b.lazyScroll(ctx, page)

	html, err := page.HTML()
	if err != nil {
		return "", eris.Wrapf(err, "render: page html %s", url)
	}
	return html, nil
}

// linkCollectJS extracts href-like attributes from matching elements.
const linkCollectJS = `(sel) => Array.from(document.querySelectorAll(sel))
	.map(e => e.href || e.getAttribute('href') || e.getAttribute('data-href') || e.getAttribute('data-url'))
	.filter(Boolean)`

// Links implements Renderer. Frames are enumerated when the main
// document yields nothing, for SPA layouts that render into iframes.
func (b *Browser) Links(ctx context.Context, url, selector string, headers map[string]string) ([]string, error) {
	page, err := b.openPage(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	defer func() { _ = page.Close() }()

	if _, err := page.Timeout(8 * time.Second).Element(selector); err != nil {
		zap.L().Debug("render: link selector not found", zap.String("selector", selector))
	}
	b.lazyScroll(ctx, page)

	links := evalLinks(page, selector)
	if len(links) == 0 {
		for _, frame := range framePages(page) {
			links = append(links, evalLinks(frame, selector)...)
		}
	}
	if len(links) == 0 {
		// Let the caller regex-scan the rendered HTML instead.
		html, err := page.HTML()
		if err != nil {
			return nil, eris.Wrapf(err, "render: page html %s", url)
		}
		return nil, eris.Errorf("render: no links for selector %q (html %d bytes)", selector, len(html))
	}
	return links, nil
}

func evalLinks(page *rod.Page, selector string) []string {
	obj, err := page.Eval(linkCollectJS, selector)
	if err != nil {
		return nil
	}
	var links []string
	for _, v := range obj.Value.Arr() {
		if s := v.Str(); s != "" {
			links = append(links, s)
		}
	}
	return links
}

// framePages returns pages for each iframe element found in the document.
func framePages(page *rod.Page) []*rod.Page {
	els, err := page.Elements("iframe")
	if err != nil {
		return nil
	}
	var frames []*rod.Page
	for _, el := range els {
		if fp, err := el.Frame(); err == nil {
			frames = append(frames, fp)
		}
	}
	return frames
}
