// Package rod provides a go-rod page fetcher that can mask automation fingerprints with go-rod/stealth.
package rod

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/sneaky-snake/internal/extract"
	"github.com/JakeFAU/sneaky-snake/internal/scrape"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultMaxPages = 2
)

const navigationStatusJS = `() => {
	try {
		const entries = performance.getEntriesByType("navigation");
		if (entries.length > 0) return entries[0].responseStatus || 0;
	} catch (e) {}
	return 0;
}`

// Config controls the browser launched by the fetcher.
type Config struct {
	MaxPages   int
	Headless   bool
	NoSandbox  bool
	BrowserBin string
	ProfileDir string
	UserAgent  string
	// Stealth injects the stealth script on every page, not only on stealth requests.
	Stealth bool
}

// Fetcher implements scrape.Fetcher on a pooled rod browser launched on first use.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
	pool    rod.Pool[rod.Page]
	slots   chan struct{}
	closed  bool
}

// New creates a Fetcher. The browser is not started until the first Fetch.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	return &Fetcher{
		cfg:    cfg,
		logger: logger,
		pool:   rod.NewPagePool(cfg.MaxPages),
		slots:  make(chan struct{}, cfg.MaxPages),
	}
}

func (f *Fetcher) acquire(ctx context.Context) error {
	select {
	case f.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("page slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	<-f.slots
}

func (f *Fetcher) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("rod fetcher closed")
	}
	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(f.cfg.Headless).
		NoSandbox(f.cfg.NoSandbox)
	if f.cfg.BrowserBin != "" {
		l = l.Bin(f.cfg.BrowserBin)
	}
	if f.cfg.ProfileDir != "" {
		l = l.UserDataDir(f.cfg.ProfileDir)
	}
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	f.logger.Info("rod browser launched", zap.String("control_url", controlURL))
	f.browser = browser
	return browser, nil
}

// Fetch loads the page in a pooled tab and returns its HTML, narrowed to the selector.
func (f *Fetcher) Fetch(ctx context.Context, request scrape.FetchRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", scrape.NewFetchError(request.URL, err)
	}
	timeout := request.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Holding a slot guarantees pool.Get finds a free page without blocking.
	if err := f.acquire(ctx); err != nil {
		return "", scrape.NewFetchError(request.URL, err)
	}
	defer f.release()

	browser, err := f.connect()
	if err != nil {
		return "", scrape.NewFetchError(request.URL, err)
	}
	page, err := f.pool.Get(func() (*rod.Page, error) {
		return browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return "", scrape.NewFetchError(request.URL, fmt.Errorf("acquire page: %w", err))
	}
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			f.logger.Debug("reset page failed", zap.Error(navErr))
		}
		f.pool.Put(page)
	}()

	if request.Stealth || f.cfg.Stealth {
		remove, evalErr := page.EvalOnNewDocument(stealth.JS)
		if evalErr != nil {
			f.logger.Warn("stealth injection failed, proceeding without stealth",
				zap.String("url", request.URL), zap.Error(evalErr))
		} else {
			defer func() { _ = remove() }()
		}
	}
	if f.cfg.UserAgent != "" {
		if uaErr := (proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}).Call(page); uaErr != nil {
			f.logger.Warn("set user agent failed", zap.Error(uaErr))
		}
	}

	html, err := f.load(page.Context(ctx), request)
	if err != nil {
		return "", scrape.NewFetchError(request.URL, err)
	}
	content, err := extract.Select(html, request.Selector)
	if err != nil {
		return "", scrape.NewFetchError(request.URL, err)
	}
	return content, nil
}

func (f *Fetcher) load(p *rod.Page, request scrape.FetchRequest) (string, error) {
	if err := p.Navigate(request.URL); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if request.Selector != "" {
		if _, err := p.Element(request.Selector); err != nil {
			return "", fmt.Errorf("wait for selector %q: %w", request.Selector, err)
		}
	} else if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		f.logger.Debug("dom did not settle, using current dom", zap.String("url", request.URL), zap.Error(err))
	}
	if res, err := p.Eval(navigationStatusJS); err == nil {
		if err := checkStatus(res.Value.Int()); err != nil {
			return "", err
		}
	}
	html, err := p.HTML()
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// checkStatus rejects HTTP error statuses. Zero means the status was unavailable.
func checkStatus(code int) error {
	if code >= http.StatusBadRequest {
		return fmt.Errorf("http status %d", code)
	}
	return nil
}

// Close drains the page pool and kills the browser.
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.browser == nil {
		return nil
	}
	f.pool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	if err := f.browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}
