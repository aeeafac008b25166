// Package browserpool implements spec §4.4: a bounded pool of
// long-lived chromedp browser sessions, page-count recycling,
// anti-detection patching, and a resource-blocking policy. Grounded
// on the only chromedp usage in the retrieved example pack — the
// browser-session lifecycle of a headless-scraper main loop that
// rebuilds its chromedp context on every retry.
package browserpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/aaron-0406/lolo-cej-scraping/internal/errors"
	"github.com/aaron-0406/lolo-cej-scraping/pkg/shared/logging"
)

// Config tunes pool sizing and per-page behavior (spec §4.4, §6).
type Config struct {
	Size               int           // P, default 3
	MaxPagesPerSession int           // M, default 20
	PageTimeout        time.Duration
	NavigationTimeout  time.Duration
	Headless           bool
}

func DefaultConfig() Config {
	return Config{
		Size:               3,
		MaxPagesPerSession: 20,
		PageTimeout:        30 * time.Second,
		NavigationTimeout:  30 * time.Second,
		Headless:           true,
	}
}

// blockedResourceURLPatterns never matches image, script, or stylesheet:
// the Portal's CAPTCHA image fetch must succeed (spec §4.4).
var blockedResourceURLPatterns = []string{
	"*.woff", "*.woff2", "*.ttf", "*.otf", // font
	"*.mp4", "*.webm", "*.mp3", "*.ogg", // media
}

// chromeMajorVersion is substituted into the spoofed UserAgent so it
// matches the underlying engine's actual Chrome major version rather
// than leaking the literal "HeadlessChrome" token (spec §4.4).
const chromeMajorVersion = "124"

// session is one long-lived browser instance managed by the pool.
type session struct {
	id            string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	pagesOpened   int
	recycle       bool
}

// Page is the handle a Worker acquires: one tab within a pooled
// session, torn down (but not the underlying session) on Close.
type Page struct {
	Ctx  context.Context
	pool *BrowserPool
	sess *session

	cancel context.CancelFunc
	closed atomic.Bool
}

// Close closes the page's tab and returns its session to the pool,
// satisfying the guarantee that every acquisition's page is closed
// before release (spec §4.4). It is safe to call more than once.
func (p *Page) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	_ = chromedp.Cancel(p.Ctx)
	p.cancel()
	p.pool.release(p.sess)
}

// Context returns the page's chromedp context, satisfying
// extract.Page.
func (p *Page) Context() context.Context {
	return p.Ctx
}

// MarkForRecycle flags the underlying session as unhealthy (browser
// crash or unresponsive past timeout); the pool closes and replaces
// it instead of returning it to the idle set (spec §4.4).
func (p *Page) MarkForRecycle() {
	p.sess.recycle = true
}

// BrowserPool is the bounded pool described in spec §4.4. All
// mutations go through its own serialized operations; callers never
// see or touch session internals directly.
type BrowserPool struct {
	cfg    Config
	logger *logrus.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	idle     []*session
	nextID   int64
	draining bool
	inUse    int
}

func New(cfg Config, logger *logrus.Logger) *BrowserPool {
	return &BrowserPool{
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.Size)),
	}
}

// Acquire blocks FIFO (via the pool's semaphore) until a session slot
// is free, then opens exactly one page on it with the resource-
// blocking policy and anti-detection patches applied.
func (p *BrowserPool) Acquire(ctx context.Context) (*Page, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeBrowserCrash, "acquire browser pool slot")
	}

	sess, err := p.takeOrCreateSession(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.mu.Lock()
	p.inUse++
	p.mu.Unlock()

	pageCtx, pageCancel := chromedp.NewContext(sess.browserCtx)
	pageCtx, timeoutCancel := context.WithTimeout(pageCtx, p.cfg.PageTimeout)
	cancel := func() { timeoutCancel(); pageCancel() }

	if err := chromedp.Run(pageCtx, p.preparePageActions()...); err != nil {
		cancel()
		sess.recycle = true
		p.release(sess)
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeBrowserCrash, "prepare page").WithDetails(sess.id)
	}

	sess.pagesOpened++
	return &Page{Ctx: pageCtx, pool: p, sess: sess, cancel: cancel}, nil
}

// preparePageActions builds the anti-detection and resource-blocking
// setup run on every new page (spec §4.4): remove the webdriver flag,
// synthesize a non-empty plugins array, set realistic languages,
// attach a minimal runtime object, spoof a Chrome-matching UA, and
// block only font/media resources.
func (p *BrowserPool) preparePageActions() []chromedp.Action {
	userAgent := fmt.Sprintf(
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s.0.0.0 Safari/537.36",
		chromeMajorVersion,
	)

	return []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(antiDetectionScript).Do(ctx)
			return err
		}),
		emulation.SetUserAgentOverride(userAgent),
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetBlockedURLs(blockedResourceURLPatterns).Do(ctx)
		}),
	}
}

// antiDetectionScript runs before every page's own scripts. It
// describes effects (webdriver flag removed, plugins/languages/
// runtime synthesized), not a specific stealth library (spec §4.4).
const antiDetectionScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
  Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
  Object.defineProperty(navigator, 'languages', { get: () => ['es-PE', 'es', 'en'] });
  window.chrome = window.chrome || { runtime: {} };
})();
`

func (p *BrowserPool) takeOrCreateSession(ctx context.Context) (*session, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrorTypeBrowserCrash, "browser pool is draining")
	}

	for len(p.idle) > 0 {
		sess := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.mu.Unlock()

		if sess.pagesOpened >= p.cfg.MaxPagesPerSession {
			p.closeSession(sess)
			p.mu.Lock()
			continue
		}
		return sess, nil
	}
	p.nextID++
	id := fmt.Sprintf("session-%d", p.nextID)
	p.mu.Unlock()

	return p.newSession(ctx, id)
}

func (p *BrowserPool) newSession(ctx context.Context, id string) (*session, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)...)

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeBrowserCrash, "start browser session").WithDetails(id)
	}

	return &session{
		id:            id,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// release returns sess to the idle set, or closes it instead if it was
// flagged for recycling (crash or unresponsive past timeout) or the
// pool is draining. A session that has reached its page limit still
// goes back to the idle set; takeOrCreateSession closes and replaces
// it on the next acquisition. A reusable session is always placed in
// the idle set rather than handed to a waiter directly: the waiter
// woken by the semaphore release takes it from there.
func (p *BrowserPool) release(sess *session) {
	p.mu.Lock()
	p.inUse--
	if sess.recycle || p.draining {
		p.mu.Unlock()
		p.closeSession(sess)
	} else {
		p.idle = append(p.idle, sess)
		p.mu.Unlock()
	}
	p.sem.Release(1)
}

func (p *BrowserPool) closeSession(sess *session) {
	sess.browserCancel()
	sess.allocCancel()
	p.logger.WithFields(logging.NewFields().Component("browserpool").Custom("session_id", sess.id).ToLogrus()).
		Debug("browser session closed")
}

// Drain closes every session, idle or in flight, and blocks until all
// have been reclaimed. Idempotent: a second call is a no-op.
func (p *BrowserPool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil
	}
	p.draining = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, sess := range idle {
		p.closeSession(sess)
	}

	// Wait for every in-flight acquisition to release its slot, then
	// reclaim them so concurrent Acquire callers observe the drain.
	if err := p.sem.Acquire(ctx, int64(p.cfg.Size)); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeBrowserCrash, "drain browser pool")
	}
	p.sem.Release(int64(p.cfg.Size))
	return nil
}

// Stats reports the pool's current occupancy for the control API's
// /health and /status endpoints (spec §6). InUse counts acquired
// pages; Idle counts the remaining free slots, whether or not a
// session has been started for them.
type Stats struct {
	Size  int
	Idle  int
	InUse int
}

func (p *BrowserPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Size: p.cfg.Size, Idle: p.cfg.Size - p.inUse, InUse: p.inUse}
}
