// Package headless renders pages in a real Chrome instance via chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/fetcher"
	"github.com/JakeFAU/llm-docs-crawler/internal/logging"
)

// Config controls the browser session.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MinWordCount int
	Headless     bool
}

// ErrSessionClosed is returned by Render once the browser has gone away.
var ErrSessionClosed = errors.New("browser session closed")

// fatalMarkers are fragments of errors chromedp surfaces once the browser or
// its websocket is gone.
var fatalMarkers = []string{
	"target closed",
	"browser has been closed",
	"websocket: close",
	"use of closed network connection",
	"broken pipe",
	"connection reset",
}

// Session is one browser process. Each Render opens and closes its own tab.
type Session struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	closeOnce     sync.Once
}

// NewSession launches Chrome and waits until the browser is ready.
func NewSession(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 35 * time.Second
	}
	logger = logging.OrNop(logger)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stop := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	logger.Debug("browser session started", zap.Bool("headless", cfg.Headless))

	return &Session{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Factory returns a crawler.RendererFactory producing browser sessions.
func Factory(cfg Config, logger *zap.Logger) crawler.RendererFactory {
	return func(ctx context.Context) (crawler.Renderer, error) {
		session, err := NewSession(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(s.browserCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.browserCancel()
		s.allocCancel()
	})
	return err
}

// Render navigates a fresh tab to rawURL and returns the rendered document.
// Raised errors are classified with crawler.FetchError.
func (s *Session) Render(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := s.browserCtx.Err(); err != nil {
		return crawler.Page{}, crawler.NewFetchError(crawler.KindSessionFatal, rawURL, fmt.Errorf("%w: %w", ErrSessionClosed, err))
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.Timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	meta := &responseMeta{}
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	html, err := s.run(taskCtx, rawURL)
	if err != nil {
		return crawler.Page{}, s.classify(ctx, rawURL, err)
	}

	status := meta.statusCode()
	if status == 0 {
		status = http.StatusOK
	}
	return fetcher.BuildPage(rawURL, status, html, s.cfg.MinWordCount), nil
}

func (s *Session) run(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{network.Enable()}
	if s.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(s.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (s *Session) classify(ctx context.Context, rawURL string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("render %s: %w", rawURL, ctxErr)
	}
	if isSessionFatal(s.browserCtx, err) {
		s.logger.Warn("browser session lost", zap.String("url", rawURL), zap.Error(err))
		return crawler.NewFetchError(crawler.KindSessionFatal, rawURL, err)
	}
	return crawler.NewFetchError(crawler.KindTransient, rawURL, err)
}

func isSessionFatal(browserCtx context.Context, err error) bool {
	if browserCtx.Err() != nil {
		return true
	}
	if errors.Is(err, chromedp.ErrChannelClosed) || errors.Is(err, chromedp.ErrInvalidContext) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

type responseMeta struct {
	mu     sync.Mutex
	status int
}

// captureEvent records the status of the first document response; later
// documents (iframes) are ignored.
func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == 0 {
		m.status = int(resp.Response.Status)
	}
}

func (m *responseMeta) statusCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
