package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
)

// Page is one rendered visit: the full HTML after the page's scripts ran,
// plus a full-page PNG screenshot for visual analysis.
type Page struct {
	HTML       string
	Screenshot []byte
}

// Renderer is the rendering backend the orchestrator depends on. The
// chromedp-backed Service implements it; tests substitute doubles.
type Renderer interface {
	Render(ctx context.Context, url string) (Page, error)
	FetchPath(ctx context.Context, url string) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	Headless        bool
	ContentSelector string
	NavigateTimeout time.Duration
	SettleTimeout   time.Duration
	DownloadTimeout time.Duration
}

// Service owns one headless browser process. Each Render/FetchPath call
// opens a fresh, isolated browsing context, so concurrent chains never
// share a tab. The process-wide lifecycle belongs to the worker main:
// Start once, Stop once.
type Service struct {
	opts        Options
	allocCtx    context.Context
	allocCancel context.CancelFunc
	downloads   *http.Client
}

func NewService(opts Options) *Service {
	if opts.ContentSelector == "" {
		opts.ContentSelector = "#result"
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 30 * time.Second
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 60 * time.Second
	}
	return &Service{
		opts:      opts,
		downloads: &http.Client{Timeout: opts.DownloadTimeout},
	}
}

func (s *Service) Start(ctx context.Context) error {
	if s.allocCtx != nil {
		return nil
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(ctx, allocOpts...)

	// Open and close one tab so a missing browser binary fails Start
	// instead of the first chain.
	probeCtx, probeCancel := chromedp.NewContext(s.allocCtx)
	defer probeCancel()
	if err := chromedp.Run(probeCtx); err != nil {
		s.Stop()
		return fmt.Errorf("browser start: %w", err)
	}
	log.Println("browser service started")
	return nil
}

func (s *Service) Stop() {
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCtx = nil
		s.allocCancel = nil
	}
	s.downloads.CloseIdleConnections()
	log.Println("browser service stopped")
}

func (s *Service) Healthy() bool {
	return s.allocCtx != nil && s.allocCtx.Err() == nil
}

// Render navigates to the URL, waits for the content region to populate or
// the settle timeout to pass, and captures HTML plus a screenshot.
func (s *Service) Render(ctx context.Context, url string) (Page, error) {
	tabCtx, cancel, err := s.newTab(ctx)
	if err != nil {
		return Page{}, err
	}
	defer cancel()

	if err := s.navigate(tabCtx, url); err != nil {
		return Page{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	s.awaitContent(tabCtx)

	var pageHTML string
	var screenshot []byte
	if err := chromedp.Run(tabCtx,
		chromedp.OuterHTML("html", &pageHTML, chromedp.ByQuery),
		chromedp.FullScreenshot(&screenshot, 90),
	); err != nil {
		return Page{}, fmt.Errorf("capture %s: %w", url, err)
	}
	log.Printf("rendered %s (%d chars)", url, len(pageHTML))
	return Page{HTML: pageHTML, Screenshot: screenshot}, nil
}

// FetchPath returns the inner HTML of the content region of a page, for
// targeted scraping of a path the quiz asked about.
func (s *Service) FetchPath(ctx context.Context, url string) (string, error) {
	tabCtx, cancel, err := s.newTab(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := s.navigate(tabCtx, url); err != nil {
		return "", fmt.Errorf("navigate %s: %w", url, err)
	}
	s.awaitContent(tabCtx)

	var fragment string
	if err := chromedp.Run(tabCtx, chromedp.InnerHTML(s.opts.ContentSelector, &fragment, chromedp.ByQuery)); err == nil && fragment != "" {
		return fragment, nil
	}
	if err := chromedp.Run(tabCtx, chromedp.InnerHTML("body", &fragment, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}
	return fragment, nil
}

// Download fetches a referenced artifact (PDF, CSV, spreadsheet) directly
// over HTTP; no browser involvement needed.
func (s *Service) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.downloads.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Service) newTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if s.allocCtx == nil {
		return nil, nil, errors.New("browser service not started")
	}
	tabCtx, tabCancel := chromedp.NewContext(s.allocCtx)
	// Tie the tab to the caller's deadline without re-parenting the
	// chromedp context.
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-tabCtx.Done():
		}
	}()
	return tabCtx, tabCancel, nil
}

func (s *Service) navigate(tabCtx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(tabCtx, s.opts.NavigateTimeout)
	defer cancel()
	return chromedp.Run(navCtx, chromedp.Navigate(url))
}

// awaitContent waits for the injected content region to appear, giving up
// after the settle timeout. Pages without the region just use the timeout
// as a render grace period.
func (s *Service) awaitContent(tabCtx context.Context) {
	settleCtx, cancel := context.WithTimeout(tabCtx, s.opts.SettleTimeout)
	defer cancel()
	if err := chromedp.Run(settleCtx, chromedp.WaitVisible(s.opts.ContentSelector, chromedp.ByQuery)); err != nil {
		return
	}
	// Give the page's scripts a beat to finish filling the region.
	_ = chromedp.Run(tabCtx, chromedp.Sleep(time.Second))
}
