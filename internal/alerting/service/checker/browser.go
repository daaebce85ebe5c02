package checker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/qiniu/watchtower/internal/alerting/model"
)

// BrowserConfig is the config of a browser monitor.
type BrowserConfig struct {
	URL            string  `json:"url"`
	ExpectText     string  `json:"expectText"`
	TimeoutSeconds float64 `json:"timeoutSeconds"`
}

// BrowserVisit is what a runner observed when loading a page.
type BrowserVisit struct {
	StatusCode int
	Content    string
}

// BrowserRunner loads a page in a real browser. Implementations must release
// every browser resource before returning.
type BrowserRunner interface {
	Visit(ctx context.Context, url string, timeout time.Duration) (*BrowserVisit, error)
}

type BrowserChecker struct {
	Runner BrowserRunner
}

func (c *BrowserChecker) Check(ctx context.Context, m *model.Monitor) model.CheckResult {
	var cfg BrowserConfig
	if err := m.DecodeConfig(&cfg); err != nil {
		return Fail(fmt.Sprintf("invalid browser config: %v", err))
	}
	if cfg.URL == "" {
		return Fail("invalid browser config: url is required")
	}
	timeout := timeoutOf(cfg.TimeoutSeconds, 30*time.Second)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	visit, err := c.Runner.Visit(ctx, cfg.URL, timeout)
	rt := elapsedMs(start)
	if err != nil {
		res := Fail(fmt.Sprintf("browser visit failed: %v", err))
		res.ResponseTimeMs = rt
		return res
	}

	res := OK(fmt.Sprintf("page loaded with status %d", visit.StatusCode))
	switch {
	case visit.StatusCode >= 400:
		res = Fail(fmt.Sprintf("page returned status %d", visit.StatusCode))
	case cfg.ExpectText != "" && !strings.Contains(visit.Content, cfg.ExpectText):
		res = Fail(fmt.Sprintf("expected text %q not found on page", cfg.ExpectText))
	}
	res.ResponseTimeMs = rt
	if visit.StatusCode > 0 {
		res.ResponseCode = model.IntPtr(visit.StatusCode)
	}
	return res
}

// PlaywrightRunner drives headless Chromium. Every visit starts its own driver
// and browser and tears both down on return.
type PlaywrightRunner struct {
	Headless bool
}

func NewPlaywrightRunner() *PlaywrightRunner { return &PlaywrightRunner{Headless: true} }

func (r *PlaywrightRunner) Visit(ctx context.Context, url string, timeout time.Duration) (visit *BrowserVisit, err error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not launch playwright: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(r.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	defer browser.Close()

	page, err := browser.NewPage()
	if err != nil {
		return nil, fmt.Errorf("could not open page: %w", err)
	}
	defer page.Close()

	// playwright calls are not context-aware; a cancelled context closes the
	// browser, which aborts any pending navigation.
	stop := context.AfterFunc(ctx, func() { browser.Close() })
	defer stop()

	resp, err := page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateLoad,
	})
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	visit = &BrowserVisit{}
	if resp != nil {
		visit.StatusCode = resp.Status()
	}
	if visit.Content, err = page.Content(); err != nil {
		return nil, fmt.Errorf("read page content: %w", err)
	}
	return visit, nil
}
