package tester

import (
	"context"
	"fmt"
	"time"

	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/session"
	"gitlab.com/plurl/tester/api"
	"gitlab.com/plurl/tester/browser"
)

// Runner is our engine: it drives the browser phases and then the API
// testing phase, recording everything into the session logger.
type Runner struct {
	cfg     *plurl.Config
	logger  *session.Logger
	browser *browser.Debugger
	title   string
}

// New engine.
func New(cfg *plurl.Config, logger *session.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logger}
}

// SetBrowser overrides the default debugger, for callers that manage
// their own chrome.
func (r *Runner) SetBrowser(d *browser.Debugger) *Runner {
	r.browser = d
	return r
}

// Init launches the browser.
func (r *Runner) Init(ctx context.Context) error {
	if r.browser == nil {
		leaser := browser.NewLocalLeaser(r.cfg.Headless)
		r.browser = browser.NewDebugger(r.logger, leaser)
	}
	return r.browser.Launch(ctx)
}

// Run executes the session phases and returns the API results, if any
// endpoints were configured.
func (r *Runner) Run(ctx context.Context) ([]*plurl.RequestResult, error) {
	r.logger.Phase("browser_navigation", "Starting browser navigation")
	if err := r.browser.Navigate(ctx, r.cfg.URL); err != nil {
		return nil, err
	}

	if r.cfg.WaitSelector != "" {
		r.logger.Phase("wait_selector", "Waiting for selector: "+r.cfg.WaitSelector)
		r.browser.WaitForElement(ctx, r.cfg.WaitSelector, 10*time.Second)
	}

	if r.cfg.ClickSelector != "" {
		r.logger.Phase("click_element", "Clicking selector: "+r.cfg.ClickSelector)
		r.browser.ClickElement(ctx, r.cfg.ClickSelector)
	}

	if r.cfg.ScreenshotPath != "" {
		r.logger.Phase("screenshot", "Taking screenshot: "+r.cfg.ScreenshotPath)
		r.browser.Screenshot(r.cfg.ScreenshotPath)
	}

	metrics := r.browser.Metrics()
	if title, ok := metrics["title"].(string); ok {
		r.title = title
	}

	if len(r.cfg.Endpoints) == 0 {
		return nil, nil
	}

	r.logger.Phase("api_testing", fmt.Sprintf("Testing %d API endpoints", len(r.cfg.Endpoints)))
	return RunAPIPhase(ctx, r.cfg, r.logger)
}

// Stop unwinds the browser.
func (r *Runner) Stop() error {
	if r.browser != nil {
		r.browser.Close()
	}
	return nil
}

// Title observed on the loaded page, empty before Run.
func (r *Runner) Title() string { return r.title }

// RunAPIPhase tests the configured endpoints, with retries when
// configured and concurrent batching otherwise, and records the
// api_summary event. The HTTP client lives exactly as long as this
// phase.
func RunAPIPhase(ctx context.Context, cfg *plurl.Config, logger *session.Logger) ([]*plurl.RequestResult, error) {
	method, err := plurl.NormalizeMethod(cfg.Method)
	if err != nil {
		return nil, err
	}

	ex := api.NewExecutor(logger, cfg.Timeout())
	ex.Open()
	defer ex.Close()

	var results []*plurl.RequestResult
	if cfg.Retries > 0 {
		results = make([]*plurl.RequestResult, 0, len(cfg.Endpoints))
		for _, endpoint := range cfg.Endpoints {
			result, err := ex.DoRetry(ctx, endpoint, method, cfg.Retries, cfg.RetryDelay())
			if err != nil {
				return nil, err
			}
			results = append(results, result)
		}
	} else {
		results = ex.DoBatch(ctx, cfg.Endpoints, method)
	}

	success := 0
	for _, result := range results {
		if result.StatusBelow(400) {
			success++
		}
	}
	logger.Record(plurl.EventSummary, &plurl.SummaryEvent{
		Total:      len(cfg.Endpoints),
		Successful: success,
		Failed:     len(cfg.Endpoints) - success,
		Results:    results,
		Message:    fmt.Sprintf("API testing completed: %d/%d successful", success, len(cfg.Endpoints)),
	})
	return results, nil
}
