package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/wirepair/gcd"
	"github.com/wirepair/gcd/gcdapi"
	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/session"
)

// revive:exported
var (
	ErrNotLaunched        = errors.New("browser not launched")
	ErrNavigationTimedOut = errors.New("navigation timed out")
	ErrTabCrashed         = errors.New("tab crashed")
	ErrNavigating         = errors.New("error in navigation")
	ErrTabClosing         = errors.New("closing")
)

const metricsScript = `(() => {
	const navigation = performance.getEntriesByType('navigation')[0];
	return navigation ? {
		domContentLoaded: navigation.domContentLoadedEventEnd - navigation.domContentLoadedEventStart,
		loadComplete: navigation.loadEventEnd - navigation.loadEventStart,
		domElements: document.getElementsByTagName('*').length
	} : {};
})()`

// Debugger drives a single chrome tab over the devtools protocol and
// records a browser event for every action it takes.
type Debugger struct {
	g      *gcd.Gcd
	t      *gcd.ChromeTarget
	leaser LeaserService
	logger *session.Logger
	port   string

	navTimeout     time.Duration
	elementTimeout time.Duration

	navigationCh chan int
	crashedCh    chan string
	exitCh       chan struct{}
	closeOnce    sync.Once
}

// NewDebugger using the given leaser for chrome processes.
func NewDebugger(logger *session.Logger, leaser LeaserService) *Debugger {
	return &Debugger{
		leaser:         leaser,
		logger:         logger,
		navTimeout:     30 * time.Second,
		elementTimeout: 5 * time.Second,
		navigationCh:   make(chan int, 1),
		crashedCh:      make(chan string),
		exitCh:         make(chan struct{}),
	}
}

// SetNavigationTimeout before giving up on a page load, default 30s.
func (d *Debugger) SetNavigationTimeout(timeout time.Duration) {
	d.navTimeout = timeout
}

// Launch a chrome process, connect the debugger and open a fresh tab.
func (d *Debugger) Launch(ctx context.Context) error {
	port, err := d.leaser.Acquire()
	if err != nil {
		d.logger.Error("Failed to launch browser", err)
		return err
	}
	d.port = port

	g := gcd.NewChromeDebugger()
	if err := g.ConnectToInstance("localhost", port); err != nil {
		d.logger.Error("Failed to launch browser", err)
		d.leaser.Return(port)
		return err
	}
	d.g = g

	target, err := g.NewTab()
	if err != nil {
		d.logger.Error("Failed to launch browser", err)
		d.leaser.Return(port)
		return err
	}
	d.t = target
	d.subscribeEvents()
	d.t.Page.Enable()
	d.t.DOM.Enable()
	d.t.Inspector.Enable()
	d.t.Runtime.Enable()

	d.logger.Browser("launch", "Browser launched successfully", map[string]interface{}{
		"port": port,
	})
	return nil
}

func (d *Debugger) subscribeEvents() {
	d.t.Subscribe("Page.loadEventFired", func(target *gcd.ChromeTarget, payload []byte) {
		select {
		case d.navigationCh <- 0:
		case <-d.exitCh:
		}
	})
	d.t.Subscribe("Inspector.targetCrashed", func(target *gcd.ChromeTarget, payload []byte) {
		select {
		case d.crashedCh <- "crashed":
		case <-d.exitCh:
		}
	})
	d.t.Subscribe("Inspector.detached", func(target *gcd.ChromeTarget, payload []byte) {
		select {
		case d.crashedCh <- "detached":
		case <-d.exitCh:
		}
	})
}

// Navigate to url and wait for the load event.
func (d *Debugger) Navigate(ctx context.Context, url string) error {
	if d.t == nil {
		return ErrNotLaunched
	}
	start := time.Now()

	params := &gcdapi.PageNavigateParams{Url: url, TransitionType: "typed"}
	_, _, errText, err := d.t.Page.NavigateWithParams(params)
	if err != nil {
		d.logger.Error("Failed to navigate to "+url, err)
		return err
	}
	if errText != "" {
		err := errors.Wrap(ErrNavigating, errText)
		d.logger.Error("Failed to navigate to "+url, err)
		return err
	}

	if err := d.waitLoad(ctx); err != nil {
		d.logger.Error("Failed to navigate to "+url, err)
		return err
	}

	load := time.Since(start)
	d.logger.Browser("navigate", "Navigation completed in "+plurl.FormatDuration(load), map[string]interface{}{
		"url":               url,
		"load_time_seconds": math.Round(load.Seconds()*100) / 100,
	})

	if title := d.Title(); title != "" {
		d.logger.Browser("page_info", "Page title: "+title, map[string]interface{}{
			"title": title,
			"url":   url,
		})
	}
	return nil
}

func (d *Debugger) waitLoad(ctx context.Context) error {
	select {
	case <-time.After(d.navTimeout):
		return ErrNavigationTimedOut
	case <-ctx.Done():
		return ctx.Err()
	case <-d.exitCh:
		return ErrTabClosing
	case reason := <-d.crashedCh:
		return errors.Wrap(ErrTabCrashed, reason)
	case <-d.navigationCh:
		return nil
	}
}

// WaitForElement polls for selector until it appears or timeout
// elapses. Records the outcome either way and never errors.
func (d *Debugger) WaitForElement(ctx context.Context, selector string, timeout time.Duration) bool {
	selector = SanitizeSelector(selector)
	if selector == "" {
		d.logger.Warning("Empty or invalid selector provided")
		return false
	}
	if d.t == nil {
		return false
	}

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			d.logger.Browser("wait_element", fmt.Sprintf("Element '%s' not found", selector), map[string]interface{}{
				"selector": selector,
				"found":    false,
			})
			return false
		case <-ctx.Done():
			return false
		case <-d.exitCh:
			return false
		case <-ticker.C:
			if d.elementExists(selector) {
				d.logger.Browser("wait_element", fmt.Sprintf("Element '%s' found", selector), map[string]interface{}{
					"selector": selector,
					"found":    true,
				})
				return true
			}
		}
	}
}

// ClickElement waits for selector then clicks it through the page's own
// click handler. Records the outcome and never errors.
func (d *Debugger) ClickElement(ctx context.Context, selector string) bool {
	selector = SanitizeSelector(selector)
	if selector == "" {
		d.logger.Warning("Empty or invalid selector provided")
		return false
	}
	if d.t == nil {
		return false
	}

	if !d.waitQuiet(ctx, selector) {
		d.logger.Browser("click", fmt.Sprintf("Failed to click element '%s'", selector), map[string]interface{}{
			"selector": selector,
			"success":  false,
			"error":    "element not found",
		})
		return false
	}

	expr := fmt.Sprintf("document.querySelector(%q).click()", selector)
	if _, err := d.evaluate(expr); err != nil {
		d.logger.Browser("click", fmt.Sprintf("Failed to click element '%s'", selector), map[string]interface{}{
			"selector": selector,
			"success":  false,
			"error":    err.Error(),
		})
		return false
	}

	d.logger.Browser("click", fmt.Sprintf("Clicked element '%s'", selector), map[string]interface{}{
		"selector": selector,
		"success":  true,
	})

	// give the page a moment to react
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	return true
}

// waitQuiet polls for selector without recording wait events.
func (d *Debugger) waitQuiet(ctx context.Context, selector string) bool {
	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(d.elementTimeout)
	for {
		select {
		case <-deadline:
			return false
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if d.elementExists(selector) {
				return true
			}
		}
	}
}

func (d *Debugger) elementExists(selector string) bool {
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	r, err := d.evaluate(expr)
	if err != nil || r == nil {
		return false
	}
	found, ok := r.Value.(bool)
	return ok && found
}

// Screenshot captures the viewport as a PNG and writes it to path.
func (d *Debugger) Screenshot(path string) bool {
	if d.t == nil {
		return false
	}
	params := &gcdapi.PageCaptureScreenshotParams{
		Format:  "png",
		Quality: 100,
		Clip: &gcdapi.PageViewport{
			X:      0,
			Y:      0,
			Width:  1280,
			Height: 720,
			Scale:  float64(1),
		},
		FromSurface: true,
	}
	encoded, err := d.t.Page.CaptureScreenshotWithParams(params)
	if err != nil {
		d.logger.Error("Failed to take screenshot", err)
		return false
	}
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		d.logger.Error("Failed to take screenshot", err)
		return false
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			d.logger.Error("Failed to take screenshot", err)
			return false
		}
	}
	if err := ioutil.WriteFile(path, img, 0644); err != nil {
		d.logger.Error("Failed to take screenshot", err)
		return false
	}
	d.logger.Browser("screenshot", "Screenshot saved to "+path, map[string]interface{}{
		"file_path": path,
		"success":   true,
	})
	return true
}

// Metrics collects basic navigation-timing numbers plus the page title
// and URL.
func (d *Debugger) Metrics() map[string]interface{} {
	if d.t == nil {
		return map[string]interface{}{}
	}
	result := map[string]interface{}{
		"title": d.Title(),
		"url":   d.CurrentURL(),
	}
	if r, err := d.evaluate(metricsScript); err == nil && r != nil {
		if m, ok := r.Value.(map[string]interface{}); ok {
			result["metrics"] = m
		}
	}
	d.logger.Browser("metrics", "Page metrics collected", map[string]interface{}{
		"data": result,
	})
	return result
}

// Title of the current document.
func (d *Debugger) Title() string {
	r, err := d.evaluate("document.title")
	if err != nil || r == nil {
		return ""
	}
	title, _ := r.Value.(string)
	return title
}

// CurrentURL of the current document.
func (d *Debugger) CurrentURL() string {
	r, err := d.evaluate("document.location.href")
	if err != nil || r == nil {
		return ""
	}
	href, _ := r.Value.(string)
	return href
}

// evaluate a script in the global context, returning the value.
func (d *Debugger) evaluate(expr string) (*gcdapi.RuntimeRemoteObject, error) {
	params := &gcdapi.RuntimeEvaluateParams{
		Expression:    expr,
		ObjectGroup:   "plurl",
		Silent:        true,
		ReturnByValue: true,
		Timeout:       1000,
	}
	r, exp, err := d.t.Runtime.EvaluateWithParams(params)
	if err != nil {
		return nil, err
	}
	if exp != nil && exp.Exception != nil {
		return nil, errors.New(exp.Exception.Description)
	}
	return r, nil
}

// Close unwinds the browser process. Safe to call more than once and on
// every exit path.
func (d *Debugger) Close() {
	d.closeOnce.Do(func() {
		close(d.exitCh)
		if d.port != "" {
			if err := d.leaser.Return(d.port); err != nil {
				d.logger.Error("Error during browser cleanup", err)
			} else {
				d.logger.Browser("close", "Browser closed successfully", nil)
			}
			d.port = ""
		}
	})
}

// SanitizeSelector strips characters that could break out of a selector
// expression.
func SanitizeSelector(selector string) string {
	for _, c := range []string{"<", ">", `"`, "'", ";", "&", "|"} {
		selector = strings.ReplaceAll(selector, c, "")
	}
	return strings.TrimSpace(selector)
}
