package browser

import (
	"io/ioutil"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/wirepair/gcd"
)

// LeaserService hands out locally started chrome processes by debug
// port and tears them down on return.
type LeaserService interface {
	Acquire() (string, error) // returns the devtools port
	Return(port string) error
	Cleanup() error
}

var startupFlags = []string{
	"--enable-automation",
	"--test-type",
	"--disable-client-side-phishing-detection",
	"--disable-component-update",
	"--disable-infobars",
	"--disable-domain-reliability",
	"--disable-background-networking",
	"--disable-sync",
	"--disable-default-apps",
	"--disable-popup-blocking",
	"--disable-extensions",
	"--disable-features=TranslateUI",
	"--disable-gpu",
	"--disable-dev-shm-usage",
	"--no-sandbox",
	"--allow-running-insecure-content",
	"--no-first-run",
	"--window-size=1280,720",
	"--safebrowsing-disable-auto-update",
	"--password-store=basic",
	"about:blank",
}

var chromePaths = []string{
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// ErrChromeNotFound when no chrome executable exists on this system.
var ErrChromeNotFound = errors.New("no chrome executable found")

// LocalLeaser starts chrome processes on this machine with throwaway
// profile directories.
type LocalLeaser struct {
	browserLock sync.Mutex
	browsers    map[string]*gcd.Gcd
	headless    bool
	tmp         string
}

// NewLocalLeaser for headless or headed chrome.
func NewLocalLeaser(headless bool) *LocalLeaser {
	return &LocalLeaser{
		browsers: make(map[string]*gcd.Gcd),
		headless: headless,
	}
}

// Acquire starts a chrome process and returns its devtools port.
func (s *LocalLeaser) Acquire() (string, error) {
	chrome, err := FindChrome()
	if err != nil {
		return "", err
	}

	b := gcd.NewChromeDebugger()
	b.DeleteProfileOnExit()

	flags := startupFlags
	if s.headless {
		flags = append([]string{"--headless"}, flags...)
	}
	b.AddFlags(flags)

	profile, tmp := randProfile()
	s.tmp = tmp
	port := randPort()
	if err := b.StartProcess(chrome, profile, port); err != nil {
		return "", err
	}

	s.browserLock.Lock()
	s.browsers[port] = b
	s.browserLock.Unlock()
	return port, nil
}

// Return kills the chrome process that was leased on port.
func (s *LocalLeaser) Return(port string) error {
	s.browserLock.Lock()
	defer s.browserLock.Unlock()

	b, ok := s.browsers[port]
	if !ok {
		return errors.New("not found")
	}
	delete(s.browsers, port)
	return b.ExitProcess()
}

// Cleanup removes leftover profile directories.
func (s *LocalLeaser) Cleanup() error {
	if s.tmp == "" {
		return nil
	}
	files, err := filepath.Glob(filepath.Join(s.tmp, "plurl*"))
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := os.RemoveAll(file); err != nil {
			return err
		}
	}
	return nil
}

// FindChrome looks for a chrome executable in the usual places, then
// falls back to PATH.
func FindChrome() (string, error) {
	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	for _, name := range []string{"google-chrome", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", ErrChromeNotFound
}

func randPort() string {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		log.Warn().Err(err).Msg("unable to get port using default 9022")
		return "9022"
	}
	_, port, _ := net.SplitHostPort(l.Addr().String())
	l.Close()
	return port
}

func randProfile() (string, string) {
	tmp := os.TempDir()
	profile, err := ioutil.TempDir(tmp, "plurl")
	if err != nil {
		log.Error().Err(err).Msg("failed to create temporary profile directory")
		return "tmp", tmp
	}
	return profile, tmp
}
