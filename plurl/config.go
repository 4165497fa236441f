package plurl

import "time"

// Config for a plurl session. Loadable from a TOML file; CLI flags fill
// whatever the file leaves empty.
type Config struct {
	URL            string   `toml:"url"`
	Endpoints      []string `toml:"endpoints"`
	Method         string   `toml:"method"`
	TimeoutSec     int      `toml:"timeout"`
	Retries        int      `toml:"retries"`
	RetryDelaySec  float64  `toml:"retry_delay"`
	WaitSelector   string   `toml:"wait_selector"`
	ClickSelector  string   `toml:"click_selector"`
	ScreenshotPath string   `toml:"screenshot"`
	Headless       bool     `toml:"headless"`
	KeepOpen       bool     `toml:"keep_open"`
	Verbose        bool     `toml:"verbose"`
	LogFile        string   `toml:"log_file"`
	DataPath       string   `toml:"data_path"`
}

// Timeout for a single HTTP request.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSec) * time.Second
}

// RetryDelay between request attempts.
func (c *Config) RetryDelay() time.Duration {
	if c.RetryDelaySec <= 0 {
		return time.Second
	}
	return time.Duration(c.RetryDelaySec * float64(time.Second))
}
