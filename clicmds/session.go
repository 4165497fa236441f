package clicmds

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/session"
	"gitlab.com/plurl/store"
	"gitlab.com/plurl/tester"
)

// SessionFlags for the full browser + API run.
func SessionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "url to load in the browser",
		},
		&cli.StringFlag{
			Name:  "endpoints",
			Usage: "comma-separated API endpoints to test (e.g. /api/foo,/api/bar)",
		},
		&cli.StringFlag{
			Name:  "method",
			Usage: "HTTP method for API testing",
			Value: "GET",
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "request timeout in seconds",
			Value: 30,
		},
		&cli.IntFlag{
			Name:  "retry",
			Usage: "number of retry attempts for API requests",
			Value: 0,
		},
		&cli.Float64Flag{
			Name:  "retry-delay",
			Usage: "seconds to wait between retry attempts",
			Value: 1.0,
		},
		&cli.StringFlag{
			Name:  "wait-selector",
			Usage: "CSS selector to wait for before continuing",
		},
		&cli.StringFlag{
			Name:  "click-selector",
			Usage: "CSS selector to click after page load",
		},
		&cli.StringFlag{
			Name:  "screenshot",
			Usage: "take a screenshot and save it to this path",
		},
		&cli.BoolFlag{
			Name:  "headed",
			Usage: "run the browser in headed mode (visible)",
			Value: false,
		},
		&cli.BoolFlag{
			Name:    "keep-open",
			Usage:   "keep the browser open after completion (requires --headed)",
			Value:   false,
			Aliases: []string{"k"},
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Usage:   "mirror every event to the console",
			Value:   false,
			Aliases: []string{"v"},
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "path to write the structured session log",
		},
		&cli.StringFlag{
			Name:  "datadir",
			Usage: "data directory for the durable event journal",
		},
		&cli.StringFlag{
			Name:  "config",
			Usage: "TOML config to use",
		},
	}
}

// Session runs a full plurl session: browser phases first, API testing
// after.
func Session(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	validated, err := plurl.ValidateURL(cfg.URL)
	if err != nil {
		return err
	}
	cfg.URL = validated
	cfg.Endpoints = plurl.ResolveEndpoints(cfg.Endpoints, validated)

	if cfg.KeepOpen && cfg.Headless {
		return fmt.Errorf("--keep-open requires --headed mode")
	}

	logger, journal, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		logger.Finalize()
		if journal != nil {
			journal.Close()
		}
	}()

	logger.Record(plurl.EventSessionStart, plurl.GenericEvent{
		"url":       cfg.URL,
		"endpoints": cfg.Endpoints,
		"headless":  cfg.Headless,
		"log_file":  cfg.LogFile,
		"message":   "Starting plurl session",
	})

	run := tester.New(cfg, logger)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Warn().Msg("Session interrupted by user")
		logger.Warning("Session interrupted by user")
		run.Stop()
		logger.Finalize()
		if journal != nil {
			journal.Close()
		}
		os.Exit(130)
	}()

	start := time.Now()
	if err := run.Init(runCtx); err != nil {
		log.Error().Err(err).Msg("failed to init engine")
		return err
	}
	defer run.Stop()

	results, err := run.Run(runCtx)
	if err != nil {
		logger.Error("Session failed with unexpected error", err)
		return err
	}

	total := time.Since(start)
	logger.Success("Session completed successfully in " + plurl.FormatDuration(total))
	printSummary(cfg, run.Title(), results, total)

	if cfg.KeepOpen {
		log.Info().Msg("keeping browser open, ctrl-c to exit")
		<-c
	}
	return nil
}

func printSummary(cfg *plurl.Config, title string, results []*plurl.RequestResult, total time.Duration) {
	fmt.Printf("\n=== plurl session summary ===\n")
	fmt.Printf("URL: %s\n", cfg.URL)
	fmt.Printf("Total time: %s\n", plurl.FormatDuration(total))
	if title != "" {
		fmt.Printf("Page title: %s\n", title)
	}
	if len(cfg.Endpoints) > 0 {
		success := 0
		for _, r := range results {
			if r.StatusBelow(400) {
				success++
			}
		}
		fmt.Printf("API endpoints tested: %d\n", len(cfg.Endpoints))
		fmt.Printf("API success rate: %d/%d (%.1f%%)\n", success, len(cfg.Endpoints),
			float64(success)/float64(len(cfg.Endpoints))*100)
	}
	if cfg.LogFile != "" {
		fmt.Printf("Log file: %s\n", cfg.LogFile)
	}
	fmt.Printf("=== end summary ===\n\n")
}

// loadConfig reads the TOML config when given, then fills anything it
// left empty from the CLI flags.
func loadConfig(ctx *cli.Context) (*plurl.Config, error) {
	cfg := &plurl.Config{Headless: true}

	if path := ctx.String("config"); path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := toml.NewDecoder(strings.NewReader(string(data))).Decode(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.URL == "" {
		cfg.URL = ctx.String("url")
	}
	if len(cfg.Endpoints) == 0 && ctx.String("endpoints") != "" {
		cfg.Endpoints = splitEndpoints(ctx.String("endpoints"))
	}
	if cfg.Method == "" {
		cfg.Method = ctx.String("method")
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = ctx.Int("timeout")
	}
	if cfg.Retries == 0 {
		cfg.Retries = ctx.Int("retry")
	}
	if cfg.RetryDelaySec == 0 {
		cfg.RetryDelaySec = ctx.Float64("retry-delay")
	}
	if cfg.WaitSelector == "" {
		cfg.WaitSelector = ctx.String("wait-selector")
	}
	if cfg.ClickSelector == "" {
		cfg.ClickSelector = ctx.String("click-selector")
	}
	if cfg.ScreenshotPath == "" {
		cfg.ScreenshotPath = ctx.String("screenshot")
	}
	if ctx.Bool("headed") {
		cfg.Headless = false
	}
	if ctx.Bool("keep-open") {
		cfg.KeepOpen = true
	}
	if ctx.Bool("verbose") {
		cfg.Verbose = true
	}
	if cfg.LogFile == "" {
		cfg.LogFile = ctx.String("log-file")
	}
	if cfg.LogFile == "" {
		cfg.LogFile = plurl.DefaultLogFile()
	}
	if cfg.DataPath == "" {
		cfg.DataPath = ctx.String("datadir")
	}
	return cfg, nil
}

func splitEndpoints(list string) []string {
	endpoints := strings.Split(list, ",")
	for i, ep := range endpoints {
		endpoints[i] = strings.TrimSpace(ep)
	}
	return endpoints
}

// newLogger builds the session logger, attaching the durable journal
// when a data directory was configured.
func newLogger(cfg *plurl.Config) (*session.Logger, *store.EventJournal, error) {
	logger := session.New(cfg.LogFile, cfg.Verbose)
	if cfg.DataPath == "" {
		return logger, nil, nil
	}
	journal := store.NewEventJournal(filepath.Join(cfg.DataPath, "events"))
	if err := journal.Init(); err != nil {
		return nil, nil, err
	}
	logger.SetJournal(journal)
	return logger, journal, nil
}
