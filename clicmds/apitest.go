package clicmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/tester"
)

// APITestFlags for endpoint testing without a browser.
func APITestFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "url",
			Usage: "base url to resolve relative endpoints against",
		},
		&cli.StringFlag{
			Name:  "endpoints",
			Usage: "comma-separated API endpoints to test",
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

// APITest runs the API testing phase on its own, no browser involved.
func APITest(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	if len(cfg.Endpoints) == 0 {
		return errors.New("no endpoints provided, use --endpoints")
	}

	if cfg.URL != "" {
		validated, err := plurl.ValidateURL(cfg.URL)
		if err != nil {
			return err
		}
		cfg.URL = validated
	}
	cfg.Endpoints = plurl.ResolveEndpoints(cfg.Endpoints, cfg.URL)

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
		"endpoints": cfg.Endpoints,
		"method":    cfg.Method,
		"log_file":  cfg.LogFile,
		"message":   "Starting API testing session",
	})

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Warn().Msg("Session interrupted by user")
		logger.Warning("Session interrupted by user")
		cancel()
	}()

	start := time.Now()
	results, err := tester.RunAPIPhase(runCtx, cfg, logger)
	if err != nil {
		logger.Error("API testing failed", err)
		return err
	}

	total := time.Since(start)
	logger.Success("Session completed successfully in " + plurl.FormatDuration(total))

	success := 0
	for _, r := range results {
		if r.StatusBelow(400) {
			success++
		}
	}
	fmt.Printf("\nTested %d endpoints in %s, %d/%d successful (%.1f%%)\n",
		len(cfg.Endpoints), plurl.FormatDuration(total), success, len(cfg.Endpoints),
		float64(success)/float64(len(cfg.Endpoints))*100)
	if cfg.LogFile != "" {
		fmt.Printf("Log file: %s\n", cfg.LogFile)
	}
	return nil
}
