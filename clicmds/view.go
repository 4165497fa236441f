package clicmds

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gitlab.com/plurl/plurl"
	"gitlab.com/plurl/store"
)

// ViewFlags for printing a journaled session.
func ViewFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "datadir",
			Usage: "data directory holding the event journal",
		},
		&cli.StringFlag{
			Name:  "type",
			Usage: "only print events of this type (e.g. api, error, browser)",
		},
	}
}

// View replays the durable event journal to stdout in arrival order.
func View(ctx *cli.Context) error {
	dataDir := ctx.String("datadir")
	if dataDir == "" {
		return errors.New("no data directory provided, use --datadir")
	}
	only := ctx.String("type")

	journal := store.NewEventJournal(filepath.Join(dataDir, "events"))
	if err := journal.Init(); err != nil {
		return err
	}
	defer journal.Close()

	count := 0
	err := journal.Replay(func(evt *plurl.Event) error {
		if only != "" && evt.Type != only {
			return nil
		}
		count++
		fmt.Printf("%s [%s] %s\n", evt.Timestamp, evt.Type, evt.Data.EventMessage())
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("\n%d events\n", count)
	return nil
}
