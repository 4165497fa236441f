package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gitlab.com/plurl/clicmds"
)

func main() {
	app := cli.NewApp()
	app.Name = "plurl"
	app.Version = "0.1"
	app.Usage = "Drive a browser and curl your endpoints in one recorded session"
	app.Commands = []*cli.Command{
		{
			Name:    "session",
			Aliases: []string{"s"},
			Usage:   "run a full browser + API testing session",
			Action:  clicmds.Session,
			Flags:   clicmds.SessionFlags(),
		},
		{
			Name:    "api",
			Aliases: []string{"a"},
			Usage:   "test API endpoints without launching a browser",
			Action:  clicmds.APITest,
			Flags:   clicmds.APITestFlags(),
		},
		{
			Name:    "view",
			Aliases: []string{"v"},
			Usage:   "print a journaled session from a data directory",
			Action:  clicmds.View,
			Flags:   clicmds.ViewFlags(),
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
