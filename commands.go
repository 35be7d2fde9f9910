package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ttacon/chalk"
	"github.com/urfave/cli/v2"

	"github.com/dage/machine-evolved/fitness"
	"github.com/dage/machine-evolved/journal"
	"github.com/dage/machine-evolved/protocol"
	"github.com/dage/machine-evolved/worker"
)

func (a *app) pingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "check that the work server answers",
		Action: func(c *cli.Context) error {
			start := time.Now()
			if !a.client().Ping(c.Context) {
				fmt.Println(chalk.Red.Color("no answer from " + a.cfg.Server.Address))
				return cli.Exit("", 1)
			}
			fmt.Printf("%s %s in %s\n", chalk.Green.Color("pong"), a.cfg.Server.Address, time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "print the work server's status",
		Action: func(c *cli.Context) error {
			status := a.client().ServerStatus(c.Context)
			if status == protocol.StatusServerDown {
				fmt.Println(chalk.Red.Color(status))
				return cli.Exit("", 1)
			}
			fmt.Println(chalk.Bold.TextStyle(a.cfg.Server.Address) + " " + chalk.Green.Color(status))
			return nil
		},
	}
}

func (a *app) bestCommand() *cli.Command {
	return &cli.Command{
		Name:  "best",
		Usage: "fetch the best creature so far and simulate it locally",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "realtime", Usage: "pace the simulation at the tick rate"},
		},
		Action: func(c *cli.Context) error {
			unit, ok := a.client().BestCreature(c.Context)
			if !ok {
				return cli.Exit(chalk.Red.Color("no best creature available"), 1)
			}
			res, err := worker.Preview(c.Context, unit, a.cfg, worker.PreviewOptions{
				Realtime: c.Bool("realtime"),
				Logger:   a.logger,
				Progress: func(ticks int, score float64) {
					fmt.Printf("\r%s t=%3ds fitness=%.3f", chalk.Cyan.Color(unit.Task.ID), ticks/fitness.TicksPerSecond, score)
				},
			})
			fmt.Println()
			if errors.Is(err, context.Canceled) {
				fmt.Println(chalk.Yellow.Color(fmt.Sprintf("cancelled after %d ticks, fitness %.3f", res.Ticks, res.Score)))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s %s fitness %s\n", chalk.Bold.TextStyle(res.Task.Name), res.Task.ID, chalk.Green.Color(fmt.Sprintf("%.3f", res.Score)))
			return nil
		},
	}
}

func (a *app) resultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "results",
		Usage: "list the best results recorded in the sqlite journal",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "top", Value: 10, Usage: "number of results to show"},
			&cli.StringFlag{Name: "path", Usage: "journal database (default: config journal.path)"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("path")
			if path == "" {
				path = a.cfg.Journal.Path
			}
			store := journal.NewSQLiteStore(path)
			if err := store.Init(c.Context); err != nil {
				return fmt.Errorf("opening journal %s: %w", path, err)
			}
			defer store.Close()

			total, err := store.Count(c.Context)
			if err != nil {
				return err
			}
			top, err := store.Top(c.Context, c.Int("top"))
			if err != nil {
				return err
			}
			fmt.Println(chalk.Bold.TextStyle(fmt.Sprintf("%d results in %s", total, path)))
			for i, e := range top {
				fmt.Printf("%3d. %s  %-12s %-36s %s  %s\n",
					i+1,
					chalk.Green.Color(fmt.Sprintf("%10.3f", e.Fitness)),
					e.Task,
					e.TaskID,
					e.ExperimentID,
					chalk.Dim.TextStyle(e.CompletedAt.Format(time.DateTime)),
				)
			}
			if len(top) == 0 {
				fmt.Println(chalk.Yellow.Color("nothing recorded yet"))
			}
			return nil
		},
	}
}
