package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"l9alerts/internal/app"
	"l9alerts/internal/calendar"
	"l9alerts/internal/clock"
)

const stopTimeout = 15 * time.Second

var (
	upcomingDays int
	icsOutput    string
)

func newCLI() *cli.App {
	a := cli.NewApp()
	a.Name = "l9alerts"
	a.Usage = "recurring game event reminders"
	a.UsageText = "l9alerts [--config FILE] <command> [arguments...]"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Value:  "./config.json",
			Usage:  "path to config (json or yaml)",
			EnvVar: "L9ALERTS_CONFIG",
		},
	}
	a.Action = runBot
	a.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "connect to chat and send reminders (default)",
			Action: runBot,
		},
		{
			Name:   "check",
			Usage:  "validate the config file and exit",
			Action: checkConfig,
		},
		{
			Name:    "schedule",
			Aliases: []string{"s"},
			Usage:   "print the event list with the next occurrence of each",
			Action:  printSchedule,
		},
		{
			Name:    "upcoming",
			Aliases: []string{"u"},
			Usage:   "list reminders that will fire in the next days",
			Action:  printUpcoming,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:        "days, d",
					Value:       7,
					Usage:       "how many days ahead to list",
					Destination: &upcomingDays,
				},
			},
		},
		{
			Name:   "ics",
			Usage:  "export the schedule as an iCalendar file",
			Action: exportICS,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:        "output, o",
					Value:       "-",
					Usage:       "file to write, - for stdout",
					Destination: &icsOutput,
				},
			},
		},
	}
	return a
}

func configPath(c *cli.Context) string {
	if p := c.GlobalString("config"); p != "" {
		return p
	}
	return c.String("config")
}

func runBot(c *cli.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bot, err := app.New(ctx, configPath(c))
	if err != nil {
		return err
	}
	if err := bot.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = bot.Stop(stopCtx, app.StopFatalError)
		return err
	}

	reason := app.StopUnknown
	select {
	case s := <-sigCh:
		reason = app.StopSIGTERM
		if s == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-bot.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := bot.Stop(stopCtx, reason); err != nil {
		return err
	}
	return bot.Err()
}

func checkConfig(c *cli.Context) error {
	cfg, err := app.Check(context.Background(), configPath(c))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "config ok: transport=%s\n", cfg.Transport.DriverName())
	return nil
}

func printSchedule(c *cli.Context) error {
	s, err := app.LoadSchedule(context.Background(), configPath(c))
	if err != nil {
		return err
	}
	writeSchedule(c.App.Writer, s, time.Now())
	return nil
}

func writeSchedule(w io.Writer, s app.Schedule, now time.Time) {
	now = now.In(s.Location)
	for i, def := range s.Events {
		next := clock.NextOccurrence(def, now)
		fmt.Fprintf(w, "%d. %s: %s at %s %s (next %s, in %s)\n",
			i+1, def.Name, def.Recurrence, clock.FormatClock12h(def.Hour, def.Minute), s.ZoneLabel,
			next.Format("Mon 2006-01-02"), clock.RemainingTime(next, now))
	}
}

func printUpcoming(c *cli.Context) error {
	if upcomingDays <= 0 {
		return fmt.Errorf("--days must be positive")
	}
	s, err := app.LoadSchedule(context.Background(), configPath(c))
	if err != nil {
		return err
	}
	return writeUpcoming(c.App.Writer, s, time.Now(), upcomingDays)
}

func writeUpcoming(w io.Writer, s app.Schedule, now time.Time, days int) error {
	from := now.In(s.Location)
	occ, err := calendar.Occurrences(s.Events, from, from.AddDate(0, 0, days), s.Lead)
	if err != nil {
		return err
	}
	if len(occ) == 0 {
		fmt.Fprintln(w, "no reminders in range")
		return nil
	}
	for _, o := range occ {
		fmt.Fprintf(w, "%s  %-14s %s (%s)\n",
			o.Fire.Format("Mon 2006-01-02 15:04"), o.Label, o.Event.Name,
			strings.TrimSpace(clock.FormatClock12h(o.At.Hour(), o.At.Minute())+" "+s.ZoneLabel))
	}
	return nil
}

func exportICS(c *cli.Context) error {
	s, err := app.LoadSchedule(context.Background(), configPath(c))
	if err != nil {
		return err
	}
	w := c.App.Writer
	if icsOutput != "" && icsOutput != "-" {
		f, err := os.Create(icsOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return calendar.WriteICS(w, s.Events, time.Now().In(s.Location), s.Lead, s.ZoneLabel)
}
