package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/reciperage/internal/bots"
	"github.com/okian/reciperage/internal/domain/recipe"
	"github.com/okian/reciperage/pkg/logger"
)

// Default configuration constants.
const (
	defaultBots        = 8
	defaultTimeout     = 10 * time.Second
	defaultRunTimeout  = 10 * time.Minute
	defaultDecideEvery = 100 * time.Millisecond
)

type options struct {
	url         string
	bots        int
	teams       string
	level       string
	start       bool
	decideEvery time.Duration
	timeout     time.Duration
	runTimeout  time.Duration
	seed        int64
	catalog     string
	report      string
	verbose     bool
	jsonOut     bool
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Stderr.WriteString("kitchenbots: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "kitchenbots",
		Short: "Load a Recipe Rage server with WebSocket bots",
		Long: `Connect a fleet of bots to a running server, play one match and report.

Each bot keeps its own mirror of the match over /ws, works its share of the
stations and delivers orders for its team. After game over every bot is
looked up on the leaderboard.

Example:
  kitchenbots --url http://localhost:9090 --bots 16 --start --level diner`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:9090", "base URL of the service")
	f.IntVar(&opts.bots, "bots", defaultBots, "number of bots to connect")
	f.StringVar(&opts.teams, "teams", "red,blue", "comma separated teams to spread bots over")
	f.StringVar(&opts.level, "level", "", "level to start with --start (default: server's level)")
	f.BoolVar(&opts.start, "start", false, "start a match before connecting")
	f.DurationVar(&opts.decideEvery, "decide-every", defaultDecideEvery, "how often each bot acts")
	f.DurationVar(&opts.timeout, "timeout", defaultTimeout, "HTTP request timeout")
	f.DurationVar(&opts.runTimeout, "run-timeout", defaultRunTimeout, "give up after this long")
	f.Int64Var(&opts.seed, "seed", 1, "seed for bot names and ingredient quality")
	f.StringVar(&opts.catalog, "catalog", "", "recipe catalog matching the server's (default: built-in)")
	f.StringVar(&opts.report, "report", "", "write a JSON report to this file")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	f.BoolVar(&opts.jsonOut, "json", false, "print the report as JSON")
	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if opts.verbose {
		_ = logger.SetLevelString("debug")
	}

	catalog := recipe.Default()
	if opts.catalog != "" {
		c, err := recipe.LoadFile(opts.catalog)
		if err != nil {
			return err
		}
		catalog = c
	}

	var teams []string
	for _, t := range strings.Split(opts.teams, ",") {
		if t = strings.TrimSpace(t); t != "" {
			teams = append(teams, t)
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.runTimeout)
	defer cancel()

	report, err := bots.RunFleet(ctx, bots.FleetConfig{
		BaseURL:     strings.TrimSuffix(opts.url, "/"),
		Bots:        opts.bots,
		Teams:       teams,
		Level:       opts.level,
		StartMatch:  opts.start,
		DecideEvery: opts.decideEvery,
		Timeout:     opts.timeout,
		Seed:        opts.seed,
		ReportFile:  opts.report,
	}, catalog, logger.Get().Named("kitchenbots"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	totals := report.Totals()
	fmt.Fprintf(out, "match %s finished in %s\n", report.MatchID, report.Duration.Round(time.Millisecond))
	for _, s := range report.Scores {
		fmt.Fprintf(out, "  team %-8s %6d\n", s.Team, s.Score)
	}
	fmt.Fprintf(out, "commands: %d sent, %d accepted, %d rejected\n", totals.Sent, totals.Accepted, totals.Rejected)
	fmt.Fprintf(out, "dishes: %d collected, %d delivered, %d failed\n", totals.Collected, totals.Delivered, totals.Failed)
	for _, b := range report.Bots {
		rank := "-"
		if b.Rank != nil {
			rank = fmt.Sprintf("#%d (%d)", b.Rank.Rank, b.Rank.Score)
		}
		fmt.Fprintf(out, "  %-16s %-6s delivered=%-3d rank=%s\n", b.ID, b.Team, b.Stats.Delivered, rank)
	}
	return nil
}
