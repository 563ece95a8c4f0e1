package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/okian/reciperage/internal/adapters/persistence"
	"github.com/okian/reciperage/internal/bots"
	"github.com/okian/reciperage/internal/domain/model"
	"github.com/okian/reciperage/internal/domain/order"
	"github.com/okian/reciperage/pkg/logger"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Level      string
	Bots       int
	Step       time.Duration
	Seed       int64
	Validation string
	Persist    bool
	NoProgress bool
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a headless match with bots",
		Long: `Play one match in process on a fixed time step, driven by bots.

The match runs as fast as the CPU allows. Final scores and per-bot stats
are printed; with --persist the result is saved to the configured store.

Example:
  reciperage simulate --level diner --bots 4
  reciperage simulate --level food-truck --seed 42 --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulate(ctx, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.Level, "level", "", "level to play (default: configured level)")
	cmd.Flags().IntVar(&opts.Bots, "bots", 2, "number of bots")
	cmd.Flags().DurationVar(&opts.Step, "step", 50*time.Millisecond, "simulated time per tick")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().StringVar(&opts.Validation, "validation", "", "delivery validation: permissive or exact (default: configured)")
	cmd.Flags().BoolVar(&opts.Persist, "persist", false, "save the result to the configured store")
	cmd.Flags().BoolVar(&opts.NoProgress, "no-progress", false, "hide the progress bar")

	return cmd
}

type simulateOutput struct {
	Result model.MatchResult `json:"result"`
	Bots   []simulatedBot    `json:"bots"`
}

type simulatedBot struct {
	ID    string     `json:"id"`
	Team  string     `json:"team"`
	Stats bots.Stats `json:"stats"`
}

func runSimulate(ctx context.Context, opts *SimulateOptions, out, errOut io.Writer) error {
	cfg, err := setup(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	log := logger.Get().Named("simulate")

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	level := opts.Level
	if level == "" {
		level = cfg.Level
	}
	validation := opts.Validation
	if validation == "" {
		validation = cfg.DeliveryValidation
	}
	if v := order.Validation(validation); v != order.Permissive && v != order.Exact {
		return fmt.Errorf("invalid validation %q", validation)
	}
	if opts.Step <= 0 || opts.Bots <= 0 {
		return fmt.Errorf("step and bots must be positive")
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	simOpts := []bots.SimOption{
		bots.WithBots(opts.Bots),
		bots.WithStep(opts.Step),
		bots.WithSeed(seed),
		bots.WithValidation(order.Validation(validation)),
		bots.WithSimLogger(log),
	}
	if !opts.NoProgress {
		lvl, err := catalog.Level(level)
		if err != nil {
			return err
		}
		bar := progressbar.NewOptions64(int64(lvl.Duration/opts.Step),
			progressbar.OptionSetWriter(errOut),
			progressbar.OptionSetDescription("simulating "+level),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
		simOpts = append(simOpts, bots.WithProgress(func(time.Duration) { _ = bar.Add(1) }))
	}
	sim, err := bots.NewSimulation(catalog, level, simOpts...)
	if err != nil {
		return err
	}

	result, err := sim.Run(ctx)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}

	if opts.Persist {
		store, err := openStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.PersistenceBackend, err)
		}
		defer func() { _ = store.Close() }()
		if err := persistence.Save(ctx, store, persistence.MatchKey(result.MatchID), result); err != nil {
			return fmt.Errorf("persist result: %w", err)
		}
		log.Info(ctx, "result saved", logger.String("match_id", result.MatchID), logger.String("backend", cfg.PersistenceBackend))
	}

	report := simulateOutput{Result: result}
	for _, b := range sim.Bots() {
		report.Bots = append(report.Bots, simulatedBot{ID: b.ID(), Team: b.Team(), Stats: b.Stats()})
	}
	return printSimulation(out, opts.Format, report)
}

func printSimulation(w io.Writer, format string, r simulateOutput) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	scores := append([]model.TeamScore(nil), r.Result.Scores...)
	sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	fmt.Fprintf(w, "match %s on %s\n", r.Result.MatchID, r.Result.LevelID)
	fmt.Fprintf(w, "orders: %d delivered, %d failed, %d expired\n", r.Result.Delivered, r.Result.Failed, r.Result.Expired)
	fmt.Fprintln(w, "scores:")
	for _, s := range scores {
		fmt.Fprintf(w, "  %-10s %6d\n", s.Team, s.Score)
	}
	fmt.Fprintln(w, "bots:")
	for _, b := range r.Bots {
		fmt.Fprintf(w, "  %-16s %-6s sent=%d accepted=%d rejected=%d delivered=%d\n",
			b.ID, b.Team, b.Stats.Sent, b.Stats.Accepted, b.Stats.Rejected, b.Stats.Delivered)
	}
	return nil
}
