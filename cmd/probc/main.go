// Command probc runs a probabilistic program under one of three particle
// schedulers: Sequential Monte Carlo, Particle Gibbs (with an optional
// PIMH acceptance step), or Particle Cascade.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"code.hybscloud.com/probc/pkg/engine"
	"code.hybscloud.com/probc/pkg/engine/cascade"
	"code.hybscloud.com/probc/pkg/engine/pg"
	"code.hybscloud.com/probc/pkg/engine/smc"
	"code.hybscloud.com/probc/pkg/models"
)

// runLog is the structured logger for everything outside the predict/
// timing/evidence output stream itself: initialization failures and
// diagnostics, the Go replacement for the original engine's leveled
// debug_print(level, ...) macro. Every line carries a run_id so that logs
// from concurrent invocations sharing a terminal stay distinguishable.
var runLog = slog.New(slog.NewJSONHandler(os.Stderr, nil))

// programs is the registry of example probabilistic programs selectable
// with --model; a real deployment would instead compile a user's own
// program against pkg/engine directly.
var programs = map[string]func(p *engine.Particle, s engine.Scheduler){
	"tricky-coin":           models.TrickyCoin,
	"gaussian-unknown-mean": models.GaussianUnknownMean,
	"hmm":                   models.HMM,
	"branching":             models.Branching,
}

func lookupProgram(name string) (func(p *engine.Particle, s engine.Scheduler), error) {
	prog, ok := programs[name]
	if !ok {
		return nil, fmt.Errorf("probc: unknown model %q", name)
	}
	return prog, nil
}

// commonFlags holds the engine options shared by every subcommand (spec
// §6: "Common: -r --rng_seed N, -t --timeit").
type commonFlags struct {
	model  string
	seed   int64
	timeit bool
}

func addCommonFlags(cmd *cobra.Command, c *commonFlags) {
	cmd.Flags().StringVarP(&c.model, "model", "m", "tricky-coin", "example program to run (tricky-coin, gaussian-unknown-mean, hmm, branching)")
	cmd.Flags().Int64VarP(&c.seed, "rng_seed", "r", 1, "random number generator seed")
	cmd.Flags().BoolVarP(&c.timeit, "timeit", "t", false, "emit a time_elapsed diagnostic line")
}

func emitTimeit(timeit bool, start time.Time, id int) {
	if !timeit {
		return
	}
	elapsed := time.Since(start).Seconds()
	engine.FlushLine(engine.Stdout, fmt.Sprintf("time_elapsed,%.6f,,%d", elapsed, id))
}

func main() {
	runID := uuid.New()
	runLog = runLog.With("run_id", runID.String())

	root := &cobra.Command{
		Use:   "probc",
		Short: "Concurrent particle-based probabilistic inference",
		Long: `probc runs a probabilistic program under one of three particle
schedulers and prints "name,value[,weight,synthetic_id]" predict lines to
standard output.

A lone "--" separates engine options (left) from user-program options
(right); the example programs bundled in this binary take none, so
anything after "--" is ignored.`,
	}

	root.AddCommand(newSMCCommand())
	root.AddCommand(newPGCommand(false))
	root.AddCommand(newPGCommand(true))
	root.AddCommand(newCascadeCommand())

	if err := root.Execute(); err != nil {
		runLog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func newSMCCommand() *cobra.Command {
	var common commonFlags
	var cfg smc.Config

	cmd := &cobra.Command{
		Use:   "smc",
		Short: "Run Sequential Monte Carlo inference",
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := lookupProgram(common.model)
			if err != nil {
				return err
			}
			cfg.Seed = common.seed
			cfg.Timeit = common.timeit

			runLog.Info("starting run", "scheduler", "smc", "model", common.model, "particles", cfg.Particles, "seed", cfg.Seed)
			s := smc.New(cfg)
			start := time.Now()
			if err := s.Run(prog); err != nil {
				return err
			}
			emitTimeit(common.timeit, start, 0)
			if cfg.Evidence {
				engine.FlushLine(engine.Stdout, smc.FormatEvidence(0, s.MarginalLogLikelihood()))
			}
			return nil
		},
	}

	addCommonFlags(cmd, &common)
	def := smc.DefaultConfig()
	cmd.Flags().IntVarP(&cfg.Particles, "particles", "p", def.Particles, "number of particles")
	cmd.Flags().BoolVarP(&cfg.Weighted, "weighted", "w", false, "emit weighted output per particle")
	cmd.Flags().BoolVarP(&cfg.Evidence, "evidence", "e", false, "emit a marginal-likelihood estimate")
	cmd.Flags().Float64Var(&cfg.Tau, "tau", def.Tau, "ESS resample trigger threshold")
	cmd.Flags().BoolVar(&cfg.Residual, "residual", false, "use residual resampling instead of multinomial")
	return cmd
}

func newPGCommand(pimh bool) *cobra.Command {
	var common commonFlags
	var cfg pg.Config

	use, short := "pg", "Run Particle Gibbs (conditional SMC) inference"
	if pimh {
		use, short = "pimh", "Run Particle Gibbs with a PIMH acceptance step"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := lookupProgram(common.model)
			if err != nil {
				return err
			}
			cfg.Seed = common.seed
			cfg.Timeit = common.timeit
			cfg.PIMH = pimh

			runLog.Info("starting run", "scheduler", use, "model", common.model, "particles", cfg.Particles, "iterations", cfg.Iterations, "seed", cfg.Seed)
			s := pg.New(cfg)
			start := time.Now()
			if err := s.Run(prog); err != nil {
				return err
			}
			emitTimeit(common.timeit, start, 0)
			return nil
		},
	}

	addCommonFlags(cmd, &common)
	def := pg.DefaultConfig()
	cmd.Flags().IntVarP(&cfg.Particles, "particles", "p", def.Particles, "number of particles")
	cmd.Flags().IntVarP(&cfg.Iterations, "iterations", "i", def.Iterations, "number of Gibbs iterations")
	return cmd
}

func newCascadeCommand() *cobra.Command {
	var common commonFlags
	var cfg cascade.Config

	cmd := &cobra.Command{
		Use:   "cascade",
		Short: "Run Particle Cascade inference",
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, err := lookupProgram(common.model)
			if err != nil {
				return err
			}
			cfg.Seed = common.seed
			cfg.Timeit = common.timeit

			runLog.Info("starting run", "scheduler", "cascade", "model", common.model,
				"particles", cfg.ParticleSoftLimit, "process_cap", cfg.MaxLeafNodeCount, "seed", cfg.Seed)

			s := cascade.New(cfg)
			start := time.Now()
			if err := s.Run(prog); err != nil {
				return err
			}
			emitTimeit(common.timeit, start, 0)
			return nil
		},
	}

	addCommonFlags(cmd, &common)
	def := cascade.DefaultConfig()
	cmd.Flags().IntVarP(&cfg.ParticleSoftLimit, "particles", "p", def.ParticleSoftLimit, "soft completion limit (total leaf paths)")
	cmd.Flags().IntVarP(&cfg.MaxLeafNodeCount, "process_cap", "c", def.MaxLeafNodeCount, "max concurrently live leaves")
	cmd.Flags().BoolVarP(&cfg.Evidence, "evidence", "e", false, "emit a marginal-likelihood estimate per completed leaf")
	cmd.Flags().BoolVar(&cfg.RandomResampling, "random_resampling", false, "use randomized floor/ceil offspring counts instead of the deterministic balancing rule")
	return cmd
}
