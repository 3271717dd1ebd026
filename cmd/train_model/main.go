package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"clinique/config"
	"clinique/db"
	"clinique/logging"
	"clinique/training"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "train_model",
	Short:         "Offline trainers for the clinical prediction models",
	Long:          `train_model fits the cancellation, timing and churn models from appointment history and writes the artifacts the prediction service loads at startup.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the YAML config")

	rootCmd.AddCommand(cancellationCmd)
	rootCmd.AddCommand(timingCmd)
	rootCmd.AddCommand(churnCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: config, logger and an open history.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	history *db.History
}

func openEnv(ctx context.Context, withHistory bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger}
	if !withHistory {
		return e, nil
	}

	history, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := history.EnsureSchema(ctx); err != nil {
		history.Close()
		return nil, err
	}
	e.history = history
	return e, nil
}

func (e *env) close() {
	if e.history != nil {
		e.history.Close()
	}
	_ = e.logger.Sync()
}

func (e *env) trainer() *training.Trainer {
	if e.history == nil {
		return training.NewTrainer(nil, nil, e.cfg.Models.Dir, e.cfg.Training, e.logger)
	}
	return training.NewTrainer(e.history, e.history, e.cfg.Models.Dir, e.cfg.Training, e.logger)
}

// runTraining executes fit and treats insufficient data as a clean exit
// without artifacts.
func runTraining(cmd *cobra.Command, withHistory bool, fit func(context.Context, *training.Trainer) (*training.Report, error)) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, withHistory)
	if err != nil {
		return err
	}
	defer e.close()

	report, err := fit(ctx, e.trainer())
	if errors.Is(err, training.ErrInsufficientData) {
		e.logger.Warn("training skipped", zap.String("command", cmd.Name()), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s trained on %d samples (run %s)\n", report.Model, report.Samples, report.RunID)
	if report.Accuracy != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "accuracy=%.4f\n", *report.Accuracy)
	}
	for _, name := range report.Artifacts {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
	}
	return nil
}
