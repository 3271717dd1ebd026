package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"clinique/db"
	"clinique/training"

	"github.com/spf13/cobra"
)

var cancellationCmd = &cobra.Command{
	Use:   "cancellation",
	Short: "Train the cancellation-risk model and its scaler",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTraining(cmd, true, func(ctx context.Context, t *training.Trainer) (*training.Report, error) {
			return t.TrainCancellation(ctx)
		})
	},
}

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "Train the next-session timing model",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTraining(cmd, true, func(ctx context.Context, t *training.Trainer) (*training.Report, error) {
			return t.TrainTiming(ctx)
		})
	},
}

var churnSource string

var churnCmd = &cobra.Command{
	Use:   "churn",
	Short: "Train the churn model from history or synthetic data",
	RunE: func(cmd *cobra.Command, args []string) error {
		switch churnSource {
		case "history":
			return runTraining(cmd, true, func(ctx context.Context, t *training.Trainer) (*training.Report, error) {
				return t.TrainChurnFromHistory(ctx)
			})
		case "synthetic":
			return runTraining(cmd, false, func(ctx context.Context, t *training.Trainer) (*training.Report, error) {
				return t.TrainChurnSynthetic(ctx)
			})
		default:
			return fmt.Errorf("unknown churn source %q (want history or synthetic)", churnSource)
		}
	},
}

var (
	seedPatients int
	seedValue    int64
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Fill the history database with demo appointments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		opts := db.DefaultSeedOptions()
		opts.Patients = seedPatients
		opts.Seed = seedValue
		summary, err := db.Seed(ctx, e.history, opts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "seeded %d appointments and %d notes\n", summary.Appointments, summary.Notes)
		return nil
	},
}

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List past training runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx, true)
		if err != nil {
			return err
		}
		defer e.close()

		entries, err := e.history.LoadTrainingLog(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no training runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tMODEL\tSAMPLES\tACCURACY\tTRAINED AT")
		for _, entry := range entries {
			accuracy := "-"
			if entry.Accuracy != nil {
				accuracy = fmt.Sprintf("%.4f", *entry.Accuracy)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", entry.RunID, entry.ModelName, entry.DataPoints, accuracy, entry.TrainedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	churnCmd.Flags().StringVar(&churnSource, "source", "synthetic", "training data: history or synthetic")

	def := db.DefaultSeedOptions()
	seedCmd.Flags().IntVar(&seedPatients, "patients", def.Patients, "number of demo patients")
	seedCmd.Flags().Int64Var(&seedValue, "seed", def.Seed, "random seed")
}
