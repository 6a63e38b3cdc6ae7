package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cc-classifier/internal/classifier"
)

var historySince time.Duration

var historyCmd = &cobra.Command{
	Use:   "history workload/kind",
	Short: "List the recorded training attempts of a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := classifier.ParseKey(args[0])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		end := time.Now()
		records, err := store.TrainingHistory(key.String(), end.Add(-historySince), end)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range records {
			line := fmt.Sprintf("%s  %-8s %-10v %s", r.TrainedAt.Format(time.RFC3339), r.Status, r.Duration, r.Backend)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Fprintln(out, line)
		}
		if len(records) > 0 {
			return nil
		}

		latest, ok, err := store.LatestTraining(key.String())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "no training attempts for %s in the last %v\n", key, historySince)
		if ok {
			fmt.Fprintf(out, "latest: %s %s\n", latest.TrainedAt.Format(time.RFC3339), latest.Status)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().DurationVar(&historySince, "since", 7*24*time.Hour, "List attempts younger than this")
}
