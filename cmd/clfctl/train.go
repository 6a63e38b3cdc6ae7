package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/server"
)

var trainFiles []string

var trainCmd = &cobra.Command{
	Use:   "train [workload/kind ...]",
	Short: "Train models from their training files and report the result",
	Long: "Train the named models (every configured model when none is named). " +
		"Attempts are recorded in the model catalog when a data directory is set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := parseKeys(args)
		if err != nil {
			return err
		}
		if len(trainFiles) > 0 && len(keys) != 1 {
			return errors.New("--file needs exactly one model")
		}

		s, err := openSession(settings)
		if err != nil {
			return err
		}
		defer s.Close()

		var recorder server.TrainingRecorder
		if s.store != nil {
			recorder = s.store
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODEL\tBACKEND\tSTATUS\tDURATION\tDETAIL")
		failed := 0
		for _, key := range keys {
			spec := classifier.TrainingSpec{Files: trainFiles}
			if len(spec.Files) == 0 {
				if spec, err = settings.TrainingSpec(key); err != nil {
					return err
				}
			}
			h, err := server.Train(s.reg, recorder, key, spec)
			if err != nil {
				failed++
				fmt.Fprintf(tw, "%s\t-\tfailed\t-\t%v\n", key, err)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\ttrained\t%v\t%s\n", key, h.Backend(), h.TrainDuration(), h.ID())
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d models failed to train", failed, len(keys))
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().StringSliceVar(&trainFiles, "file", nil, "Training files, overriding the configured ones (part,occ,pure,index for combined)")
}
