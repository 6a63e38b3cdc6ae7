package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cc-classifier/internal/backend/native"
	"cc-classifier/internal/classifier"
	"cc-classifier/internal/storage"
)

var (
	exportSince time.Duration
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export workload/kind",
	Short: "Write collected decision samples in the model's training file layout",
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

		spec, err := settings.Models.Lookup(key)
		if err != nil {
			return err
		}
		prefix, columns, err := native.Layout(spec.ID)
		if err != nil {
			return fmt.Errorf("no training layout for %s: %w", key, err)
		}
		labels, err := native.SampleLabels(spec.ID)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOut != "" {
			f, err := os.Create(exportOut)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}

		end := time.Now()
		n, err := store.ExportSamples(w, key.String(), end.Add(-exportSince), end, storage.ExportOptions{
			Columns: columns,
			Prefix:  prefix,
			Labels:  labels,
		})
		if err != nil {
			return err
		}
		log.Info().Str("model", key.String()).Int("rows", n).Msg("samples exported")
		return nil
	},
}

func init() {
	exportCmd.Flags().DurationVar(&exportSince, "since", 24*time.Hour, "Export samples younger than this")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default stdout)")
}

func openStore() (*storage.Store, error) {
	if settings.DataPath == "" {
		return nil, errors.New("no data directory; set --data or DATA_PATH")
	}
	return storage.New(settings.DataPath)
}
