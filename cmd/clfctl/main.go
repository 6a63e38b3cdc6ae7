// clfctl trains and queries the classifiers offline, and exports the
// decision samples collected by classifierd as training files.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"cc-classifier/internal/backend"
	"cc-classifier/internal/cfg"
	"cc-classifier/internal/classifier"
	"cc-classifier/internal/storage"
)

var (
	configFile string // YAML config, overrides CONFIG_FILE
	dataPath   string // directory holding classifier.db, overrides DATA_PATH
	logLevel   string

	settings cfg.Settings
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:           "clfctl",
	Short:         "Train, query and export the concurrency control classifiers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

		if configFile != "" {
			os.Setenv("CONFIG_FILE", configFile)
		}
		settings, err = cfg.Load()
		if err != nil {
			return err
		}
		if dataPath != "" {
			settings.DataPath = dataPath
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (default from CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&dataPath, "data", "", "Data directory with the model catalog (default from DATA_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(trainCmd, predictCmd, exportCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// session is a started classifier runtime for one command.
type session struct {
	rt    *classifier.Runtime
	reg   *classifier.Registry
	disp  *classifier.Dispatcher
	store *storage.Store
}

func openSession(c cfg.Settings) (*session, error) {
	rt := classifier.NewRuntime(backend.New(&c), nil)
	if err := rt.Start(c.SearchPath); err != nil {
		return nil, err
	}
	reg := classifier.NewRegistry(rt, c.Models, nil)
	s := &session{rt: rt, reg: reg, disp: classifier.NewDispatcher(reg, nil)}

	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			rt.Stop()
			return nil, err
		}
		s.store = store
	}
	return s, nil
}

func (s *session) Close() {
	if err := s.rt.Stop(); err != nil {
		log.Error().Err(err).Msg("classifier backend stop failed")
	}
	if s.store != nil {
		s.store.Close()
	}
}

// parseKeys turns "workload/kind" arguments into keys; no arguments means
// every configured key.
func parseKeys(args []string) ([]classifier.Key, error) {
	if len(args) == 0 {
		return settings.Keys(), nil
	}
	keys := make([]classifier.Key, 0, len(args))
	for _, a := range args {
		k, err := classifier.ParseKey(a)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}
