package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/server"
	"cc-classifier/internal/strategy"
)

var (
	predictFeatures []string
	predictCurrent  int
	predictProbs    bool
)

var predictCmd = &cobra.Command{
	Use:   "predict workload/kind --feature name=value ...",
	Short: "Train one model and classify a feature vector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := classifier.ParseKey(args[0])
		if err != nil {
			return err
		}
		spec, err := settings.Models.Lookup(key)
		if err != nil {
			return err
		}
		vec, err := parseFeatures(spec.Shape, predictFeatures)
		if err != nil {
			return err
		}
		current, err := strategy.FromExecType(predictCurrent)
		if err != nil {
			return err
		}

		s, err := openSession(settings)
		if err != nil {
			return err
		}
		defer s.Close()

		files, err := settings.TrainingSpec(key)
		if err != nil {
			return err
		}
		if _, err := server.Train(s.reg, nil, key, files); err != nil {
			return err
		}

		out := struct {
			Model         string                     `json:"model"`
			Decision      classifier.Decision        `json:"decision"`
			Plan          string                     `json:"plan"`
			Probabilities *classifier.ProbabilitySet `json:"probabilities,omitempty"`
		}{Model: key.String()}

		if key.Kind == classifier.Combined && predictProbs {
			var probs classifier.ProbabilitySet
			out.Decision, probs, err = s.disp.PredictWithProbabilities(key.Workload, vec)
			out.Probabilities = &probs
		} else {
			out.Decision, err = s.disp.Predict(key.Workload, key.Kind, vec)
		}
		if err != nil {
			return err
		}

		plan, err := strategy.Apply(key.Kind, out.Decision, current)
		if err != nil {
			return err
		}
		out.Plan = plan.String()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	predictCmd.Flags().StringArrayVar(&predictFeatures, "feature", nil, "Feature as name=value; every feature of the model's shape is required")
	predictCmd.Flags().IntVar(&predictCurrent, "current", 0, "Execution type currently running (0-4), the base for single-purpose decisions")
	predictCmd.Flags().BoolVar(&predictProbs, "probabilities", false, "Report the combined model's probabilities")
}

// parseFeatures orders name=value pairs by shape.
func parseFeatures(shape classifier.Shape, pairs []string) (classifier.FeatureVector, error) {
	values := make(map[string]float64, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("feature %q is not name=value", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", name, err)
		}
		values[strings.TrimSpace(name)] = v
	}

	vec := make(classifier.FeatureVector, 0, len(shape))
	for _, name := range shape {
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("missing feature %s (want %s)", name, strings.Join(shape, ", "))
		}
		vec = append(vec, classifier.Feature{Name: name, Value: v})
		delete(values, name)
	}
	if len(values) > 0 {
		extra := make([]string, 0, len(values))
		for name := range values {
			extra = append(extra, name)
		}
		sort.Strings(extra)
		return nil, fmt.Errorf("unknown features for this model: %s", strings.Join(extra, ", "))
	}
	return vec, nil
}
