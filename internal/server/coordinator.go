package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/features"
	"cc-classifier/internal/strategy"
)

// CoordinatorConfig controls plan selection from worker reports.
type CoordinatorConfig struct {
	Mode    strategy.Mode
	Initial strategy.Plan
	Span    time.Duration // reports older than this are not merged
	Reports int           // reports kept per workload
	Head    int
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		Mode:    strategy.ModeCombined,
		Initial: strategy.Plan{Index: strategy.PartitionedIndex, Protocol: strategy.Partition},
		Span:    time.Second,
		Reports: 16,
	}
}

// coordinator merges the worker reports of one workload and moves its plan.
type coordinator struct {
	window   *features.Window
	selector *strategy.Selector
	opts     features.Options
}

// PlanResponse is the plan in effect after a report.
type PlanResponse struct {
	Workload      string                     `json:"workload"`
	Plan          string                     `json:"plan"`
	ExecType      int                        `json:"exec_type"`
	Index         string                     `json:"index"`
	Protocol      string                     `json:"protocol"`
	Fallback      bool                       `json:"fallback,omitempty"`
	Reason        string                     `json:"reason,omitempty"`
	Switched      bool                       `json:"switched"`
	Decision      *classifier.Decision       `json:"decision,omitempty"`
	Probabilities *classifier.ProbabilitySet `json:"probabilities,omitempty"`
	Reports       int                        `json:"reports,omitempty"`
	Stats         *features.Stats            `json:"stats,omitempty"`
}

// ConfigureCoordinator replaces the per-workload coordinators. Plans and
// buffered reports are dropped. Call before Start.
func (s *Server) ConfigureCoordinator(cfg CoordinatorConfig) {
	var m strategy.MetricsInterface
	if s.metrics != nil {
		m = s.metrics
	}
	s.coordinators = make(map[classifier.WorkloadType]*coordinator, len(classifier.WorkloadTypes))
	for _, w := range classifier.WorkloadTypes {
		s.coordinators[w] = &coordinator{
			window:   features.NewWindow(cfg.Span, cfg.Reports),
			selector: strategy.NewSelector(s.dispatcher, w, cfg.Mode, cfg.Initial, m),
			opts:     features.Options{Head: cfg.Head},
		}
	}
}

func (s *Server) coordinatorFor(r *http.Request) (classifier.WorkloadType, *coordinator, error) {
	w, err := classifier.ParseWorkloadType(mux.Vars(r)["workload"])
	if err != nil {
		return 0, nil, err
	}
	c, ok := s.coordinators[w]
	if !ok {
		return 0, nil, fmt.Errorf("no coordinator for workload %s", w)
	}
	return w, c, nil
}

// handleReport takes one worker's period summary and returns the plan the
// engine should run next.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	workload, c, err := s.coordinatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	var summary features.Summary
	if err := json.NewDecoder(r.Body).Decode(&summary); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid summary: %w", err))
		return
	}
	c.window.Add(summary)

	merged, n := c.window.Sum()
	current := c.selector.Current()
	stats, err := features.Compute(merged, current, c.opts)
	if errors.Is(err, features.ErrEmptySummary) {
		// Too little traffic to decide on; keep the current plan.
		writeJSON(w, http.StatusOK, planResponse(workload, current, n))
		return
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "bad_summary", err)
		return
	}

	out := c.selector.Next(stats.Vectors())
	if out.Switched {
		c.window.Reset()
	}

	resp := planResponse(workload, out.Plan, n)
	resp.Switched = out.Switched
	resp.Stats = &stats
	resp.Probabilities = out.Probabilities
	if out.Err == nil {
		d := out.Decision
		resp.Decision = &d
		s.recordSample(classifier.Key{Workload: workload, Kind: out.Kind}, vectorFor(out.Kind, stats), out.Decision, out.Probabilities)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	workload, c, err := s.coordinatorFor(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	writeJSON(w, http.StatusOK, planResponse(workload, c.selector.Current(), 0))
}

func planResponse(workload classifier.WorkloadType, p strategy.Plan, reports int) PlanResponse {
	return PlanResponse{
		Workload: workload.String(),
		Plan:     p.String(),
		ExecType: p.ExecType(),
		Index:    p.Index.String(),
		Protocol: p.Protocol.String(),
		Fallback: p.Fallback,
		Reason:   p.Reason,
		Reports:  reports,
	}
}

func vectorFor(kind classifier.DecisionKind, st features.Stats) classifier.FeatureVector {
	switch kind {
	case classifier.OCC:
		return st.OCC()
	case classifier.Partition:
		return st.Partition()
	}
	return st.Combined()
}
