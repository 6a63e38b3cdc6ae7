// Package server exposes the classifier over HTTP: predictions for the
// engine's coordinator and model management for operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"cc-classifier/internal/classifier"
	"cc-classifier/internal/storage"
)

// TrainingSource resolves the configured training files for a key.
type TrainingSource interface {
	TrainingSpec(key classifier.Key) (classifier.TrainingSpec, error)
}

// Store is the persistence the server writes to. It may be nil.
type Store interface {
	TrainingRecorder
	StoreSample(sample storage.Sample) error
}

type MetricsInterface interface {
	SampleStoredInc()
	ErrorInc()
	FallbackInc(reason string)
	StrategySwitchInc()
}

// Server provides the HTTP decision API.
type Server struct {
	registry   *classifier.Registry
	dispatcher *classifier.Dispatcher
	training   TrainingSource
	store      Store
	metrics    MetricsInterface
	router     *mux.Router
	server     *http.Server

	coordinators map[classifier.WorkloadType]*coordinator
}

// PredictionRequest asks for one decision.
type PredictionRequest struct {
	Workload      string                   `json:"workload"`
	Kind          string                   `json:"kind"`
	Features      classifier.FeatureVector `json:"features"`
	Probabilities bool                     `json:"probabilities,omitempty"`
	RequestID     string                   `json:"request_id,omitempty"`
}

// PredictionResponse carries the decision and, for combined models when
// requested, the confidences of the last prediction.
type PredictionResponse struct {
	Model         string                     `json:"model"`
	Decision      classifier.Decision        `json:"decision"`
	Probabilities *classifier.ProbabilitySet `json:"probabilities,omitempty"`
	RequestID     string                     `json:"request_id,omitempty"`
	Latency       float64                    `json:"latency_ms"`
	Timestamp     time.Time                  `json:"timestamp"`
}

// TrainRequest optionally overrides the configured training files.
type TrainRequest struct {
	Files []string `json:"files,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// New creates the server. training, store and metrics may be nil.
func New(reg *classifier.Registry, disp *classifier.Dispatcher, training TrainingSource, store Store, metrics MetricsInterface, port int) *Server {
	s := &Server{
		registry:   reg,
		dispatcher: disp,
		training:   training,
		store:      store,
		metrics:    metrics,
		router:     mux.NewRouter(),
	}

	s.router.HandleFunc("/v1/predict", s.handlePredict).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/probabilities/{workload}", s.handleProbabilities).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/models", s.handleModels).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/models/{workload}/{kind}/train", s.handleTrain).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/models/{workload}/{kind}", s.handleDispose).Methods(http.MethodDelete)
	s.router.HandleFunc("/v1/workloads/{workload}/reports", s.handleReport).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/workloads/{workload}/plan", s.handlePlan).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.ConfigureCoordinator(DefaultCoordinatorConfig())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting decision API")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid request: %w", err))
		return
	}
	workload, err := classifier.ParseWorkloadType(req.Workload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	kind := classifier.Combined
	if req.Kind != "" {
		if kind, err = classifier.ParseDecisionKind(req.Kind); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
	}
	key := classifier.Key{Workload: workload, Kind: kind}

	resp := PredictionResponse{Model: key.String(), RequestID: req.RequestID}
	if kind == classifier.Combined && req.Probabilities {
		var probs classifier.ProbabilitySet
		resp.Decision, probs, err = s.dispatcher.PredictWithProbabilities(workload, req.Features)
		resp.Probabilities = &probs
	} else {
		resp.Decision, err = s.dispatcher.Predict(workload, kind, req.Features)
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	resp.Timestamp = time.Now()
	resp.Latency = float64(time.Since(start).Microseconds()) / 1000
	s.recordSample(key, req.Features, resp.Decision, resp.Probabilities)

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProbabilities(w http.ResponseWriter, r *http.Request) {
	workload, err := classifier.ParseWorkloadType(mux.Vars(r)["workload"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	probs, err := s.dispatcher.GetProbabilities(workload)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, probs)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Models())
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromVars(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	// The body is optional.
	var req TrainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid request: %w", err))
		return
	}

	spec := classifier.TrainingSpec{Files: req.Files}
	if len(spec.Files) == 0 {
		if s.training == nil {
			writeError(w, http.StatusBadRequest, "bad_request", errors.New("no training files given or configured"))
			return
		}
		if spec, err = s.training.TrainingSpec(key); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
	}

	var recorder TrainingRecorder
	if s.store != nil {
		recorder = s.store
	}
	h, err := Train(s.registry, recorder, key, spec)
	if err != nil {
		s.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, classifier.ModelInfo{
		Key:           h.Key().String(),
		ID:            h.ID().String(),
		Backend:       h.Backend().String(),
		Features:      h.Shape(),
		TrainedAt:     h.TrainedAt(),
		TrainDuration: h.TrainDuration(),
	})
}

func (s *Server) handleDispose(w http.ResponseWriter, r *http.Request) {
	key, err := keyFromVars(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	s.registry.Dispose(key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	running := s.registry.Runtime().Running()
	health := map[string]interface{}{
		"healthy": running,
		"backend": map[string]interface{}{
			"running":     running,
			"search_path": s.registry.Runtime().SearchPath(),
		},
		"models": len(s.registry.Models()),
	}

	status := http.StatusOK
	if !running {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// recordSample keeps a decision for later retraining.
func (s *Server) recordSample(key classifier.Key, features classifier.FeatureVector, d classifier.Decision, probs *classifier.ProbabilitySet) {
	if s.store == nil {
		return
	}
	sample := storage.Sample{
		Key:           key.String(),
		Timestamp:     time.Now(),
		Features:      features,
		Decision:      int(d),
		Probabilities: probs,
	}
	if err := s.store.StoreSample(sample); err != nil {
		log.Warn().Err(err).Str("model", key.String()).Msg("failed to store decision sample")
		if s.metrics != nil {
			s.metrics.ErrorInc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.SampleStoredInc()
	}
}

// fail writes a classifier error with the status matching its kind.
func (s *Server) fail(w http.ResponseWriter, err error) {
	kind := classifier.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "model_not_trained":
		status = http.StatusNotFound
	case "feature_shape_mismatch":
		status = http.StatusBadRequest
	case "backend_not_running", "backend_init":
		status = http.StatusServiceUnavailable
	case "training":
		status = http.StatusUnprocessableEntity
	case "prediction":
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError && s.metrics != nil {
		s.metrics.ErrorInc()
	}
	writeError(w, status, kind, err)
}

func keyFromVars(r *http.Request) (classifier.Key, error) {
	vars := mux.Vars(r)
	return classifier.ParseKey(vars["workload"] + "/" + vars["kind"])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}
