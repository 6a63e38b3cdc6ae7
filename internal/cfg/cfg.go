package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"cc-classifier/internal/backend/native"
	"cc-classifier/internal/classifier"
)

const (
	BackendNative = "native"
	BackendRemote = "remote"
)

// Strategy modes: the combined classifier alone, or the partition
// classifier followed by the OCC classifier.
const (
	ModeCombined = "combined"
	ModeSplit    = "split"
)

type Settings struct {
	Backend       string
	SearchPath    string
	RemoteURL     string
	RemoteTimeout time.Duration
	Threshold     float64
	DataPath      string
	MetricsPort   int
	APIPort       int
	LogLevel      string
	LogFormat     string
	TrainingDir   string
	TrainOnStart  bool
	Training      map[classifier.Key][]string
	Models        classifier.Catalog

	StrategyMode  string
	WindowSpan    time.Duration // age limit of worker reports merged into a decision
	WindowReports int           // worker reports kept per workload
	IndexHead     int           // leading partitions left out of the skew on a shared index
}

type ConfigFile struct {
	Backend struct {
		Kind          string  `yaml:"kind"`
		SearchPath    string  `yaml:"searchPath"`
		RemoteURL     string  `yaml:"remoteURL"`
		RemoteTimeout string  `yaml:"remoteTimeout"`
		Threshold     float64 `yaml:"threshold"`
	} `yaml:"backend"`

	Training struct {
		Dir     string              `yaml:"dir"`
		OnStart *bool               `yaml:"onStart"`
		Files   map[string][]string `yaml:"files"`
	} `yaml:"training"`

	Models map[string]classifier.ModelSpec `yaml:"models"`

	Strategy struct {
		Mode          string `yaml:"mode"`
		WindowSpan    string `yaml:"windowSpan"`
		WindowReports int    `yaml:"windowReports"`
		IndexHead     int    `yaml:"indexHead"`
	} `yaml:"strategy"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
		APIPort     int    `yaml:"apiPort"`
		LogLevel    string `yaml:"logLevel"`
		LogFormat   string `yaml:"logFormat"`
	} `yaml:"system"`
}

// Load reads a .env file when present, then the YAML file named by
// CONFIG_FILE, or the environment alone. Environment values always win.
func Load() (Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Settings{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	remoteTimeout, err := time.ParseDuration(config.Backend.RemoteTimeout)
	if err != nil {
		remoteTimeout = 5 * time.Second
	}

	windowSpan, err := time.ParseDuration(config.Strategy.WindowSpan)
	if err != nil {
		windowSpan = time.Second
	}

	trainOnStart := true
	if config.Training.OnStart != nil {
		trainOnStart = *config.Training.OnStart
	}

	training, err := trainingFiles(config.Training.Files)
	if err != nil {
		return Settings{}, err
	}
	models, err := catalog(config.Models)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		Backend:       getEnvOrDefault("CLASSIFIER_BACKEND", orDefault(config.Backend.Kind, BackendNative)),
		SearchPath:    getEnvOrDefault("CLASSIFIER_PATH", config.Backend.SearchPath),
		RemoteURL:     getEnvOrDefault("REMOTE_URL", config.Backend.RemoteURL),
		RemoteTimeout: getDurationOrDefault("REMOTE_TIMEOUT", remoteTimeout),
		Threshold:     getFloatFromEnvOrConfig("CASCADE_THRESHOLD", config.Backend.Threshold),
		DataPath:      getEnvOrDefault("DATA_PATH", config.System.DataPath),
		MetricsPort:   getIntFromEnvOrConfig("METRICS_PORT", orDefaultInt(config.System.MetricsPort, 8080)),
		APIPort:       getIntFromEnvOrConfig("API_PORT", orDefaultInt(config.System.APIPort, 8090)),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", orDefault(config.System.LogLevel, "info")),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", orDefault(config.System.LogFormat, "json")),
		TrainingDir:   getEnvOrDefault("TRAINING_DIR", config.Training.Dir),
		TrainOnStart:  getBoolFromEnvOrConfig("TRAIN_ON_START", trainOnStart),
		Training:      training,
		Models:        models,
		StrategyMode:  getEnvOrDefault("STRATEGY_MODE", orDefault(config.Strategy.Mode, ModeCombined)),
		WindowSpan:    getDurationOrDefault("WINDOW_SPAN", windowSpan),
		WindowReports: getIntFromEnvOrConfig("WINDOW_REPORTS", orDefaultInt(config.Strategy.WindowReports, 16)),
		IndexHead:     getIntFromEnvOrConfig("INDEX_HEAD", config.Strategy.IndexHead),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Backend:       getEnvOrDefault("CLASSIFIER_BACKEND", BackendNative),
		SearchPath:    os.Getenv("CLASSIFIER_PATH"),
		RemoteURL:     os.Getenv("REMOTE_URL"),
		RemoteTimeout: getDurationOrDefault("REMOTE_TIMEOUT", 5*time.Second),
		Threshold:     getFloatOrDefault("CASCADE_THRESHOLD", 0),
		DataPath:      os.Getenv("DATA_PATH"), // optional
		MetricsPort:   getIntOrDefault("METRICS_PORT", 8080),
		APIPort:       getIntOrDefault("API_PORT", 8090),
		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("LOG_FORMAT", "json"),
		TrainingDir:   os.Getenv("TRAINING_DIR"),
		TrainOnStart:  getBoolOrDefault("TRAIN_ON_START", true),
		Training:      DefaultTrainingFiles(),
		Models:        classifier.DefaultCatalog(),
		StrategyMode:  getEnvOrDefault("STRATEGY_MODE", ModeCombined),
		WindowSpan:    getDurationOrDefault("WINDOW_SPAN", time.Second),
		WindowReports: getIntOrDefault("WINDOW_REPORTS", 16),
		IndexHead:     getIntOrDefault("INDEX_HEAD", 0),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// DefaultTrainingFiles returns the engine's training file names. Combined
// models take part, occ, pure and index files in that order. The
// single-purpose models read a different column layout and get their own
// files.
func DefaultTrainingFiles() map[classifier.Key][]string {
	prefixes := map[classifier.WorkloadType]string{
		classifier.Single:    "single",
		classifier.Smallbank: "sb",
	}
	files := make(map[classifier.Key][]string)
	for w, p := range prefixes {
		files[classifier.Key{Workload: w, Kind: classifier.OCC}] = []string{p + "-occ-only-train.out"}
		files[classifier.Key{Workload: w, Kind: classifier.Partition}] = []string{p + "-part-only-train.out"}
		files[classifier.Key{Workload: w, Kind: classifier.Combined}] = []string{
			p + "-part-train.out", p + "-occ-train.out", p + "-pure-train.out", p + "-index-train.out",
		}
	}
	return files
}

// TrainingSpec returns the files to train key from, joined onto the
// training directory when they are relative.
func (s *Settings) TrainingSpec(key classifier.Key) (classifier.TrainingSpec, error) {
	files, ok := s.Training[key]
	if !ok {
		return classifier.TrainingSpec{}, fmt.Errorf("no training files configured for %s", key)
	}
	out := make([]string, len(files))
	for i, f := range files {
		if s.TrainingDir != "" && !filepath.IsAbs(f) {
			f = filepath.Join(s.TrainingDir, f)
		}
		out[i] = f
	}
	return classifier.TrainingSpec{Files: out}, nil
}

// Keys returns every key with training files, sorted.
func (s *Settings) Keys() []classifier.Key {
	keys := make([]classifier.Key, 0, len(s.Training))
	for k := range s.Training {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ConfigureLogging applies the log level and output format to the global
// zerolog logger.
func (s *Settings) ConfigureLogging() {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if s.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func trainingFiles(configured map[string][]string) (map[classifier.Key][]string, error) {
	files := DefaultTrainingFiles()
	for name, list := range configured {
		key, err := classifier.ParseKey(name)
		if err != nil {
			return nil, fmt.Errorf("training files: %w", err)
		}
		files[key] = list
	}
	return files, nil
}

func catalog(configured map[string]classifier.ModelSpec) (classifier.Catalog, error) {
	c := classifier.DefaultCatalog()
	for name, spec := range configured {
		key, err := classifier.ParseKey(name)
		if err != nil {
			return nil, fmt.Errorf("models: %w", err)
		}
		if len(spec.Shape) == 0 {
			spec.Shape = classifier.DefaultShape(key.Kind)
		}
		c[key] = spec
	}
	return c, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	return configValue
}

func getFloatFromEnvOrConfig(key string, configValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	return configValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

var knownFeatures = map[string]bool{
	classifier.FeatureCurType:     true,
	classifier.FeaturePartAvg:     true,
	classifier.FeaturePartSkew:    true,
	classifier.FeaturePartLenSkew: true,
	classifier.FeatureRecAvg:      true,
	classifier.FeatureLatency:     true,
	classifier.FeatureReadRate:    true,
	classifier.FeatureHomeConf:    true,
	classifier.FeatureConfRate:    true,
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	// Validate backend
	switch settings.Backend {
	case BackendNative:
	case BackendRemote:
		if settings.RemoteURL == "" {
			return fmt.Errorf("remote backend requires a URL")
		}
		if !strings.HasPrefix(settings.RemoteURL, "http://") && !strings.HasPrefix(settings.RemoteURL, "https://") {
			return fmt.Errorf("remote URL must be http(s), got %q", settings.RemoteURL)
		}
	default:
		return fmt.Errorf("unknown backend kind %q (want %s or %s)", settings.Backend, BackendNative, BackendRemote)
	}
	if settings.RemoteTimeout < 100*time.Millisecond || settings.RemoteTimeout > time.Minute {
		return fmt.Errorf("remote timeout must be between 100ms and 1m, got %v", settings.RemoteTimeout)
	}
	if settings.Threshold < 0 || settings.Threshold >= 1 {
		return fmt.Errorf("cascade threshold must be in [0, 1), got %f", settings.Threshold)
	}

	// Validate ports
	if settings.MetricsPort < 1024 || settings.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", settings.MetricsPort)
	}
	if settings.APIPort < 1024 || settings.APIPort > 65535 {
		return fmt.Errorf("API port must be between 1024 and 65535, got %d", settings.APIPort)
	}
	if settings.APIPort == settings.MetricsPort {
		return fmt.Errorf("API port and metrics port must differ, both are %d", settings.APIPort)
	}

	// Validate logging
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", settings.LogLevel)
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	// Validate strategy
	if settings.StrategyMode != ModeCombined && settings.StrategyMode != ModeSplit {
		return fmt.Errorf("strategy mode must be %s or %s, got %q", ModeCombined, ModeSplit, settings.StrategyMode)
	}
	if settings.WindowSpan <= 0 {
		return fmt.Errorf("window span must be positive, got %v", settings.WindowSpan)
	}
	if settings.WindowReports < 1 || settings.WindowReports > 4096 {
		return fmt.Errorf("window reports must be between 1 and 4096, got %d", settings.WindowReports)
	}
	if settings.IndexHead < 0 {
		return fmt.Errorf("index head must not be negative, got %d", settings.IndexHead)
	}

	// Validate training files
	for key, files := range settings.Training {
		if want := key.Kind.TrainingFiles(); len(files) != want {
			return fmt.Errorf("%s: expected %d training files, got %d", key, want, len(files))
		}
		for _, f := range files {
			if strings.TrimSpace(f) == "" {
				return fmt.Errorf("%s: empty training file name", key)
			}
		}
	}

	if err := validateLayouts(settings); err != nil {
		return err
	}

	// Validate model mapping
	for key, spec := range settings.Models {
		if spec.ID.Module == "" || spec.ID.Class == "" {
			return fmt.Errorf("%s: backend module and class are required", key)
		}
		seen := make(map[string]bool, len(spec.Shape))
		for _, name := range spec.Shape {
			if !knownFeatures[name] {
				return fmt.Errorf("%s: unknown feature %q", key, name)
			}
			if seen[name] {
				return fmt.Errorf("%s: duplicate feature %q", key, name)
			}
			seen[name] = true
		}
	}

	return nil
}

// validateLayouts rejects a training file that two models would read with
// different column layouts. Models whose class has no known layout are
// skipped.
func validateLayouts(settings *Settings) error {
	type reader struct {
		key     classifier.Key
		prefix  int
		columns []string
	}
	readers := make(map[string]reader)
	for _, key := range settings.Keys() {
		spec, ok := settings.Models[key]
		if !ok {
			continue
		}
		prefix, columns, err := native.Layout(spec.ID)
		if err != nil {
			continue
		}
		for _, f := range settings.Training[key] {
			name := filepath.Clean(f)
			prev, ok := readers[name]
			if !ok {
				readers[name] = reader{key: key, prefix: prefix, columns: columns}
				continue
			}
			if prev.prefix != prefix || strings.Join(prev.columns, ",") != strings.Join(columns, ",") {
				return fmt.Errorf("training file %s is read by %s and %s with different column layouts", f, prev.key, key)
			}
		}
	}
	return nil
}
