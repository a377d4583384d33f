// Package config loads the training configuration from JSON.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the training options. Fields omitted from a JSON file keep
// the values of Default.
type Config struct {
	DatasetName string `json:"dataset_name"`
	ValSplit    string `json:"val_split"`

	NumLayers        int     `json:"num_layers"`
	NumClasses       int     `json:"num_classes"`
	NumFeatures      int     `json:"num_features"`
	IgnoredLabelInds []int   `json:"ignored_label_inds"`
	ClassCounts      []int64 `json:"class_counts"` // per valid class, for loss weights

	Optimizer    string          `json:"optimizer"` // "adam" or "sgd"
	Momentum     float64         `json:"momentum"`  // sgd only
	LearningRate float64         `json:"learning_rate"`
	LRDecay      float64         `json:"lr_decay"`
	LRDecays     map[int]float64 `json:"lr_decays"` // per-epoch factor, overrides lr_decay
	MaxEpoch     int             `json:"max_epoch"`
	TrainSteps   int             `json:"train_steps"`
	ValSteps     int             `json:"val_steps"`
	BatchSize    int             `json:"batch_size"`
	ValBatchSize int             `json:"val_batch_size"`

	// PrefetchDepth batches are prepared ahead in the background; 0 disables.
	PrefetchDepth int `json:"prefetch_depth"`

	NumPoints        int   `json:"num_points"`
	KN               int   `json:"k_n"`
	SubSamplingRatio []int `json:"sub_sampling_ratio"`

	Saving           bool   `json:"saving"`
	SavingPath       string `json:"saving_path"`
	MaxToKeep        int    `json:"max_to_keep"`
	CheckpointFormat string `json:"checkpoint_format"`

	CheckNumerics bool   `json:"check_numerics"`
	Seed          int64  `json:"seed"`
	HistoryDB     string `json:"history_db"`
	Plot          bool   `json:"plot"`
}

// Default returns the configuration of the reference S3DIS setup.
func Default() *Config {
	return &Config{
		DatasetName:      "S3DIS",
		ValSplit:         "5",
		NumLayers:        5,
		NumClasses:       13,
		NumFeatures:      6,
		Optimizer:        "adam",
		LearningRate:     0.01,
		LRDecay:          0.95,
		MaxEpoch:         100,
		TrainSteps:       500,
		ValSteps:         100,
		BatchSize:        6,
		ValBatchSize:     20,
		PrefetchDepth:    2,
		NumPoints:        40960,
		KN:               16,
		SubSamplingRatio: []int{4, 4, 4, 4, 2},
		Saving:           true,
		MaxToKeep:        100,
		CheckpointFormat: "json",
		CheckNumerics:    true,
	}
}

// Load reads a JSON config on top of Default and validates it.
// The file must have a .json extension and be at most 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.NumLayers < 1 {
		return invalid("num_layers must be positive, got %d", c.NumLayers)
	}
	if len(c.SubSamplingRatio) != c.NumLayers {
		return invalid("sub_sampling_ratio has %d entries, num_layers is %d", len(c.SubSamplingRatio), c.NumLayers)
	}
	for i, r := range c.SubSamplingRatio {
		if r < 1 {
			return invalid("sub_sampling_ratio[%d] must be positive, got %d", i, r)
		}
	}
	if c.NumClasses < 1 {
		return invalid("num_classes must be positive, got %d", c.NumClasses)
	}
	if c.NumFeatures < 1 {
		return invalid("num_features must be positive, got %d", c.NumFeatures)
	}

	seen := make(map[int]bool, len(c.IgnoredLabelInds))
	for _, id := range c.IgnoredLabelInds {
		if id < 0 || id >= c.LabelValues() {
			return invalid("ignored label %d outside [0, %d)", id, c.LabelValues())
		}
		if seen[id] {
			return invalid("ignored label %d listed twice", id)
		}
		seen[id] = true
	}
	if len(c.ClassCounts) != 0 && len(c.ClassCounts) != c.NumClasses {
		return invalid("class_counts has %d entries, num_classes is %d", len(c.ClassCounts), c.NumClasses)
	}
	for i, n := range c.ClassCounts {
		if n < 0 {
			return invalid("class_counts[%d] is negative", i)
		}
	}

	switch c.Optimizer {
	case "adam", "sgd":
	default:
		return invalid("optimizer must be adam or sgd, got %q", c.Optimizer)
	}
	if c.Momentum < 0 || c.Momentum > 1 {
		return invalid("momentum must be in [0, 1], got %g", c.Momentum)
	}
	if c.LearningRate <= 0 {
		return invalid("learning_rate must be positive, got %g", c.LearningRate)
	}
	if c.LRDecay <= 0 {
		return invalid("lr_decay must be positive, got %g", c.LRDecay)
	}
	for epoch, d := range c.LRDecays {
		if d <= 0 {
			return invalid("lr_decays[%d] must be positive, got %g", epoch, d)
		}
	}

	for name, v := range map[string]int{
		"max_epoch":      c.MaxEpoch,
		"train_steps":    c.TrainSteps,
		"val_steps":      c.ValSteps,
		"batch_size":     c.BatchSize,
		"val_batch_size": c.ValBatchSize,
		"num_points":     c.NumPoints,
		"k_n":            c.KN,
	} {
		if v < 1 {
			return invalid("%s must be positive, got %d", name, v)
		}
	}

	switch c.CheckpointFormat {
	case "json", "proto":
	default:
		return invalid("checkpoint_format must be json or proto, got %q", c.CheckpointFormat)
	}
	if c.PrefetchDepth < 0 {
		return invalid("prefetch_depth cannot be negative")
	}
	if c.MaxToKeep < 0 {
		return invalid("max_to_keep cannot be negative")
	}
	return nil
}

// LabelValues is the number of distinct raw label ids: the valid classes
// plus the ignored ones.
func (c *Config) LabelValues() int {
	return c.NumClasses + len(c.IgnoredLabelInds)
}

// DecayFor returns the learning-rate factor applied on entering epoch.
func (c *Config) DecayFor(epoch int) float64 {
	if d, ok := c.LRDecays[epoch]; ok {
		return d
	}
	return c.LRDecay
}

// SavingDir returns SavingPath, or results/Log_<UTC timestamp> when unset.
func (c *Config) SavingDir(now time.Time) string {
	if c.SavingPath != "" {
		return c.SavingPath
	}
	return filepath.Join("results", now.UTC().Format("Log_2006-01-02_15-04-05"))
}

// LogFileName is the name of the append-mode training log.
func (c *Config) LogFileName() string {
	return "log_train_" + c.DatasetName + c.ValSplit + ".txt"
}
