package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "cfg.json", `{
		"num_classes": 4,
		"ignored_label_inds": [2],
		"lr_decays": {"1": 0.5},
		"checkpoint_format": "proto"
	}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.NumClasses != 4 || cfg.LabelValues() != 5 {
		t.Errorf("classes = %d, label values = %d", cfg.NumClasses, cfg.LabelValues())
	}
	if cfg.KN != 16 || cfg.LearningRate != 0.01 {
		t.Errorf("defaults not kept: k_n=%d lr=%g", cfg.KN, cfg.LearningRate)
	}
	if got := cfg.DecayFor(1); got != 0.5 {
		t.Errorf("DecayFor(1) = %g, want 0.5", got)
	}
	if got := cfg.DecayFor(2); got != 0.95 {
		t.Errorf("DecayFor(2) = %g, want 0.95", got)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"extension", "cfg.yaml", `{}`},
		{"syntax", "cfg.json", `{"num_classes": }`},
		{"ratio_count", "cfg.json", `{"sub_sampling_ratio": [4, 4]}`},
		{"ignored_range", "cfg.json", `{"num_classes": 3, "ignored_label_inds": [7]}`},
		{"ignored_twice", "cfg.json", `{"ignored_label_inds": [0, 0]}`},
		{"class_counts", "cfg.json", `{"num_classes": 2, "class_counts": [1, 2, 3]}`},
		{"learning_rate", "cfg.json", `{"learning_rate": 0}`},
		{"optimizer", "cfg.json", `{"optimizer": "lbfgs"}`},
		{"format", "cfg.json", `{"checkpoint_format": "onnx"}`},
		{"batch", "cfg.json", `{"batch_size": 0}`},
		{"prefetch", "cfg.json", `{"prefetch_depth": -1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.file, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestValidationErrorsWrapSentinel(t *testing.T) {
	cfg := Default()
	cfg.NumClasses = 0
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("error %v does not wrap ErrInvalidConfig", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSavingDir(t *testing.T) {
	cfg := Default()
	now := time.Date(2026, 10, 16, 8, 9, 10, 0, time.FixedZone("X", 3600))
	got := cfg.SavingDir(now)
	want := filepath.Join("results", "Log_2026-10-16_07-09-10")
	if got != want {
		t.Errorf("SavingDir = %q, want %q", got, want)
	}
	cfg.SavingPath = "out"
	if cfg.SavingDir(now) != "out" {
		t.Errorf("explicit saving_path ignored")
	}
	if name := cfg.LogFileName(); !strings.HasPrefix(name, "log_train_S3DIS5") {
		t.Errorf("LogFileName = %q", name)
	}
}
