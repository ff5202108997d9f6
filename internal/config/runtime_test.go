package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRuntimeDefaults(t *testing.T) {
	rt, err := LoadRuntime(NewViper(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.HTTPAddr != ":8080" {
		t.Errorf("expected default addr :8080, got %s", rt.HTTPAddr)
	}
	if rt.Recorder.Buffer != 256 {
		t.Errorf("expected default buffer 256, got %d", rt.Recorder.Buffer)
	}
	if rt.Recorder.RetryDelay != 200*time.Millisecond {
		t.Errorf("expected default retry delay 200ms, got %v", rt.Recorder.RetryDelay)
	}
	if rt.Grading.PassCriteria != DefaultPassCriteria {
		t.Errorf("unexpected default criteria: %s", rt.Grading.PassCriteria)
	}
	if rt.SessionRetention != 10*time.Minute {
		t.Errorf("expected default retention 10m, got %v", rt.SessionRetention)
	}
}

func TestLoadRuntimeFile(t *testing.T) {
	content := `
log_level: debug
http_addr: 127.0.0.1:9000
data_dir: /tmp/gridsim-test
recorder:
  buffer: 16
  max_retries: 5
  retry_delay: 1s
grading:
  pass_criteria: score >= 80
`
	path := filepath.Join(t.TempDir(), "gridsim.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	rt, err := LoadRuntime(NewViper(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", rt.LogLevel)
	}
	if rt.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("unexpected addr: %s", rt.HTTPAddr)
	}
	if rt.Recorder.Buffer != 16 || rt.Recorder.MaxRetries != 5 {
		t.Errorf("unexpected recorder settings: %+v", rt.Recorder)
	}
	if rt.Recorder.RetryDelay != time.Second {
		t.Errorf("expected 1s retry delay, got %v", rt.Recorder.RetryDelay)
	}
	if rt.Grading.PassCriteria != "score >= 80" {
		t.Errorf("unexpected criteria: %s", rt.Grading.PassCriteria)
	}
}

func TestLoadRuntimeEnv(t *testing.T) {
	t.Setenv("GRIDSIM_HTTP_ADDR", ":7070")
	t.Setenv("GRIDSIM_RECORDER_MAX_RETRIES", "7")

	rt, err := LoadRuntime(NewViper(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rt.HTTPAddr != ":7070" {
		t.Errorf("expected env override :7070, got %s", rt.HTTPAddr)
	}
	if rt.Recorder.MaxRetries != 7 {
		t.Errorf("expected env override 7, got %d", rt.Recorder.MaxRetries)
	}
}

func TestLoadRuntimeInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("log_level: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	if _, err := LoadRuntime(NewViper(), path); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestRuntimeValidate(t *testing.T) {
	base := Runtime{
		LogLevel: "info",
		DataDir:  "/tmp/x",
		Recorder: RecorderSettings{Buffer: 1},
		Grading:  GradingSettings{PassCriteria: "score >= 70"},
	}

	tests := []struct {
		name   string
		mutate func(*Runtime)
	}{
		{"bad level", func(r *Runtime) { r.LogLevel = "loud" }},
		{"empty data dir", func(r *Runtime) { r.DataDir = " " }},
		{"zero buffer", func(r *Runtime) { r.Recorder.Buffer = 0 }},
		{"negative retries", func(r *Runtime) { r.Recorder.MaxRetries = -1 }},
		{"negative delay", func(r *Runtime) { r.Recorder.RetryDelay = -time.Second }},
		{"negative retention", func(r *Runtime) { r.SessionRetention = -time.Minute }},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := base
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadRuntimeEmptyCriteria(t *testing.T) {
	content := `
data_dir: /tmp/gridsim-test
session_retention: 0s
grading:
  pass_criteria: ""
`
	path := filepath.Join(t.TempDir(), "gridsim.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	rt, err := LoadRuntime(NewViper(), path)
	if err != nil {
		t.Fatalf("empty criteria should be accepted: %v", err)
	}
	if rt.Grading.PassCriteria != "" {
		t.Errorf("expected empty criteria, got %q", rt.Grading.PassCriteria)
	}
	if rt.SessionRetention != 0 {
		t.Errorf("expected retention 0, got %v", rt.SessionRetention)
	}
}
