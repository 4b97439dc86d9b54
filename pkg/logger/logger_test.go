package logger

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewSetsLevelAndFormat(t *testing.T) {
	cfg := LoggingConfig{Level: "debug", Format: "json", Output: "stdout"}
	log := New(cfg)
	if log.GetLevel().String() != "debug" {
		t.Fatalf("expected level debug, got %s", log.GetLevel())
	}
}

func TestNewCreatesLogFile(t *testing.T) {
	originalWD, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	log := New(LoggingConfig{Level: "info", Format: "text", Output: "file", FilePrefix: "test"})
	log.Info("hello")

	path := filepath.Join("logs", "test.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatalf("expected log file to contain data")
	}
}

func TestNewDefaultsFilePrefixToProofwork(t *testing.T) {
	originalWD, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(originalWD) })

	temp := t.TempDir()
	if err := os.Chdir(temp); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	log := New(LoggingConfig{Level: "info", Format: "text", Output: "file"})
	log.Info("hello")

	path := filepath.Join("logs", "proofwork.log")
	if _, err := os.ReadFile(path); err != nil {
		t.Fatalf("expected default log file proofwork.log: %v", err)
	}
}

func TestDomainFieldHelpersTagEntries(t *testing.T) {
	log := NewDefault("test")
	entry := log.WithField("component", "test")

	if v := WithRequestID(entry, "req_1").Data["request_id"]; v != "req_1" {
		t.Fatalf("expected request_id field, got %v", v)
	}
	if v := WithOrg(entry, "org_1").Data["org_id"]; v != "org_1" {
		t.Fatalf("expected org_id field, got %v", v)
	}
	if v := WithJob(entry, "job_1").Data["job_id"]; v != "job_1" {
		t.Fatalf("expected job_id field, got %v", v)
	}
	if v := WithSubmission(entry, "sub_1").Data["submission_id"]; v != "sub_1" {
		t.Fatalf("expected submission_id field, got %v", v)
	}
}
