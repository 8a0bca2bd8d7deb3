package main

import (
	"bytes"
	"testing"
)

func TestRunMissingCommand(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, nil); err == nil {
		t.Fatalf("run with no arguments did not error")
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var buf bytes.Buffer
	if err := run(&buf, []string{"bogus"}); err == nil {
		t.Fatalf("run with an unknown command did not error")
	}
}

func TestDoRawRejectsWrongArgCount(t *testing.T) {
	var buf bytes.Buffer
	if err := doRaw(&buf, nil); err == nil {
		t.Fatalf("doRaw with no arguments did not error")
	}
	if err := doRaw(&buf, []string{"ab", "cd"}); err == nil {
		t.Fatalf("doRaw with two arguments did not error")
	}
}

func TestDoRawRejectsInvalidHex(t *testing.T) {
	var buf bytes.Buffer
	if err := doRaw(&buf, []string{"zz"}); err == nil {
		t.Fatalf("doRaw with invalid hex did not error")
	}
}

func TestLoadConfigFallsBackToDefaultOnMissingFile(t *testing.T) {
	cfg := loadConfig("/nonexistent/path/to/config.yaml")
	if cfg.BaudRate == 0 {
		t.Fatalf("loadConfig did not fall back to a valid default")
	}
}
