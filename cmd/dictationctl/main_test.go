package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitThenValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.yaml")
	if err := runInit(path, false); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := runInit(path, false); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}
	if err := runValidate(path); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadTrigger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.yaml")
	data := "dictation:\n  commands:\n    \"open (browser\":\n      exec: firefox\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runValidate(path); err == nil {
		t.Fatal("expected invalid trigger pattern to fail validation")
	}
}
