package fsio

import (
	"strings"
	"testing"

	"github.com/evocrew/evocrew/internal/ids"
)

func TestWriteAndReadDeliverableRoundTrip(t *testing.T) {
	store := New(t.TempDir(), DefaultLimits())
	crewID := ids.NewCrewId()

	content := []byte("final report")
	if err := store.WriteDeliverable(crewID, "report.md", content); err != nil {
		t.Fatalf("WriteDeliverable: %v", err)
	}
	got, err := store.ReadDeliverable(crewID, "report.md")
	if err != nil {
		t.Fatalf("ReadDeliverable: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("ReadDeliverable() = %q, want %q", got, content)
	}
}

func TestWriteDeliverableRejectsPathTraversal(t *testing.T) {
	store := New(t.TempDir(), DefaultLimits())
	crewID := ids.NewCrewId()

	tests := []string{
		"../../etc/passwd",
		"/etc/passwd",
		"nested/../../escape.txt",
	}
	for _, name := range tests {
		if err := store.WriteDeliverable(crewID, name, []byte("x")); err == nil {
			t.Errorf("WriteDeliverable(%q) succeeded, want traversal rejected", name)
		}
	}
}

func TestWriteDeliverableRejectsDisallowedExtension(t *testing.T) {
	store := New(t.TempDir(), DefaultLimits())
	crewID := ids.NewCrewId()

	if err := store.WriteDeliverable(crewID, "payload.sh", []byte("#!/bin/sh")); err == nil {
		t.Error("WriteDeliverable accepted a disallowed extension")
	}
}

func TestWriteDeliverableRejectsOversizedContent(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxFileSize = 8
	store := New(t.TempDir(), limits)
	crewID := ids.NewCrewId()

	if err := store.WriteDeliverable(crewID, "small.txt", []byte(strings.Repeat("a", 9))); err == nil {
		t.Error("WriteDeliverable accepted content over MaxFileSize")
	}
	if err := store.WriteDeliverable(crewID, "small.txt", []byte(strings.Repeat("a", 8))); err != nil {
		t.Errorf("WriteDeliverable rejected content at exactly MaxFileSize: %v", err)
	}
}

func TestWriteDeliverableEnforcesTighterTextFileCap(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxTextFileSize = 8
	store := New(t.TempDir(), limits)
	crewID := ids.NewCrewId()

	if err := store.WriteDeliverable(crewID, "small.txt", []byte(strings.Repeat("a", 9))); err == nil {
		t.Error("WriteDeliverable accepted text content over MaxTextFileSize, under MaxFileSize")
	}
	if err := store.WriteDeliverable(crewID, "small.txt", []byte(strings.Repeat("a", 8))); err != nil {
		t.Errorf("WriteDeliverable rejected text content at exactly MaxTextFileSize: %v", err)
	}
}

func TestPersistResultWritesEveryDeliverable(t *testing.T) {
	store := New(t.TempDir(), DefaultLimits())
	crewID := ids.NewCrewId()

	deliverables := map[string][]byte{
		"summary.txt": []byte("summary"),
		"data.json":   []byte(`{"ok":true}`),
	}
	if err := store.PersistResult(crewID, deliverables); err != nil {
		t.Fatalf("PersistResult: %v", err)
	}
	for name, want := range deliverables {
		got, err := store.ReadDeliverable(crewID, name)
		if err != nil {
			t.Fatalf("ReadDeliverable(%q): %v", name, err)
		}
		if string(got) != string(want) {
			t.Errorf("ReadDeliverable(%q) = %q, want %q", name, got, want)
		}
	}
}
