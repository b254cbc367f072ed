package talker

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordingArchive_KeepsMostRecent(t *testing.T) {
	a := NewRecordingArchive("", 2, NopLogger())
	for _, d := range []string{"one", "two", "three"} {
		if _, err := a.Add(RecordingEntry{Data: []byte(d), Duration: 1}); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	entries := a.Entries()
	if len(entries) != 2 || string(entries[0].Data) != "two" || string(entries[1].Data) != "three" {
		t.Fatalf("Entries() = %+v", entries)
	}
	stats := a.Stats()
	if stats.TotalRecordings != 3 || stats.BufferedRecordings != 2 || stats.TotalBytes != 11 || stats.BufferDuration != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}

	a.Clear()
	if _, ok := a.Latest(); ok {
		t.Fatalf("Latest() ok after Clear")
	}
}

func TestRecordingArchive_WritesFilesAndMetadata(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	a := NewRecordingArchive(dir, 0, NopLogger())

	entry, err := a.Add(RecordingEntry{Data: []byte("RIFF"), MIMEType: "audio/wav", Duration: 1.5})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if entry.ID == "" || entry.Timestamp.IsZero() {
		t.Fatalf("Add() did not fill ID and timestamp: %+v", entry)
	}
	if filepath.Ext(entry.Path) != ".wav" {
		t.Fatalf("Path = %q, want .wav", entry.Path)
	}
	data, err := os.ReadFile(entry.Path)
	if err != nil || string(data) != "RIFF" {
		t.Fatalf("saved audio = %q, %v", data, err)
	}

	a.SetTranscript(entry.ID, "hola mundo")
	meta, err := os.ReadFile(strings.TrimSuffix(entry.Path, ".wav") + ".txt")
	if err != nil {
		t.Fatalf("metadata missing: %v", err)
	}
	if !strings.Contains(string(meta), "Transcript: hola mundo") || !strings.Contains(string(meta), "Duration: 1.50s") {
		t.Fatalf("metadata = %q", meta)
	}

	got, ok := a.Get(entry.ID)
	if !ok || got.Transcript != "hola mundo" {
		t.Fatalf("Get() = %+v, %v", got, ok)
	}
}
