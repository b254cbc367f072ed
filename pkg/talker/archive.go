package talker

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RecordingEntry is one finished recording kept by the archive.
type RecordingEntry struct {
	ID         string
	Data       []byte
	MIMEType   string
	Duration   float64
	Transcript string
	Timestamp  time.Time
	Path       string
}

// ArchiveStats summarizes what the archive has seen.
type ArchiveStats struct {
	TotalRecordings    int
	BufferedRecordings int
	TotalBytes         int64
	BufferDuration     float64
	OutputDirectory    string
}

// RecordingArchive keeps the most recent recordings in memory and, when a
// directory is set, also writes each one to disk with a metadata file.
type RecordingArchive struct {
	outputDir  string
	maxEntries int
	logger     *Logger

	mu         sync.RWMutex
	entries    []RecordingEntry
	totalBytes int64
	total      int
}

func NewRecordingArchive(outputDir string, maxEntries int, logger *Logger) *RecordingArchive {
	return &RecordingArchive{
		outputDir:  outputDir,
		maxEntries: maxEntries,
		logger:     loggerOrGlobal(logger, "RecordingArchive"),
	}
}

// Add stores entry, assigning an ID and timestamp when missing.
func (a *RecordingArchive) Add(entry RecordingEntry) (RecordingEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	var saveErr error
	if a.outputDir != "" {
		entry.Path, saveErr = a.save(entry)
		if saveErr != nil {
			a.logger.WithError(saveErr).WithField("recording_id", entry.ID).Warn("Failed to save recording")
		}
	}

	a.mu.Lock()
	a.entries = append(a.entries, entry)
	if a.maxEntries > 0 && len(a.entries) > a.maxEntries {
		a.entries = a.entries[len(a.entries)-a.maxEntries:]
	}
	a.totalBytes += int64(len(entry.Data))
	a.total++
	a.mu.Unlock()

	return entry, saveErr
}

func (a *RecordingArchive) save(entry RecordingEntry) (string, error) {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return "", WrapErrorf(err, ErrCodeAudioDevice, "failed to create recordings directory")
	}
	base := fmt.Sprintf("%s_%s", entry.Timestamp.Format("20060102_150405"), entry.ID)
	audioPath := filepath.Join(a.outputDir, base+extensionFor(entry.MIMEType))
	if err := os.WriteFile(audioPath, entry.Data, 0o644); err != nil {
		return "", WrapErrorf(err, ErrCodeAudioDevice, "failed to write recording").AddDetail("path", audioPath)
	}

	a.writeMetadata(base, entry)
	return audioPath, nil
}

func (a *RecordingArchive) writeMetadata(base string, entry RecordingEntry) {
	meta := fmt.Sprintf("Recording: %s\nMIME Type: %s\nDuration: %.2fs\nBytes: %d\nTranscript: %s\nTimestamp: %s\n",
		entry.ID, entry.MIMEType, entry.Duration, len(entry.Data), entry.Transcript,
		entry.Timestamp.Format(time.RFC3339))
	metaPath := filepath.Join(a.outputDir, base+".txt")
	if err := os.WriteFile(metaPath, []byte(meta), 0o644); err != nil {
		a.logger.WithError(err).Warn("Failed to save recording metadata")
	}
}

// SetTranscript attaches text to a stored recording.
func (a *RecordingArchive) SetTranscript(id, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.entries {
		if a.entries[i].ID != id {
			continue
		}
		a.entries[i].Transcript = text
		if a.outputDir != "" && a.entries[i].Path != "" {
			base := fmt.Sprintf("%s_%s", a.entries[i].Timestamp.Format("20060102_150405"), id)
			a.writeMetadata(base, a.entries[i])
		}
		return
	}
}

func (a *RecordingArchive) Get(id string) (RecordingEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, e := range a.entries {
		if e.ID == id {
			return e, true
		}
	}
	return RecordingEntry{}, false
}

// Entries returns a copy of the buffered recordings, oldest first.
func (a *RecordingArchive) Entries() []RecordingEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]RecordingEntry, len(a.entries))
	copy(out, a.entries)
	return out
}

func (a *RecordingArchive) Latest() (RecordingEntry, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if len(a.entries) == 0 {
		return RecordingEntry{}, false
	}
	return a.entries[len(a.entries)-1], true
}

func (a *RecordingArchive) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}

func (a *RecordingArchive) Stats() ArchiveStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var duration float64
	for _, e := range a.entries {
		duration += e.Duration
	}
	return ArchiveStats{
		TotalRecordings:    a.total,
		BufferedRecordings: len(a.entries),
		TotalBytes:         a.totalBytes,
		BufferDuration:     duration,
		OutputDirectory:    a.outputDir,
	}
}
