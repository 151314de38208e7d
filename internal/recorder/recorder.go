package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/k-ogaki/deepwatch/internal/logger"
	"github.com/k-ogaki/deepwatch/pkg/telemetry"
)

const recordVersion = 1

// Recorder writes the telemetry stream to a JSONL file: one header
// record followed by one wire-format frame message per line. Image
// payloads are stripped so the log stays compact and diffable.
type Recorder struct {
	mu           sync.RWMutex
	file         *os.File
	w            *bufio.Writer
	id           string
	filename     string
	basePath     string
	scenario     string
	recording    bool
	recordCount  uint64
	bytesWritten uint64
	startTime    time.Time
	frameChan    chan *telemetry.Frame
	wg           sync.WaitGroup
}

// NewRecorder creates a recorder writing into basePath
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath:  basePath,
		frameChan: make(chan *telemetry.Frame, 64),
	}
}

type headerRecord struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Scenario  string `json:"scenario"`
	StartedAt string `json:"started_at"`
	Version   int    `json:"version"`
}

// Start begins a new recording for the named scenario
func (r *Recorder) Start(scenario string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return fmt.Errorf("already recording")
	}

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create recording dir: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("telemetry_%s.jsonl", timestamp)
	path := filepath.Join(r.basePath, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.w = bufio.NewWriter(file)
	r.id = uuid.NewString()
	r.filename = filename
	r.scenario = scenario
	r.recording = true
	r.recordCount = 0
	r.bytesWritten = 0
	r.startTime = time.Now()

	header, err := json.Marshal(headerRecord{
		Type:      "header",
		ID:        r.id,
		Scenario:  scenario,
		StartedAt: r.startTime.UTC().Format(time.RFC3339),
		Version:   recordVersion,
	})
	if err != nil {
		file.Close()
		r.file, r.w, r.recording = nil, nil, false
		return fmt.Errorf("failed to encode header: %w", err)
	}
	n, err := r.w.Write(append(header, '\n'))
	if err != nil {
		file.Close()
		r.file, r.w, r.recording = nil, nil, false
		return fmt.Errorf("failed to write header: %w", err)
	}
	r.bytesWritten += uint64(n)

	r.wg.Add(1)
	go r.writeRecords()

	logger.Info("Recorder", "Recording started: %s (id %s)", filename, r.id)
	return nil
}

// Stop ends the recording and flushes the file
func (r *Recorder) Stop() error {
	r.mu.Lock()

	if !r.recording {
		r.mu.Unlock()
		return fmt.Errorf("not recording")
	}

	r.recording = false
	r.mu.Unlock()

	// Wait for the writer goroutine to drain and exit
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		if err := r.w.Flush(); err != nil {
			return fmt.Errorf("failed to flush file: %w", err)
		}
		if err := r.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync file: %w", err)
		}
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("failed to close file: %w", err)
		}
		r.file = nil
		r.w = nil
	}

	logger.Info("Recorder", "Recording stopped: %s (%d records)", r.filename, r.recordCount)
	return nil
}

// Record queues a frame for the log (non-blocking). Reports whether
// the frame was accepted.
func (r *Recorder) Record(frame *telemetry.Frame) bool {
	r.mu.RLock()
	recording := r.recording
	r.mu.RUnlock()

	if !recording {
		return false
	}

	select {
	case r.frameChan <- frame:
		return true
	default:
		// Channel full, drop record
		return false
	}
}

// writeRecords drains queued frames to the file
func (r *Recorder) writeRecords() {
	defer r.wg.Done()

	for {
		r.mu.RLock()
		recording := r.recording
		r.mu.RUnlock()

		if !recording {
			// Drain remaining frames
			for len(r.frameChan) > 0 {
				r.writeRecord(<-r.frameChan)
			}
			return
		}

		select {
		case frame := <-r.frameChan:
			r.writeRecord(frame)
		case <-time.After(100 * time.Millisecond):
			// Check recording state periodically
		}
	}
}

// writeRecord appends a single frame line
func (r *Recorder) writeRecord(frame *telemetry.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return
	}

	rec := *frame
	rec.Image = ""
	data, err := telemetry.EncodeFrame(rec)
	if err != nil {
		logger.Error("Recorder", "Failed to encode frame %d: %v", frame.Sequence, err)
		return
	}

	n, err := r.w.Write(append(data, '\n'))
	if err != nil {
		logger.Error("Recorder", "Write failed: %v", err)
		return
	}

	r.bytesWritten += uint64(n)
	r.recordCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var durationMs int64
	if r.recording {
		durationMs = time.Since(r.startTime).Milliseconds()
	}

	return RecordingStatus{
		Recording:    r.recording,
		ID:           r.id,
		Filename:     r.filename,
		Scenario:     r.scenario,
		RecordCount:  r.recordCount,
		BytesWritten: r.bytesWritten,
		DurationMs:   durationMs,
		StartTime:    r.startTime,
	}
}

// Close stops any active recording
func (r *Recorder) Close() error {
	if r.IsRecording() {
		return r.Stop()
	}
	return nil
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	ID           string    `json:"id,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	Scenario     string    `json:"scenario,omitempty"`
	RecordCount  uint64    `json:"record_count"`
	BytesWritten uint64    `json:"bytes_written"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
