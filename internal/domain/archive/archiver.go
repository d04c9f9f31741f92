// Package archive persists a session's raw audio stream to an object
// store in rolling chunks, independently of and without stalling the
// transcription path.
package archive

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"asrgateway/internal/domain/eventbus"
	"asrgateway/internal/domain/wav"
	"asrgateway/internal/platform/logging"
)

const cleanupInterval = 30 * time.Second

// Config mirrors the per-session Archiver configuration enumerated in
// spec.md §4.6.
type Config struct {
	WindowSizeMs       int64
	UploadIntervalMs   int64
	MaxMemoryMB        float64
	StoreOriginalAudio bool
	StoreVadSegments   bool
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		WindowSizeMs:       120000,
		UploadIntervalMs:   60000,
		MaxMemoryMB:        10,
		StoreOriginalAudio: true,
		StoreVadSegments:   false,
	}
}

type windowEntry struct {
	timestampMs int64
	payload     []byte
}

// Stats reports the Archiver's introspection counters.
type Stats struct {
	TotalChunks      int
	UploadsCompleted int
	UploadsFailed    int
	MemoryUsageMB    float64
	LastUploadAt     time.Time
}

// Archiver accumulates one session's raw audio into a sliding window and
// periodically flushes it to an ObjectStore.
type Archiver struct {
	sessionID string
	cfg       Config
	store     ObjectStore
	logger    *logging.Logger

	mu        sync.Mutex
	window    []windowEntry
	stats     Stats
	uploading bool
	active    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs an Archiver for sessionID and starts its upload and
// cleanup schedulers.
func New(sessionID string, cfg Config, store ObjectStore, logger *logging.Logger) *Archiver {
	a := &Archiver{
		sessionID: sessionID,
		cfg:       cfg,
		store:     store,
		logger:    logger,
		active:    true,
		stopCh:    make(chan struct{}),
	}
	register(sessionID, a)
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Archiver) run() {
	defer a.wg.Done()

	uploadTicker := time.NewTicker(time.Duration(a.cfg.UploadIntervalMs) * time.Millisecond)
	cleanupTicker := time.NewTicker(cleanupInterval)
	defer uploadTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-uploadTicker.C:
			a.scheduledUpload()
		case <-cleanupTicker.C:
			a.sweepWindow()
		}
	}
}

// Process appends a raw audio frame to the sliding window, unconditional
// on VAD state, then evicts aged entries and checks the memory ceiling.
func (a *Archiver) Process(nowMs int64, payload []byte) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	if a.cfg.StoreOriginalAudio {
		a.window = append(a.window, windowEntry{timestampMs: nowMs, payload: append([]byte(nil), payload...)})
		a.stats.TotalChunks++
	}
	a.evictLocked(nowMs)
	needsEmergency := a.stats.MemoryUsageMB > a.cfg.MaxMemoryMB
	a.mu.Unlock()

	if needsEmergency {
		a.emergencyUpload()
	}
}

func (a *Archiver) sweepWindow() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	a.evictLocked(time.Now().UnixMilli())
	needsEmergency := a.stats.MemoryUsageMB > a.cfg.MaxMemoryMB
	a.mu.Unlock()

	if needsEmergency {
		a.emergencyUpload()
	}
}

// evictLocked removes entries older than the window and recomputes the
// memory usage stat. Caller must hold a.mu.
func (a *Archiver) evictLocked(nowMs int64) {
	cutoff := nowMs - a.cfg.WindowSizeMs
	i := 0
	for i < len(a.window) && a.window[i].timestampMs <= cutoff {
		i++
	}
	if i > 0 {
		a.window = a.window[i:]
	}

	var totalBytes int
	for _, e := range a.window {
		totalBytes += len(e.payload)
	}
	a.stats.MemoryUsageMB = float64(totalBytes) / (1024 * 1024)
}

func (a *Archiver) scheduledUpload() {
	a.mu.Lock()
	if a.uploading || !a.active || len(a.window) == 0 {
		a.mu.Unlock()
		return
	}
	a.uploading = true
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.upload(snapshot)

	a.mu.Lock()
	a.uploading = false
	a.mu.Unlock()
}

func (a *Archiver) emergencyUpload() {
	a.mu.Lock()
	if a.uploading || !a.active || len(a.window) == 0 {
		a.mu.Unlock()
		return
	}
	a.uploading = true
	snapshot := a.snapshotLocked()
	a.mu.Unlock()

	a.upload(snapshot)

	a.mu.Lock()
	keep := int(math.Ceil(float64(len(a.window)) / 2))
	if keep < len(a.window) {
		a.window = a.window[len(a.window)-keep:]
	}
	a.uploading = false
	a.mu.Unlock()
}

// snapshotLocked copies the window without clearing it. Caller must hold a.mu.
func (a *Archiver) snapshotLocked() []windowEntry {
	out := make([]windowEntry, len(a.window))
	copy(out, a.window)
	return out
}

func (a *Archiver) upload(snapshot []windowEntry) {
	if len(snapshot) == 0 {
		return
	}

	chunkIndex := int(time.Now().UnixMilli() / a.cfg.UploadIntervalMs)
	key := fmt.Sprintf("audio-sessions/session_%s_original_%d.wav", a.sessionID, chunkIndex)

	payloads := make([][]byte, len(snapshot))
	for i, e := range snapshot {
		payloads[i] = e.payload
	}
	blob := wav.Assemble(payloads)

	start := snapshot[0].timestampMs
	end := snapshot[len(snapshot)-1].timestampMs
	metadata := map[string]string{
		"sessionId":       a.sessionID,
		"audioType":       "original",
		"chunkIndex":      fmt.Sprintf("%d", chunkIndex),
		"chunkCount":      fmt.Sprintf("%d", len(snapshot)),
		"startTimestamp":  fmt.Sprintf("%d", start),
		"endTimestamp":    fmt.Sprintf("%d", end),
		"durationSeconds": fmt.Sprintf("%.3f", float64(end-start)/1000.0),
		"uploadedAt":      time.Now().UTC().Format(time.RFC3339),
	}

	err := a.store.Put(context.Background(), key, blob, "audio/wav", metadata)

	a.mu.Lock()
	if err != nil {
		a.stats.UploadsFailed++
	} else {
		a.stats.UploadsCompleted++
		a.stats.LastUploadAt = time.Now()
	}
	a.mu.Unlock()

	if err != nil {
		a.logger.WarnTag("Archive", "upload failed", map[string]any{"session_id": a.sessionID, "key": key, "error": err.Error()})
		eventbus.PublishAsync(eventbus.EventArchiveUploadFailed, eventbus.ArchiveEventData{
			SessionID:  a.sessionID,
			ChunkIndex: chunkIndex,
			Key:        key,
			Error:      err.Error(),
		})
		return
	}
	a.logger.InfoTag("Archive", "upload completed", map[string]any{"session_id": a.sessionID, "key": key})
	eventbus.PublishAsync(eventbus.EventArchiveUploaded, eventbus.ArchiveEventData{
		SessionID:       a.sessionID,
		ChunkIndex:      chunkIndex,
		Key:             key,
		DurationSeconds: float64(end-start) / 1000.0,
	})
}

// Stats returns a snapshot of the Archiver's counters.
func (a *Archiver) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Shutdown stops both schedulers, performs one final synchronous upload
// if the window is non-empty and no upload is in flight, then frees the
// window.
func (a *Archiver) Shutdown() {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}
	a.active = false
	a.mu.Unlock()

	unregister(a.sessionID)
	close(a.stopCh)
	a.wg.Wait()

	a.mu.Lock()
	shouldFlush := !a.uploading && len(a.window) > 0
	snapshot := a.snapshotLocked()
	a.uploading = shouldFlush
	a.mu.Unlock()

	if shouldFlush {
		done := make(chan struct{})
		go func() {
			a.upload(snapshot)
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
		}
		a.mu.Lock()
		a.uploading = false
		a.mu.Unlock()
	}

	a.mu.Lock()
	a.window = nil
	a.mu.Unlock()
}
