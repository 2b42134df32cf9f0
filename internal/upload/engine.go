package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/library"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

// DefaultChunkSize is the spec's documented default (spec §4.7).
const DefaultChunkSize = 1 << 20 // 1 MiB

// DefaultSessionTTL bounds how long an uploaded-but-never-finalized session
// is held before PurgeExpired reclaims it. The spec names the purge sweep
// interval (5 min, see DefaultPurgeInterval) but leaves the per-session TTL
// itself unspecified; 30 minutes gives a generous window for a household
// WiFi upload to complete without leaking abandoned temp directories
// indefinitely.
const DefaultSessionTTL = 30 * time.Minute

// DefaultPurgeInterval is the spec §4.7 PurgeExpired cadence.
const DefaultPurgeInterval = 5 * time.Minute

// Config controls the Upload Engine's filesystem layout and limits.
type Config struct {
	UploadRoot        string // finalized track files land under UploadRoot/playlist.path/
	TempRoot          string // in-flight session chunk directories
	ChunkSize         int64
	MaxUploadBytes    int64
	AllowedExtensions map[string]bool
	SessionTTL        time.Duration
}

// DefaultAllowedExtensions is the audio file allow-list.
func DefaultAllowedExtensions() map[string]bool {
	return map[string]bool{
		".mp3": true, ".flac": true, ".wav": true, ".ogg": true, ".m4a": true, ".aac": true,
	}
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 2 << 30 // 2 GiB
	}
	if c.AllowedExtensions == nil {
		c.AllowedExtensions = DefaultAllowedExtensions()
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
}

type sessionState struct {
	Session

	mu         sync.Mutex // guards receivedChunks/ReceivedCount/State
	finalizeMu sync.Mutex // serializes FinalizeUpload (spec §4.7, Concurrency)
	chunkLocks []sync.Mutex
}

// Engine is the Upload Engine (C7).
type Engine struct {
	cfg   Config
	repo  *library.Repository
	pub   *broadcast.Service
	meta  collab.MetadataExtractor

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates an Engine. meta may be nil if metadata extraction is
// unavailable; FinalizeUpload then falls back to filename-derived metadata.
func New(cfg Config, repo *library.Repository, pub *broadcast.Service, meta collab.MetadataExtractor) *Engine {
	cfg.applyDefaults()
	return &Engine{cfg: cfg, repo: repo, pub: pub, meta: meta, sessions: make(map[string]*sessionState)}
}

func validateFilename(filename string, allowed map[string]bool) error {
	if filename == "" {
		return apperr.Validation("filename must not be empty")
	}
	if strings.ContainsAny(filename, "/\\") {
		return apperr.Validation("filename must not contain path separators")
	}
	if strings.HasPrefix(filename, ".") {
		return apperr.Validation("filename must not start with a dot")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowed[ext] {
		return apperr.Validation("file extension %q is not in the allow-list", ext)
	}
	return nil
}

// CreateSession validates inputs and reserves a temporary session directory
// (spec §4.7, CreateSession).
func (e *Engine) CreateSession(ctx context.Context, playlistID, filename string, fileSize int64, chunkSize int64) (Status, error) {
	if _, err := e.repo.GetPlaylistByID(playlistID); err != nil {
		return Status{}, err
	}
	if err := validateFilename(filename, e.cfg.AllowedExtensions); err != nil {
		return Status{}, err
	}
	if fileSize <= 0 || fileSize > e.cfg.MaxUploadBytes {
		return Status{}, apperr.Validation("file_size must be > 0 and <= %d", e.cfg.MaxUploadBytes)
	}
	if chunkSize <= 0 {
		chunkSize = e.cfg.ChunkSize
	}
	totalChunks := int((fileSize + chunkSize - 1) / chunkSize)

	sessionID := uuid.New().String()
	tempDir := filepath.Join(e.cfg.TempRoot, sessionID, "chunks")
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return Status{}, apperr.Wrap(apperr.KindStorageError, "reserve upload temp directory", err)
	}

	now := time.Now().UTC()
	st := &sessionState{
		Session: Session{
			SessionID:      sessionID,
			PlaylistID:     playlistID,
			Filename:       filename,
			FileSize:       fileSize,
			ChunkSize:      chunkSize,
			TotalChunks:    totalChunks,
			State:          StateInitialized,
			CreatedAt:      now,
			ExpiresAt:      now.Add(e.cfg.SessionTTL),
			receivedChunks: make([]bool, totalChunks),
		},
		chunkLocks: make([]sync.Mutex, totalChunks),
	}

	e.mu.Lock()
	e.sessions[sessionID] = st
	e.mu.Unlock()

	return st.snapshot(), nil
}

func (e *Engine) get(sessionID string) (*sessionState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok {
		return nil, apperr.NotFound("upload session %s not found", sessionID)
	}
	return st, nil
}

func (e *Engine) tempDir(sessionID string) string {
	return filepath.Join(e.cfg.TempRoot, sessionID, "chunks")
}

// UploadChunk writes one chunk to disk (atomic rename into place), flips
// its bit idempotently, and publishes upload:progress (spec §4.7).
func (e *Engine) UploadChunk(ctx context.Context, sessionID string, chunkIndex int, data []byte) (Status, error) {
	st, err := e.get(sessionID)
	if err != nil {
		return Status{}, err
	}

	st.mu.Lock()
	if st.State != StateInitialized && st.State != StateUploading {
		state := st.State
		st.mu.Unlock()
		return Status{}, apperr.Validation("cannot upload chunks in state %s", state)
	}
	if chunkIndex < 0 || chunkIndex >= st.TotalChunks {
		st.mu.Unlock()
		return Status{}, apperr.Validation("chunk_index %d out of range [0, %d)", chunkIndex, st.TotalChunks)
	}
	isFinal := chunkIndex == st.TotalChunks-1
	expected := st.ChunkSize
	if !isFinal && int64(len(data)) != expected {
		st.mu.Unlock()
		return Status{}, apperr.Validation("chunk %d must be exactly chunk_size bytes", chunkIndex)
	}
	if isFinal && int64(len(data)) > expected {
		st.mu.Unlock()
		return Status{}, apperr.Validation("final chunk %d exceeds chunk_size", chunkIndex)
	}
	alreadyReceived := st.receivedChunks[chunkIndex]
	st.mu.Unlock()

	if !alreadyReceived {
		lock := &st.chunkLocks[chunkIndex]
		lock.Lock()
		err := writeChunkAtomic(e.tempDir(sessionID), chunkIndex, data)
		lock.Unlock()
		if err != nil {
			return Status{}, apperr.Wrap(apperr.KindStorageError, "write chunk", err)
		}
	}

	st.mu.Lock()
	if !st.receivedChunks[chunkIndex] {
		st.receivedChunks[chunkIndex] = true
		st.ReceivedCount++
	}
	if st.State == StateInitialized {
		st.State = StateUploading
	}
	snap := st.snapshot()
	st.mu.Unlock()

	e.pub.Publish(ctx, events.DomainEvent{
		Type:       events.TypeUploadProgress,
		PlaylistID: st.PlaylistID,
		Rooms:      []string{events.PlaylistRoom(st.PlaylistID)},
		Data:       snap,
	})
	return snap, nil
}

func writeChunkAtomic(tempDir string, index int, data []byte) error {
	final := filepath.Join(tempDir, fmt.Sprintf("%d", index))
	if _, err := os.Stat(final); err == nil {
		return nil // idempotent re-upload of an already-written chunk
	}
	tmp := final + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// FinalizeUpload concatenates chunks in order, verifies the optional
// checksum, extracts metadata, and hands the produced track to the
// Playlist Repository (spec §4.7, FinalizeUpload).
func (e *Engine) FinalizeUpload(ctx context.Context, sessionID, expectedSHA256 string) (*library.Track, error) {
	st, err := e.get(sessionID)
	if err != nil {
		return nil, err
	}

	st.finalizeMu.Lock()
	defer st.finalizeMu.Unlock()

	st.mu.Lock()
	if st.ReceivedCount != st.TotalChunks {
		st.mu.Unlock()
		return nil, apperr.Validation("not all chunks received: %d/%d", st.ReceivedCount, st.TotalChunks)
	}
	if st.State != StateUploading {
		state := st.State
		st.mu.Unlock()
		return nil, apperr.Validation("cannot finalize in state %s", state)
	}
	st.State = StateFinalizing
	playlistID, filename := st.PlaylistID, st.Filename
	totalChunks, fileSize := st.TotalChunks, st.FileSize
	st.mu.Unlock()

	playlist, err := e.repo.GetPlaylistByID(playlistID)
	if err != nil {
		e.failSession(ctx, st, err)
		return nil, err
	}

	destDir := filepath.Join(e.cfg.UploadRoot, playlist.Path)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		werr := apperr.Wrap(apperr.KindStorageError, "create destination directory", err)
		e.failSession(ctx, st, werr)
		return nil, werr
	}
	destPath := filepath.Join(destDir, filename)

	hash, size, err := concatenateChunks(e.tempDir(sessionID), totalChunks, fileSize, destPath)
	if err != nil {
		werr := apperr.Wrap(apperr.KindStorageError, "concatenate upload chunks", err)
		e.failSession(ctx, st, werr)
		return nil, werr
	}
	if expectedSHA256 != "" && !strings.EqualFold(hash, expectedSHA256) {
		os.Remove(destPath)
		werr := apperr.New(apperr.KindIntegrityError, "sha256 mismatch")
		e.failSession(ctx, st, werr)
		return nil, werr
	}

	meta := collab.Metadata{Title: strings.TrimSuffix(filename, filepath.Ext(filename))}
	if e.meta != nil {
		if m, err := e.meta.Extract(ctx, destPath); err == nil {
			meta = m
		} else {
			logging.Warn().Err(err).Str("file_path", destPath).Msg("upload: metadata extraction failed, falling back to filename")
		}
	}

	track, err := e.repo.AddTrack(ctx, playlistID, library.Track{
		Title:      pickTitle(meta.Title, filename),
		Filename:   filename,
		FilePath:   destPath,
		DurationMs: meta.DurationMs,
		FileHash:   hash,
		FileSize:   size,
		Artist:     meta.Artist,
		Album:      meta.Album,
	})
	if err != nil {
		os.Remove(destPath)
		e.failSession(ctx, st, err)
		return nil, err
	}

	st.mu.Lock()
	st.State = StateCompleted
	st.mu.Unlock()
	os.RemoveAll(filepath.Join(e.cfg.TempRoot, sessionID))

	e.pub.Publish(ctx, events.DomainEvent{
		Type:       events.TypeUploadComplete,
		PlaylistID: playlistID,
		Rooms:      []string{events.PlaylistRoom(playlistID)},
		Data:       map[string]interface{}{"session_id": sessionID, "track": track},
	})
	return track, nil
}

func pickTitle(extracted, filename string) string {
	if extracted != "" {
		return extracted
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

func concatenateChunks(tempDir string, totalChunks int, expectedSize int64, destPath string) (sha256Hex string, size int64, err error) {
	out, err := os.Create(destPath)
	if err != nil {
		return "", 0, err
	}
	defer out.Close()

	h := sha256.New()
	w := io.MultiWriter(out, h)
	var written int64
	for i := 0; i < totalChunks; i++ {
		chunkPath := filepath.Join(tempDir, fmt.Sprintf("%d", i))
		in, err := os.Open(chunkPath)
		if err != nil {
			return "", 0, err
		}
		n, err := io.Copy(w, in)
		in.Close()
		if err != nil {
			return "", 0, err
		}
		written += n
	}
	if written != expectedSize {
		return "", 0, apperr.New(apperr.KindIntegrityError, fmt.Sprintf("assembled size %d does not match declared file_size %d", written, expectedSize))
	}
	return hex.EncodeToString(h.Sum(nil)), written, nil
}

func (e *Engine) failSession(ctx context.Context, st *sessionState, cause error) {
	st.mu.Lock()
	st.State = StateFailed
	st.mu.Unlock()
	os.RemoveAll(filepath.Join(e.cfg.TempRoot, st.SessionID))

	e.pub.Publish(ctx, events.DomainEvent{
		Type:       events.TypeUploadError,
		PlaylistID: st.PlaylistID,
		Rooms:      []string{events.PlaylistRoom(st.PlaylistID)},
		Data:       map[string]interface{}{"session_id": st.SessionID, "message": cause.Error()},
	})
}

// CancelUpload is idempotent: deletes the temp dir and transitions to
// Cancelled regardless of current state (spec §4.7, CancelUpload).
func (e *Engine) CancelUpload(ctx context.Context, sessionID string) error {
	st, err := e.get(sessionID)
	if err != nil {
		return err
	}
	st.mu.Lock()
	if st.State == StateCancelled {
		st.mu.Unlock()
		return nil
	}
	st.State = StateCancelled
	st.mu.Unlock()

	os.RemoveAll(filepath.Join(e.cfg.TempRoot, sessionID))
	return nil
}

// GetStatus returns the current snapshot of sessionID.
func (e *Engine) GetStatus(sessionID string) (Status, error) {
	st, err := e.get(sessionID)
	if err != nil {
		return Status{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.snapshot(), nil
}

// PurgeExpired moves sessions whose ExpiresAt has passed to Failed (spec
// §4.7, PurgeExpired) — intended to run on a ticker from a supervised
// suture.Service (see internal/supervisor).
func (e *Engine) PurgeExpired(ctx context.Context) int {
	now := time.Now().UTC()
	e.mu.Lock()
	var toFail []*sessionState
	for _, st := range e.sessions {
		st.mu.Lock()
		expired := now.After(st.ExpiresAt) && (st.State == StateInitialized || st.State == StateUploading)
		st.mu.Unlock()
		if expired {
			toFail = append(toFail, st)
		}
	}
	e.mu.Unlock()

	for _, st := range toFail {
		st.mu.Lock()
		st.State = StateFailed
		st.mu.Unlock()
		os.RemoveAll(filepath.Join(e.cfg.TempRoot, st.SessionID))
		logging.Named("upload").Info().Str("session_id", st.SessionID).Msg("upload session expired, marked failed")
	}
	return len(toFail)
}
