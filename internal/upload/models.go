// Package upload implements the Upload Engine (C7): resumable, session-
// scoped multi-chunk uploads with integrity verification, deduplication,
// and post-finalization track ingestion into the Playlist Repository
// (spec §4.7). Session bookkeeping (buffered progress, atomic counters,
// serialized finalize) is grounded on the teacher's buffering/flush
// component (internal/eventprocessor/appender.go) — same
// atomic-stats-plus-serialized-flush shape, adapted from batched DB
// inserts to batched filesystem chunk writes.
package upload

import "time"

// State is the UploadSession lifecycle (spec §4.7 diagram).
type State string

const (
	StateInitialized State = "initialized"
	StateUploading   State = "uploading"
	StateFinalizing  State = "finalizing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Session is the UploadSession aggregate from spec §3.
type Session struct {
	SessionID      string    `json:"session_id"`
	PlaylistID     string    `json:"playlist_id"`
	Filename       string    `json:"filename"`
	FileSize       int64     `json:"file_size"`
	ChunkSize      int64     `json:"chunk_size"`
	TotalChunks    int       `json:"total_chunks"`
	ReceivedCount  int       `json:"received_count"`
	State          State     `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`

	receivedChunks []bool
}

// Status is the public snapshot returned by GetStatus and carried on
// upload:progress/complete/error envelopes.
type Status struct {
	SessionID     string `json:"session_id"`
	State         State  `json:"state"`
	ReceivedCount int    `json:"received_chunks"`
	TotalChunks   int    `json:"total_chunks"`
	BytesUploaded int64  `json:"bytes_uploaded"`
	FileSize      int64  `json:"file_size"`
}

func (s *Session) snapshot() Status {
	return Status{
		SessionID:     s.SessionID,
		State:         s.State,
		ReceivedCount: s.ReceivedCount,
		TotalChunks:   s.TotalChunks,
		BytesUploaded: bytesUploaded(s),
		FileSize:      s.FileSize,
	}
}

func bytesUploaded(s *Session) int64 {
	if s.ReceivedCount == s.TotalChunks {
		return s.FileSize
	}
	return int64(s.ReceivedCount) * s.ChunkSize
}
