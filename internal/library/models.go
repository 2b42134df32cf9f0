// Package library implements the Playlist Repository (C6): the exclusive
// owner of Playlist and Track data (spec §4.6). It is grounded on the
// teacher's internal/database package (database.go, crud_playlists.go,
// crud_tracks.go survey) for its transactional-CRUD-plus-change-event idiom,
// adapted from the teacher's DuckDB/SQL rows to this spec's in-memory
// collab.Persistence-backed model, since no SQL driver is vendored here
// (spec Non-goals: the SQLite driver is an external collaborator).
package library

import "time"

// Playlist is the aggregate root from spec §3.
type Playlist struct {
	PlaylistID  string    `json:"playlist_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Path        string    `json:"path"`
	NfcTagID    string    `json:"nfc_tag_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PlaylistSeq uint64    `json:"playlist_seq"`
	Tracks      []Track   `json:"tracks"`
}

// Track belongs to exactly one Playlist.
type Track struct {
	TrackID     string `json:"track_id"`
	PlaylistID  string `json:"playlist_id"`
	TrackNumber int    `json:"track_number"`
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	DurationMs  int    `json:"duration_ms"`
	FilePath    string `json:"file_path,omitempty"`
	FileHash    string `json:"file_hash,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
}

// Page is the response shape for ListPlaylists.
type Page struct {
	Items      []Playlist `json:"items"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalItems int        `json:"total_items"`
}
