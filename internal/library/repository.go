package library

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/broadcast"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/events"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/logging"
)

const (
	nsPlaylists = "playlists"
	nsNfcTags   = "nfc_tags"
)

// Repository is the Playlist Repository (C6). It owns Playlist and Track
// data exclusively (spec §3, "Ownership") and publishes every mutation to
// the Broadcasting Service before returning success (spec §4.6, last line).
type Repository struct {
	store collab.Persistence
	pub   *broadcast.Service

	mu        sync.RWMutex
	playlists map[string]*Playlist

	// inUse lets the Playback Coordinator (C9) veto DeletePlaylist while a
	// playlist is the active one (spec §4.6, DeletePlaylist in_use error).
	// Wired late (internal/playback depends on internal/library, not the
	// reverse) via SetInUseChecker during cmd/server startup.
	inUse func(playlistID string) bool
}

// New creates a Repository backed by store and publishing via pub.
func New(store collab.Persistence, pub *broadcast.Service) *Repository {
	return &Repository{
		store:     store,
		pub:       pub,
		playlists: make(map[string]*Playlist),
	}
}

// SetInUseChecker installs the callback used by DeletePlaylist.
func (r *Repository) SetInUseChecker(fn func(playlistID string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inUse = fn
}

// Load hydrates the in-memory index from the durable store at startup.
func (r *Repository) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Scan(ctx, nsPlaylists, func(key string, value []byte) bool {
		var p Playlist
		if err := json.Unmarshal(value, &p); err != nil {
			logging.Error().Err(err).Str("playlist_id", key).Msg("library: failed to decode playlist row, skipping")
			return true
		}
		r.playlists[p.PlaylistID] = &p
		return true
	})
}

func (r *Repository) persistLocked(ctx context.Context, p *Playlist) error {
	data, err := json.Marshal(p)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "marshal playlist", err)
	}
	if err := r.store.Put(ctx, nsPlaylists, p.PlaylistID, data); err != nil {
		return apperr.Wrap(apperr.KindStorageError, "persist playlist", err)
	}
	return nil
}

func clonePlaylist(p *Playlist) *Playlist {
	cp := *p
	cp.Tracks = make([]Track, len(p.Tracks))
	copy(cp.Tracks, p.Tracks)
	return &cp
}

// CreatePlaylist validates and creates a new, empty playlist.
func (r *Repository) CreatePlaylist(ctx context.Context, title, description string) (*Playlist, error) {
	if title == "" {
		return nil, apperr.Validation("title must not be empty")
	}
	now := time.Now().UTC()
	p := &Playlist{
		PlaylistID:  uuid.New().String(),
		Title:       title,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Tracks:      []Track{},
	}
	p.Path = p.PlaylistID

	r.mu.Lock()
	if err := r.persistLocked(ctx, p); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.playlists[p.PlaylistID] = p
	r.mu.Unlock()

	r.publishPlaylist(ctx, events.TypePlaylistCreate, p)
	return clonePlaylist(p), nil
}

// UpdatePlaylistFields carries the optional fields UpdatePlaylist may change.
type UpdatePlaylistFields struct {
	Title       *string
	Description *string
}

// UpdatePlaylist patches the named fields of an existing playlist.
func (r *Repository) UpdatePlaylist(ctx context.Context, id string, fields UpdatePlaylistFields) (*Playlist, error) {
	r.mu.Lock()
	p, ok := r.playlists[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.NotFound("playlist %s not found", id)
	}
	if fields.Title != nil {
		if *fields.Title == "" {
			r.mu.Unlock()
			return nil, apperr.Validation("title must not be empty")
		}
		p.Title = *fields.Title
	}
	if fields.Description != nil {
		p.Description = *fields.Description
	}
	p.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(ctx, p); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	out := clonePlaylist(p)
	r.mu.Unlock()

	r.publishPlaylist(ctx, events.TypePlaylistUpdate, out)
	return out, nil
}

// DeletePlaylist removes a playlist, failing with in_use if the Playback
// Coordinator reports it as the active playlist.
func (r *Repository) DeletePlaylist(ctx context.Context, id string) error {
	r.mu.Lock()
	p, ok := r.playlists[id]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("playlist %s not found", id)
	}
	if r.inUse != nil && r.inUse(id) {
		r.mu.Unlock()
		return apperr.New(apperr.KindInUse, "playlist is currently playing")
	}
	delete(r.playlists, id)
	if err := r.store.Delete(ctx, nsPlaylists, id); err != nil {
		r.mu.Unlock()
		return apperr.Wrap(apperr.KindStorageError, "delete playlist", err)
	}
	if p.NfcTagID != "" {
		_ = r.store.ReleaseUnique(ctx, nsNfcTags, p.NfcTagID)
	}
	r.mu.Unlock()

	r.pub.Publish(ctx, events.DomainEvent{
		Type:       events.TypePlaylistDelete,
		PlaylistID: id,
		Data:       map[string]string{"playlist_id": id},
	})
	return nil
}

// GetPlaylistByID returns a copy of the playlist, or not_found.
func (r *Repository) GetPlaylistByID(id string) (*Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.playlists[id]
	if !ok {
		return nil, apperr.NotFound("playlist %s not found", id)
	}
	return clonePlaylist(p), nil
}

// GetPlaylistByNfcTag resolves the playlist currently bound to tagUID.
func (r *Repository) GetPlaylistByNfcTag(tagUID string) (*Playlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.playlists {
		if p.NfcTagID == tagUID {
			return clonePlaylist(p), nil
		}
	}
	return nil, apperr.NotFound("no playlist associated with tag %s", tagUID)
}

// ListPlaylists returns a stable page of playlists ordered by creation time.
func (r *Repository) ListPlaylists(page, limit int) (Page, error) {
	if page < 1 || limit < 1 {
		return Page{}, apperr.Validation("page and limit must be >= 1")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Playlist, 0, len(r.playlists))
	for _, p := range r.playlists {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].PlaylistID < all[j].PlaylistID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	start := (page - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	items := make([]Playlist, 0, end-start)
	for _, p := range all[start:end] {
		items = append(items, *clonePlaylist(p))
	}
	return Page{Items: items, Page: page, Limit: limit, TotalItems: len(all)}, nil
}

// AddTrack appends a track to playlistID, assigning the next track number.
func (r *Repository) AddTrack(ctx context.Context, playlistID string, t Track) (*Track, error) {
	r.mu.Lock()
	p, ok := r.playlists[playlistID]
	if !ok {
		r.mu.Unlock()
		return nil, apperr.NotFound("playlist %s not found", playlistID)
	}
	if t.FileHash != "" {
		for _, existing := range p.Tracks {
			if existing.FileHash == t.FileHash {
				r.mu.Unlock()
				return nil, apperr.New(apperr.KindDuplicateHash, "a track with this file hash already exists in the playlist")
			}
		}
	}
	if t.TrackID == "" {
		t.TrackID = uuid.New().String()
	}
	t.PlaylistID = playlistID
	t.TrackNumber = len(p.Tracks) + 1
	p.Tracks = append(p.Tracks, t)
	p.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(ctx, p); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	added := t
	r.mu.Unlock()

	r.pub.Publish(ctx, events.DomainEvent{
		Type:       events.TypeTrackAdded,
		PlaylistID: playlistID,
		Data:       map[string]interface{}{"playlist_id": playlistID, "track": added},
	})
	return &added, nil
}

// DeleteTracks removes the given track numbers and renumbers the remainder
// so {track_number} again equals {1..len(tracks)} (spec §3 invariant).
func (r *Repository) DeleteTracks(ctx context.Context, playlistID string, trackNumbers []int) error {
	r.mu.Lock()
	p, ok := r.playlists[playlistID]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("playlist %s not found", playlistID)
	}
	toRemove := make(map[int]bool, len(trackNumbers))
	for _, n := range trackNumbers {
		toRemove[n] = true
	}
	kept := make([]Track, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if !toRemove[t.TrackNumber] {
			kept = append(kept, t)
		}
	}
	for i := range kept {
		kept[i].TrackNumber = i + 1
	}
	p.Tracks = kept
	p.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(ctx, p); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.publishPlaylist(ctx, events.TypePlaylistUpdate, clonePlaylist(p))
	return nil
}

// ReorderTracks requires orderedTrackIDs to be a permutation of the
// playlist's existing track ids (spec §4.6); otherwise mismatched_set.
func (r *Repository) ReorderTracks(ctx context.Context, playlistID string, orderedTrackIDs []string) error {
	r.mu.Lock()
	p, ok := r.playlists[playlistID]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("playlist %s not found", playlistID)
	}
	byID := make(map[string]Track, len(p.Tracks))
	for _, t := range p.Tracks {
		byID[t.TrackID] = t
	}
	if len(orderedTrackIDs) != len(byID) {
		r.mu.Unlock()
		return apperr.New(apperr.KindMismatchedSet, "ordered track ids do not match the playlist's track set")
	}
	reordered := make([]Track, 0, len(orderedTrackIDs))
	seen := make(map[string]bool, len(orderedTrackIDs))
	for i, id := range orderedTrackIDs {
		t, ok := byID[id]
		if !ok || seen[id] {
			r.mu.Unlock()
			return apperr.New(apperr.KindMismatchedSet, "ordered track ids do not match the playlist's track set")
		}
		seen[id] = true
		t.TrackNumber = i + 1
		reordered = append(reordered, t)
	}
	p.Tracks = reordered
	p.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(ctx, p); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.publishPlaylist(ctx, events.TypePlaylistUpdate, clonePlaylist(p))
	return nil
}

// MoveTrack relocates a track from srcPlaylistID to dstPlaylistID, inserting
// at pos (appending if pos is nil), renumbering both playlists.
func (r *Repository) MoveTrack(ctx context.Context, srcPlaylistID, dstPlaylistID string, trackNumber int, pos *int) error {
	r.mu.Lock()
	src, ok := r.playlists[srcPlaylistID]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("playlist %s not found", srcPlaylistID)
	}
	dst, ok := r.playlists[dstPlaylistID]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("playlist %s not found", dstPlaylistID)
	}

	var moved Track
	found := false
	remaining := make([]Track, 0, len(src.Tracks))
	for _, t := range src.Tracks {
		if t.TrackNumber == trackNumber {
			moved = t
			found = true
			continue
		}
		remaining = append(remaining, t)
	}
	if !found {
		r.mu.Unlock()
		return apperr.NotFound("track %d not found in playlist %s", trackNumber, srcPlaylistID)
	}
	for i := range remaining {
		remaining[i].TrackNumber = i + 1
	}
	src.Tracks = remaining

	moved.PlaylistID = dstPlaylistID
	insertAt := len(dst.Tracks)
	if pos != nil && *pos >= 0 && *pos <= len(dst.Tracks) {
		insertAt = *pos
	}
	dst.Tracks = append(dst.Tracks, Track{})
	copy(dst.Tracks[insertAt+1:], dst.Tracks[insertAt:])
	dst.Tracks[insertAt] = moved
	for i := range dst.Tracks {
		dst.Tracks[i].TrackNumber = i + 1
	}

	now := time.Now().UTC()
	src.UpdatedAt, dst.UpdatedAt = now, now
	if err := r.persistLocked(ctx, src); err != nil {
		r.mu.Unlock()
		return err
	}
	if src.PlaylistID != dst.PlaylistID {
		if err := r.persistLocked(ctx, dst); err != nil {
			r.mu.Unlock()
			return err
		}
	}
	srcCopy, dstCopy := clonePlaylist(src), clonePlaylist(dst)
	r.mu.Unlock()

	r.publishPlaylist(ctx, events.TypePlaylistUpdate, srcCopy)
	if srcPlaylistID != dstPlaylistID {
		r.publishPlaylist(ctx, events.TypePlaylistUpdate, dstCopy)
	}
	return nil
}

// AssociateNfcTag binds tagUID to playlistID, enforcing global uniqueness
// via the Persistence collaborator's compare-and-swap primitive (spec §3).
func (r *Repository) AssociateNfcTag(ctx context.Context, playlistID, tagUID string) error {
	r.mu.Lock()
	p, ok := r.playlists[playlistID]
	if !ok {
		r.mu.Unlock()
		return apperr.NotFound("playlist %s not found", playlistID)
	}
	r.mu.Unlock()

	claimed, heldBy, err := r.store.CompareAndSwapUnique(ctx, nsNfcTags, tagUID, playlistID)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageError, "claim nfc tag", err)
	}
	if !claimed && heldBy != playlistID {
		return apperr.New(apperr.KindConflict, "tag already associated with another playlist").
			WithDetails(map[string]interface{}{"conflicting_playlist_id": heldBy})
	}

	r.mu.Lock()
	p.NfcTagID = tagUID
	p.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(ctx, p); err != nil {
		r.mu.Unlock()
		return err
	}
	out := clonePlaylist(p)
	r.mu.Unlock()

	r.publishPlaylist(ctx, events.TypePlaylistUpdate, out)
	return nil
}

// DissociateNfcTag removes whatever playlist tagUID is currently bound to.
func (r *Repository) DissociateNfcTag(ctx context.Context, tagUID string) error {
	r.mu.Lock()
	var target *Playlist
	for _, p := range r.playlists {
		if p.NfcTagID == tagUID {
			target = p
			break
		}
	}
	if target == nil {
		r.mu.Unlock()
		return apperr.NotFound("no playlist associated with tag %s", tagUID)
	}
	target.NfcTagID = ""
	target.UpdatedAt = time.Now().UTC()
	if err := r.persistLocked(ctx, target); err != nil {
		r.mu.Unlock()
		return err
	}
	out := clonePlaylist(target)
	r.mu.Unlock()

	if err := r.store.ReleaseUnique(ctx, nsNfcTags, tagUID); err != nil {
		logging.Error().Err(err).Str("tag_uid", tagUID).Msg("library: failed to release nfc tag claim")
	}
	r.publishPlaylist(ctx, events.TypePlaylistUpdate, out)
	return nil
}

func (r *Repository) publishPlaylist(ctx context.Context, eventType string, p *Playlist) {
	r.pub.Publish(ctx, events.DomainEvent{
		Type:       eventType,
		PlaylistID: p.PlaylistID,
		Data:       p,
	})
}
