// Package metadata implements the default collab.MetadataExtractor: reading
// embedded ID3/Vorbis/MP4 tags from an audio file on disk (spec §6.3,
// "MetadataExtractor"). It is grounded on
// arung-agamani-denpa-radio/internal/playlist/track.go's
// extractTrackMetadata function — same open-file-then-tag.ReadFrom idiom,
// adapted to return collab.Metadata instead of mutating a playlist.Track in
// place, and to return a typed apperr instead of silently falling back.
package metadata

import (
	"context"
	"os"

	"github.com/dhowden/tag"

	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/apperr"
	"github.com/The-Open-Music-Box/theopenmusicbox-sub001/internal/collab"
)

// Extractor is the default collab.MetadataExtractor, backed by dhowden/tag.
type Extractor struct{}

// New creates a tag-based Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract reads embedded tags from filePath. A file with no readable tags is
// not an error: the zero Metadata is returned so the upload finalize path
// falls back to filename-derived values (spec §4.7).
func (e *Extractor) Extract(_ context.Context, filePath string) (collab.Metadata, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return collab.Metadata{}, apperr.Wrap(apperr.KindValidation, "open file for metadata extraction", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// No embedded tags (or unsupported container): not fatal, caller
		// derives title/duration from the filename instead.
		return collab.Metadata{}, nil
	}

	// dhowden/tag doesn't expose duration directly, so DurationMs is left
	// 0 and tracks finalized through this extractor are stored with
	// duration_ms 0.
	return collab.Metadata{
		Title:  m.Title(),
		Artist: m.Artist(),
		Album:  m.Album(),
	}, nil
}
