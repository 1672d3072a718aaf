// Package playlist synthesizes VOD manifests for titles whose only working
// delivery is raw transport stream segments.
package playlist

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"

	"iptv-gateway/work/types"
)

// MIMEType is served with synthesized manifests.
const MIMEType = "application/vnd.apple.mpegurl"

// IndexPlaceholder is replaced by the segment index in URL templates.
const IndexPlaceholder = "{index}"

var (
	ErrEmptySegmentSet = errors.New("segment set is empty")
	ErrBadTemplate     = errors.New("segment url template has no " + IndexPlaceholder + " placeholder")
)

// SegmentTemplate returns the relay URL template for one stream's segments.
func SegmentTemplate(publicBaseURL string, playlistID int, streamID string) string {
	return fmt.Sprintf("%s/relay/segments/%d/%s/%s.ts",
		strings.TrimRight(publicBaseURL, "/"), playlistID, streamID, IndexPlaceholder)
}

// ManifestURL returns the relay URL that serves a freshly synthesized
// manifest for one stream.
func ManifestURL(publicBaseURL string, playlistID int, streamID string) string {
	return fmt.Sprintf("%s/relay/segments/%d/%s/playlist.m3u8",
		strings.TrimRight(publicBaseURL, "/"), playlistID, streamID)
}

// Synthesize renders a closed VOD media playlist with one entry per
// discovered segment, in index order, each pointing at the relay. Every
// segment gets the same nominal duration.
func Synthesize(set types.SegmentSet, segmentURLTemplate string, targetDurationSeconds float64) (string, error) {
	if set.Empty() {
		return "", ErrEmptySegmentSet
	}
	if !strings.Contains(segmentURLTemplate, IndexPlaceholder) {
		return "", ErrBadTemplate
	}
	if targetDurationSeconds <= 0 {
		targetDurationSeconds = set.TargetDurationSeconds
	}

	p, err := m3u8.NewMediaPlaylist(0, uint(set.Len()))
	if err != nil {
		return "", fmt.Errorf("create media playlist: %w", err)
	}
	p.MediaType = m3u8.VOD

	for index := range set.Segments {
		uri := strings.ReplaceAll(segmentURLTemplate, IndexPlaceholder, strconv.Itoa(index))
		if err := p.Append(uri, targetDurationSeconds, ""); err != nil {
			return "", fmt.Errorf("append segment %d: %w", index, err)
		}
	}
	p.Close()

	return p.Encode().String(), nil
}
