package types

import (
	"path"
	"strings"
)

// ContentKind identifies which upstream namespace a title lives in.
type ContentKind string

const (
	KindMovie   ContentKind = "movie"
	KindEpisode ContentKind = "episode"
	KindLive    ContentKind = "live"
)

// PathSegment returns the first path segment the upstream uses for this kind
// in stream URLs (episodes live under /series/).
func (k ContentKind) PathSegment() string {
	switch k {
	case KindEpisode:
		return "series"
	case KindLive:
		return "live"
	default:
		return "movie"
	}
}

// Valid reports whether k is one of the known kinds.
func (k ContentKind) Valid() bool {
	return k == KindMovie || k == KindEpisode || k == KindLive
}

// StreamTarget identifies what is being resolved. It is built per request
// and never persisted.
type StreamTarget struct {
	Kind            ContentKind
	ID              string
	ContainerHint   string // file extension such as "mp4", optional
	DirectSourceURL string // pre-resolved upstream source, optional
	ResumeQuery     string // raw resume-position query pairs forwarded to the upstream
}

// Credentials are one upstream account. They are shared read-only by every
// resolution that uses them.
type Credentials struct {
	PlaylistID int
	BaseURL    string
	Username   string
	Password   string
}

// Format is the delivery mechanism of a Candidate.
type Format string

const (
	FormatMP4         Format = "mp4"
	FormatM3U8Segment Format = "m3u8-segments"
	FormatM3U8Direct  Format = "m3u8-direct"
	FormatTS          Format = "ts"
	FormatOther       Format = "other"
)

// FormatForExtension maps a container extension or URL path to a Format.
func FormatForExtension(ext string) Format {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if i := strings.IndexAny(ext, "?#"); i >= 0 {
		ext = ext[:i]
	}
	if strings.Contains(ext, "/") {
		ext = strings.TrimPrefix(path.Ext(ext), ".")
	}
	switch ext {
	case "mp4", "m4v":
		return FormatMP4
	case "m3u8":
		return FormatM3U8Direct
	case "ts":
		return FormatTS
	default:
		return FormatOther
	}
}

// Candidate is one ranked delivery option. Rank starts at 1.
type Candidate struct {
	URL      string `json:"url"`
	Format   Format `json:"format"`
	HasToken bool   `json:"hasToken"`
	Rank     int    `json:"rank"`
	Verified bool   `json:"verified"` // backed by a trusted source, a token or discovered segments
}

// SegmentSet is the outcome of discovery for one stream. Segments[i] is the
// verification state of index i; indices are contiguous from 0.
type SegmentSet struct {
	StreamID              string
	Segments              []bool
	DiscoveryComplete     bool
	TargetDurationSeconds float64
}

// Len returns the number of discovered segments.
func (s SegmentSet) Len() int {
	return len(s.Segments)
}

// Empty reports the "no segments available for this title" signal.
func (s SegmentSet) Empty() bool {
	return len(s.Segments) == 0
}
