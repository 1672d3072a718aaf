package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForExtension(t *testing.T) {
	tests := map[string]Format{
		"mp4":                              FormatMP4,
		".MKV":                             FormatOther,
		"m3u8":                             FormatM3U8Direct,
		"ts":                               FormatTS,
		"http://cdn/play/film.mp4?token=x": FormatMP4,
		"http://cdn/live/5.m3u8#frag":      FormatM3U8Direct,
		"":                                 FormatOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatForExtension(in), in)
	}
}

func TestContentKind(t *testing.T) {
	assert.Equal(t, "movie", KindMovie.PathSegment())
	assert.Equal(t, "series", KindEpisode.PathSegment())
	assert.Equal(t, "live", KindLive.PathSegment())
	assert.True(t, KindLive.Valid())
	assert.False(t, ContentKind("radio").Valid())
}

func TestSegmentSet(t *testing.T) {
	var s SegmentSet
	assert.True(t, s.Empty())
	s.Segments = []bool{true, true}
	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Empty())
}
