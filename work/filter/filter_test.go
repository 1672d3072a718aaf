package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"iptv-gateway/work/config"
	"iptv-gateway/work/database"
)

func TestAllow(t *testing.T) {
	f := Compile(config.PlaylistConfig{
		Name:               "Main",
		VODIncludeRegex:    `(?i)^(AR|EN) `,
		VODExcludeRegex:    `(?i)cam`,
		LiveExcludeRegex:   `(?i)adult`,
		SeriesIncludeRegex: `[`,
	})

	assert.True(t, f.Allow(database.SectionMovies, "AR Film"))
	assert.False(t, f.Allow(database.SectionMovies, "FR Film"))
	assert.False(t, f.Allow(database.SectionMovies, "EN Film CAM"))
	assert.True(t, f.Allow(database.SectionLive, "News 24"))
	assert.False(t, f.Allow(database.SectionLive, "Adult Swim"))
	// invalid include pattern is ignored
	assert.True(t, f.Allow(database.SectionSeries, "Anything"))
	assert.False(t, f.Empty())
}

func TestTitles(t *testing.T) {
	titles := []database.Title{{Name: "AR One"}, {Name: "FR Two"}, {Name: "AR Three"}}

	kept := Titles(Compile(config.PlaylistConfig{VODIncludeRegex: "^AR"}), database.SectionMovies, titles)
	assert.Len(t, kept, 2)

	all := []database.Title{{Name: "x"}}
	assert.Len(t, Titles(Compile(config.PlaylistConfig{}), database.SectionMovies, all), 1)
}

func TestManagerCaches(t *testing.T) {
	m := NewManager()
	first := m.Get(0, config.PlaylistConfig{VODIncludeRegex: "a"})
	second := m.Get(0, config.PlaylistConfig{VODIncludeRegex: "b"})
	assert.Same(t, first, second)

	m.Clear()
	assert.NotSame(t, first, m.Get(0, config.PlaylistConfig{}))
}
