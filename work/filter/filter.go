// Package filter applies per-playlist include/exclude name patterns to
// catalog listings before they are mirrored.
package filter

import (
	"strings"

	"github.com/grafana/regexp"
	"github.com/puzpuzpuz/xsync/v3"

	"iptv-gateway/work/config"
	"iptv-gateway/work/database"
	"iptv-gateway/work/logger"
)

// CompiledFilter holds the compiled patterns of one playlist. A nil pattern
// means "no constraint".
type CompiledFilter struct {
	LiveInclude   *regexp.Regexp
	LiveExclude   *regexp.Regexp
	SeriesInclude *regexp.Regexp
	SeriesExclude *regexp.Regexp
	VODInclude    *regexp.Regexp
	VODExclude    *regexp.Regexp
}

// Manager caches compiled filters per playlist id.
type Manager struct {
	filters *xsync.MapOf[int, *CompiledFilter]
}

// NewManager returns an empty filter cache.
func NewManager() *Manager {
	return &Manager{filters: xsync.NewMapOf[int, *CompiledFilter]()}
}

// Get returns the compiled filter for a playlist, compiling it on first use.
func (m *Manager) Get(playlistID int, pc config.PlaylistConfig) *CompiledFilter {
	f, _ := m.filters.LoadOrCompute(playlistID, func() *CompiledFilter {
		return Compile(pc)
	})
	return f
}

// Clear drops every cached filter, e.g. after a config reload.
func (m *Manager) Clear() {
	m.filters.Clear()
}

// Compile compiles a playlist's patterns. Invalid patterns are logged and
// treated as absent.
func Compile(pc config.PlaylistConfig) *CompiledFilter {
	return &CompiledFilter{
		LiveInclude:   compile(pc.Name, "liveIncludeRegex", pc.LiveIncludeRegex),
		LiveExclude:   compile(pc.Name, "liveExcludeRegex", pc.LiveExcludeRegex),
		SeriesInclude: compile(pc.Name, "seriesIncludeRegex", pc.SeriesIncludeRegex),
		SeriesExclude: compile(pc.Name, "seriesExcludeRegex", pc.SeriesExcludeRegex),
		VODInclude:    compile(pc.Name, "vodIncludeRegex", pc.VODIncludeRegex),
		VODExclude:    compile(pc.Name, "vodExcludeRegex", pc.VODExcludeRegex),
	}
}

func compile(playlist, key, pattern string) *regexp.Regexp {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter - compile} Playlist %q: invalid %s %q: %v", playlist, key, pattern, err)
		return nil
	}
	logger.Debug("{filter - compile} Playlist %q: compiled %s %q", playlist, key, pattern)
	return re
}

// Allow reports whether a title name passes the section's patterns: it must
// match the include pattern when one is set and must not match the exclude
// pattern.
func (f *CompiledFilter) Allow(section database.Section, name string) bool {
	if f == nil {
		return true
	}
	include, exclude := f.patterns(section)
	name = strings.TrimSpace(name)
	if include != nil && !include.MatchString(name) {
		return false
	}
	if exclude != nil && exclude.MatchString(name) {
		return false
	}
	return true
}

// Empty reports whether no pattern is set for any section.
func (f *CompiledFilter) Empty() bool {
	return f == nil || (f.LiveInclude == nil && f.LiveExclude == nil &&
		f.SeriesInclude == nil && f.SeriesExclude == nil &&
		f.VODInclude == nil && f.VODExclude == nil)
}

func (f *CompiledFilter) patterns(section database.Section) (include, exclude *regexp.Regexp) {
	switch section {
	case database.SectionLive:
		return f.LiveInclude, f.LiveExclude
	case database.SectionSeries:
		return f.SeriesInclude, f.SeriesExclude
	default:
		return f.VODInclude, f.VODExclude
	}
}

// Titles keeps the titles of a section that pass the filter.
func Titles(f *CompiledFilter, section database.Section, titles []database.Title) []database.Title {
	if f.Empty() {
		return titles
	}
	kept := titles[:0]
	for _, t := range titles {
		if f.Allow(section, t.Name) {
			kept = append(kept, t)
		}
	}
	logger.Debug("{filter - Titles} %s: kept %d titles", section, len(kept))
	return kept
}
