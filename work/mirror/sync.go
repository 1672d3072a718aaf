// Package mirror copies upstream catalogs into the local SQLite mirror.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"iptv-gateway/work/accounts"
	"iptv-gateway/work/config"
	"iptv-gateway/work/database"
	"iptv-gateway/work/filter"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/types"
	"iptv-gateway/work/xtream"
)

var ErrSyncInProgress = errors.New("sync already running for playlist")

// Catalog is the subset of the Xtream client the syncer needs.
type Catalog interface {
	VodCategories(ctx context.Context, creds types.Credentials) ([]xtream.Category, error)
	VodStreams(ctx context.Context, creds types.Credentials, categoryID string) ([]xtream.VodStream, error)
	SeriesCategories(ctx context.Context, creds types.Credentials) ([]xtream.Category, error)
	Series(ctx context.Context, creds types.Credentials, categoryID string) ([]xtream.Series, error)
	LiveCategories(ctx context.Context, creds types.Credentials) ([]xtream.Category, error)
	LiveStreams(ctx context.Context, creds types.Credentials, categoryID string) ([]xtream.LiveStream, error)
}

// Result summarises one playlist sync.
type Result struct {
	PlaylistID int            `json:"playlistId"`
	Counts     map[string]int `json:"counts"`
	Errors     []string       `json:"errors,omitempty"`
	Duration   time.Duration  `json:"-"`
	Took       string         `json:"took"`
}

// Syncer mirrors the three catalog sections of a playlist concurrently.
type Syncer struct {
	db       *database.DB
	catalog  Catalog
	accounts *accounts.Registry
	filters  *filter.Manager
	pool     *ants.Pool
	running  *xsync.MapOf[int, struct{}]
	config   *config.Config
	logger   *logger.Logger
}

// NewSyncer creates a syncer. pool runs the per-section work.
func NewSyncer(cfg *config.Config, db *database.DB, catalog Catalog, registry *accounts.Registry, pool *ants.Pool) *Syncer {
	return &Syncer{
		db:       db,
		catalog:  catalog,
		accounts: registry,
		filters:  filter.NewManager(),
		pool:     pool,
		running:  xsync.NewMapOf[int, struct{}](),
		config:   cfg,
		logger:   logger.Default().With("mirror"),
	}
}

// Sync mirrors one playlist. Section failures are collected in the result;
// the error is reserved for an unknown playlist or a concurrent sync.
func (s *Syncer) Sync(ctx context.Context, playlistID int) (Result, error) {
	return s.sync(ctx, playlistID, database.Sections)
}

// SyncSection mirrors a single section of one playlist. The playlist's
// last-synced time only moves on a full Sync.
func (s *Syncer) SyncSection(ctx context.Context, playlistID int, section database.Section) (Result, error) {
	return s.sync(ctx, playlistID, []database.Section{section})
}

// sync runs the given sections of one playlist on the pool and waits for all
// of them. At most one sync per playlist runs at a time, whatever its
// sections.
func (s *Syncer) sync(ctx context.Context, playlistID int, sections []database.Section) (Result, error) {
	playlist, err := s.accounts.Playlist(playlistID)
	if err != nil {
		return Result{}, err
	}
	if _, loaded := s.running.LoadOrStore(playlist.ID, struct{}{}); loaded {
		return Result{}, fmt.Errorf("%w %d", ErrSyncInProgress, playlist.ID)
	}
	defer s.running.Delete(playlist.ID)

	start := time.Now()
	result := Result{PlaylistID: playlist.ID, Counts: map[string]int{}}

	err = s.db.UpsertPlaylist(ctx, database.PlaylistRecord{
		ID:       playlist.ID,
		Name:     playlist.Name,
		BaseURL:  playlist.Credentials.BaseURL,
		Username: playlist.Credentials.Username,
	})
	if err != nil {
		return result, err
	}

	compiled := s.filters.Get(playlist.ID, playlist.Config)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, section := range sections {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			n, err := s.syncSection(ctx, playlist, section, compiled)

			mu.Lock()
			defer mu.Unlock()
			result.Counts[string(section)] = n
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", section, err))
			}
		}
		if err := s.pool.Submit(task); err != nil {
			s.logger.Warn("{mirror/sync - sync} Pool rejected %s sync, running inline: %v", section, err)
			task()
		}
	}
	wg.Wait()

	if len(result.Errors) == 0 && len(sections) == len(database.Sections) {
		if err := s.db.MarkSynced(ctx, playlist.ID, time.Now()); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("mark synced: %v", err))
		}
	}

	result.Duration = time.Since(start)
	result.Took = result.Duration.Round(time.Millisecond).String()
	s.logger.Info("{mirror/sync - sync} Playlist %d synced in %s: %v (%d errors)",
		playlist.ID, result.Took, result.Counts, len(result.Errors))
	return result, nil
}

// SyncAll mirrors every configured playlist one after another.
func (s *Syncer) SyncAll(ctx context.Context) []Result {
	var results []Result
	for _, p := range s.accounts.List() {
		if ctx.Err() != nil {
			break
		}
		r, err := s.Sync(ctx, p.ID)
		if err != nil {
			s.logger.Warn("{mirror/sync - SyncAll} Playlist %d: %v", p.ID, err)
			continue
		}
		results = append(results, r)
	}
	return results
}

// Run syncs every playlist immediately and then every interval until ctx is
// done. A zero interval disables the loop.
func (s *Syncer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.SyncAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("{mirror/sync - Run} Stopping refresh loop")
			return
		case <-ticker.C:
			s.SyncAll(ctx)
		}
	}
}

func (s *Syncer) syncSection(ctx context.Context, playlist accounts.Playlist, section database.Section, f *filter.CompiledFilter) (int, error) {
	creds := playlist.Credentials

	var (
		cats   []xtream.Category
		titles []database.Title
		err    error
	)
	switch section {
	case database.SectionMovies:
		if cats, err = s.catalog.VodCategories(ctx, creds); err != nil {
			return 0, err
		}
		streams, err := s.catalog.VodStreams(ctx, creds, "")
		if err != nil {
			return 0, err
		}
		titles = vodTitles(streams)
	case database.SectionSeries:
		if cats, err = s.catalog.SeriesCategories(ctx, creds); err != nil {
			return 0, err
		}
		series, err := s.catalog.Series(ctx, creds, "")
		if err != nil {
			return 0, err
		}
		titles = seriesTitles(series)
	case database.SectionLive:
		if cats, err = s.catalog.LiveCategories(ctx, creds); err != nil {
			return 0, err
		}
		streams, err := s.catalog.LiveStreams(ctx, creds, "")
		if err != nil {
			return 0, err
		}
		titles = liveTitles(streams)
	}

	if err := s.db.ReplaceCategories(ctx, playlist.ID, section, categories(cats)); err != nil {
		return 0, err
	}

	fetched := len(titles)
	titles = filter.Titles(f, section, titles)
	n, err := s.db.ReplaceTitles(ctx, playlist.ID, section, titles)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("{mirror/sync - syncSection} Playlist %d %s: %d fetched, %d mirrored", playlist.ID, section, fetched, n)
	return n, nil
}

func categories(in []xtream.Category) []database.Category {
	out := make([]database.Category, 0, len(in))
	for _, c := range in {
		if c.CategoryID == "" {
			continue
		}
		out = append(out, database.Category{ID: c.CategoryID.String(), Name: c.CategoryName, ParentID: c.ParentID.String()})
	}
	return out
}

func vodTitles(in []xtream.VodStream) []database.Title {
	out := make([]database.Title, 0, len(in))
	for _, v := range in {
		if v.StreamID == "" {
			continue
		}
		out = append(out, database.Title{
			StreamID:           v.StreamID.String(),
			Name:               v.Name,
			CategoryID:         v.CategoryID.String(),
			Icon:               v.StreamIcon,
			ContainerExtension: v.ContainerExtension,
			DirectSource:       v.DirectSource,
			Rating:             v.Rating.String(),
			Added:              v.Added.String(),
		})
	}
	return out
}

func seriesTitles(in []xtream.Series) []database.Title {
	out := make([]database.Title, 0, len(in))
	for _, v := range in {
		if v.SeriesID == "" {
			continue
		}
		out = append(out, database.Title{
			StreamID:   v.SeriesID.String(),
			Name:       v.Name,
			CategoryID: v.CategoryID.String(),
			Icon:       v.Cover,
			Rating:     v.Rating.String(),
			Plot:       v.Plot,
			Genre:      v.Genre,
			Added:      v.ReleaseDate,
		})
	}
	return out
}

func liveTitles(in []xtream.LiveStream) []database.Title {
	out := make([]database.Title, 0, len(in))
	for _, v := range in {
		if v.StreamID == "" {
			continue
		}
		out = append(out, database.Title{
			StreamID:     v.StreamID.String(),
			Name:         v.Name,
			CategoryID:   v.CategoryID.String(),
			Icon:         v.StreamIcon,
			EpgChannelID: v.EpgChannelID,
			DirectSource: v.DirectSource,
		})
	}
	return out
}
