// Package accounts turns configured playlists into upstream Credentials.
package accounts

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"iptv-gateway/work/config"
	"iptv-gateway/work/logger"
	"iptv-gateway/work/types"
	"iptv-gateway/work/utils"
)

var ErrUnknownPlaylist = errors.New("no playlists configured")

// Playlist is one configured upstream account.
type Playlist struct {
	ID          int                   `json:"id"`
	Name        string                `json:"name"`
	Host        string                `json:"host"`
	Credentials types.Credentials     `json:"-"`
	Config      config.PlaylistConfig `json:"-"`
}

// Registry is built once at startup and read concurrently afterwards.
type Registry struct {
	playlists []Playlist
}

// NewRegistry parses every configured playlist. Entries without usable
// credentials are skipped with a warning so one bad entry does not take the
// gateway down.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{}
	for i, pc := range cfg.Playlists {
		creds, err := ParsePlaylistURL(pc.URL)
		if err != nil {
			logger.Warn("{accounts - NewRegistry} Skipping playlist %q: %v", pc.Name, err)
			continue
		}
		if pc.Username != "" {
			creds.Username = pc.Username
		}
		if pc.Password != "" {
			creds.Password = pc.Password
		}
		if creds.Username == "" || creds.Password == "" {
			logger.Warn("{accounts - NewRegistry} Skipping playlist %q: missing username or password", pc.Name)
			continue
		}

		creds.PlaylistID = len(r.playlists)
		r.playlists = append(r.playlists, Playlist{
			ID:          creds.PlaylistID,
			Name:        pc.Name,
			Host:        utils.Authority(creds.BaseURL),
			Credentials: creds,
			Config:      cfg.Playlists[i],
		})
		logger.Debug("{accounts - NewRegistry} Playlist %d %q -> %s", creds.PlaylistID, pc.Name, utils.LogURL(cfg, creds.BaseURL))
	}
	return r
}

// Get returns the credentials of playlist id. Out of range ids fall back to
// playlist 0.
func (r *Registry) Get(id int) (types.Credentials, error) {
	p, err := r.Playlist(id)
	if err != nil {
		return types.Credentials{}, err
	}
	return p.Credentials, nil
}

// Playlist returns the playlist with id. An id outside the configured range
// falls back to playlist 0; only an empty registry is an error.
func (r *Registry) Playlist(id int) (Playlist, error) {
	if len(r.playlists) == 0 {
		return Playlist{}, ErrUnknownPlaylist
	}
	if id < 0 || id >= len(r.playlists) {
		id = 0
	}
	return r.playlists[id], nil
}

// List returns every usable playlist in id order.
func (r *Registry) List() []Playlist {
	out := make([]Playlist, len(r.playlists))
	copy(out, r.playlists)
	return out
}

func (r *Registry) Len() int {
	return len(r.playlists)
}

// ParsePlaylistURL accepts either a bare server URL or an M3U download URL
// such as http://host:port/get.php?username=u&password=p&type=m3u_plus and
// splits it into base URL and credentials.
func ParsePlaylistURL(raw string) (types.Credentials, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.Credentials{}, errors.New("empty playlist url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return types.Credentials{}, fmt.Errorf("invalid playlist url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return types.Credentials{}, fmt.Errorf("invalid playlist url %q: scheme and host required", utils.MaskCredentials(raw))
	}

	creds := types.Credentials{BaseURL: u.Scheme + "://" + u.Host}
	q := u.Query()
	creds.Username = q.Get("username")
	creds.Password = q.Get("password")

	// A bare server URL may carry a path prefix in front of the API.
	path := strings.TrimRight(u.Path, "/")
	for _, endpoint := range []string{"/get.php", "/player_api.php"} {
		path = strings.TrimSuffix(path, endpoint)
	}
	creds.BaseURL += path

	return creds, nil
}
