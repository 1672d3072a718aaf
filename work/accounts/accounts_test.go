package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iptv-gateway/work/config"
)

func TestParsePlaylistURL(t *testing.T) {
	tests := []struct {
		raw, base, user, pass string
	}{
		{"http://server:8080/get.php?username=had&password=589&type=m3u_plus&output=ts", "http://server:8080", "had", "589"},
		{"http://server:8080/", "http://server:8080", "", ""},
		{"https://panel.example/iptv/player_api.php?username=a&password=b", "https://panel.example/iptv", "a", "b"},
	}
	for _, tt := range tests {
		creds, err := ParsePlaylistURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.base, creds.BaseURL)
		assert.Equal(t, tt.user, creds.Username)
		assert.Equal(t, tt.pass, creds.Password)
	}

	_, err := ParsePlaylistURL("server:8080")
	assert.Error(t, err)
	_, err = ParsePlaylistURL("")
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.Playlists = []config.PlaylistConfig{
		{Name: "Main", URL: "http://one:8080/get.php?username=u1&password=p1"},
		{Name: "Broken", URL: "http://two:8080"},
		{Name: "Override", URL: "http://three:8080/get.php?username=x&password=y", Username: "u3", Password: "p3"},
	}

	r := NewRegistry(cfg)
	require.Equal(t, 2, r.Len())

	creds, err := r.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "http://three:8080", creds.BaseURL)
	assert.Equal(t, "u3", creds.Username)
	assert.Equal(t, "p3", creds.Password)
	assert.Equal(t, 1, creds.PlaylistID)

	fallback, err := r.Get(99)
	require.NoError(t, err)
	assert.Equal(t, "u1", fallback.Username)
	assert.Equal(t, 0, fallback.PlaylistID)

	list := r.List()
	assert.Equal(t, "Main", list[0].Name)
	assert.Equal(t, "one:8080", list[0].Host)
}

func TestRegistry_Empty(t *testing.T) {
	_, err := NewRegistry(config.Default()).Get(0)
	assert.ErrorIs(t, err, ErrUnknownPlaylist)
}
