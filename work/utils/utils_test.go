package utils

import (
	"testing"

	"iptv-gateway/work/config"

	"github.com/stretchr/testify/assert"
)

func TestMaskCredentials(t *testing.T) {
	cases := map[string]string{
		"http://up:2095/movie/u/p/296314.mp4":     "http://up:2095/movie/***/***/296314.mp4",
		"http://up:2095/segments/u/p/296314/0.ts": "http://up:2095/segments/***/***/296314/0.ts",
		"http://edge:80/other/path":               "http://edge:80/other/path",
		"":                                        "",
		"http://up:2095/player_api.php?username=u&password=p&action=x": "http://up:2095/player_api.php?action=x&password=%2A%2A%2A&username=%2A%2A%2A",
	}
	for in, want := range cases {
		assert.Equal(t, want, MaskCredentials(in), in)
	}
}

func TestLogURLObfuscates(t *testing.T) {
	cfg := &config.Config{ObfuscateUrls: true}
	assert.Equal(t, "http://up:2095/***?***", LogURL(cfg, "http://up:2095/movie/u/p/1.mp4?token=T"))
	assert.Equal(t, "http://up:2095/live/***/***/7.ts", LogURL(nil, "http://up:2095/live/u/p/7.ts"))
}

func TestAuthority(t *testing.T) {
	assert.Equal(t, "edge:2095", Authority("http://edge:2095/movie/u/p/1.mp4?token=T"))
	assert.Equal(t, "", Authority("://bad"))
}
