package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"playlists":[{"url":"http://upstream:2095"}]}`))
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, DefaultProbeTimeout, cfg.ProbeTimeout)
	assert.Equal(t, DefaultSegmentDuration, cfg.SegmentDuration)
	assert.Equal(t, DefaultMaxSegments, cfg.MaxSegments)
	assert.Equal(t, DefaultDiscoveryWindow, cfg.DiscoveryWindow)
	assert.Equal(t, DefaultWorkerThreads, cfg.WorkerThreads)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	require.Len(t, cfg.Playlists, 1)
	assert.Equal(t, "Playlist_1", cfg.Playlists[0].Name)
}

func TestParseDurationsAndClamp(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"publicBaseURL": "https://gw.example.com/",
		"probeTimeout": "2s",
		"segmentDuration": "6s",
		"discoveryWindow": 64,
		"syncInterval": "1h"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "https://gw.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 2*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 6*time.Second, cfg.SegmentDuration)
	assert.Equal(t, MaxDiscoveryWindow, cfg.DiscoveryWindow)
	assert.Equal(t, time.Hour, cfg.SyncInterval)
}

func TestParseWorkerThreadsCoverOneWindow(t *testing.T) {
	cfg, err := Parse([]byte(`{"discoveryWindow": 12, "workerThreads": 4}`))
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.WorkerThreads)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte(`{"probeTimeout":"soon"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probeTimeout")
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"listenAddr":":9999"}`), 0o644))
	t.Setenv("GATEWAY_CONFIG", path)

	ClearConfigCache()
	t.Cleanup(ClearConfigCache)

	cfg := LoadConfig()
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Same(t, cfg, LoadConfig())
}

func TestParseZeroSyncIntervalDisablesLoop(t *testing.T) {
	cfg, err := Parse([]byte(`{"syncInterval": "0s"}`))
	require.NoError(t, err)
	assert.Zero(t, cfg.SyncInterval)
}
